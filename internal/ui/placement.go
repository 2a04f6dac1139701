/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package ui

import (
	"strconv"
	"strings"

	"txt2img/internal/viewport"
)

// wheelScale converts toolkit scroll steps into the pixel deltas the
// viewport expects (about 100 per notch).
const wheelScale = 10

// Placement is the rectangle the preview image occupies inside its area.
type Placement struct{ X, Y, W, H float64 }

// Place centres an imgW x imgH image in the area, scales it by the zoom and
// shifts it by the pan.
func Place(areaW, areaH, imgW, imgH float64, st viewport.State) Placement {
	w := imgW * st.Zoom
	h := imgH * st.Zoom
	return Placement{
		X: (areaW-w)/2 + st.PanX,
		Y: (areaH-h)/2 + st.PanY,
		W: w,
		H: h,
	}
}

// wheelDelta turns a scroll event (positive is away from the user) into a
// wheel delta where negative zooms in.
func wheelDelta(dy float32) float64 { return -float64(dy) * wheelScale }

// formInt reads a numeric input; anything unparsable counts as unset.
func formInt(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 {
		return 0
	}
	return n
}
