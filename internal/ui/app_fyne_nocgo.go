//go:build fyne && !cgo

package ui

import (
	"context"
	"fmt"

	"txt2img/internal/app"
)

// Run reports that the Fyne UI needs cgo (OpenGL) and a C toolchain.
func Run(context.Context, *app.Controller, Options) error {
	return fmt.Errorf("Fyne UI requires cgo (OpenGL). Enable cgo and install a C toolchain, then run: CGO_ENABLED=1 go run -tags fyne ./cmd/txt2img ui")
}
