/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package saveflow

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"txt2img/internal/backend"
	"txt2img/internal/preview"
	"txt2img/internal/settings"
)

type fixedRenderer struct {
	res   backend.RenderResult
	err   error
	calls int
}

func (f *fixedRenderer) RenderImage(context.Context, backend.RenderRequest) (backend.RenderResult, error) {
	f.calls++
	return f.res, f.err
}

// heldRenderer blocks each render until the test answers it by text.
type heldRenderer struct {
	mu      sync.Mutex
	answers map[string]chan backend.RenderResult
	started chan string
}

func newHeld() *heldRenderer {
	return &heldRenderer{answers: map[string]chan backend.RenderResult{}, started: make(chan string, 8)}
}

func (h *heldRenderer) answer(text string) chan backend.RenderResult {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch, ok := h.answers[text]
	if !ok {
		ch = make(chan backend.RenderResult, 1)
		h.answers[text] = ch
	}
	return ch
}

func (h *heldRenderer) RenderImage(ctx context.Context, req backend.RenderRequest) (backend.RenderResult, error) {
	ch := h.answer(req.Text)
	h.started <- req.Text
	select {
	case res := <-ch:
		return res, nil
	case <-ctx.Done():
		return backend.RenderResult{}, ctx.Err()
	}
}

func (h *heldRenderer) waitStarted(t *testing.T, text string) {
	t.Helper()
	select {
	case got := <-h.started:
		if got != text {
			t.Fatalf("started %q, want %q", got, text)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("render of %q never started", text)
	}
}

type saveResult struct {
	out Outcome
	err error
}

// overtakeSave starts a save of "mine", lets a newer preview of "newer"
// finish first, then answers the save's render with res.
func overtakeSave(t *testing.T, f *Flow, pipe *preview.Pipeline, h *heldRenderer, res backend.RenderResult) saveResult {
	t.Helper()
	done := make(chan saveResult, 1)
	go func() {
		out, err := f.Save(context.Background(), req("mine"), "")
		done <- saveResult{out, err}
	}()
	h.waitStarted(t, "mine")

	newer := make(chan error, 1)
	go func() {
		_, err := pipe.Request(context.Background(), req("newer"))
		newer <- err
	}()
	h.waitStarted(t, "newer")
	h.answer("newer") <- backend.Ok("data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("NEW")))
	if err := <-newer; err != nil {
		t.Fatalf("newer preview: %v", err)
	}

	h.answer("mine") <- res
	select {
	case r := <-done:
		return r
	case <-time.After(2 * time.Second):
		t.Fatalf("save did not complete")
		return saveResult{}
	}
}

func TestOvertakenSaveWritesItsOwnImage(t *testing.T) {
	h := newHeld()
	pipe := preview.New(h, nil)
	w := &recWriter{}
	store := settings.NewStore()
	store.Initialize(settings.Config{})
	f := New(pipe, chooser(backend.PathChoice{Success: true, Path: "/tmp/own.png"}, nil, nil), w, store)

	own := "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("OWN"))
	got := overtakeSave(t, f, pipe, h, backend.Ok(own))
	if got.err != nil {
		t.Fatalf("save: %v", got.err)
	}
	if string(w.data) != "OWN" || w.path != "/tmp/own.png" {
		t.Fatalf("wrote %q to %q", w.data, w.path)
	}
	if cur, _ := pipe.Current(); cur.Request.Text != "newer" {
		t.Fatalf("screen shows %q, want the newer preview", cur.Request.Text)
	}
	if hist := store.History(); len(hist) != 1 || hist[0] != "/tmp/own.png" {
		t.Fatalf("history = %v", hist)
	}
}

func TestOvertakenSaveKeepsFailureReason(t *testing.T) {
	h := newHeld()
	pipe := preview.New(h, nil)
	w := &recWriter{}
	called := false
	c := backend.ChooserFunc(func(context.Context, string) (backend.PathChoice, error) {
		called = true
		return backend.PathChoice{Success: true, Path: "p"}, nil
	})
	f := New(pipe, c, w, nil)

	got := overtakeSave(t, f, pipe, h, backend.Failed("font too large"))
	if !errors.Is(got.err, preview.ErrRenderFailed) || got.err.Error() != "font too large" {
		t.Fatalf("err = %v", got.err)
	}
	if called || w.data != nil {
		t.Fatalf("save continued after its render failed")
	}
}

type recWriter struct {
	path string
	data []byte
	err  error
}

func (w *recWriter) WriteImage(_ context.Context, path string, data []byte) error {
	if w.err != nil {
		return w.err
	}
	w.path, w.data = path, data
	return nil
}

func chooser(choice backend.PathChoice, err error, seen *string) backend.PathChooser {
	return backend.ChooserFunc(func(_ context.Context, name string) (backend.PathChoice, error) {
		if seen != nil {
			*seen = name
		}
		return choice, err
	})
}

var payload = []byte("\x89PNG fake bytes")

func pngURI() string { return "data:image/png;base64," + base64.StdEncoding.EncodeToString(payload) }

func req(text string) backend.RenderRequest {
	return backend.RenderRequest{Text: text, Format: "png", FontSize: 24, ImageWidth: 800}
}

func TestSaveWritesRenderedBytesAndRecordsHistory(t *testing.T) {
	r := &fixedRenderer{res: backend.Ok(pngURI())}
	w := &recWriter{}
	store := settings.NewStore()
	var suggested string
	f := New(preview.New(r, nil), chooser(backend.PathChoice{Success: true, Path: "/tmp/a.png"}, nil, &suggested), w, store)

	out, err := f.Save(context.Background(), req("hello"), "")
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if suggested != "output.png" {
		t.Fatalf("suggested name = %q", suggested)
	}
	if out.Path != "/tmp/a.png" || out.Bytes != len(payload) || out.Seq != 1 {
		t.Fatalf("outcome = %+v", out)
	}
	if w.path != "/tmp/a.png" || !bytes.Equal(w.data, payload) {
		t.Fatalf("writer got %q %q", w.path, w.data)
	}
	if h := store.History(); len(h) != 1 || h[0] != "/tmp/a.png" {
		t.Fatalf("history = %v", h)
	}
}

func TestDismissedDialogIsCancelled(t *testing.T) {
	r := &fixedRenderer{res: backend.Ok(pngURI())}
	w := &recWriter{}
	store := settings.NewStore()
	store.RecordHistory("/old.png")
	f := New(preview.New(r, nil), chooser(backend.PathChoice{Success: true}, nil, nil), w, store)

	_, err := f.Save(context.Background(), req("hello"), "x.png")
	if !errors.Is(err, ErrSaveCancelled) {
		t.Fatalf("err = %v, want cancelled", err)
	}
	if w.path != "" {
		t.Fatalf("file written on cancel")
	}
	if h := store.History(); len(h) != 1 || h[0] != "/old.png" {
		t.Fatalf("history changed: %v", h)
	}
}

func TestEmptyTextAbortsBeforeRender(t *testing.T) {
	r := &fixedRenderer{res: backend.Ok(pngURI())}
	f := New(preview.New(r, nil), chooser(backend.PathChoice{Success: true, Path: "p"}, nil, nil), &recWriter{}, nil)
	if _, err := f.Save(context.Background(), req(""), ""); !errors.Is(err, ErrEmptyText) {
		t.Fatalf("err = %v", err)
	}
	if r.calls != 0 {
		t.Fatalf("renderer called")
	}
}

func TestRenderFailureAbortsWithSameError(t *testing.T) {
	r := &fixedRenderer{res: backend.Failed("bad colour")}
	called := false
	c := backend.ChooserFunc(func(context.Context, string) (backend.PathChoice, error) {
		called = true
		return backend.PathChoice{Success: true, Path: "p"}, nil
	})
	f := New(preview.New(r, nil), c, &recWriter{}, nil)
	_, err := f.Save(context.Background(), req("x"), "")
	if !errors.Is(err, preview.ErrRenderFailed) || err.Error() != "bad colour" {
		t.Fatalf("err = %v", err)
	}
	if called {
		t.Fatalf("chooser called after render failure")
	}
}

func TestChooserFailureReasonVerbatim(t *testing.T) {
	r := &fixedRenderer{res: backend.Ok(pngURI())}
	f := New(preview.New(r, nil), chooser(backend.PathChoice{Message: "no active window"}, nil, nil), &recWriter{}, nil)
	_, err := f.Save(context.Background(), req("x"), "")
	if !errors.Is(err, ErrSaveFailed) || err.Error() != "no active window" {
		t.Fatalf("err = %v", err)
	}

	f = New(preview.New(r, nil), chooser(backend.PathChoice{}, errors.New("dialog crashed"), nil), &recWriter{}, nil)
	if _, err := f.Save(context.Background(), req("x"), ""); !errors.Is(err, ErrSaveFailed) {
		t.Fatalf("transport err = %v", err)
	}
}

func TestWriteFailureLeavesHistory(t *testing.T) {
	r := &fixedRenderer{res: backend.Ok(pngURI())}
	store := settings.NewStore()
	f := New(preview.New(r, nil), chooser(backend.PathChoice{Success: true, Path: "p"}, nil, nil), &recWriter{err: errors.New("disk full")}, store)
	if _, err := f.Save(context.Background(), req("x"), ""); !errors.Is(err, ErrSaveFailed) {
		t.Fatalf("err = %v", err)
	}
	if len(store.History()) != 0 {
		t.Fatalf("history recorded after failed write")
	}
}

func TestDefaultFilename(t *testing.T) {
	if got := DefaultFilename("jpeg"); got != "output.jpeg" {
		t.Fatalf("got %q", got)
	}
	if got := DefaultFilename(""); got != "output.png" {
		t.Fatalf("got %q", got)
	}
}

func TestDecodeDataURI(t *testing.T) {
	got, err := DecodeDataURI(pngURI())
	if err != nil || !bytes.Equal(got, payload) {
		t.Fatalf("decode = %q, %v", got, err)
	}
	if _, err := DecodeDataURI("data:image/png,rawtext"); err == nil {
		t.Fatalf("expected error for non-base64 URI")
	}
	if _, err := DecodeDataURI("data:image/png;base64"); err == nil {
		t.Fatalf("expected error for missing comma")
	}
	if _, err := DecodeDataURI("data:image/png;base64,!!!"); err == nil {
		t.Fatalf("expected error for bad base64")
	}
}

func TestFileWriterReplacesAtomically(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "out.png")
	if err := (FileWriter{}).WriteImage(context.Background(), path, []byte("one")); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if err := (FileWriter{}).WriteImage(context.Background(), path, []byte("two")); err != nil {
		t.Fatalf("second write: %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil || string(got) != "two" {
		t.Fatalf("content = %q, %v", got, err)
	}
	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Fatalf("leftover temp files: %d entries", len(entries))
	}
}
