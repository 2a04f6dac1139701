/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"txt2img/internal/backend"
	"txt2img/internal/localbackend"
	"txt2img/internal/settings"
	"txt2img/internal/storage"
)

type memRepo struct {
	mu      sync.Mutex
	cfg     settings.Config
	found   bool
	loadErr error
	saveErr error
}

func (m *memRepo) Load(context.Context) (settings.Config, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg, m.found, m.loadErr
}

func (m *memRepo) Save(_ context.Context, cfg settings.Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.cfg, m.found = cfg, true
	return nil
}

func (m *memRepo) Close() error { return nil }

func startServer(t *testing.T, repo Repository, token string) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(New(localbackend.New(localbackend.Options{}), repo, token).Handler())
	t.Cleanup(ts.Close)
	return ts
}

func TestClientAgainstServer(t *testing.T) {
	ts := startServer(t, &memRepo{}, "s3cret")
	c := backend.NewClient(ts.URL+"/", "s3cret", 5*time.Second, nil)
	ctx := context.Background()

	if api, ok := c.Probe(ctx); !ok || api == nil {
		t.Fatalf("probe failed")
	}
	res, err := c.RenderImage(ctx, backend.RenderRequest{Text: "hi there", Format: "png", FontSize: 18, BackgroundColor: "#FFFFFF", ForegroundColor: "#000000", ImageWidth: 300})
	if err != nil || !res.Success || !strings.HasPrefix(res.ImageData, "data:image/png;base64,") {
		t.Fatalf("render = %+v %v", res.Message, err)
	}

	cfg, err := c.LoadConfig(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Format != settings.DefaultFormat || cfg.ImageWidth != settings.DefaultImageWidth {
		t.Fatalf("defaults = %+v", cfg)
	}
	cfg.Theme = settings.ThemeDark
	st, err := c.SaveConfig(ctx, cfg)
	if err != nil || !st.Success || st.Message != "config saved" {
		t.Fatalf("save = %+v %v", st, err)
	}
	got, _ := c.LoadConfig(ctx)
	if got.Theme != settings.ThemeDark {
		t.Fatalf("theme = %q", got.Theme)
	}
}

func TestRenderFailureIsReportedInBody(t *testing.T) {
	ts := startServer(t, &memRepo{}, "")
	c := backend.NewClient(ts.URL, "", time.Second, nil)
	res, err := c.RenderImage(context.Background(), backend.RenderRequest{Text: "x", Format: "png", FontSize: 12, BackgroundColor: "nope", ForegroundColor: "#000000", ImageWidth: 100})
	if err != nil {
		t.Fatalf("err = %v", err)
	}
	if res.Success || !strings.HasPrefix(res.Message, "image generation failed: ") {
		t.Fatalf("res = %+v", res)
	}
}

func TestAuth(t *testing.T) {
	ts := startServer(t, &memRepo{}, "s3cret")

	resp, err := http.Get(ts.URL + "/api/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d", resp.StatusCode)
	}

	for _, tok := range []string{"", "wrong"} {
		req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/config", nil)
		if tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("token %q: status = %d", tok, resp.StatusCode)
		}
	}

	c := backend.NewClient(ts.URL, "wrong", time.Second, nil)
	if _, err := c.LoadConfig(context.Background()); err == nil || !strings.Contains(err.Error(), "401") {
		t.Fatalf("err = %v", err)
	}
}

func TestBadBodyAndMethod(t *testing.T) {
	ts := startServer(t, &memRepo{}, "")
	resp, err := http.Post(ts.URL+"/api/render", "application/json", strings.NewReader("{not json"))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	resp, err = http.Get(ts.URL + "/api/render")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("GET render status = %d", resp.StatusCode)
	}
}

func TestSaveFailureIsStatusNotError(t *testing.T) {
	ts := startServer(t, &memRepo{saveErr: errors.New("disk full")}, "")
	c := backend.NewClient(ts.URL, "", time.Second, nil)
	st, err := c.SaveConfig(context.Background(), settings.Config{})
	if err != nil {
		t.Fatalf("err = %v", err)
	}
	if st.Success || st.Message != "failed to save config: disk full" {
		t.Fatalf("status = %+v", st)
	}
}

func TestInvalidStoredDocumentServesDefaults(t *testing.T) {
	ts := startServer(t, &memRepo{found: true, loadErr: storage.ErrInvalidConfig}, "")
	c := backend.NewClient(ts.URL, "", time.Second, nil)
	cfg, err := c.LoadConfig(context.Background())
	if err != nil || cfg.FontSize != settings.DefaultFontSize {
		t.Fatalf("cfg = %+v %v", cfg, err)
	}

	ts = startServer(t, &memRepo{loadErr: errors.New("io")}, "")
	c = backend.NewClient(ts.URL, "", time.Second, nil)
	if _, err := c.LoadConfig(context.Background()); err == nil {
		t.Fatalf("expected error for failed read")
	}
}

func TestSQLiteRepository(t *testing.T) {
	ctx := context.Background()
	repo, err := OpenRepository(ctx, filepath.Join(t.TempDir(), "server.sqlite"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	if _, ok := repo.(*storage.DB); !ok {
		t.Fatalf("repo type = %T", repo)
	}
	ts := startServer(t, repo, "")
	c := backend.NewClient(ts.URL, "", time.Second, nil)
	st, err := c.SaveConfig(ctx, settings.Config{Theme: "purple"})
	if err != nil || st.Success {
		t.Fatalf("schema should reject theme: %+v %v", st, err)
	}
	if _, err := c.SaveConfig(ctx, settings.WithDefaults(settings.Config{FontSize: 40})); err != nil {
		t.Fatal(err)
	}
	got, _, err := repo.Load(ctx)
	if err != nil || got.FontSize != 40 {
		t.Fatalf("stored = %+v %v", got, err)
	}
}

func TestIsPostgresDSN(t *testing.T) {
	cases := map[string]bool{
		"postgres://u:p@localhost/db":  true,
		"PostgreSQL://localhost/db":    true,
		"/var/lib/txt2img/settings.db": false,
		"":                             false,
	}
	for dsn, want := range cases {
		if got := IsPostgresDSN(dsn); got != want {
			t.Fatalf("IsPostgresDSN(%q) = %v", dsn, got)
		}
	}
}

func TestListenAndServeStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- New(localbackend.New(localbackend.Options{}), &memRepo{}, "").ListenAndServe(ctx, "127.0.0.1:0") }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("err = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("server did not stop")
	}
}
