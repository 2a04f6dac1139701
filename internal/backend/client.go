/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"txt2img/internal/settings"
)

// Client talks to a txt2img render server over HTTP. Path selection stays
// local: the server cannot open a dialog on this machine, so ChooseSavePath
// is delegated to Chooser.
type Client struct {
	BaseURL string
	Token   string // bearer token
	Chooser PathChooser
	client  *http.Client
}

// NewClient creates a new backend client. baseURL may include a trailing slash; it will be normalized.
func NewClient(baseURL, token string, timeout time.Duration, chooser PathChooser) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		Chooser: chooser,
		client:  &http.Client{Timeout: timeout},
	}
}

var _ API = (*Client)(nil)

func (c *Client) doJSON(ctx context.Context, method, path string, body, dest any) error {
	u, err := url.Parse(c.BaseURL + path)
	if err != nil {
		return err
	}
	var rdr io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), rdr)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		if s := strings.TrimSpace(string(msg)); s != "" {
			return fmt.Errorf("server %s %s: %s: %s", method, u.Path, resp.Status, s)
		}
		return fmt.Errorf("server %s %s: %s", method, u.Path, resp.Status)
	}
	if dest == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(dest)
}

// Probe is a handshake probe that succeeds once /api/health answers 2xx.
func (c *Client) Probe(ctx context.Context) (API, bool) {
	pctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := c.doJSON(pctx, http.MethodGet, "/api/health", nil, nil); err != nil {
		return nil, false
	}
	return c, true
}

func (c *Client) RenderImage(ctx context.Context, req RenderRequest) (RenderResult, error) {
	var res RenderResult
	if err := c.doJSON(ctx, http.MethodPost, "/api/render", req, &res); err != nil {
		return RenderResult{}, err
	}
	return res, nil
}

func (c *Client) LoadConfig(ctx context.Context) (settings.Config, error) {
	var cfg settings.Config
	if err := c.doJSON(ctx, http.MethodGet, "/api/config", nil, &cfg); err != nil {
		return settings.Config{}, err
	}
	return cfg, nil
}

func (c *Client) SaveConfig(ctx context.Context, cfg settings.Config) (Status, error) {
	var st Status
	if err := c.doJSON(ctx, http.MethodPut, "/api/config", cfg, &st); err != nil {
		return Status{}, err
	}
	return st, nil
}

func (c *Client) ChooseSavePath(ctx context.Context, suggestedName string) (PathChoice, error) {
	if c.Chooser == nil {
		return PathChoice{Success: false, Message: "no save dialog available"}, nil
	}
	return c.Chooser.ChooseSavePath(ctx, suggestedName)
}
