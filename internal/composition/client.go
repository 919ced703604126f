package composition

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
)

// Client is a thin HTTP wrapper over the persistence service API. It
// implements the same operations as Service, so the studio coordinator can
// run against either.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient returns a Client for the service at baseURL (e.g.
// "http://localhost:8080"). httpClient may be nil to use a default with a
// 30s timeout.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

// notFoundErr lets call sites map a 404 to the sentinel that fits the
// endpoint.
func (c *Client) do(ctx context.Context, method, path string, body, out any, notFoundErr error) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		if resp.StatusCode == http.StatusNotFound && notFoundErr != nil {
			return notFoundErr
		}
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: %s", method, path, apiErr.Error)
		}
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// CreateComposition creates a new composition.
func (c *Client) CreateComposition(ctx context.Context, name string, tempo float64) (Composition, error) {
	var meta Composition
	body := map[string]any{"name": name, "tempo": tempo}
	err := c.do(ctx, http.MethodPost, "/api/compositions", body, &meta, nil)
	return meta, err
}

// ListCompositions returns all compositions.
func (c *Client) ListCompositions(ctx context.Context) ([]Composition, error) {
	var out struct {
		Compositions []Composition `json:"compositions"`
	}
	err := c.do(ctx, http.MethodGet, "/api/compositions", nil, &out, nil)
	return out.Compositions, err
}

// GetComposition fetches the full document for a composition.
func (c *Client) GetComposition(ctx context.Context, id CompositionID, useAutosave bool) (Document, error) {
	var doc Document
	path := "/api/compositions/" + url.PathEscape(string(id))
	if useAutosave {
		path += "?use_autosave=true"
	}
	err := c.do(ctx, http.MethodGet, path, nil, &doc, ErrNotFound)
	return doc, err
}

// UpdateComposition applies a partial metadata update.
func (c *Client) UpdateComposition(ctx context.Context, id CompositionID, upd MetadataUpdate) (Composition, error) {
	var meta Composition
	path := "/api/compositions/" + url.PathEscape(string(id))
	err := c.do(ctx, http.MethodPatch, path, upd, &meta, ErrNotFound)
	return meta, err
}

// SaveComposition stamps the server-side snapshot.
func (c *Client) SaveComposition(ctx context.Context, id CompositionID, opts SaveOptions) (SaveResult, error) {
	var res SaveResult
	path := "/api/compositions/" + url.PathEscape(string(id)) + "/save"
	err := c.do(ctx, http.MethodPost, path, opts, &res, ErrNotFound)
	return res, err
}

// DeleteComposition removes a composition.
func (c *Client) DeleteComposition(ctx context.Context, id CompositionID) error {
	path := "/api/compositions/" + url.PathEscape(string(id))
	return c.do(ctx, http.MethodDelete, path, nil, nil, ErrNotFound)
}

// ListHistory returns retained versions, newest first.
func (c *Client) ListHistory(ctx context.Context, id CompositionID) ([]VersionEntry, error) {
	var out struct {
		History []VersionEntry `json:"history"`
	}
	path := "/api/compositions/" + url.PathEscape(string(id)) + "/history"
	err := c.do(ctx, http.MethodGet, path, nil, &out, ErrNotFound)
	return out.History, err
}

// RestoreVersion restores a retained version into the current snapshot.
func (c *Client) RestoreVersion(ctx context.Context, id CompositionID, version int) (Document, error) {
	var doc Document
	path := fmt.Sprintf("/api/compositions/%s/history/%d/restore", url.PathEscape(string(id)), version)
	err := c.do(ctx, http.MethodPost, path, nil, &doc, ErrVersionNotFound)
	return doc, err
}

// RecoverAutosave fetches the last autosaved snapshot.
func (c *Client) RecoverAutosave(ctx context.Context, id CompositionID) (Document, error) {
	var doc Document
	path := "/api/compositions/" + url.PathEscape(string(id)) + "/recover"
	err := c.do(ctx, http.MethodPost, path, nil, &doc, ErrNoAutosave)
	return doc, err
}

// SaveSequence pushes the sequencer slice.
func (c *Client) SaveSequence(ctx context.Context, id CompositionID, doc SequenceDoc) error {
	path := "/api/compositions/" + url.PathEscape(string(id)) + "/sequence"
	return c.do(ctx, http.MethodPut, path, doc, nil, ErrNotFound)
}

// SaveMixer pushes the mixer slice.
func (c *Client) SaveMixer(ctx context.Context, id CompositionID, st MixerState) error {
	path := "/api/compositions/" + url.PathEscape(string(id)) + "/mixer"
	return c.do(ctx, http.MethodPut, path, st, nil, ErrNotFound)
}

// SaveEffectChain pushes one track's effect chain.
func (c *Client) SaveEffectChain(ctx context.Context, id CompositionID, trackID string, chain []Effect) error {
	path := "/api/compositions/" + url.PathEscape(string(id)) + "/effects/" + url.PathEscape(trackID)
	if chain == nil {
		chain = []Effect{}
	}
	return c.do(ctx, http.MethodPut, path, chain, nil, ErrNotFound)
}

// SaveSampleAssignment pushes or, with nil, clears one track's sample
// assignment.
func (c *Client) SaveSampleAssignment(ctx context.Context, id CompositionID, trackID string, a *SampleAssignment) error {
	path := "/api/compositions/" + url.PathEscape(string(id)) + "/samples/" + url.PathEscape(trackID)
	return c.do(ctx, http.MethodPut, path, a, nil, ErrNotFound)
}
