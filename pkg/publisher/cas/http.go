package cas

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/StrathCole/oracle-trust/pkg/version"
)

const maxObjectSize = 8 << 20

// HTTPConfig describes a pinning service.
type HTTPConfig struct {
	Endpoint string // upload URL, receives POST with the JSON payload
	Gateway  string // public read base, objects are at <gateway>/<cid>
	UnpinURL string // DELETE target, {cid} is substituted
	Token    string // bearer token
	CIDPath  string // gjson path of the content id in the upload response
}

// HTTPStore uploads to a pinning service and reads through its public gateway.
type HTTPStore struct {
	cfg    HTTPConfig
	client *http.Client
}

// NewHTTPStore creates a store. A nil client gets a 30s default.
func NewHTTPStore(cfg HTTPConfig, client *http.Client) *HTTPStore {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.CIDPath == "" {
		cfg.CIDPath = "cid"
	}
	cfg.Gateway = strings.TrimRight(cfg.Gateway, "/")
	return &HTTPStore{cfg: cfg, client: client}
}

// Add uploads data and returns the content id reported by the service.
func (s *HTTPStore) Add(ctx context.Context, data []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.Endpoint, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpload, err)
	}
	req.Header.Set("Content-Type", "application/json")
	s.decorate(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpload, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxObjectSize))
	if err != nil {
		return "", fmt.Errorf("%w: read response: %v", ErrUpload, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: HTTP %d", ErrUpload, resp.StatusCode)
	}

	id := gjson.GetBytes(body, s.cfg.CIDPath).String()
	if id == "" {
		return "", fmt.Errorf("%w: no content id at %q", ErrUpload, s.cfg.CIDPath)
	}
	return id, nil
}

// Fetch reads an object through the gateway.
func (s *HTTPStore) Fetch(ctx context.Context, id string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL(id), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", version.AgentString())

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("cas: gateway returned HTTP %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxObjectSize))
}

// Remove unpins an object.
func (s *HTTPStore) Remove(ctx context.Context, id string) error {
	if s.cfg.UnpinURL == "" {
		return fmt.Errorf("cas: no unpin URL configured")
	}
	target := strings.ReplaceAll(s.cfg.UnpinURL, "{cid}", id)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, target, nil)
	if err != nil {
		return err
	}
	s.decorate(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxObjectSize))

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("cas: unpin returned HTTP %d", resp.StatusCode)
	}
	return nil
}

// URL returns the gateway URL of an object.
func (s *HTTPStore) URL(id string) string {
	return s.cfg.Gateway + "/" + id
}

func (s *HTTPStore) decorate(req *http.Request) {
	req.Header.Set("User-Agent", version.AgentString())
	if s.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.Token)
	}
}
