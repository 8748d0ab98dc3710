// Package esign talks to the external e-signature provider: creating signing
// sessions per contract pack, polling per-build status, and fetching signed
// artifacts for archival.
package esign

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"havenhomes/pkg/domain"
)

// Client calls the e-signature provider over HTTP.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// APIError represents a provider error response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return e.Message
}

// NewClient constructs an e-signature provider client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Session is a provider-hosted signing session.
type Session struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// CreateSession opens a signing session for one pack of a build's contract
// and returns the hosted URL the buyer signs in.
func (c *Client) CreateSession(ctx context.Context, buildID string, pack domain.ContractPack) (Session, error) {
	payload := map[string]string{"buildId": buildID, "template": string(pack)}
	var session Session
	if err := c.doJSON(ctx, http.MethodPost, "/v1/sessions", payload, &session); err != nil {
		return Session{}, err
	}
	return session, nil
}

// Status returns the provider's per-pack status map for a build.
func (c *Client) Status(ctx context.Context, buildID string) (map[domain.ContractPack]domain.PackStatus, error) {
	var resp struct {
		Packs map[string]string `json:"packs"`
	}
	path := "/v1/builds/" + buildID + "/status"
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	out := make(map[domain.ContractPack]domain.PackStatus, len(resp.Packs))
	for pack, status := range resp.Packs {
		out[domain.ContractPack(pack)] = domain.PackStatus(status)
	}
	return out, nil
}

// SignedDocument fetches the signed PDF for a completed pack.
func (c *Client) SignedDocument(ctx context.Context, buildID string, pack domain.ContractPack) ([]byte, error) {
	path := fmt.Sprintf("/v1/builds/%s/packs/%s/document", buildID, pack)
	return c.doRaw(ctx, path)
}

// AuditTrail fetches the provider's HTML audit page for a completed pack.
func (c *Client) AuditTrail(ctx context.Context, buildID string, pack domain.ContractPack) ([]byte, error) {
	path := fmt.Sprintf("/v1/builds/%s/packs/%s/audit", buildID, pack)
	return c.doRaw(ctx, path)
}

func (c *Client) doJSON(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) doRaw(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, decodeError(resp)
	}
	return io.ReadAll(resp.Body)
}

func decodeError(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&errResp)
	msg := errResp.Error
	if msg == "" {
		msg = resp.Status
	}
	return &APIError{Status: resp.StatusCode, Message: msg}
}
