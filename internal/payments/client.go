// Package payments talks to the external payment processor: setup intents
// for ACH debit, virtual account provisioning for bank transfers, and card
// verification/charging. All failures come back as *ProcessorError with a
// typed kind.
package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"havenhomes/pkg/domain"
)

// SetupSession is the processor-issued handle a client finishes a setup with.
type SetupSession struct {
	ID           string `json:"id"`
	ClientSecret string `json:"clientSecret"`
}

// Client calls the payment processor over HTTP.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient constructs a processor client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// CreateACHSetupIntent opens (or replaces) the ACH setup session for a build.
// replaceExisting makes a retried call invalidate any prior in-flight client
// secret instead of operating on stale state.
func (c *Client) CreateACHSetupIntent(ctx context.Context, buildID string, amountCents int64) (SetupSession, error) {
	payload := map[string]any{
		"buildId":         buildID,
		"amountCents":     amountCents,
		"replaceExisting": true,
	}
	var session SetupSession
	if err := c.doJSON(ctx, http.MethodPost, "/v1/ach/setup-intents", payload, &session); err != nil {
		return SetupSession{}, err
	}
	return session, nil
}

// ConfirmACHSetup exchanges a linked bank-account token for a chargeable
// instrument.
func (c *Client) ConfirmACHSetup(ctx context.Context, sessionID, bankAccountToken string) (string, error) {
	payload := map[string]string{"bankAccountToken": bankAccountToken}
	var resp struct {
		InstrumentID string `json:"instrumentId"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/v1/ach/setup-intents/"+sessionID+"/confirm", payload, &resp); err != nil {
		return "", err
	}
	return resp.InstrumentID, nil
}

// ProvisionVirtualAccount requests a bank-transfer destination with a unique
// reference code for payment matching.
func (c *Client) ProvisionVirtualAccount(ctx context.Context, buildID string, amountCents int64) (domain.TransferInstructions, error) {
	payload := map[string]any{"buildId": buildID, "amountCents": amountCents}
	var instructions domain.TransferInstructions
	if err := c.doJSON(ctx, http.MethodPost, "/v1/virtual-accounts", payload, &instructions); err != nil {
		return domain.TransferInstructions{}, err
	}
	return instructions, nil
}

// VerifyCard validates and saves a tokenized card, returning the saved
// instrument id.
func (c *Client) VerifyCard(ctx context.Context, buildID, cardToken string) (string, error) {
	payload := map[string]string{"buildId": buildID, "cardToken": cardToken}
	var resp struct {
		InstrumentID string `json:"instrumentId"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/v1/cards/verify", payload, &resp); err != nil {
		return "", err
	}
	return resp.InstrumentID, nil
}

// ChargeCard charges a saved card instrument and returns the charge status.
func (c *Client) ChargeCard(ctx context.Context, buildID, instrumentID string, amountCents int64) (string, error) {
	payload := map[string]any{
		"buildId":        buildID,
		"instrumentId":   instrumentID,
		"amountCents":    amountCents,
		"idempotencyKey": buildID + ":" + instrumentID,
	}
	var resp struct {
		Status string `json:"status"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/v1/cards/charges", payload, &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}

// SaveInstrument registers an instrument against the build's processor
// customer record for later charging.
func (c *Client) SaveInstrument(ctx context.Context, buildID, instrumentID string, metadata map[string]string) error {
	payload := map[string]any{
		"buildId":      buildID,
		"instrumentId": instrumentID,
		"metadata":     metadata,
	}
	return c.doJSON(ctx, http.MethodPost, "/v1/instruments", payload, nil)
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
		return &ProcessorError{Kind: KindUnavailable, Code: "network_error", Msg: err.Error()}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var errResp struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		msg := errResp.Error.Message
		if msg == "" {
			msg = resp.Status
		}
		kind := classifyCode(errResp.Error.Code)
		if resp.StatusCode >= 500 && errResp.Error.Code == "" {
			kind = KindTransient
		}
		return &ProcessorError{Kind: kind, Code: errResp.Error.Code, Status: resp.StatusCode, Msg: msg}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
