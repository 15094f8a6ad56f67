// Package provider is the gateway to the third-party certificate-generation
// service. Only the wire contract lives here; every call goes through this
// gateway's own circuit breaker with a hard timeout.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"attesta/pkg/platform/circuit"
	"attesta/pkg/platform/sentinel"
)

// Gateway submits attestation requests, queries status, mutates status, and
// fetches download links.
type Gateway interface {
	CreateAttestation(ctx context.Context, req AttestationRequest) (*AttestationResponse, error)
	CheckStatus(ctx context.Context, reference string) (*StatusResponse, error)
	UpdateAttestationStatus(ctx context.Context, certificateNumbers []string, op OperationCode) (*UpdateStatusResponse, error)
	GetDownloadLinks(ctx context.Context, certificateNumber string) ([]DownloadLink, error)
}

// Client is the HTTP implementation of Gateway.
type Client struct {
	baseURL       string
	apiKey        string
	requesterCode string
	http          *http.Client
	breaker       *circuit.Breaker
}

// NewClient builds a provider client owning its breaker.
func NewClient(baseURL, apiKey, requesterCode string, breaker *circuit.Breaker) *Client {
	return &Client{
		baseURL:       baseURL,
		apiKey:        apiKey,
		requesterCode: requesterCode,
		http:          &http.Client{},
		breaker:       breaker,
	}
}

// RequesterCode identifies this gateway to the provider on every call.
func (c *Client) RequesterCode() string { return c.requesterCode }

func (c *Client) CreateAttestation(ctx context.Context, req AttestationRequest) (*AttestationResponse, error) {
	req.RequesterCode = c.requesterCode
	var out AttestationResponse
	err := c.breaker.Do(ctx, func(ctx context.Context) error {
		return c.postJSON(ctx, "/api/v1/attestations", req, &out)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CheckStatus(ctx context.Context, reference string) (*StatusResponse, error) {
	req := StatusRequest{RequesterCode: c.requesterCode, Reference: reference}
	var out StatusResponse
	err := c.breaker.Do(ctx, func(ctx context.Context) error {
		return c.postJSON(ctx, "/api/v1/attestations/status", req, &out)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateAttestationStatus(ctx context.Context, certificateNumbers []string, op OperationCode) (*UpdateStatusResponse, error) {
	req := UpdateStatusRequest{
		RequesterCode:      c.requesterCode,
		CertificateNumbers: certificateNumbers,
		Operation:          op,
	}
	var out UpdateStatusResponse
	err := c.breaker.Do(ctx, func(ctx context.Context) error {
		return c.postJSON(ctx, "/api/v1/attestations/update-status", req, &out)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetDownloadLinks(ctx context.Context, certificateNumber string) ([]DownloadLink, error) {
	var out downloadResponse
	err := c.breaker.Do(ctx, func(ctx context.Context) error {
		return c.getJSON(ctx, "/api/v1/attestations/"+certificateNumber+"/links", &out)
	})
	if err != nil {
		return nil, err
	}
	return out.Links, nil
}

func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal provider request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build provider request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.send(req, out)
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build provider request: %w", err)
	}
	return c.send(req, out)
}

func (c *Client) send(req *http.Request, out any) error {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("call provider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("provider returned status %d: %w", resp.StatusCode, sentinel.ErrUnavailable)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode provider response: %w", err)
	}
	return nil
}
