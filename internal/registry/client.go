// Package registry is the gateway to the policy/insured-party registry. It is
// a collaborator boundary: only the wire contract lives here, and every call
// goes through this gateway's own circuit breaker.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"attesta/pkg/platform/circuit"
	"attesta/pkg/platform/sentinel"
)

// Gateway fetches policy and insured-party data.
type Gateway interface {
	FetchPolicyData(ctx context.Context, policyNumber string) (*PolicyData, error)
}

// Client is the HTTP implementation of Gateway.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	breaker *circuit.Breaker
}

// NewClient builds a registry client owning its breaker, per-dependency
// failure isolation included.
func NewClient(baseURL, apiKey string, breaker *circuit.Breaker) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{},
		breaker: breaker,
	}
}

// FetchPolicyData loads the policy and its insured party. A missing policy or
// insured party surfaces as sentinel.ErrNotFound; transport failures and an
// open breaker surface as-is for the service to classify.
func (c *Client) FetchPolicyData(ctx context.Context, policyNumber string) (*PolicyData, error) {
	var data PolicyData
	err := c.breaker.Do(ctx, func(ctx context.Context) error {
		policy, err := c.fetchPolicy(ctx, policyNumber)
		if err != nil {
			return err
		}
		insured, err := c.fetchInsured(ctx, policy.InsuredID)
		if err != nil {
			return err
		}
		data = PolicyData{Policy: *policy, Insured: *insured}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &data, nil
}

func (c *Client) fetchPolicy(ctx context.Context, policyNumber string) (*Policy, error) {
	var policy Policy
	if err := c.getJSON(ctx, fmt.Sprintf("%s/api/v1/policies/%s", c.baseURL, policyNumber), &policy); err != nil {
		return nil, err
	}
	return &policy, nil
}

func (c *Client) fetchInsured(ctx context.Context, insuredID string) (*InsuredParty, error) {
	var insured InsuredParty
	if err := c.getJSON(ctx, fmt.Sprintf("%s/api/v1/insured/%s", c.baseURL, insuredID), &insured); err != nil {
		return nil, err
	}
	return &insured, nil
}

func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build registry request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("call registry: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return sentinel.ErrNotFound
	case resp.StatusCode >= 400:
		return fmt.Errorf("registry returned status %d: %w", resp.StatusCode, sentinel.ErrUnavailable)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode registry response: %w", err)
	}
	return nil
}
