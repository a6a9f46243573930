package domaincheck

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// Verdict is the oracle's answer for one domain.
type Verdict struct {
	Exists          bool `json:"exists"`
	Rank            *int `json:"rank,omitempty"`
	OrganicKeywords *int `json:"organicKeywords,omitempty"`
	Backlinks       *int `json:"backlinks,omitempty"`
}

// SaveWorthy reports whether the verdict justifies persisting an extraction:
// the domain must exist and carry at least one numeric marketing metric.
func (v *Verdict) SaveWorthy() bool {
	if v == nil || !v.Exists {
		return false
	}
	return v.Rank != nil || v.OrganicKeywords != nil || v.Backlinks != nil
}

// Oracle answers domain validity lookups.
type Oracle interface {
	CheckDomain(ctx context.Context, domain string) (*Verdict, error)
}

// HTTPOracle calls the external validity service over HTTP.
type HTTPOracle struct {
	client  *resty.Client
	baseURL string
}

// HTTPOracleConfig holds settings for the HTTP oracle client.
type HTTPOracleConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// NewHTTPOracle creates an oracle client with a bounded request timeout so a
// slow upstream can never stall result ingestion indefinitely.
func NewHTTPOracle(cfg *HTTPOracleConfig) *HTTPOracle {
	client := resty.New()
	client.SetHeader("X-Api-Key", cfg.APIKey)
	client.SetHeader("Accept", "application/json")
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	client.SetTimeout(timeout)

	return &HTTPOracle{
		client:  client,
		baseURL: cfg.BaseURL,
	}
}

// CheckDomain queries the oracle for one domain. Any transport or upstream
// failure is reported as an error; callers treat the domain as unresolved
// for this submission and never cache a negative result.
func (o *HTTPOracle) CheckDomain(ctx context.Context, domain string) (*Verdict, error) {
	var verdict Verdict

	resp, err := o.client.R().
		SetContext(ctx).
		SetResult(&verdict).
		SetPathParam("domain", domain).
		Get(o.baseURL + "/v1/domains/{domain}")
	if err != nil {
		return nil, fmt.Errorf("oracle request failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("oracle returned status %d for %s", resp.StatusCode(), domain)
	}

	return &verdict, nil
}
