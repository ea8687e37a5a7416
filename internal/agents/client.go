// Package agents talks to the external consultation agents: the consultant
// that answers section-level queries and the contractor that generates an
// initial contract document.
package agents

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"parley/api/internal/contract"
)

// ConsultantResponse is one consultant turn. Besides the reply text it may
// carry refreshed consultation metadata; empty fields mean "no update".
type ConsultantResponse struct {
	Title    string `json:"title"`
	Response string `json:"response"`
	Summary  string `json:"summary"`
	Source   string `json:"source"`
}

// Report is the structured brief sent to the contractor. Field validation is
// the contractor's responsibility; this side only requires structural
// presence.
type Report struct {
	ContractType        string   `json:"contract_type"`
	Purpose             string   `json:"purpose"`
	Parties             string   `json:"parties"`
	FinancialTerms      string   `json:"financial_terms"`
	Timeline            string   `json:"timeline"`
	ComplianceNotes     string   `json:"compliance_notes"`
	ApplicableStandards []string `json:"applicable_standards"`
}

type Client struct {
	consultantURL string
	contractorURL string
	httpClient    *http.Client
}

func NewClient(consultantURL, contractorURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		consultantURL: consultantURL,
		contractorURL: contractorURL,
		httpClient:    &http.Client{Timeout: timeout},
	}
}

// Consult sends a free-text query and returns the consultant's reply.
func (c *Client) Consult(ctx context.Context, query string) (ConsultantResponse, error) {
	body, err := json.Marshal(map[string]string{"query": query})
	if err != nil {
		return ConsultantResponse{}, fmt.Errorf("marshal consultant request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.consultantURL, bytes.NewReader(body))
	if err != nil {
		return ConsultantResponse{}, fmt.Errorf("create consultant request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ConsultantResponse{}, fmt.Errorf("consultant call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return ConsultantResponse{}, fmt.Errorf("consultant returned status %d", resp.StatusCode)
	}

	var parsed ConsultantResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return ConsultantResponse{}, fmt.Errorf("decode consultant response: %w", err)
	}
	return parsed, nil
}

// GenerateContract sends the structured report and returns the generated
// document envelope. A non-2xx status surfaces the response body text in the
// error.
func (c *Client) GenerateContract(ctx context.Context, report Report) (contract.Format, error) {
	body, err := json.Marshal(report)
	if err != nil {
		return contract.Format{}, fmt.Errorf("marshal contractor request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.contractorURL, bytes.NewReader(body))
	if err != nil {
		return contract.Format{}, fmt.Errorf("create contractor request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return contract.Format{}, fmt.Errorf("contractor call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return contract.Format{}, fmt.Errorf("contractor returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	var parsed contract.Format
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return contract.Format{}, fmt.Errorf("decode contractor response: %w", err)
	}
	return parsed, nil
}
