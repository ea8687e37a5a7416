package agents

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestConsult(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if body["query"] != "Hello" {
			t.Errorf("query = %q, want %q", body["query"], "Hello")
		}
		_ = json.NewEncoder(w).Encode(ConsultantResponse{
			Title:    "Digital Marketing Consultation",
			Response: "Hi there",
			Summary:  "An updated summary",
			Source:   "web form",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, server.URL, time.Second)
	resp, err := client.Consult(context.Background(), "Hello")
	if err != nil {
		t.Fatalf("Consult() error = %v", err)
	}
	if resp.Response != "Hi there" || resp.Title != "Digital Marketing Consultation" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestConsultNonSuccessStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient(server.URL, server.URL, time.Second)
	if _, err := client.Consult(context.Background(), "Hello"); err == nil {
		t.Fatal("expected error for non-2xx status")
	}
}

func TestConsultMalformedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("{not json"))
	}))
	defer server.Close()

	client := NewClient(server.URL, server.URL, time.Second)
	if _, err := client.Consult(context.Background(), "Hello"); err == nil {
		t.Fatal("expected error for malformed body")
	}
}

func TestGenerateContract(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var report Report
		if err := json.NewDecoder(r.Body).Decode(&report); err != nil {
			t.Errorf("decode report: %v", err)
		}
		if report.ContractType != "service" {
			t.Errorf("contract_type = %q", report.ContractType)
		}
		_, _ = w.Write([]byte(`{
			"title": "Service Agreement",
			"preamble": "Between the parties",
			"chapters": [{"title": "Scope", "sections": [{"title": "Deliverables", "content": "..."}]}],
			"closing": "Signed",
			"applicable_standards": ["AAOIFI FAS 28"]
		}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, server.URL, time.Second)
	format, err := client.GenerateContract(context.Background(), Report{
		ContractType:        "service",
		Purpose:             "marketing support",
		Parties:             "Acme and Beta",
		FinancialTerms:      "monthly retainer",
		Timeline:            "12 months",
		ComplianceNotes:     "none",
		ApplicableStandards: []string{"AAOIFI FAS 28"},
	})
	if err != nil {
		t.Fatalf("GenerateContract() error = %v", err)
	}
	if format.Title != "Service Agreement" || len(format.Chapters) != 1 {
		t.Fatalf("unexpected format: %+v", format)
	}
}

func TestGenerateContractSurfacesBodyText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "missing field: purpose", http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	client := NewClient(server.URL, server.URL, time.Second)
	_, err := client.GenerateContract(context.Background(), Report{})
	if err == nil {
		t.Fatal("expected error for non-2xx status")
	}
	if !strings.Contains(err.Error(), "missing field: purpose") {
		t.Fatalf("error does not carry body text: %v", err)
	}
}
