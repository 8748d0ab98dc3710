package payments

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientClassifiesProcessorErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusPaymentRequired)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]string{"code": "card_declined", "message": "card was declined"},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sk_test")
	_, err := c.VerifyCard(context.Background(), "b-1", "tok_visa")
	var pe *ProcessorError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ProcessorError, got %v", err)
	}
	if pe.Kind != KindDeclined || pe.Code != "card_declined" {
		t.Fatalf("unexpected classification: %+v", pe)
	}
	if pe.Recoverable() {
		t.Fatal("declined errors must not be retryable")
	}
}

func TestClientTreatsBare5xxAsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	_, err := c.CreateACHSetupIntent(context.Background(), "b-1", 24039)
	var pe *ProcessorError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ProcessorError, got %v", err)
	}
	if pe.Kind != KindTransient {
		t.Fatalf("kind = %v, want transient", pe.Kind)
	}
}

func TestClientNetworkFailureIsUnavailable(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", "")
	_, err := c.CreateACHSetupIntent(context.Background(), "b-1", 100)
	var pe *ProcessorError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ProcessorError, got %v", err)
	}
	if pe.Kind != KindUnavailable || !pe.Recoverable() {
		t.Fatalf("network failures should be recoverable unavailable, got %+v", pe)
	}
}

func TestClientSetupIntentRequestShape(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/ach/setup-intents" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer sk_test" {
			t.Errorf("auth header = %q", auth)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_ = json.NewEncoder(w).Encode(SetupSession{ID: "si_1", ClientSecret: "cs_1"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sk_test")
	session, err := c.CreateACHSetupIntent(context.Background(), "b-1", 24039)
	if err != nil {
		t.Fatalf("setup intent: %v", err)
	}
	if session.ID != "si_1" || session.ClientSecret != "cs_1" {
		t.Fatalf("unexpected session: %+v", session)
	}
	if got["replaceExisting"] != true {
		t.Fatal("retried setup must replace any in-flight session")
	}
}
