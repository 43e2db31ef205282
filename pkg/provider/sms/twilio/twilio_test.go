package twilio

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/havenline/havenline/pkg/upstream"
)

// TestNew_MissingCredentials checks constructor validation.
func TestNew_MissingCredentials(t *testing.T) {
	tests := []struct {
		name             string
		sid, token, from string
	}{
		{"no sid", "", "tok", "+15550001111"},
		{"no token", "AC123", "", "+15550001111"},
		{"no from", "AC123", "tok", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.sid, tt.token, tt.from); err == nil {
				t.Error("expected error")
			}
		})
	}
}

// TestSend_Success checks the form encoding, auth, and receipt parsing.
func TestSend_Success(t *testing.T) {
	var gotPath, gotTo, gotFrom, gotBody string
	var gotUser, gotPass string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotUser, gotPass, _ = r.BasicAuth()
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		gotTo = r.PostFormValue("To")
		gotFrom = r.PostFormValue("From")
		gotBody = r.PostFormValue("Body")

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"sid": "SM123", "status": "queued"}`))
	}))
	defer srv.Close()

	p, err := New("AC123", "secret", "+15550001111", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	got, err := p.Send(context.Background(), "+15552223333", "1. Safe Haven\n   Phone: 555-111-2222")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	if gotPath != "/2010-04-01/Accounts/AC123/Messages.json" {
		t.Errorf("path = %q", gotPath)
	}
	if gotUser != "AC123" || gotPass != "secret" {
		t.Errorf("basic auth = %q/%q", gotUser, gotPass)
	}
	if gotTo != "+15552223333" || gotFrom != "+15550001111" {
		t.Errorf("To = %q, From = %q", gotTo, gotFrom)
	}
	if gotBody == "" {
		t.Error("Body not sent")
	}
	if got.ID != "SM123" || got.Status != "queued" {
		t.Errorf("receipt = %+v", got)
	}
}

// TestSend_Validation checks the fail-fast paths.
func TestSend_Validation(t *testing.T) {
	p, _ := New("AC123", "tok", "+15550001111")

	_, err := p.Send(context.Background(), "", "hi")
	if !upstream.IsKind(err, upstream.KindValidationFailed) {
		t.Errorf("empty to: kind = %v, want ValidationFailed", upstream.KindOf(err))
	}
	_, err = p.Send(context.Background(), "+15552223333", "  ")
	if !upstream.IsKind(err, upstream.KindValidationFailed) {
		t.Errorf("empty body: kind = %v, want ValidationFailed", upstream.KindOf(err))
	}
}

// TestSend_StatusClassification checks HTTP error mapping.
func TestSend_StatusClassification(t *testing.T) {
	tests := []struct {
		status int
		want   upstream.Kind
	}{
		{http.StatusUnauthorized, upstream.KindAuthMisconfig},
		{http.StatusTooManyRequests, upstream.KindRateLimited},
		{http.StatusBadRequest, upstream.KindBad4xx},
		{http.StatusServiceUnavailable, upstream.KindUpstream5xx},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))
		p, _ := New("AC123", "tok", "+15550001111", WithBaseURL(srv.URL))
		_, err := p.Send(context.Background(), "+15552223333", "hi")
		if !upstream.IsKind(err, tt.want) {
			t.Errorf("status %d: kind = %v, want %v", tt.status, upstream.KindOf(err), tt.want)
		}
		srv.Close()
	}
}
