package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"verdantia/simulator/internal/logging"
	"verdantia/simulator/internal/login"
)

func TestLoginHandlerIssuesGrant(t *testing.T) {
	svc := login.NewService()
	agent := svc.RegisterUser("Ada", "Lovelace", "hunter2")
	handlers := NewHandlerSet(Options{Logger: logging.NewTestLogger()})
	handler := handlers.LoginHandler(svc, "127.0.0.1:9000")

	body := `{"first":"Ada","last":"Lovelace","password":"hunter2"}`
	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(body)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		AgentID     string `json:"agent_id"`
		SessionID   string `json:"session_id"`
		CircuitCode uint32 `json:"circuit_code"`
		SimAddress  string `json:"sim_address"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.AgentID != agent.String() || resp.SessionID == "" {
		t.Fatalf("grant: %+v", resp)
	}
	if resp.SimAddress != "127.0.0.1:9000" {
		t.Fatalf("sim address %q", resp.SimAddress)
	}
	if svc.ActiveSessions() != 1 {
		t.Fatalf("active sessions %d, want 1", svc.ActiveSessions())
	}
}

func TestLoginHandlerRejectsBadInput(t *testing.T) {
	svc := login.NewService()
	svc.RegisterUser("Ada", "Lovelace", "hunter2")
	handlers := NewHandlerSet(Options{Logger: logging.NewTestLogger()})
	handler := handlers.LoginHandler(svc, "127.0.0.1:9000")

	cases := []struct {
		name string
		req  *http.Request
		want int
	}{
		{
			name: "wrong method",
			req:  httptest.NewRequest(http.MethodGet, "/login", nil),
			want: http.StatusMethodNotAllowed,
		},
		{
			name: "malformed body",
			req:  httptest.NewRequest(http.MethodPost, "/login", strings.NewReader("{")),
			want: http.StatusBadRequest,
		},
		{
			name: "missing name",
			req:  httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(`{"password":"x"}`)),
			want: http.StatusBadRequest,
		},
		{
			name: "wrong password",
			req: httptest.NewRequest(http.MethodPost, "/login",
				strings.NewReader(`{"first":"Ada","last":"Lovelace","password":"nope"}`)),
			want: http.StatusUnauthorized,
		},
		{
			name: "unknown user",
			req: httptest.NewRequest(http.MethodPost, "/login",
				strings.NewReader(`{"first":"No","last":"Body","password":"x"}`)),
			want: http.StatusUnauthorized,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			handler(rec, tc.req)
			if rec.Code != tc.want {
				t.Fatalf("status %d, want %d", rec.Code, tc.want)
			}
		})
	}
	if svc.ActiveSessions() != 0 {
		t.Fatalf("rejected logins minted %d sessions", svc.ActiveSessions())
	}
}
