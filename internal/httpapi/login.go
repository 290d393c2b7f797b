package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"verdantia/simulator/internal/logging"
	"verdantia/simulator/internal/login"
)

// LoginHandler authenticates viewer credentials and returns the session
// grant echoed later during circuit establishment. simAddr tells the viewer
// where the UDP transport listens.
func (h *HandlerSet) LoginHandler(svc *login.Service, simAddr string) http.HandlerFunc {
	type request struct {
		First    string `json:"first"`
		Last     string `json:"last"`
		Password string `json:"password"`
	}
	type response struct {
		AgentID         string `json:"agent_id"`
		SessionID       string `json:"session_id"`
		SecureSessionID string `json:"secure_session_id"`
		CircuitCode     uint32 `json:"circuit_code"`
		SimAddress      string `json:"sim_address"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		reqLogger := h.logger.With(
			logging.String("handler", "login"),
			logging.String("remote_addr", r.RemoteAddr),
		)
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if strings.TrimSpace(req.First) == "" || strings.TrimSpace(req.Last) == "" {
			http.Error(w, "first and last name required", http.StatusBadRequest)
			return
		}

		grant, err := svc.Authenticate(login.Credentials{
			First:    req.First,
			Last:     req.Last,
			Password: req.Password,
		})
		if err != nil {
			//1.- Unknown user and bad password look identical to callers.
			reqLogger.Warn("login rejected",
				logging.String("first", req.First), logging.String("last", req.Last))
			http.Error(w, "invalid credentials", http.StatusUnauthorized)
			return
		}
		reqLogger.Info("login accepted",
			logging.String("agent", grant.AgentID.String()),
			logging.Uint32("circuit", grant.CircuitCode))
		writeJSON(w, http.StatusOK, response{
			AgentID:         grant.AgentID.String(),
			SessionID:       grant.SessionID.String(),
			SecureSessionID: grant.SecureSessionID.String(),
			CircuitCode:     grant.CircuitCode,
			SimAddress:      simAddr,
		})
	}
}
