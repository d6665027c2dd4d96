package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/stitchcal/stitch/internal/connect"
	"github.com/stitchcal/stitch/internal/core"
	"github.com/stitchcal/stitch/internal/sync"
)

// userID resolves the authenticated user. Authentication itself lives at the
// edge; this service trusts the header the gateway sets.
func userID(r *http.Request) string {
	return r.Header.Get("X-User-ID")
}

func (s *Server) handleBeginConnect(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		httpError(w, http.StatusUnauthorized, "missing user identity")
		return
	}

	kind := core.ProviderKind(chi.URLParam(r, "provider"))
	if !kind.Valid() || !kind.UsesOAuth() {
		httpError(w, http.StatusNotFound, fmt.Sprintf("no oauth flow for provider %q", kind))
		return
	}

	authURL, err := s.connect.BeginConnect(r.Context(), uid, kind)
	if err != nil {
		s.log.Error("begin connect", "provider", string(kind), "error", err)
		httpError(w, http.StatusInternalServerError, "could not start the connect flow")
		return
	}

	http.Redirect(w, r, authURL, http.StatusFound)
}

// handleCallback is the OAuth redirect target. Failures redirect back to the
// settings page with an error code; the browser is mid-redirect and cannot
// render a JSON body.
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	kind := core.ProviderKind(chi.URLParam(r, "provider"))
	if !kind.Valid() || !kind.UsesOAuth() {
		httpError(w, http.StatusNotFound, fmt.Sprintf("no oauth flow for provider %q", kind))
		return
	}

	q := r.URL.Query()
	if errCode := q.Get("error"); errCode != "" {
		// User denied consent at the provider.
		s.redirectSettings(w, r, "consent_denied")
		return
	}

	state, code := q.Get("state"), q.Get("code")
	if state == "" || code == "" {
		s.redirectSettings(w, r, "callback_malformed")
		return
	}

	if _, err := s.connect.CompleteConnect(r.Context(), kind, state, code); err != nil {
		s.log.Warn("connect callback failed", "provider", string(kind), "error", err)
		s.redirectSettings(w, r, callbackErrorCode(err))
		return
	}

	s.redirectSettings(w, r, "")
}

func callbackErrorCode(err error) string {
	if errors.Is(err, connect.ErrStateInvalid) {
		return "state_invalid"
	}
	var pe *core.ProviderError
	if errors.As(err, &pe) {
		return string(pe.Code)
	}
	return "connect_failed"
}

func (s *Server) redirectSettings(w http.ResponseWriter, r *http.Request, errCode string) {
	target := s.settingsURL
	if errCode != "" {
		sep := "?"
		if u, err := url.Parse(target); err == nil && u.RawQuery != "" {
			sep = "&"
		}
		target += sep + "error=" + url.QueryEscape(errCode)
	}
	http.Redirect(w, r, target, http.StatusFound)
}

type icloudConnectRequest struct {
	Username  string `json:"username"`
	Password  string `json:"password"`
	ServerURL string `json:"serverUrl,omitempty"`
}

func (s *Server) handleConnectICloud(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		httpError(w, http.StatusUnauthorized, "missing user identity")
		return
	}

	var req icloudConnectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		httpError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	acct, err := s.connect.ConnectCalDAV(r.Context(), uid, req.Username, req.Password, req.ServerURL)
	if err != nil {
		var pe *core.ProviderError
		if errors.As(err, &pe) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
				"error": string(pe.Code),
				"hint":  pe.Hint,
			})
			return
		}
		s.log.Error("icloud connect", "error", err)
		httpError(w, http.StatusInternalServerError, "could not connect the account")
		return
	}

	writeJSON(w, http.StatusCreated, accountResponse(acct))
}

func (s *Server) handleTriggerSync(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		httpError(w, http.StatusUnauthorized, "missing user identity")
		return
	}

	accountID := chi.URLParam(r, "id")
	acct, err := s.store.GetAccount(r.Context(), accountID)
	if err != nil || acct.UserID != uid {
		httpError(w, http.StatusNotFound, "account not found")
		return
	}

	if err := s.queue.Submit(accountID); err != nil {
		if errors.Is(err, sync.ErrQueueFull) {
			httpError(w, http.StatusTooManyRequests, "sync queue is full, try again shortly")
			return
		}
		httpError(w, http.StatusInternalServerError, "could not queue the sync")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

// handleStream is the SSE feed of sync notifications for the calling user.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		httpError(w, http.StatusUnauthorized, "missing user identity")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		httpError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	msgs, cancel := s.broker.Subscribe(uid)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case msg := <-msgs:
			data, err := json.Marshal(msg.Payload)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Event, data)
			flusher.Flush()
		}
	}
}

func accountResponse(acct *core.CalendarAccount) map[string]any {
	return map[string]any{
		"id":         acct.ID,
		"provider":   string(acct.Provider),
		"email":      acct.Email,
		"syncStatus": string(acct.SyncStatus),
		"isActive":   acct.IsActive,
	}
}

func httpError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
