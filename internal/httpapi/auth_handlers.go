package httpapi

import (
	"net/http"
	"strings"
	"time"

	"invoicedesk.app/internal/audit"
	"invoicedesk.app/internal/auth"
)

type tokenRequest struct {
	UID   string   `json:"uid" validate:"required,max=128"`
	Roles []string `json:"roles" validate:"required,min=1,dive,oneof=owner staff"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (a *API) handleAuthToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if a.signer == nil {
		writeError(w, r, http.StatusServiceUnavailable, "token signing is not configured")
		return
	}

	var req tokenRequest
	if !a.bind(w, r, &req) {
		return
	}
	uid := strings.TrimSpace(req.UID)

	token, expiresAt, err := a.signer.Issue(uid, req.Roles, a.tokenTTL)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "token generation failed")
		return
	}

	ctx := auth.ContextWithPrincipal(r.Context(), auth.Principal{UID: uid, Roles: req.Roles})
	_ = audit.LogEvent(ctx, "auth.token.issued", map[string]any{
		"expires_at": expiresAt.Format(time.RFC3339),
	})

	writeJSON(w, http.StatusOK, tokenResponse{
		Token:     token,
		ExpiresAt: expiresAt,
	})
}
