package api

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"github.com/technosupport/ts-safety/internal/tokens"
)

// AuthHandler issues service tokens against the single configured
// credential pair.
type AuthHandler struct {
	Tokens   *tokens.Manager
	Username string
	Password string
}

func NewAuthHandler(tm *tokens.Manager, username, password string) *AuthHandler {
	return &AuthHandler{Tokens: tm, Username: username, Password: password}
}

// POST /api/v1/auth/token
func (h *AuthHandler) Token(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	if h.Password == "" {
		respondError(w, http.StatusInternalServerError, "auth is not configured")
		return
	}
	userOK := subtle.ConstantTimeCompare([]byte(req.Username), []byte(h.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(req.Password), []byte(h.Password)) == 1
	if !userOK || !passOK {
		respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	access, err := h.Tokens.GenerateAccessToken(req.Username)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	refresh, err := h.Tokens.GenerateRefreshToken(req.Username)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondSuccess(w, "authenticated", map[string]string{
		"access_token":  access,
		"refresh_token": refresh,
	})
}

// POST /api/v1/auth/refresh
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		respondError(w, http.StatusBadRequest, "refresh_token is required")
		return
	}

	claims, err := h.Tokens.ValidateToken(req.RefreshToken)
	if err != nil || claims.TokenType != tokens.Refresh {
		respondError(w, http.StatusUnauthorized, "invalid refresh token")
		return
	}

	access, err := h.Tokens.GenerateAccessToken(claims.UserID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondSuccess(w, "token refreshed", map[string]string{"access_token": access})
}
