package session

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/SnowBall-Bqiu/IMHO/internal/keystore"
	"github.com/SnowBall-Bqiu/IMHO/internal/response"
)

// Handler holds the login and logout HTTP handlers.
type Handler struct {
	mgr  *Manager
	keys keystore.Store
	ttl  time.Duration
}

// NewHandler creates a session Handler.
func NewHandler(mgr *Manager, keys keystore.Store, ttl time.Duration) *Handler {
	return &Handler{mgr: mgr, keys: keys, ttl: ttl}
}

type loginRequest struct {
	APIKey string `json:"api_key"`
}

type loginData struct {
	Token string             `json:"token"`
	User  *keystore.UserInfo `json:"user"`
}

// Login godoc
//
//	@Summary		Log in with an API key
//	@Description	Validates the API key and returns a session token, also set as an HttpOnly cookie. Accepts a form field or JSON body named api_key.
//	@Tags			auth
//	@Accept			json
//	@Produce		json
//	@Param			request	body		loginRequest	true	"API key"
//	@Success		200		{object}	response.Envelope{data=loginData}
//	@Failure		400		{object}	response.Envelope
//	@Failure		401		{object}	response.Envelope
//	@Router			/login [post]
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	apiKey := strings.TrimSpace(r.FormValue("api_key"))
	if apiKey == "" {
		var req loginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err == nil {
			apiKey = strings.TrimSpace(req.APIKey)
		}
	}
	if apiKey == "" {
		response.BadRequest(w, "api_key required")
		return
	}

	u, err := h.keys.Lookup(r.Context(), apiKey)
	if err != nil {
		response.Unauthorized(w, "invalid API key")
		return
	}

	token, err := h.mgr.Issue(u)
	if err != nil {
		response.InternalError(w)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.ttl.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
	response.OK(w, "login successful", loginData{Token: token, User: u})
}

// Logout godoc
//
//	@Summary	Log out
//	@Tags		auth
//	@Produce	json
//	@Success	200	{object}	response.Envelope
//	@Router		/logout [post]
func (h *Handler) Logout(w http.ResponseWriter, _ *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
	response.OK(w, "logged out", nil)
}
