package keystore

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/SnowBall-Bqiu/IMHO/internal/response"
)

// Handler holds the admin key-management HTTP handlers. Routes mounting it
// must be guarded by the admin middleware.
type Handler struct {
	store Store
}

// NewHandler creates a keystore Handler.
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

type createKeyRequest struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

// ListKeys godoc
//
//	@Summary	List all API keys
//	@Tags		admin
//	@Produce	json
//	@Success	200	{object}	response.Envelope{data=[]UserInfo}
//	@Failure	403	{object}	response.Envelope
//	@Security	ApiKeyAuth
//	@Router		/admin/keys [get]
func (h *Handler) ListKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.store.List(r.Context())
	if err != nil {
		response.InternalError(w)
		return
	}
	response.OK(w, "", keys)
}

// CreateKey godoc
//
//	@Summary		Add a user and mint their API key
//	@Description	Creates a new user with the given role and returns the freshly minted key. Fails when the user already holds an active key.
//	@Tags			admin
//	@Accept			json
//	@Produce		json
//	@Param			request	body		createKeyRequest	true	"New user"
//	@Success		200		{object}	response.Envelope{data=UserInfo}
//	@Failure		400		{object}	response.Envelope
//	@Failure		403		{object}	response.Envelope
//	@Failure		409		{object}	response.Envelope
//	@Security		ApiKeyAuth
//	@Router			/admin/keys [post]
func (h *Handler) CreateKey(w http.ResponseWriter, r *http.Request) {
	var req createKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}
	if req.UserID == "" || req.Username == "" {
		response.BadRequest(w, "user_id and username required")
		return
	}
	role := Role(req.Role)
	if role != RoleAdmin && role != RoleUser {
		role = RoleUser
	}

	info, err := h.store.Create(r.Context(), req.UserID, req.Username, role)
	if err != nil {
		if errors.Is(err, ErrDuplicateUser) {
			response.Fail(w, http.StatusConflict, "user already has an active api key")
			return
		}
		response.InternalError(w)
		return
	}
	response.OK(w, "api key created", info)
}

type disableKeyRequest struct {
	APIKey string `json:"api_key"`
}

// DisableKey godoc
//
//	@Summary		Disable an API key
//	@Description	Marks the key disabled. Disabling an unknown or already-disabled key succeeds without effect.
//	@Tags			admin
//	@Accept			json
//	@Produce		json
//	@Param			request	body		disableKeyRequest	true	"Key to disable"
//	@Success		200		{object}	response.Envelope
//	@Failure		400		{object}	response.Envelope
//	@Failure		403		{object}	response.Envelope
//	@Security		ApiKeyAuth
//	@Router			/admin/keys/disable [post]
func (h *Handler) DisableKey(w http.ResponseWriter, r *http.Request) {
	var req disableKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.APIKey == "" {
		response.BadRequest(w, "api_key required")
		return
	}
	if err := h.store.Disable(r.Context(), req.APIKey); err != nil {
		response.InternalError(w)
		return
	}
	response.OK(w, "api key disabled", nil)
}
