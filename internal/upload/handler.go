package upload

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/SnowBall-Bqiu/IMHO/internal/ledger"
	"github.com/SnowBall-Bqiu/IMHO/internal/middleware"
	"github.com/SnowBall-Bqiu/IMHO/internal/naming"
	"github.com/SnowBall-Bqiu/IMHO/internal/response"
	"github.com/SnowBall-Bqiu/IMHO/internal/storage"
	"github.com/SnowBall-Bqiu/IMHO/internal/validate"
)

// defaultURLSelector is the alias code assumed when an API caller sends no
// url field. With no matching alias configured it falls through to the
// canonical URL.
const defaultURLSelector = "2"

// Handler holds HTTP handlers for upload, listing, delete, and file serving.
type Handler struct {
	svc *Service
}

// NewHandler creates an upload Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

type uploadData struct {
	URL         string `json:"url"`
	OriginalURL string `json:"original_url"`
	Filename    string `json:"filename"`
	Size        int64  `json:"size"`
}

// APIUpload godoc
//
//	@Summary		Upload a file (API)
//	@Description	Accepts a multipart file field named "file". Optional "url" selects a configured mirror alias; "base_url" overrides the response base URL entirely.
//	@Tags			upload
//	@Accept			multipart/form-data
//	@Produce		json
//	@Param			X-Auth-Key	header		string	true	"API key"
//	@Param			file		formData	file	true	"File to upload"
//	@Param			url			formData	string	false	"Mirror alias selector"
//	@Param			base_url	formData	string	false	"Custom base URL for the response"
//	@Success		200			{object}	response.Envelope{data=uploadData}
//	@Failure		400			{object}	response.Envelope
//	@Failure		401			{object}	response.Envelope
//	@Failure		500			{object}	response.Envelope
//	@Router			/api/upload [post]
func (h *Handler) APIUpload(w http.ResponseWriter, r *http.Request) {
	u := middleware.UserFrom(r.Context())

	file, header, err := r.FormFile("file")
	if err != nil {
		response.BadRequest(w, "no file uploaded")
		return
	}
	defer file.Close()

	filename, err := h.svc.Upload(r.Context(), u, ledger.MethodAPI,
		header.Filename, header.Size, file,
		header.Header.Get("Content-Type"), clientIP(r))
	if err != nil {
		writeUploadError(w, err)
		return
	}

	selector := r.FormValue("url")
	if selector == "" {
		selector = r.URL.Query().Get("url")
	}
	if selector == "" {
		selector = defaultURLSelector
	}
	display, canonical := h.svc.Resolver().Resolve(filename, selector, r.FormValue("base_url"))

	response.OK(w, "upload successful", uploadData{
		URL:         display,
		OriginalURL: canonical,
		Filename:    filename,
		Size:        header.Size,
	})
}

// WebUpload handles the session-authenticated web-form upload. The response
// is the resolved URL as plain text, which is what the upload widget expects.
func (h *Handler) WebUpload(w http.ResponseWriter, r *http.Request) {
	u := middleware.UserFrom(r.Context())

	file, header, err := r.FormFile("file")
	if err != nil {
		response.BadRequest(w, "no file uploaded")
		return
	}
	defer file.Close()

	filename, err := h.svc.Upload(r.Context(), u, ledger.MethodWeb,
		header.Filename, header.Size, file,
		header.Header.Get("Content-Type"), clientIP(r))
	if err != nil {
		writeUploadError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, h.svc.Resolver().Canonical(filename))
}

type listData struct {
	Files []FileEntry `json:"files"`
}

// ListFiles godoc
//
//	@Summary		List accessible files
//	@Description	Returns every stored file the caller may view. Regular users see only their own uploads; admins see all.
//	@Tags			files
//	@Produce		json
//	@Success		200	{object}	response.Envelope{data=listData}
//	@Failure		401	{object}	response.Envelope
//	@Failure		500	{object}	response.Envelope
//	@Security		ApiKeyAuth
//	@Router			/files [get]
func (h *Handler) ListFiles(w http.ResponseWriter, r *http.Request) {
	u := middleware.UserFrom(r.Context())

	files, err := h.svc.ListFiles(r.Context(), u)
	if err != nil {
		response.InternalError(w)
		return
	}
	response.OK(w, "", listData{Files: files})
}

type deleteRequest struct {
	Filename string `json:"filename"`
}

// Delete godoc
//
//	@Summary		Delete a file
//	@Description	Removes the stored file. Ledger records are kept for audit. The filename comes from a form field or JSON body.
//	@Tags			files
//	@Accept			json
//	@Produce		json
//	@Param			request	body		deleteRequest	true	"Filename to delete"
//	@Success		200		{object}	response.Envelope
//	@Failure		403		{object}	response.Envelope
//	@Failure		404		{object}	response.Envelope
//	@Failure		500		{object}	response.Envelope
//	@Security		ApiKeyAuth
//	@Router			/delete [post]
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	u := middleware.UserFrom(r.Context())

	filename := r.FormValue("filename")
	if filename == "" {
		var req deleteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err == nil {
			filename = req.Filename
		}
	}
	if filename == "" {
		response.BadRequest(w, "filename required")
		return
	}

	err := h.svc.Delete(r.Context(), u, filename, clientIP(r))
	switch {
	case errors.Is(err, ErrForbidden):
		response.Forbidden(w, "no permission to delete this file")
	case errors.Is(err, storage.ErrNotFound):
		response.NotFound(w, "file not found")
	case err != nil:
		response.InternalError(w)
	default:
		response.OK(w, "file deleted", nil)
	}
}

// ServeFile streams a stored file by name. Stored files are public by URL,
// same as when a web server fronts the upload directory.
func (h *Handler) ServeFile(w http.ResponseWriter, r *http.Request) {
	filename := chi.URLParam(r, "filename")

	f, err := h.svc.store.Open(r.Context(), filename)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		response.InternalError(w)
		return
	}
	defer f.Close()

	if ct := mime.TypeByExtension("." + naming.Ext(filename)); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	_, _ = io.Copy(w, f)
}

// writeUploadError maps upload pipeline failures onto HTTP statuses:
// admission rejections are client errors, everything past admission is a
// server error.
func writeUploadError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, validate.ErrTooLarge), errors.Is(err, validate.ErrUnsupportedType):
		response.BadRequest(w, err.Error())
	default:
		response.InternalError(w)
	}
}

// clientIP returns the request's client address without the port. The RealIP
// middleware has already folded proxy headers into RemoteAddr.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
