package files

import (
	"mime/multipart"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"roomchat/internal/apperr"
	"roomchat/internal/httpx"
	"roomchat/internal/middleware"
)

// multipartMemory is how much of a multipart body is kept in memory before
// spilling to temporary files.
const multipartMemory = 8 << 20

type Handler struct {
	service        *Service
	maxUploadBytes int64
	log            *zap.Logger
}

func NewHandler(service *Service, maxUploadBytes int64, log *zap.Logger) *Handler {
	return &Handler{service: service, maxUploadBytes: maxUploadBytes, log: log.Named("files.http")}
}

func (h *Handler) PublicRoutes(r chi.Router) {
	r.Get("/files/{fileHash}", h.Get)
}

func (h *Handler) Routes(r chi.Router) {
	r.Post("/messages/{id}/files", h.Attach)
	r.Post("/users/pfp", h.ProfileImage)
}

func (h *Handler) parseForm(w http.ResponseWriter, r *http.Request) error {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	// Oversized and malformed bodies are both rejected as invalid fields.
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		return apperr.ErrInvalidFields
	}
	return nil
}

func (h *Handler) Attach(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserID(r.Context())
	messageID, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.Error(w, h.log, err)
		return
	}
	if err := h.parseForm(w, r); err != nil {
		httpx.Error(w, h.log, err)
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File["files"]
	uploads := make([]Upload, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			httpx.Error(w, h.log, err)
			return
		}
		defer f.Close()
		uploads = append(uploads, Upload{Name: fh.Filename, Content: f})
	}

	inserted, err := h.service.AttachFiles(r.Context(), userID, messageID, uploads)
	if err != nil {
		httpx.Error(w, h.log, err)
		return
	}
	httpx.Data(w, inserted)
}

func (h *Handler) ProfileImage(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserID(r.Context())
	if err := h.parseForm(w, r); err != nil {
		httpx.Error(w, h.log, err)
		return
	}
	defer r.MultipartForm.RemoveAll()

	f, err := firstFile(r.MultipartForm, "image")
	if err != nil {
		httpx.Error(w, h.log, err)
		return
	}
	defer f.Close()

	name, err := h.service.SetProfileImage(r.Context(), userID, f)
	if err != nil {
		httpx.Error(w, h.log, err)
		return
	}
	httpx.Data(w, map[string]string{"profileImage": name})
}

func firstFile(form *multipart.Form, field string) (multipart.File, error) {
	headers := form.File[field]
	if len(headers) == 0 {
		return nil, apperr.ErrInvalidFields
	}
	return headers[0].Open()
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	path, err := h.service.Path(chi.URLParam(r, "fileHash"))
	if err != nil {
		httpx.Error(w, h.log, err)
		return
	}
	http.ServeFile(w, r, path)
}
