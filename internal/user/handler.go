package user

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"roomchat/internal/httpx"
	"roomchat/internal/middleware"
)

type Handler struct {
	Service  *Service
	tokenTTL time.Duration
	log      *zap.Logger
}

func NewHandler(s *Service, tokenTTL time.Duration, log *zap.Logger) *Handler {
	return &Handler{Service: s, tokenTTL: tokenTTL, log: log.Named("users.http")}
}

func (h *Handler) PublicRoutes(r chi.Router) {
	r.Post("/register", h.Register)
	r.Post("/login", h.Login)
}

func (h *Handler) Routes(r chi.Router) {
	r.Get("/users/me", h.Me)
	r.Get("/users/search", h.SearchUsers)
	r.Post("/users/password", h.ChangePassword)
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req Credentials
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Error(w, h.log, err)
		return
	}

	res, err := h.Service.Register(r.Context(), &req)
	if err != nil {
		httpx.Error(w, h.log, err)
		return
	}

	h.setToken(w, res.Token)
	httpx.Data(w, res)
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req Credentials
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Error(w, h.log, err)
		return
	}

	res, err := h.Service.Login(r.Context(), &req)
	if err != nil {
		httpx.Error(w, h.log, err)
		return
	}

	h.setToken(w, res.Token)
	httpx.Data(w, res)
}

func (h *Handler) setToken(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.TokenCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.tokenTTL.Seconds()),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteNoneMode,
	})
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserID(r.Context())
	u, err := h.Service.Me(r.Context(), userID)
	if err != nil {
		httpx.Error(w, h.log, err)
		return
	}
	httpx.Data(w, u)
}

func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserID(r.Context())
	var req PasswordChange
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Error(w, h.log, err)
		return
	}

	if err := h.Service.ChangePassword(r.Context(), userID, &req); err != nil {
		httpx.Error(w, h.log, err)
		return
	}
	httpx.Data(w, struct{}{})
}

func (h *Handler) SearchUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.Service.SearchUsers(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		httpx.Error(w, h.log, err)
		return
	}
	httpx.Data(w, users)
}
