package session

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/helmdesk/helmdesk/internal/accounts"
	"github.com/helmdesk/helmdesk/internal/platform/httpx"
	"github.com/helmdesk/helmdesk/internal/shared"
)

// Handler wires HTTP endpoints for the authentication flows.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	accounts  *accounts.Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, accountsSvc *accounts.Service) *Handler {
	return &Handler{logger: logger, service: service, accounts: accountsSvc, validator: validator.New()}
}

// MountPublicRoutes registers the unauthenticated auth endpoints.
func (h *Handler) MountPublicRoutes(r chi.Router) {
	r.Post("/login", h.handleLogin)
	r.Post("/verify", h.handleVerify)
}

// MountPrivateRoutes registers endpoints that require a bearer token.
func (h *Handler) MountPrivateRoutes(r chi.Router) {
	r.Post("/logout", h.handleLogout)
	r.Get("/me", h.handleMe)
}

type loginRequest struct {
	Identity     string `json:"identity" validate:"required"`
	Password     string `json:"password" validate:"required,min=8"`
	CaptchaToken string `json:"captcha_token"`
	Remember     bool   `json:"remember"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := h.decode(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.Login(r.Context(), LoginRequest{
		Identity:     req.Identity,
		Password:     req.Password,
		CaptchaToken: req.CaptchaToken,
		Remember:     req.Remember,
		IP:           r.RemoteAddr,
		Client:       r.UserAgent(),
	})
	if err != nil {
		h.logger.Warn("login failed", slog.String("identity", req.Identity), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

type verifyRequest struct {
	Identity string `json:"identity" validate:"required"`
	Code     string `json:"code" validate:"required,len=6,numeric"`
	Remember bool   `json:"remember"`
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := h.decode(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.Verify(r.Context(), req.Identity, req.Code, req.Remember, r.RemoteAddr, r.UserAgent())
	if err != nil {
		h.logger.Warn("verification failed", slog.String("identity", req.Identity), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	claims := shared.ClaimsFromContext(r.Context())
	if claims == nil {
		httpx.RespondError(w, shared.ErrUnauthorized)
		return
	}
	if err := h.service.Logout(r.Context(), claims.Identity); err != nil {
		h.logger.Error("logout", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type meResponse struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	Username   string `json:"username"`
	RoleName   string `json:"role"`
	Superadmin bool   `json:"superadmin"`
	Online     bool   `json:"online"`
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	claims := shared.ClaimsFromContext(r.Context())
	if claims == nil {
		httpx.RespondError(w, shared.ErrUnauthorized)
		return
	}
	account, err := h.accounts.GetByPublicID(r.Context(), claims.Identity)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, meResponse{
		ID:         account.PublicID,
		Email:      account.Email,
		Username:   account.Username,
		RoleName:   account.RoleName,
		Superadmin: account.Superadmin,
		Online:     account.Online,
	})
}

func (h *Handler) decode(r *http.Request, target any) error {
	if err := httpx.DecodeJSON(r, target); err != nil {
		return fmt.Errorf("%w: malformed request body", shared.ErrValidation)
	}
	if err := h.validator.Struct(target); err != nil {
		return fmt.Errorf("%w: %s", shared.ErrValidation, err)
	}
	return nil
}
