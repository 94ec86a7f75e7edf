package rbac

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/helmdesk/helmdesk/internal/platform/httpx"
	"github.com/helmdesk/helmdesk/internal/shared"
)

// Handler exposes the catalog and permission-matrix admin API.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers catalog routes. Every route declares its capability
// statically so the catalog stays auditable.
func (h *Handler) MountRoutes(r chi.Router, mw Middleware) {
	r.With(mw.Require(shared.CapRolesList)).Get("/roles", h.listRoles)
	r.With(mw.Require(shared.CapRolesCreate)).Post("/roles", h.createRole)
	r.With(mw.Require(shared.CapRolesList)).Get("/roles/{id}", h.getRole)
	r.With(mw.Require(shared.CapRolesUpdate)).Put("/roles/{id}", h.updateRole)
	r.With(mw.Require(shared.CapRolesDelete)).Delete("/roles/{id}", h.deleteRole)
	r.With(mw.Require(shared.CapPermissionsList)).Get("/roles/{id}/permissions", h.roleMatrix)

	r.With(mw.Require(shared.CapModulesList)).Get("/modules", h.listModules)
	r.With(mw.Require(shared.CapModulesCreate)).Post("/modules", h.createModule)
	r.With(mw.Require(shared.CapModulesUpdate)).Put("/modules/{id}", h.updateModule)
	r.With(mw.Require(shared.CapModulesDelete)).Delete("/modules/{id}", h.deleteModule)

	r.With(mw.Require(shared.CapAccessList)).Get("/access", h.listAccess)
	r.With(mw.Require(shared.CapAccessCreate)).Post("/access", h.createAccess)
	r.With(mw.Require(shared.CapAccessUpdate)).Put("/access/{id}", h.updateAccess)
	r.With(mw.Require(shared.CapAccessDelete)).Delete("/access/{id}", h.deleteAccess)

	r.With(mw.Require(shared.CapPermissionsUpdate)).Put("/permissions/module", h.setModulePermission)
	r.With(mw.Require(shared.CapPermissionsUpdate)).Put("/permissions/access", h.setAccessPermission)
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.service.ListRoles(r.Context())
	if err != nil {
		h.logger.Error("list roles", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, roles)
}

type createRoleRequest struct {
	Name        string `json:"name" validate:"required"`
	Alias       string `json:"alias"`
	Description string `json:"description"`
}

func (h *Handler) createRole(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if err := h.decode(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	role, err := h.service.CreateRole(r.Context(), req.Name, req.Alias, req.Description)
	if err != nil {
		h.logger.Error("create role", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, role)
}

func (h *Handler) getRole(w http.ResponseWriter, r *http.Request) {
	role, err := h.service.GetRole(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, role)
}

type updateRoleRequest struct {
	Alias       string `json:"alias"`
	Description string `json:"description"`
}

func (h *Handler) updateRole(w http.ResponseWriter, r *http.Request) {
	var req updateRoleRequest
	if err := h.decode(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	role, err := h.service.UpdateRole(r.Context(), chi.URLParam(r, "id"), req.Alias, req.Description)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, role)
}

func (h *Handler) deleteRole(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteRole(r.Context(), chi.URLParam(r, "id")); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) roleMatrix(w http.ResponseWriter, r *http.Request) {
	matrix, err := h.service.RoleMatrix(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, matrix)
}

func (h *Handler) listModules(w http.ResponseWriter, r *http.Request) {
	modules, err := h.service.ListModules(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, modules)
}

type createModuleRequest struct {
	Code    string `json:"code" validate:"required"`
	Name    string `json:"name" validate:"required"`
	Summary string `json:"summary"`
}

func (h *Handler) createModule(w http.ResponseWriter, r *http.Request) {
	var req createModuleRequest
	if err := h.decode(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	module, err := h.service.CreateModule(r.Context(), req.Code, req.Name, req.Summary)
	if err != nil {
		h.logger.Error("create module", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, module)
}

type updateModuleRequest struct {
	Name    string `json:"name" validate:"required"`
	Summary string `json:"summary"`
}

func (h *Handler) updateModule(w http.ResponseWriter, r *http.Request) {
	var req updateModuleRequest
	if err := h.decode(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	module, err := h.service.UpdateModule(r.Context(), chi.URLParam(r, "id"), req.Name, req.Summary)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, module)
}

func (h *Handler) deleteModule(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteModule(r.Context(), chi.URLParam(r, "id")); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listAccess(w http.ResponseWriter, r *http.Request) {
	access, err := h.service.ListAccess(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, access)
}

type createAccessRequest struct {
	Name     string `json:"name" validate:"required"`
	Alias    string `json:"alias"`
	ModuleID string `json:"module_id"`
}

func (h *Handler) createAccess(w http.ResponseWriter, r *http.Request) {
	var req createAccessRequest
	if err := h.decode(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	access, err := h.service.CreateAccess(r.Context(), req.Name, req.Alias, req.ModuleID)
	if err != nil {
		h.logger.Error("create access", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, access)
}

type updateAccessRequest struct {
	Alias string `json:"alias"`
}

func (h *Handler) updateAccess(w http.ResponseWriter, r *http.Request) {
	var req updateAccessRequest
	if err := h.decode(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	access, err := h.service.UpdateAccess(r.Context(), chi.URLParam(r, "id"), req.Alias)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, access)
}

func (h *Handler) deleteAccess(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteAccess(r.Context(), chi.URLParam(r, "id")); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type setModulePermissionRequest struct {
	ModuleID   string `json:"module_id" validate:"required,uuid"`
	RoleID     string `json:"role_id" validate:"required,uuid"`
	Permission string `json:"permission" validate:"required"`
}

func (h *Handler) setModulePermission(w http.ResponseWriter, r *http.Request) {
	var req setModulePermissionRequest
	if err := h.decode(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	permission, err := ParsePermission(req.Permission)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.SetModulePermission(r.Context(), req.ModuleID, req.RoleID, permission); err != nil {
		h.logger.Error("set module permission", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type setAccessPermissionRequest struct {
	AccessID   string `json:"access_id" validate:"required,uuid"`
	RoleID     string `json:"role_id" validate:"required,uuid"`
	Permission string `json:"permission" validate:"required"`
}

func (h *Handler) setAccessPermission(w http.ResponseWriter, r *http.Request) {
	var req setAccessPermissionRequest
	if err := h.decode(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	permission, err := ParsePermission(req.Permission)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.SetAccessPermission(r.Context(), req.AccessID, req.RoleID, permission); err != nil {
		h.logger.Error("set access permission", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
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
