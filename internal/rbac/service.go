package rbac

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/helmdesk/helmdesk/internal/shared"
)

// Enqueuer dispatches fire-and-forget provisioning work to the background queue.
type Enqueuer interface {
	EnqueueProvisionRoleGrants(ctx context.Context, roleID int64) error
}

// Publisher fans permission-change events out to connected clients.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) error
}

// TopicPermissionsChanged is the pub/sub topic for grant mutations.
const TopicPermissionsChanged = "permissions.changed"

// PermissionChangedEvent describes one grant mutation.
type PermissionChangedEvent struct {
	Scope      string     `json:"scope"`
	RoleName   string     `json:"role"`
	Target     string     `json:"target"`
	Permission Permission `json:"permission"`
}

// Service orchestrates the permission store: catalog CRUD, grant provisioning,
// the module-to-access cascade and per-request authorization checks.
type Service struct {
	logger    *slog.Logger
	repo      Repository
	policy    Policy
	enqueuer  Enqueuer
	publisher Publisher
}

// NewService constructs a Service. Enqueuer and publisher may be nil; the
// service then provisions synchronously and skips event fan-out.
func NewService(logger *slog.Logger, repo Repository, policy Policy, enqueuer Enqueuer, publisher Publisher) *Service {
	return &Service{logger: logger, repo: repo, policy: policy, enqueuer: enqueuer, publisher: publisher}
}

// ListRoles returns all roles ordered by name.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	return s.repo.ListRoles(ctx)
}

// GetRole fetches a role by its external identifier.
func (s *Service) GetRole(ctx context.Context, publicID string) (Role, error) {
	return s.repo.GetRoleByPublicID(ctx, publicID)
}

// CreateRole inserts a new role and provisions its grant cross-product. With a
// queue client wired the provisioning runs as a background task in its own
// transaction; otherwise it happens inline before the call returns.
func (s *Service) CreateRole(ctx context.Context, name, alias, description string) (Role, error) {
	role := Role{PublicID: uuid.NewString(), Name: name, Alias: alias, Description: description}
	if err := validateRole(role); err != nil {
		return Role{}, err
	}

	var created Role
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		created, err = tx.CreateRole(ctx, role)
		return err
	})
	if err != nil {
		return Role{}, err
	}

	if s.enqueuer != nil {
		if err := s.enqueuer.EnqueueProvisionRoleGrants(ctx, created.ID); err != nil {
			s.logger.Error("enqueue role grant provisioning",
				slog.String("role", created.Name), slog.Any("error", err))
		}
		return created, nil
	}
	if err := s.ProvisionRoleGrants(ctx, created.ID); err != nil {
		return Role{}, err
	}
	return created, nil
}

// ProvisionRoleGrants builds the full (module, access) cross-product for one
// role in a single transaction. Idempotent, so queue retries are safe.
func (s *Service) ProvisionRoleGrants(ctx context.Context, roleID int64) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		role, err := s.repo.GetRole(ctx, roleID)
		if err != nil {
			return err
		}
		return s.provisionRoleTx(ctx, tx, role)
	})
}

// UpdateRole changes the mutable role attributes. The name is immutable.
func (s *Service) UpdateRole(ctx context.Context, publicID, alias, description string) (Role, error) {
	role, err := s.repo.GetRoleByPublicID(ctx, publicID)
	if err != nil {
		return Role{}, err
	}
	var updated Role
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		updated, err = tx.UpdateRole(ctx, role.ID, alias, description)
		return err
	})
	return updated, err
}

// DeleteRole removes a role and its join rows. Roles still referenced by an
// account are protected.
func (s *Service) DeleteRole(ctx context.Context, publicID string) error {
	role, err := s.repo.GetRoleByPublicID(ctx, publicID)
	if err != nil {
		return err
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		count, err := tx.CountAccountsByRole(ctx, role.ID)
		if err != nil {
			return err
		}
		if count > 0 {
			return fmt.Errorf("%w: role %s is assigned to %d account(s)", shared.ErrConflict, role.Name, count)
		}
		affected, err := tx.DeleteRole(ctx, role.ID)
		if err != nil {
			return err
		}
		if affected == 0 {
			return shared.ErrNotFound
		}
		return nil
	})
}

// ListModules returns all modules ordered by code.
func (s *Service) ListModules(ctx context.Context) ([]Module, error) {
	return s.repo.ListModules(ctx)
}

// GetModule fetches a module by its external identifier.
func (s *Service) GetModule(ctx context.Context, publicID string) (Module, error) {
	return s.repo.GetModuleByPublicID(ctx, publicID)
}

// CreateModule inserts a module and, in the same transaction, a ModuleRole row
// for every existing role so the grant set is complete before the call returns.
func (s *Service) CreateModule(ctx context.Context, code, name, summary string) (Module, error) {
	module := Module{PublicID: uuid.NewString(), Code: code, Name: name, Summary: summary}
	if err := validateModule(module); err != nil {
		return Module{}, err
	}
	var created Module
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		created, err = tx.CreateModule(ctx, module)
		if err != nil {
			return err
		}
		return s.provisionModuleTx(ctx, tx, created)
	})
	return created, err
}

// UpdateModule changes the mutable module attributes. The code is immutable.
func (s *Service) UpdateModule(ctx context.Context, publicID, name, summary string) (Module, error) {
	module, err := s.repo.GetModuleByPublicID(ctx, publicID)
	if err != nil {
		return Module{}, err
	}
	var updated Module
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		updated, err = tx.UpdateModule(ctx, module.ID, name, summary)
		return err
	})
	return updated, err
}

// DeleteModule removes a module; join rows cascade with it.
func (s *Service) DeleteModule(ctx context.Context, publicID string) error {
	module, err := s.repo.GetModuleByPublicID(ctx, publicID)
	if err != nil {
		return err
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		affected, err := tx.DeleteModule(ctx, module.ID)
		if err != nil {
			return err
		}
		if affected == 0 {
			return shared.ErrNotFound
		}
		return nil
	})
}

// ListAccess returns all capabilities ordered by name.
func (s *Service) ListAccess(ctx context.Context) ([]Access, error) {
	return s.repo.ListAccess(ctx)
}

// CreateAccess inserts a capability and, in the same transaction, an AccessRole
// row for every existing role. modulePublicID may be empty for an unattached
// capability.
func (s *Service) CreateAccess(ctx context.Context, name, alias, modulePublicID string) (Access, error) {
	access := Access{PublicID: uuid.NewString(), Name: name, Alias: alias}
	if err := validateAccess(access); err != nil {
		return Access{}, err
	}
	if modulePublicID != "" {
		module, err := s.repo.GetModuleByPublicID(ctx, modulePublicID)
		if err != nil {
			return Access{}, err
		}
		access.ModuleID = &module.ID
	}
	var created Access
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		created, err = tx.CreateAccess(ctx, access)
		if err != nil {
			return err
		}
		return s.provisionAccessTx(ctx, tx, created)
	})
	return created, err
}

// UpdateAccess changes the capability alias. The name is immutable.
func (s *Service) UpdateAccess(ctx context.Context, publicID, alias string) (Access, error) {
	access, err := s.repo.GetAccessByPublicID(ctx, publicID)
	if err != nil {
		return Access{}, err
	}
	var updated Access
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		updated, err = tx.UpdateAccess(ctx, access.ID, alias)
		return err
	})
	return updated, err
}

// DeleteAccess removes a capability; join rows cascade with it.
func (s *Service) DeleteAccess(ctx context.Context, publicID string) error {
	access, err := s.repo.GetAccessByPublicID(ctx, publicID)
	if err != nil {
		return err
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		affected, err := tx.DeleteAccess(ctx, access.ID)
		if err != nil {
			return err
		}
		if affected == 0 {
			return shared.ErrNotFound
		}
		return nil
	})
}

// SetModulePermission updates the module-level grant and propagates it to every
// access row under the module for the same role. Both writes happen in one
// transaction, so readers never observe a partial cascade.
func (s *Service) SetModulePermission(ctx context.Context, modulePublicID, rolePublicID string, permission Permission) error {
	module, err := s.repo.GetModuleByPublicID(ctx, modulePublicID)
	if err != nil {
		return err
	}
	role, err := s.repo.GetRoleByPublicID(ctx, rolePublicID)
	if err != nil {
		return err
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		affected, err := tx.SetModuleRolePermission(ctx, module.ID, role.ID, permission)
		if err != nil {
			return err
		}
		if affected == 0 {
			return shared.ErrNotFound
		}
		_, err = tx.CascadeModulePermission(ctx, module.ID, role.ID, permission)
		return err
	})
	if err != nil {
		return err
	}
	s.publish(ctx, PermissionChangedEvent{
		Scope:      "module",
		RoleName:   role.Name,
		Target:     module.Code,
		Permission: permission,
	})
	return nil
}

// SetAccessPermission performs a single-row access-level override. It never
// cascades, in either direction.
func (s *Service) SetAccessPermission(ctx context.Context, accessPublicID, rolePublicID string, permission Permission) error {
	access, err := s.repo.GetAccessByPublicID(ctx, accessPublicID)
	if err != nil {
		return err
	}
	role, err := s.repo.GetRoleByPublicID(ctx, rolePublicID)
	if err != nil {
		return err
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		affected, err := tx.SetAccessRolePermission(ctx, access.ID, role.ID, permission)
		if err != nil {
			return err
		}
		if affected == 0 {
			return shared.ErrNotFound
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.publish(ctx, PermissionChangedEvent{
		Scope:      "access",
		RoleName:   role.Name,
		Target:     access.Name,
		Permission: permission,
	})
	return nil
}

// CheckPermission verifies that the named capability is ALLOWED for the role.
// A missing catalog or join row fails closed as NotFound; an explicit DENIED
// grant fails as Forbidden.
func (s *Service) CheckPermission(ctx context.Context, roleName, accessName string) error {
	grant, err := s.repo.GetAccessRoleByNames(ctx, roleName, accessName)
	if err != nil {
		return err
	}
	if grant.Permission != PermissionAllowed {
		return fmt.Errorf("%w: %s", shared.ErrForbidden, accessName)
	}
	return nil
}

// RoleMatrix returns every grant held by the role addressed by external ID.
func (s *Service) RoleMatrix(ctx context.Context, publicID string) (RoleMatrix, error) {
	role, err := s.repo.GetRoleByPublicID(ctx, publicID)
	if err != nil {
		return RoleMatrix{}, err
	}
	modules, err := s.repo.ListModuleGrants(ctx, role.ID)
	if err != nil {
		return RoleMatrix{}, err
	}
	access, err := s.repo.ListAccessGrants(ctx, role.ID)
	if err != nil {
		return RoleMatrix{}, err
	}
	return RoleMatrix{Role: role, Modules: modules, Access: access}, nil
}

func (s *Service) publish(ctx context.Context, event PermissionChangedEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, TopicPermissionsChanged, event); err != nil {
		s.logger.Warn("publish permission change", slog.Any("error", err))
	}
}
