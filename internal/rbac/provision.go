package rbac

import (
	"context"
	"strings"
)

// Policy decides the default permission for freshly provisioned grants.
// Capabilities whose name contains a deny-list entry default to DENIED unless
// the role is the designated superadmin role.
type Policy struct {
	DenyList       []string
	SuperadminRole string
}

// DefaultPermission returns the provisioning default for one (role, capability) pair.
func (p Policy) DefaultPermission(roleName, capability string) Permission {
	if strings.EqualFold(roleName, p.SuperadminRole) {
		return PermissionAllowed
	}
	lowered := strings.ToLower(capability)
	for _, entry := range p.DenyList {
		entry = strings.ToLower(strings.TrimSpace(entry))
		if entry == "" {
			continue
		}
		if strings.Contains(lowered, entry) {
			return PermissionDenied
		}
	}
	return PermissionAllowed
}

// provisionRoleTx builds the full cross-product of join rows for a new role.
// Existing pairs are skipped by the repository, so re-running is safe.
func (s *Service) provisionRoleTx(ctx context.Context, tx TxRepository, role Role) error {
	modules, err := tx.ListModules(ctx)
	if err != nil {
		return err
	}
	moduleRows := make([]ModuleRole, 0, len(modules))
	for _, module := range modules {
		moduleRows = append(moduleRows, ModuleRole{
			ModuleID:   module.ID,
			RoleID:     role.ID,
			Permission: s.policy.DefaultPermission(role.Name, module.Code),
		})
	}
	if err := tx.InsertModuleRoles(ctx, moduleRows); err != nil {
		return err
	}

	accessList, err := tx.ListAccess(ctx)
	if err != nil {
		return err
	}
	accessRows := make([]AccessRole, 0, len(accessList))
	for _, access := range accessList {
		accessRows = append(accessRows, AccessRole{
			AccessID:   access.ID,
			RoleID:     role.ID,
			Permission: s.policy.DefaultPermission(role.Name, access.Name),
		})
	}
	return tx.InsertAccessRoles(ctx, accessRows)
}

// provisionModuleTx creates a ModuleRole row for every existing role.
func (s *Service) provisionModuleTx(ctx context.Context, tx TxRepository, module Module) error {
	roles, err := tx.ListRoles(ctx)
	if err != nil {
		return err
	}
	rows := make([]ModuleRole, 0, len(roles))
	for _, role := range roles {
		rows = append(rows, ModuleRole{
			ModuleID:   module.ID,
			RoleID:     role.ID,
			Permission: s.policy.DefaultPermission(role.Name, module.Code),
		})
	}
	return tx.InsertModuleRoles(ctx, rows)
}

// provisionAccessTx creates an AccessRole row for every existing role.
func (s *Service) provisionAccessTx(ctx context.Context, tx TxRepository, access Access) error {
	roles, err := tx.ListRoles(ctx)
	if err != nil {
		return err
	}
	rows := make([]AccessRole, 0, len(roles))
	for _, role := range roles {
		rows = append(rows, AccessRole{
			AccessID:   access.ID,
			RoleID:     role.ID,
			Permission: s.policy.DefaultPermission(role.Name, access.Name),
		})
	}
	return tx.InsertAccessRoles(ctx, rows)
}
