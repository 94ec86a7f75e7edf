package rbac

import (
	"fmt"
	"strings"
	"time"

	"github.com/helmdesk/helmdesk/internal/shared"
)

// Permission is the grant flag attached to a (role, module) or (role, access) pair.
type Permission string

const (
	// PermissionAllowed grants the capability.
	PermissionAllowed Permission = "ALLOWED"
	// PermissionDenied withholds the capability.
	PermissionDenied Permission = "DENIED"
)

// ParsePermission validates a raw permission value.
func ParsePermission(value string) (Permission, error) {
	switch Permission(strings.ToUpper(strings.TrimSpace(value))) {
	case PermissionAllowed:
		return PermissionAllowed, nil
	case PermissionDenied:
		return PermissionDenied, nil
	default:
		return "", fmt.Errorf("%w: unknown permission %q", shared.ErrValidation, value)
	}
}

// Role represents a named permission group assigned to accounts.
type Role struct {
	ID          int64     `json:"-"`
	PublicID    string    `json:"id"`
	Name        string    `json:"name"`
	Alias       string    `json:"alias"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Module represents a coarse feature grouping of capabilities.
type Module struct {
	ID        int64     `json:"-"`
	PublicID  string    `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Summary   string    `json:"summary"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Access represents a single named, authorizable capability.
type Access struct {
	ID        int64     `json:"-"`
	PublicID  string    `json:"id"`
	Name      string    `json:"name"`
	Alias     string    `json:"alias"`
	ModuleID  *int64    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ModuleRole joins a module and a role with a permission flag.
type ModuleRole struct {
	ID         int64
	ModuleID   int64
	RoleID     int64
	Permission Permission
}

// AccessRole joins an access and a role with a permission flag.
type AccessRole struct {
	ID         int64
	AccessID   int64
	RoleID     int64
	Permission Permission
}

// ModuleGrant is a module-level permission row as exposed in the role matrix.
type ModuleGrant struct {
	ModulePublicID string     `json:"module_id"`
	ModuleCode     string     `json:"module_code"`
	Permission     Permission `json:"permission"`
}

// AccessGrant is an access-level permission row as exposed in the role matrix.
type AccessGrant struct {
	AccessPublicID string     `json:"access_id"`
	AccessName     string     `json:"access_name"`
	Permission     Permission `json:"permission"`
}

// RoleMatrix aggregates all grants held by a single role.
type RoleMatrix struct {
	Role    Role          `json:"role"`
	Modules []ModuleGrant `json:"modules"`
	Access  []AccessGrant `json:"access"`
}
