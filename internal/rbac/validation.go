package rbac

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/helmdesk/helmdesk/internal/shared"
)

var (
	roleNamePattern   = regexp.MustCompile(`^[A-Z][A-Z0-9_]*$`)
	moduleCodePattern = regexp.MustCompile(`^[a-z][a-z0-9-]*$`)
	accessNamePattern = regexp.MustCompile(`^[a-z][a-z0-9-]*(\.[a-z][a-z0-9-]*)+$`)
)

func validateRole(r Role) error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("%w: role name is required", shared.ErrValidation)
	}
	if !roleNamePattern.MatchString(r.Name) {
		return fmt.Errorf("%w: role name must be an uppercase token", shared.ErrValidation)
	}
	return nil
}

func validateModule(m Module) error {
	if strings.TrimSpace(m.Code) == "" {
		return fmt.Errorf("%w: module code is required", shared.ErrValidation)
	}
	if !moduleCodePattern.MatchString(m.Code) {
		return fmt.Errorf("%w: module code must be a lowercase token", shared.ErrValidation)
	}
	if strings.TrimSpace(m.Name) == "" {
		return fmt.Errorf("%w: module name is required", shared.ErrValidation)
	}
	return nil
}

func validateAccess(a Access) error {
	if strings.TrimSpace(a.Name) == "" {
		return fmt.Errorf("%w: access name is required", shared.ErrValidation)
	}
	if !accessNamePattern.MatchString(a.Name) {
		return fmt.Errorf("%w: access name must be a dotted capability token", shared.ErrValidation)
	}
	return nil
}
