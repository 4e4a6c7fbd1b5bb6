package models

import (
	"fmt"
	"strings"
	"time"
)

// Role classifies what a user may do in the bug workflow.
type Role string

const (
	RoleAdmin          Role = "admin"
	RoleProjectManager Role = "project_manager"
	RoleDeveloper      Role = "developer"
	RoleQA             Role = "qa"
	RoleTester         Role = "tester"
	RoleClient         Role = "client"
	RoleViewer         Role = "viewer"
)

// Roles returns every known role.
func Roles() []Role {
	return []Role{
		RoleAdmin,
		RoleProjectManager,
		RoleDeveloper,
		RoleQA,
		RoleTester,
		RoleClient,
		RoleViewer,
	}
}

func (r Role) Valid() bool {
	for _, known := range Roles() {
		if r == known {
			return true
		}
	}
	return false
}

// ParseRole accepts "project_manager" or "PROJECT_MANAGER".
func ParseRole(v string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(v)))
	if !r.Valid() {
		return "", fmt.Errorf("unknown role: %q", v)
	}
	return r, nil
}

// User is an actor known to the tracker. Authentication happens elsewhere.
type User struct {
	ID        string
	Name      string
	Email     string
	Role      Role
	CreatedAt time.Time
}
