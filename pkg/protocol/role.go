package protocol

import (
	"fmt"
	"slices"
)

// RoleID identifies one of the fixed workflow roles.
type RoleID string

const (
	RoleScrumMaster  RoleID = "scrum_master"
	RoleProductOwner RoleID = "product_owner"
	RoleArchitect    RoleID = "architect"
	RoleBackendDev   RoleID = "backend_dev"
	RoleFrontendDev  RoleID = "frontend_dev"
)

// Roles lists every role in workflow order.
var Roles = []RoleID{
	RoleScrumMaster,
	RoleProductOwner,
	RoleArchitect,
	RoleBackendDev,
	RoleFrontendDev,
}

// Valid reports whether r is one of the known roles.
func (r RoleID) Valid() bool {
	return slices.Contains(Roles, r)
}

func (r RoleID) String() string { return string(r) }

// ParseRole converts a string into a RoleID, rejecting unknown values.
func ParseRole(s string) (RoleID, error) {
	r := RoleID(s)
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// RoleSpec configures a single role: its prompt, model settings and tool access.
type RoleSpec struct {
	ID             RoleID   `json:"id" yaml:"id"`
	Name           string   `json:"name" yaml:"name"`
	Instructions   string   `json:"instructions" yaml:"instructions"`
	Model          string   `json:"model,omitempty" yaml:"model,omitempty"`
	Temperature    float64  `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	ToolsWhitelist []string `json:"tools_whitelist,omitempty" yaml:"tools_whitelist,omitempty"`
	ToolsBlacklist []string `json:"tools_blacklist,omitempty" yaml:"tools_blacklist,omitempty"`
}

// ToolAllowed reports whether the named tool is permitted for this role.
// If a whitelist is set, only listed tools are allowed (blacklist is ignored).
// If only a blacklist is set, all tools except listed ones are allowed.
// If neither is set, all tools are allowed.
func (s RoleSpec) ToolAllowed(name string) bool {
	if len(s.ToolsWhitelist) > 0 {
		return slices.Contains(s.ToolsWhitelist, name)
	}
	if len(s.ToolsBlacklist) > 0 {
		return !slices.Contains(s.ToolsBlacklist, name)
	}
	return true
}
