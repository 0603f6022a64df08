// Package authz provides the permission-check collaborator consumed by the
// service layer. Permissions are resource/action pairs granted to roles.
package authz

import (
	"context"
	"fmt"
	"sync"

	"agent-platform/internal/common/errors"
)

// Actions understood by the default role map.
const (
	ActionRead    = "read"
	ActionCreate  = "create"
	ActionUpdate  = "update"
	ActionDelete  = "delete"
	ActionExecute = "execute"
)

// Principal identifies the caller of a service operation.
type Principal struct {
	Name      string
	Roles     []string
	Superuser bool
}

// Checker decides whether a principal may perform an action on a resource.
// A nil return means allowed; denials are forbidden errors.
type Checker interface {
	Check(ctx context.Context, principal *Principal, resource, action string) error
}

// Permission is one resource/action grant.
type Permission struct {
	Resource string
	Action   string
}

// RoleChecker is a role-to-permission map. Superusers bypass the map; the
// wildcard resource "*" grants every action on every resource.
type RoleChecker struct {
	mu     sync.RWMutex
	grants map[string][]Permission
}

// NewRoleChecker creates a checker with the builtin roles: admin (all),
// operator (full control of agents, pipelines, executions and events) and
// viewer (read-only).
func NewRoleChecker() *RoleChecker {
	c := &RoleChecker{grants: make(map[string][]Permission)}

	c.Grant("admin", "*", "*")
	for _, resource := range []string{"agent", "pipeline", "execution", "event"} {
		for _, action := range []string{ActionRead, ActionCreate, ActionUpdate, ActionDelete, ActionExecute} {
			c.Grant("operator", resource, action)
		}
		c.Grant("viewer", resource, ActionRead)
	}
	return c
}

// Grant adds a permission to a role.
func (c *RoleChecker) Grant(role, resource, action string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.grants[role] = append(c.grants[role], Permission{Resource: resource, Action: action})
}

// Check implements Checker.
func (c *RoleChecker) Check(ctx context.Context, principal *Principal, resource, action string) error {
	if principal == nil {
		return errors.ForbiddenError("no principal")
	}
	if principal.Superuser {
		return nil
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, role := range principal.Roles {
		for _, p := range c.grants[role] {
			if matches(p.Resource, resource) && matches(p.Action, action) {
				return nil
			}
		}
	}
	return errors.ForbiddenError(
		fmt.Sprintf("principal %q may not %s %s", principal.Name, action, resource))
}

func matches(granted, requested string) bool {
	return granted == "*" || granted == requested
}

type principalKey struct{}

// WithPrincipal attaches the caller identity to a context.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom extracts the caller identity, or nil if absent.
func PrincipalFrom(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalKey{}).(*Principal)
	return p
}
