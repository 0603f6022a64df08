package authz

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent-platform/internal/common/errors"
)

func TestRoleCheckerBuiltinRoles(t *testing.T) {
	checker := NewRoleChecker()
	ctx := context.Background()

	operator := &Principal{Name: "op", Roles: []string{"operator"}}
	viewer := &Principal{Name: "ro", Roles: []string{"viewer"}}
	admin := &Principal{Name: "root", Roles: []string{"admin"}}

	assert.NoError(t, checker.Check(ctx, operator, "pipeline", ActionExecute))
	assert.NoError(t, checker.Check(ctx, operator, "agent", ActionDelete))
	assert.NoError(t, checker.Check(ctx, viewer, "pipeline", ActionRead))
	assert.NoError(t, checker.Check(ctx, admin, "anything", "anything"))

	err := checker.Check(ctx, viewer, "pipeline", ActionExecute)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeForbidden))
}

func TestRoleCheckerDeniesUnknownRole(t *testing.T) {
	checker := NewRoleChecker()

	err := checker.Check(context.Background(),
		&Principal{Name: "ghost", Roles: []string{"nobody"}}, "agent", ActionRead)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeForbidden))
}

func TestRoleCheckerNilPrincipal(t *testing.T) {
	checker := NewRoleChecker()

	err := checker.Check(context.Background(), nil, "agent", ActionRead)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeForbidden))
}

func TestSuperuserBypass(t *testing.T) {
	checker := NewRoleChecker()

	root := &Principal{Name: "root", Superuser: true}
	assert.NoError(t, checker.Check(context.Background(), root, "settings", "wipe"))
}

func TestGrantExtendsRole(t *testing.T) {
	checker := NewRoleChecker()
	ctx := context.Background()

	auditor := &Principal{Name: "aud", Roles: []string{"auditor"}}
	require.Error(t, checker.Check(ctx, auditor, "audit", ActionRead))

	checker.Grant("auditor", "audit", ActionRead)
	assert.NoError(t, checker.Check(ctx, auditor, "audit", ActionRead))
}

func TestPrincipalContextRoundTrip(t *testing.T) {
	ctx := context.Background()
	assert.Nil(t, PrincipalFrom(ctx))

	p := &Principal{Name: "op", Roles: []string{"operator"}}
	ctx = WithPrincipal(ctx, p)
	assert.Equal(t, p, PrincipalFrom(ctx))
}
