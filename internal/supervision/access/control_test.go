// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package access

import (
	"testing"

	"github.com/stretchr/testify/require"

	"guardrail/platform/internal/supervision/config"
)

func newTestControl() *Control {
	return New(config.Default(), []byte("test-session-secret"))
}

func TestCheckPermission_DirectGrant(t *testing.T) {
	c := newTestControl()
	c.GrantAccess("user-1", []string{"policy:read"}, nil, "admin-1")

	require.NoError(t, c.CheckPermission("user-1", "policy:read"))
	require.Error(t, c.CheckPermission("user-1", "policy:write"))
}

func TestCheckPermission_RoleDerived(t *testing.T) {
	c := newTestControl()
	c.GrantAccess("user-1", nil, []string{"auditor"}, "admin-1")

	require.NoError(t, c.CheckPermission("user-1", "audit:read"))
	require.Error(t, c.CheckPermission("user-1", "policy:write"))
}

func TestCheckPermission_AdminWildcard(t *testing.T) {
	c := newTestControl()
	c.GrantAccess("admin-1", nil, []string{"admin"}, "system")

	require.NoError(t, c.CheckPermission("admin-1", "anything:at:all"))
}

func TestCheckPermission_UnknownUserDenied(t *testing.T) {
	c := newTestControl()
	require.Error(t, c.CheckPermission("ghost", "policy:read"))
}

func TestRevokeAccess_RemovesGrant(t *testing.T) {
	c := newTestControl()
	c.GrantAccess("user-1", []string{"policy:read"}, nil, "admin-1")
	require.NoError(t, c.RevokeAccess("user-1"))
	require.Error(t, c.CheckPermission("user-1", "policy:read"))
	require.Error(t, c.RevokeAccess("user-1"))
}

func TestAssignRole_RejectsUnknownRole(t *testing.T) {
	c := newTestControl()
	c.GrantAccess("user-1", nil, nil, "admin-1")
	require.Error(t, c.AssignRole("user-1", "not-a-real-role"))
	require.NoError(t, c.AssignRole("user-1", "viewer"))
}

func TestIssueAndVerifySession_RoundTrips(t *testing.T) {
	c := newTestControl()
	token, err := c.IssueSession("user-1")
	require.NoError(t, err)

	userID, err := c.VerifySession(token)
	require.NoError(t, err)
	require.Equal(t, "user-1", userID)
}

func TestVerifySession_RejectsGarbage(t *testing.T) {
	c := newTestControl()
	_, err := c.VerifySession("not-a-jwt")
	require.Error(t, err)
}
