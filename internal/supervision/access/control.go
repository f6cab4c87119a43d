// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package access implements AccessControl: role/permission grants for
// the supervision core's administrative APIs (policy management,
// escalation approval, audit/anomaly review), with JWT-backed session
// tokens for callers that authenticate out-of-band.
package access

import (
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"guardrail/platform/internal/supervision/config"
	"guardrail/platform/internal/supervision/domain"
	"guardrail/platform/internal/supervision/errcode"
)

// RolePermissions is the standard role -> permission-set table.
// "*" grants every permission; "resource:*" grants every action on
// that resource.
var RolePermissions = map[string][]string{
	"admin":               {"*"},
	"policy_manager":      {"policy:read", "policy:write", "policy:deploy"},
	"escalation_approver": {"escalation:read", "escalation:approve"},
	"auditor":             {"audit:read", "anomaly:read", "compliance:read"},
	"viewer":              {"policy:read", "constraint:read", "audit:read"},
}

// Control is the AccessControl component.
type Control struct {
	mu    sync.Mutex
	users map[string]*domain.AdminUser
	cfg   *config.Config

	sessionSecret []byte
}

// New builds an AccessControl backed by sessionSecret for signing
// session tokens.
func New(cfg *config.Config, sessionSecret []byte) *Control {
	return &Control{users: make(map[string]*domain.AdminUser), cfg: cfg, sessionSecret: sessionSecret}
}

// GrantAccess creates or replaces userID's permission/role grant.
func (c *Control) GrantAccess(userID string, permissions, roles []string, grantedBy string) *domain.AdminUser {
	c.mu.Lock()
	defer c.mu.Unlock()
	u := &domain.AdminUser{
		UserID:      userID,
		Permissions: permissions,
		Roles:       roles,
		MFAEnabled:  c.cfg.RequireMFAForAdmin,
		GrantedAt:   time.Now().UTC(),
		GrantedBy:   grantedBy,
	}
	c.users[userID] = u
	return u
}

// RevokeAccess removes userID's grant entirely.
func (c *Control) RevokeAccess(userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.users[userID]; !ok {
		return errcode.New(errcode.PermissionNotFound)
	}
	delete(c.users, userID)
	return nil
}

// CheckPermission reports whether userID holds requiredPermission,
// directly or via a role, honoring both "*" and "resource:*"
// wildcards.
func (c *Control) CheckPermission(userID, requiredPermission string) error {
	c.mu.Lock()
	u, ok := c.users[userID]
	c.mu.Unlock()
	if !ok {
		return errcode.New(errcode.AccessDenied).WithDetails(map[string]any{"user_id": userID})
	}

	if hasPermission(u.Permissions, requiredPermission) {
		return nil
	}
	for _, role := range u.Roles {
		if hasPermission(RolePermissions[role], requiredPermission) {
			return nil
		}
	}
	return errcode.New(errcode.InsufficientPrivileges).WithDetails(map[string]any{"permission": requiredPermission})
}

func hasPermission(granted []string, required string) bool {
	for _, p := range granted {
		if p == "*" || p == required {
			return true
		}
	}
	wildcard := resourceWildcard(required)
	if wildcard == "" {
		return false
	}
	for _, p := range granted {
		if p == wildcard {
			return true
		}
	}
	return false
}

func resourceWildcard(permission string) string {
	for i := len(permission) - 1; i >= 0; i-- {
		if permission[i] == ':' {
			return permission[:i+1] + "*"
		}
	}
	return ""
}

// AssignRole adds role to userID's grant, rejecting unknown roles.
func (c *Control) AssignRole(userID, role string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	u, ok := c.users[userID]
	if !ok {
		return errcode.New(errcode.AccessDenied)
	}
	if _, known := RolePermissions[role]; !known {
		return errcode.New(errcode.RoleNotAssigned).WithDetails(map[string]any{"role": role})
	}
	for _, r := range u.Roles {
		if r == role {
			return nil
		}
	}
	u.Roles = append(u.Roles, role)
	return nil
}

// RemoveRole removes role from userID's grant, if present.
func (c *Control) RemoveRole(userID, role string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	u, ok := c.users[userID]
	if !ok {
		return errcode.New(errcode.AccessDenied)
	}
	out := u.Roles[:0]
	for _, r := range u.Roles {
		if r != role {
			out = append(out, r)
		}
	}
	u.Roles = out
	return nil
}

// GetUserPermissions returns the union of userID's direct and
// role-derived permissions.
func (c *Control) GetUserPermissions(userID string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	u, ok := c.users[userID]
	if !ok {
		return nil
	}
	seen := map[string]bool{}
	var out []string
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	for _, p := range u.Permissions {
		add(p)
	}
	for _, role := range u.Roles {
		for _, p := range RolePermissions[role] {
			add(p)
		}
	}
	return out
}

// GetUser returns userID's grant, if any.
func (c *Control) GetUser(userID string) (*domain.AdminUser, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	u, ok := c.users[userID]
	if !ok {
		return nil, false
	}
	cp := *u
	return &cp, true
}

// sessionClaims is the JWT payload for an admin session token.
type sessionClaims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id"`
}

// IssueSession mints a session token for userID valid for the
// configured session_timeout_minutes.
func (c *Control) IssueSession(userID string) (string, error) {
	timeout := time.Duration(c.cfg.SessionTimeoutMinutes) * time.Minute
	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().UTC().Add(timeout)),
			IssuedAt:  jwt.NewNumericDate(time.Now().UTC()),
		},
		UserID: userID,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(c.sessionSecret)
}

// VerifySession validates a session token and returns its user ID.
func (c *Control) VerifySession(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &sessionClaims{}, func(t *jwt.Token) (interface{}, error) {
		return c.sessionSecret, nil
	})
	if err != nil {
		return "", errcode.Wrap(errcode.TokenInvalid, err)
	}
	claims, ok := token.Claims.(*sessionClaims)
	if !ok || !token.Valid {
		return "", errcode.New(errcode.TokenInvalid)
	}
	if claims.ExpiresAt != nil && claims.ExpiresAt.Before(time.Now().UTC()) {
		return "", errcode.New(errcode.SessionExpired)
	}
	return claims.UserID, nil
}

// GetStats reports access-control counters.
func (c *Control) GetStats() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	roleCounts := map[string]int{}
	mfaEnabled := 0
	for _, u := range c.users {
		if u.MFAEnabled {
			mfaEnabled++
		}
		for _, r := range u.Roles {
			roleCounts[r]++
		}
	}
	return map[string]any{
		"total_users":      len(c.users),
		"mfa_enabled_count": mfaEnabled,
		"role_counts":      roleCounts,
	}
}

// HealthCheck reports access control health.
func (c *Control) HealthCheck() map[string]any {
	return map[string]any{"status": "healthy", "stats": c.GetStats()}
}
