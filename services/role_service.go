package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/pilab-dev/shadow-authz/domain"
	serrors "github.com/pilab-dev/shadow-authz/errors"
	"github.com/pilab-dev/shadow-authz/internal/audit"
	"github.com/pilab-dev/shadow-authz/internal/auth/rbac"
	"github.com/rs/zerolog/log"
)

// RoleService manages per-application role assignments and the role permission table.
type RoleService struct {
	repo domain.RoleRepository
	now  func() time.Time
}

func NewRoleService(repo domain.RoleRepository) *RoleService {
	return &RoleService{repo: repo, now: time.Now}
}

// Assign creates or replaces the user's role within clientID.
func (s *RoleService) Assign(ctx context.Context, actor, userID, clientID, role, permissions string) (*domain.AppRoleAssignment, error) {
	if userID == "" || clientID == "" {
		return nil, serrors.NewInvalidRequest("user_id and client_id are required")
	}
	if !rbac.IsKnownRole(role) {
		return nil, serrors.NewInvalidRequest(fmt.Sprintf("unknown role %q", role))
	}
	perms := rbac.ParsePermissions(permissions)
	if unknown := rbac.UnknownPermissions(perms); len(unknown) > 0 {
		return nil, serrors.NewInvalidRequest(fmt.Sprintf("unknown permissions: %s", strings.Join(unknown, ", ")))
	}

	now := s.now().UTC()
	a := &domain.AppRoleAssignment{
		UserID:      userID,
		ClientID:    clientID,
		Role:        role,
		Permissions: strings.Join(perms, ","),
		Singleton:   rbac.IsSingletonRole(role),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err := s.repo.UpsertAssignment(ctx, a)
	if errors.Is(err, domain.ErrSingletonRoleTaken) {
		audit.Log(ctx, "roles", audit.ActionRoleAssign, actor, userID, "client="+clientID+" role="+role, false, err)
		return nil, serrors.NewSingletonRoleTaken(role)
	}
	if err != nil {
		return nil, fmt.Errorf("upsert role assignment: %w", err)
	}

	audit.Log(ctx, "roles", audit.ActionRoleAssign, actor, userID, "client="+clientID+" role="+role, true, nil)
	return a, nil
}

// Get returns the assignment or ErrNotFound.
func (s *RoleService) Get(ctx context.Context, userID, clientID string) (*domain.AppRoleAssignment, error) {
	return s.repo.GetAssignment(ctx, userID, clientID)
}

func (s *RoleService) List(ctx context.Context, clientID string) ([]*domain.AppRoleAssignment, error) {
	return s.repo.ListAssignments(ctx, clientID)
}

// Remove deletes the assignment. ErrNotFound when there was none.
func (s *RoleService) Remove(ctx context.Context, actor, userID, clientID string) error {
	if err := s.repo.DeleteAssignment(ctx, userID, clientID); err != nil {
		return err
	}
	audit.Log(ctx, "roles", audit.ActionRoleRemove, actor, userID, "client="+clientID, true, nil)
	return nil
}

// HasPermission resolves the user's role in clientID against the role
// permission rows and the assignment's own permission list.
func (s *RoleService) HasPermission(ctx context.Context, userID, clientID, permission string) (bool, error) {
	a, err := s.repo.GetAssignment(ctx, userID, clientID)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load role assignment: %w", err)
	}

	if slices.Contains(rbac.ParsePermissions(a.Permissions), permission) {
		return true, nil
	}

	granted, err := s.repo.ListRolePermissions(ctx, a.Role)
	if err != nil {
		return false, fmt.Errorf("load role permissions: %w", err)
	}
	return slices.Contains(granted, permission), nil
}

// SeedRegistry writes the default role permission rows. It is idempotent.
func (s *RoleService) SeedRegistry(ctx context.Context) error {
	count := 0
	for _, role := range rbac.Roles() {
		for _, perm := range rbac.DefaultRolePermissions[role] {
			if err := s.repo.GrantPermission(ctx, role, perm); err != nil {
				return fmt.Errorf("seed %s/%s: %w", role, perm, err)
			}
			count++
		}
	}

	log.Info().Int("version", rbac.RegistryVersion).Int("rows", count).Msg("role permission registry seeded")
	return nil
}

// Grant adds permission to role.
func (s *RoleService) Grant(ctx context.Context, actor, role, permission string) error {
	if err := validateRolePermission(role, permission); err != nil {
		return err
	}
	if err := s.repo.GrantPermission(ctx, role, permission); err != nil {
		return fmt.Errorf("grant permission: %w", err)
	}
	audit.Log(ctx, "roles", audit.ActionRolePermissionSet, actor, role, "grant "+permission, true, nil)
	return nil
}

// RevokePermission removes permission from role.
func (s *RoleService) RevokePermission(ctx context.Context, actor, role, permission string) error {
	if err := validateRolePermission(role, permission); err != nil {
		return err
	}
	if err := s.repo.RevokePermission(ctx, role, permission); err != nil {
		return fmt.Errorf("revoke permission: %w", err)
	}
	audit.Log(ctx, "roles", audit.ActionRolePermissionSet, actor, role, "revoke "+permission, true, nil)
	return nil
}

func validateRolePermission(role, permission string) error {
	if !rbac.IsKnownRole(role) {
		return serrors.NewInvalidRequest(fmt.Sprintf("unknown role %q", role))
	}
	if !rbac.IsKnownPermission(permission) {
		return serrors.NewInvalidRequest(fmt.Sprintf("unknown permission %q", permission))
	}
	return nil
}
