package memory

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/pilab-dev/shadow-authz/domain"
)

type assignmentKey struct {
	userID, clientID string
}

// RoleRepository stores role assignments and role permissions in memory.
type RoleRepository struct {
	mu          sync.Mutex
	assignments map[assignmentKey]domain.AppRoleAssignment
	permissions map[string][]string
}

// NewRoleRepository creates an empty RoleRepository.
func NewRoleRepository() *RoleRepository {
	return &RoleRepository{
		assignments: make(map[assignmentKey]domain.AppRoleAssignment),
		permissions: make(map[string][]string),
	}
}

func (r *RoleRepository) UpsertAssignment(_ context.Context, a *domain.AppRoleAssignment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if a.Singleton {
		for k, other := range r.assignments {
			if k.clientID == a.ClientID && k.userID != a.UserID && other.Role == a.Role {
				return domain.ErrSingletonRoleTaken
			}
		}
	}

	key := assignmentKey{a.UserID, a.ClientID}
	stored := *a
	if cur, ok := r.assignments[key]; ok {
		stored.CreatedAt = cur.CreatedAt
	}
	r.assignments[key] = stored
	return nil
}

func (r *RoleRepository) GetAssignment(_ context.Context, userID, clientID string) (*domain.AppRoleAssignment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.assignments[assignmentKey{userID, clientID}]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &a, nil
}

func (r *RoleRepository) ListAssignments(_ context.Context, clientID string) ([]*domain.AppRoleAssignment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.AppRoleAssignment
	for k, a := range r.assignments {
		if k.clientID == clientID {
			a := a
			out = append(out, &a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (r *RoleRepository) DeleteAssignment(_ context.Context, userID, clientID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := assignmentKey{userID, clientID}
	if _, ok := r.assignments[key]; !ok {
		return domain.ErrNotFound
	}
	delete(r.assignments, key)
	return nil
}

func (r *RoleRepository) GrantPermission(_ context.Context, roleID, permissionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !slices.Contains(r.permissions[roleID], permissionID) {
		r.permissions[roleID] = append(r.permissions[roleID], permissionID)
	}
	return nil
}

func (r *RoleRepository) RevokePermission(_ context.Context, roleID, permissionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.permissions[roleID] = slices.DeleteFunc(slices.Clone(r.permissions[roleID]), func(p string) bool {
		return p == permissionID
	})
	return nil
}

func (r *RoleRepository) ListRolePermissions(_ context.Context, roleID string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	perms := slices.Clone(r.permissions[roleID])
	slices.Sort(perms)
	return perms, nil
}

var _ domain.RoleRepository = (*RoleRepository)(nil)
