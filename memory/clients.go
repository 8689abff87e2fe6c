// Package memory holds mutex-guarded in-process implementations of every
// repository. It backs the dev storage driver and the service tests.
package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/pilab-dev/shadow-authz/domain"
)

// ClientRepository stores clients in memory.
type ClientRepository struct {
	mu      sync.RWMutex
	clients map[string]domain.Client
}

// NewClientRepository creates an empty ClientRepository.
func NewClientRepository() *ClientRepository {
	return &ClientRepository{clients: make(map[string]domain.Client)}
}

func cloneClient(c domain.Client) *domain.Client {
	c.RedirectURIs = slices.Clone(c.RedirectURIs)
	c.Scopes = slices.Clone(c.Scopes)
	return &c
}

func (r *ClientRepository) CreateClient(_ context.Context, client *domain.Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.clients[client.ID]; exists {
		return domain.ErrConflict
	}
	r.clients[client.ID] = *cloneClient(*client)
	return nil
}

func (r *ClientRepository) GetClient(_ context.Context, clientID string) (*domain.Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[clientID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneClient(c), nil
}

func (r *ClientRepository) ListClients(_ context.Context) ([]*domain.Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.Client, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, cloneClient(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *ClientRepository) SetClientStatus(_ context.Context, clientID string, status domain.ClientStatus, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[clientID]
	if !ok {
		return domain.ErrNotFound
	}
	c.Status = status
	c.UpdatedAt = at
	r.clients[clientID] = c
	return nil
}

func (r *ClientRepository) DeleteClient(_ context.Context, clientID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[clientID]; !ok {
		return domain.ErrNotFound
	}
	delete(r.clients, clientID)
	return nil
}

var _ domain.ClientRepository = (*ClientRepository)(nil)
