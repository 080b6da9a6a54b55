package repository

import (
	"context"
	"strings"
	"sync"

	"github.com/flowdesk-io/flowdesk/internal/models"
)

// MemoryClientRepository is an in-memory client registry for tests and
// seeded demo environments.
type MemoryClientRepository struct {
	mu      sync.RWMutex
	clients []models.Client
}

// NewMemoryClientRepository returns a registry pre-populated with the
// given records.
func NewMemoryClientRepository(clients ...models.Client) *MemoryClientRepository {
	return &MemoryClientRepository{clients: clients}
}

// Add registers another client record.
func (r *MemoryClientRepository) Add(c models.Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients = append(r.clients, c)
}

// FindByEmail matches the full address case-insensitively.
func (r *MemoryClientRepository) FindByEmail(_ context.Context, email string) (*models.Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i := range r.clients {
		if strings.EqualFold(r.clients[i].Email, email) {
			c := r.clients[i]
			return &c, nil
		}
	}
	return nil, nil
}

// FindByDomain returns any client registered under the domain.
func (r *MemoryClientRepository) FindByDomain(_ context.Context, domain string) (*models.Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i := range r.clients {
		c := r.clients[i]
		if strings.EqualFold(c.Domain, domain) {
			return &c, nil
		}
		if at := strings.LastIndex(c.Email, "@"); at >= 0 && strings.EqualFold(c.Email[at+1:], domain) {
			return &c, nil
		}
	}
	return nil, nil
}

// FindByEmails is the batch variant.
func (r *MemoryClientRepository) FindByEmails(ctx context.Context, emails []string) ([]models.Client, error) {
	var out []models.Client
	for _, e := range emails {
		c, err := r.FindByEmail(ctx, e)
		if err != nil {
			return nil, err
		}
		if c != nil {
			out = append(out, *c)
		}
	}
	return out, nil
}
