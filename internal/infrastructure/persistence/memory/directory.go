package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/garyjia/change-approval/internal/application/port"
	"github.com/garyjia/change-approval/internal/domain/entity"
)

// Directory is an in-memory user directory
type Directory struct {
	mu    sync.RWMutex
	users map[string]entity.UserProfile
}

// NewDirectory creates an empty directory
func NewDirectory() *Directory {
	return &Directory{users: make(map[string]entity.UserProfile)}
}

// Put adds or replaces a user profile
func (d *Directory) Put(p *entity.UserProfile) {
	d.mu.Lock()
	defer d.mu.Unlock()

	c := entity.UserProfile{
		UserID:    p.UserID,
		Name:      p.Name,
		ManagerID: p.ManagerID,
		Roles:     make(map[string]bool, len(p.Roles)),
		Limits:    make(map[string]decimal.Decimal, len(p.Limits)),
	}
	for k, v := range p.Roles {
		c.Roles[k] = v
	}
	for k, v := range p.Limits {
		c.Limits[k] = v
	}
	d.users[p.UserID] = c
}

// Upsert stores a profile, replacing any previous one
func (d *Directory) Upsert(ctx context.Context, p *entity.UserProfile) error {
	if p == nil || p.UserID == "" {
		return fmt.Errorf("user id is required")
	}
	d.Put(p)
	return nil
}

// AddUser is a shorthand for Put with a single role and limit
func (d *Directory) AddUser(userID, role string, limit int64, managerID string) {
	d.Put(&entity.UserProfile{
		UserID:    userID,
		ManagerID: managerID,
		Roles:     map[string]bool{role: true},
		Limits:    map[string]decimal.Decimal{role: decimal.NewFromInt(limit)},
	})
}

func (d *Directory) RolesAndLimits(ctx context.Context, userID string) (*entity.UserProfile, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	p, ok := d.users[userID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

// ResolveRole returns the first user, by id, holding the role
func (d *Directory) ResolveRole(ctx context.Context, role string, change entity.ChangeContext) (string, error) {
	users, err := d.UsersWithRole(ctx, role)
	if err != nil || len(users) == 0 {
		return "", err
	}
	return users[0], nil
}

func (d *Directory) UsersWithRole(ctx context.Context, role string) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []string
	for id, p := range d.users {
		if p.Roles[role] {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}

var _ port.Directory = (*Directory)(nil)
