package identity

import (
	"context"
	"strings"
	"sync"

	"mereb/cmd/identity/ids"
	"mereb/cmd/internal/auth/session"
)

// MemoryDirectory is a dev/test Directory.
type MemoryDirectory struct {
	mu     sync.RWMutex
	byID   map[string]User
	byNorm map[string]string // username_norm -> id
}

// NewMemoryDirectory constructs an empty MemoryDirectory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		byID:   make(map[string]User),
		byNorm: make(map[string]string),
	}
}

var _ Directory = (*MemoryDirectory)(nil)

// CreateUser adds a user. Usernames are unique case-insensitively.
func (d *MemoryDirectory) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
	const op = "identity.CreateUser"

	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	norm, err := validateCreate(op, &in)
	if err != nil {
		return User{}, err
	}

	id, err := ids.NewULID(in.Now)
	if err != nil {
		return User{}, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, taken := d.byNorm[norm]; taken {
		return User{}, ConflictError{Op: op, Field: "username"}
	}

	u := User{
		ID:           id,
		Username:     in.Username,
		UsernameNorm: norm,
		Authorities:  in.Authorities,
		CreatedAt:    in.Now,
	}
	d.byID[id] = u
	d.byNorm[norm] = id
	return u, nil
}

// GetUser loads a user by id.
func (d *MemoryDirectory) GetUser(_ context.Context, id string) (User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	u, ok := d.byID[strings.TrimSpace(id)]
	if !ok {
		return User{}, NotFoundError{Op: "identity.GetUser", Resource: "user"}
	}
	return u, nil
}

// FindByUsername loads a user by case-insensitive username.
func (d *MemoryDirectory) FindByUsername(_ context.Context, username string) (User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	id, ok := d.byNorm[NormalizeUsername(username)]
	if !ok {
		return User{}, NotFoundError{Op: "identity.FindByUsername", Resource: "user"}
	}
	return d.byID[id], nil
}

// DeleteUser removes a user. Refresh records are purged separately
// (session.Service.PurgeOwner) since this store has no cascade.
func (d *MemoryDirectory) DeleteUser(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	u, ok := d.byID[strings.TrimSpace(id)]
	if !ok {
		return NotFoundError{Op: "identity.DeleteUser", Resource: "user"}
	}
	delete(d.byID, u.ID)
	delete(d.byNorm, u.UsernameNorm)
	return nil
}

// LookupPrincipal implements session.PrincipalDirectory.
func (d *MemoryDirectory) LookupPrincipal(ctx context.Context, id string) (session.Principal, error) {
	u, err := d.GetUser(ctx, id)
	if err != nil {
		return session.Principal{}, err
	}
	return u.Principal(), nil
}
