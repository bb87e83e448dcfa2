package identity

import (
	"context"
	"strings"
	"time"

	"mereb/cmd/internal/auth/session"
)

// User is mereb's canonical security principal.
type User struct {
	ID           string
	Username     string
	UsernameNorm string
	Authorities  []string
	CreatedAt    time.Time
}

// Principal returns the read-only view consumed by the session core.
func (u User) Principal() session.Principal {
	return session.Principal{
		ID:          u.ID,
		Username:    u.Username,
		Authorities: append([]string(nil), u.Authorities...),
	}
}

// CreateUserInput describes a user registration request.
type CreateUserInput struct {
	Username    string
	Authorities []string
	Now         time.Time
}

// Directory is the user persistence boundary.
// Both implementations satisfy session.PrincipalDirectory.
type Directory interface {
	session.PrincipalDirectory

	CreateUser(ctx context.Context, in CreateUserInput) (User, error)
	GetUser(ctx context.Context, id string) (User, error)
	FindByUsername(ctx context.Context, username string) (User, error)
	DeleteUser(ctx context.Context, id string) error
}

// validateCreate normalizes in and returns the canonical username.
func validateCreate(op string, in *CreateUserInput) (string, error) {
	in.Username = strings.TrimSpace(in.Username)
	if in.Username == "" {
		return "", invalid(op, "username is required")
	}
	if len(in.Username) > 64 {
		return "", invalid(op, "username too long")
	}
	in.Authorities = NormalizeAuthorities(in.Authorities)
	for _, a := range in.Authorities {
		if strings.Contains(a, ",") {
			return "", invalid(op, "authority must not contain ','")
		}
	}
	if in.Now.IsZero() {
		in.Now = time.Now().UTC()
	}
	return NormalizeUsername(in.Username), nil
}
