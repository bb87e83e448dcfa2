package session

import "context"

// Principal is a verified user as seen by the session core. It is owned by the
// user-management subsystem and treated as read-only here.
type Principal struct {
	ID          string
	Username    string
	Authorities []string
}

// PrincipalDirectory resolves principals by id.
// Implementations return ErrOwnerNotFound for unknown ids.
type PrincipalDirectory interface {
	LookupPrincipal(ctx context.Context, id string) (Principal, error)
}

// Authenticator verifies credentials and yields a principal.
type Authenticator interface {
	Authenticate(ctx context.Context, username, password string) (Principal, error)
}
