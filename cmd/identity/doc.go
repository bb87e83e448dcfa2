// Package identity implements mereb's principal directory.
//
// It owns users (id, username, authorities) and resolves them for the
// session core through session.PrincipalDirectory. Credentials are not
// stored here.
package identity
