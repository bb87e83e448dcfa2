package identity

import (
	"testing"
	"time"

	"mereb/cmd/identity/ids"
)

func mustULID(t *testing.T) string {
	t.Helper()
	id, err := ids.NewULID(time.Now().UTC())
	if err != nil {
		t.Fatalf("NewULID: %v", err)
	}
	return id
}
