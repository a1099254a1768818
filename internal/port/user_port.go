package port

import "context"

// UserProvider resolves the identity of the current caller.
type UserProvider interface {
	CurrentUserID(ctx context.Context) (string, error)
}
