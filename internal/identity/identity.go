package identity

import (
	"context"

	"github.com/nikolayk812/foodorder/internal/domain"
	"github.com/nikolayk812/foodorder/internal/port"
)

type ctxKey struct{}

// WithUserID returns a context carrying the authenticated caller's id.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, userID)
}

// ContextProvider resolves the caller identity from the request context.
// Authentication itself happens upstream, e.g. in HTTP middleware.
type ContextProvider struct{}

func NewContextProvider() ContextProvider {
	return ContextProvider{}
}

func (ContextProvider) CurrentUserID(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(ctxKey{}).(string)
	if !ok || userID == "" {
		return "", domain.ErrNoUserInContext
	}

	return userID, nil
}

var _ port.UserProvider = ContextProvider{}
