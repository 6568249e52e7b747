package auth

import (
	"context"
	"errors"
)

// Identity is the authenticated operator behind an admin request.
type Identity struct {
	OperatorID string
	Role       string
}

type identityKey struct{}

var (
	errNoOperator = errors.New("operator_id not in context")
	errNoRole     = errors.New("role not in context")
)

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

func OperatorID(ctx context.Context) (string, error) {
	if id, ok := IdentityFrom(ctx); ok && id.OperatorID != "" {
		return id.OperatorID, nil
	}
	return "", errNoOperator
}

func Role(ctx context.Context) (string, error) {
	if id, ok := IdentityFrom(ctx); ok && id.Role != "" {
		return id.Role, nil
	}
	return "", errNoRole
}
