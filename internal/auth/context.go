package auth

import (
	"context"
	"errors"
)

type ctxKey int

const ctxUserID ctxKey = 0

var ErrNoIdentity = errors.New("user_id not in context")

func WithIdentity(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ctxUserID, userID)
}

func UserID(ctx context.Context) (string, error) {
	if s, ok := ctx.Value(ctxUserID).(string); ok && s != "" {
		return s, nil
	}
	return "", ErrNoIdentity
}
