package auth

import (
	"context"
	"errors"
)

type ctxKey int

const (
	ctxUserID ctxKey = iota
	ctxCompanyID
	ctxRole
)

func WithIdentity(ctx context.Context, userID, companyID, role string) context.Context {
	ctx = context.WithValue(ctx, ctxUserID, userID)
	ctx = context.WithValue(ctx, ctxCompanyID, companyID)
	ctx = context.WithValue(ctx, ctxRole, role)
	return ctx
}

func UserID(ctx context.Context) (string, error) {
	return fromCtx(ctx, ctxUserID, "user_id")
}

func CompanyID(ctx context.Context) (string, error) {
	return fromCtx(ctx, ctxCompanyID, "company_id")
}

func Role(ctx context.Context) (string, error) {
	return fromCtx(ctx, ctxRole, "role")
}

func fromCtx(ctx context.Context, k ctxKey, name string) (string, error) {
	if s, ok := ctx.Value(k).(string); ok && s != "" {
		return s, nil
	}
	return "", errors.New(name + " not in context")
}
