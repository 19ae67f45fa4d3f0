package api

import (
	"context"

	"github.com/Kurokamori/reward-engine/internal/models"
)

type contextKey string

const accountContextKey contextKey = "api_account"

// AccountFromContext extracts the authenticated Account from context
func AccountFromContext(ctx context.Context) *models.Account {
	account, ok := ctx.Value(accountContextKey).(*models.Account)
	if !ok {
		return nil
	}
	return account
}

// ContextWithAccount adds an Account to context
func ContextWithAccount(ctx context.Context, account *models.Account) context.Context {
	return context.WithValue(ctx, accountContextKey, account)
}
