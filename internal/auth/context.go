// Package auth provides authentication context helpers.
//
// This package is designed to be imported by both middleware and handler
// packages without causing import cycles.
package auth

import (
	"context"

	"github.com/calebdavis/textback/internal/domain"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	// businessContextKey is the key used to store the authenticated tenant in context.
	businessContextKey contextKey = "business"
)

// GetBusiness retrieves the authenticated business from the context.
//
// Returns nil if no tenant is authenticated.
func GetBusiness(ctx context.Context) *domain.Business {
	business, ok := ctx.Value(businessContextKey).(*domain.Business)
	if !ok {
		return nil
	}
	return business
}

// WithBusiness stores a business in the context.
func WithBusiness(ctx context.Context, business *domain.Business) context.Context {
	return context.WithValue(ctx, businessContextKey, business)
}
