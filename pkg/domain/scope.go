package domain

import (
	"context"
	"slices"
)

type accessScopeKey struct{}

// AccessScope restricts which records a caller may see. An empty scope sees
// everything.
type AccessScope struct {
	CompanyIDs []int64
}

// Unrestricted reports whether the scope filters nothing.
func (s AccessScope) Unrestricted() bool {
	return len(s.CompanyIDs) == 0
}

// Allows reports whether a record with the given company is visible. Records
// without a company are visible to every scope.
func (s AccessScope) Allows(companyID *int64) bool {
	if s.Unrestricted() || companyID == nil {
		return true
	}
	return slices.Contains(s.CompanyIDs, *companyID)
}

// WithAccessScope attaches a scope to ctx.
func WithAccessScope(ctx context.Context, scope AccessScope) context.Context {
	scope.CompanyIDs = slices.Clone(scope.CompanyIDs)
	return context.WithValue(ctx, accessScopeKey{}, scope)
}

// AccessScopeFrom returns the scope attached to ctx, if any.
func AccessScopeFrom(ctx context.Context) AccessScope {
	scope, _ := ctx.Value(accessScopeKey{}).(AccessScope)
	return scope
}
