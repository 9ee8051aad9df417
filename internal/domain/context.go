package domain

import "context"

type skipFiltersKey struct{}

// WithoutFilters marks the context so that the plan-created hook passes the
// plan through unchanged.
func WithoutFilters(ctx context.Context) context.Context {
	return context.WithValue(ctx, skipFiltersKey{}, true)
}

// FiltersSkipped reports whether WithoutFilters was applied to ctx.
func FiltersSkipped(ctx context.Context) bool {
	skip, _ := ctx.Value(skipFiltersKey{}).(bool)
	return skip
}
