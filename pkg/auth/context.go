package auth

import (
	"context"
	"errors"

	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/hrn"
)

type contextKey string

const (
	principalKey contextKey = "principal"
)

// WithPrincipal attaches a Principal to the context.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// GetPrincipal retrieves the Principal from the context.
func GetPrincipal(ctx context.Context) (Principal, error) {
	p, ok := ctx.Value(principalKey).(Principal)
	if !ok {
		return nil, errors.New("no principal in context")
	}
	return p, nil
}

// GetPrincipalHRN is a helper to get the calling principal's HRN, the form
// every downstream C4-C7 call expects.
func GetPrincipalHRN(ctx context.Context) (hrn.HRN, error) {
	p, err := GetPrincipal(ctx)
	if err != nil {
		return hrn.HRN{}, err
	}
	return p.HRN(), nil
}

// MustGetPrincipalHRN panics if no principal is in context (use only when
// middleware guarantees one).
func MustGetPrincipalHRN(ctx context.Context) hrn.HRN {
	h, err := GetPrincipalHRN(ctx)
	if err != nil {
		panic(err)
	}
	return h
}
