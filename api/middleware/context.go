package middleware

import "context"

// Caller is the identity resolved for a request. The zero value is an anonymous guest.
type Caller struct {
	OwnerID string
	Role    string
}

// Anonymous reports whether the request carried no verified token.
func (c Caller) Anonymous() bool { return c.OwnerID == "" }

type callerKey struct{}

// WithCaller stores the resolved identity on ctx.
func WithCaller(ctx context.Context, caller Caller) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, callerKey{}, caller)
}

func CallerFromContext(ctx context.Context) Caller {
	if ctx == nil {
		return Caller{}
	}
	caller, _ := ctx.Value(callerKey{}).(Caller)
	return caller
}

// OwnerIDFromContext returns the authenticated owner, or "" for anonymous callers.
func OwnerIDFromContext(ctx context.Context) string { return CallerFromContext(ctx).OwnerID }

func RoleFromContext(ctx context.Context) string { return CallerFromContext(ctx).Role }

// WithOwnerID keeps any role already on ctx.
func WithOwnerID(ctx context.Context, ownerID string) context.Context {
	caller := CallerFromContext(ctx)
	caller.OwnerID = ownerID
	return WithCaller(ctx, caller)
}
