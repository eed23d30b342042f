// Package actor carries the identity behind a request through context so
// that every audit event can name who caused it.
package actor

import "context"

// Type classifies who initiated an operation.
type Type string

const (
	TypeUser   Type = "user"
	TypeAdmin  Type = "admin"
	TypeSystem Type = "system"
	TypeClient Type = "client"
)

// Actor identifies the initiator of a lifecycle operation.
type Actor struct {
	ID        string `json:"id,omitempty"`
	Type      Type   `json:"type"`
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// System is the actor used for scheduled and internal work.
var System = Actor{ID: "system", Type: TypeSystem}

// String renders the actor for audit columns.
func (a Actor) String() string {
	if a.ID == "" {
		return string(a.Type)
	}
	return string(a.Type) + ":" + a.ID
}

type contextKey struct{}

// WithActor returns a copy of ctx carrying a.
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, contextKey{}, a)
}

// FromContext returns the actor stored in ctx, or System when none was set.
func FromContext(ctx context.Context) Actor {
	if a, ok := ctx.Value(contextKey{}).(Actor); ok {
		return a
	}
	return System
}
