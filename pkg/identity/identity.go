// Package identity resolves the acting principal of a request into the
// canonical actor id recorded on every state change. The engine never
// authenticates; it records the id this package hands it.
package identity

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
)

// Anonymous is the actor id attached to requests with no resolvable
// principal. Mutating operations reject it.
const Anonymous = "anonymous"

// actorCtxKey is an unexported type used as the context key for Actor.
type actorCtxKey struct{}

// Actor is the resolved identity making a request.
type Actor struct {
	ID     string
	Groups []string
}

// WithActor returns a new context with the given Actor attached.
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorCtxKey{}, a)
}

// ActorFromContext retrieves the Actor from the context.
// Returns the zero value and false if no actor is set.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(actorCtxKey{}).(Actor)
	return a, ok
}

// Resolver maps a raw principal (username, token subject) to the canonical
// actor id that gets recorded. Display names never reach the audit trail;
// whatever the resolver returns is what history shows.
type Resolver interface {
	Resolve(ctx context.Context, principal string) (string, error)
}

// PassthroughResolver canonicalizes a principal by trimming and lowercasing
// it. Deployments with a directory service substitute their own Resolver.
type PassthroughResolver struct{}

// Resolve implements Resolver.
func (PassthroughResolver) Resolve(_ context.Context, principal string) (string, error) {
	id := strings.ToLower(strings.TrimSpace(principal))
	if id == "" {
		return "", errors.New("empty principal")
	}
	return id, nil
}

// PrincipalExtractor pulls the raw principal off a request. Returns "" when
// the request carries none.
type PrincipalExtractor func(r *http.Request) string

// HeaderPrincipal extracts the principal from the X-Remote-User header set
// by an authenticating proxy.
func HeaderPrincipal(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-Remote-User"))
}

// Middleware returns HTTP middleware that extracts the principal, resolves
// it to a canonical actor id, and stores the Actor in the request context.
// Requests without a resolvable principal proceed as Anonymous; rejecting
// anonymous mutations is the engine's decision, not the middleware's.
// X-Remote-Group is comma-separated.
func Middleware(resolver Resolver, extractor PrincipalExtractor, logger *slog.Logger) func(http.Handler) http.Handler {
	if resolver == nil {
		resolver = PassthroughResolver{}
	}
	if extractor == nil {
		extractor = HeaderPrincipal
	}
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := Anonymous
			if principal := extractor(r); principal != "" {
				resolved, err := resolver.Resolve(r.Context(), principal)
				if err != nil {
					logger.Warn("principal resolution failed", "error", err)
				} else {
					id = resolved
				}
			}

			var groups []string
			groupHeader := strings.TrimSpace(r.Header.Get("X-Remote-Group"))
			if groupHeader != "" {
				for _, g := range strings.Split(groupHeader, ",") {
					g = strings.TrimSpace(g)
					if g != "" {
						groups = append(groups, g)
					}
				}
			}

			ctx := WithActor(r.Context(), Actor{ID: id, Groups: groups})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
