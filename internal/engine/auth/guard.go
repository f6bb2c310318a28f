package auth

import (
	"context"

	"tripauth/internal/domain"
	"tripauth/internal/perm"
)

// Guard prevents an actor from granting permissions it does not hold.
type Guard struct {
	Resolver Resolver
}

type Decision struct {
	Allowed   bool
	Effective perm.Set
	// Rejected lists the requested permissions the actor lacks, including the
	// wildcard when a non-universal actor asked for it.
	Rejected []string
}

func (g Guard) Check(ctx context.Context, actor domain.Actor, requested []string) (Decision, error) {
	eff, err := g.Resolver.Resolve(ctx, actor)
	if err != nil {
		return Decision{}, err
	}
	if eff.IsAll() {
		return Decision{Allowed: true, Effective: eff}, nil
	}
	rejected := eff.Missing(requested)
	return Decision{Allowed: len(rejected) == 0, Effective: eff, Rejected: rejected}, nil
}

// CanAssign reports whether actor may grant every permission in requested.
func (g Guard) CanAssign(ctx context.Context, actor domain.Actor, requested []string) (bool, error) {
	d, err := g.Check(ctx, actor, requested)
	return d.Allowed, err
}

// Require is Check that turns a rejection into an EscalationError.
func (g Guard) Require(ctx context.Context, actor domain.Actor, requested []string) (Decision, error) {
	d, err := g.Check(ctx, actor, requested)
	if err != nil {
		return d, err
	}
	if !d.Allowed {
		return d, EscalationError{ActorID: actor.ID, Rejected: d.Rejected}
	}
	return d, nil
}
