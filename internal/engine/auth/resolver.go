package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"tripauth/internal/domain"
	"tripauth/internal/perm"
	"tripauth/internal/repo"
)

// DefaultMaxDepth bounds the parent walk when Resolver.MaxDepth is unset.
const DefaultMaxDepth = 64

// Directory is the read access the resolver needs. Lookups of missing records
// must return an error matching repo.ErrNotFound.
type Directory interface {
	Actor(ctx context.Context, id string) (domain.Actor, error)
	Profile(ctx context.Context, id string) (domain.Profile, error)
}

// Resolver computes effective permissions.
type Resolver struct {
	Dir      Directory
	MaxDepth int
	Log      logrus.FieldLogger
}

func (r Resolver) maxDepth() int {
	if r.MaxDepth > 0 {
		return r.MaxDepth
	}
	return DefaultMaxDepth
}

func (r Resolver) anomaly(actorID, reason string) {
	if r.Log != nil {
		r.Log.WithFields(logrus.Fields{"actor_id": actorID, "reason": reason}).Warn("permission resolution fell back to empty set")
	}
}

// Resolve returns the effective permission set of actor.
//
// Owners are universal. An employee gets its profile's permissions bounded by
// whatever its parent resolves to, applied at every level of the chain; a
// missing parent leaves the profile unrestricted and a missing profile grants
// nothing. Customers, unknown roles, parent cycles and chains deeper than
// MaxDepth resolve to the empty set. Only store failures other than
// repo.ErrNotFound are returned as errors.
func (r Resolver) Resolve(ctx context.Context, actor domain.Actor) (perm.Set, error) {
	var (
		chain   []perm.Set
		visited = map[string]struct{}{}
		top     perm.Set
		cur     = actor
	)
walk:
	for {
		switch cur.Role {
		case domain.RoleOwnerAdmin, domain.RoleOwnerVendor:
			top = perm.All()
			break walk
		case domain.RoleEmployee:
			if _, seen := visited[cur.ID]; seen {
				r.anomaly(actor.ID, "parent cycle at "+cur.ID)
				return perm.Empty(), nil
			}
			visited[cur.ID] = struct{}{}
			if len(chain) >= r.maxDepth() {
				r.anomaly(actor.ID, "parent chain too deep")
				return perm.Empty(), nil
			}
			profile, err := r.profilePermissions(ctx, cur)
			if err != nil {
				return perm.Empty(), err
			}
			chain = append(chain, profile)
			if cur.ParentID == nil || *cur.ParentID == "" {
				top = perm.All()
				break walk
			}
			parent, err := r.Dir.Actor(ctx, *cur.ParentID)
			if errors.Is(err, repo.ErrNotFound) {
				top = perm.All()
				break walk
			}
			if err != nil {
				return perm.Empty(), fmt.Errorf("resolve parent %s: %w", *cur.ParentID, err)
			}
			cur = parent
		default:
			top = perm.Empty()
			break walk
		}
	}
	// Fold back down: each level is its profile bounded by everything above.
	result := top
	for i := len(chain) - 1; i >= 0; i-- {
		result = chain[i].Intersect(result)
	}
	return result, nil
}

func (r Resolver) profilePermissions(ctx context.Context, a domain.Actor) (perm.Set, error) {
	if a.ProfileID == nil || *a.ProfileID == "" {
		return perm.Empty(), nil
	}
	p, err := r.Dir.Profile(ctx, *a.ProfileID)
	if errors.Is(err, repo.ErrNotFound) {
		return perm.Empty(), nil
	}
	if err != nil {
		return perm.Empty(), fmt.Errorf("resolve profile %s: %w", *a.ProfileID, err)
	}
	return perm.Of(p.Permissions...), nil
}
