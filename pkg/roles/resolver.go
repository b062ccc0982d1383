package roles

import (
	"golang.org/x/text/cases"
)

// Role is a guild role as reported by the platform.
type Role struct {
	ID   string
	Name string
}

// Resolver matches references against one snapshot of a guild's roles.
// Build a fresh Resolver per setup attempt so the current role state is used.
// A Resolver is not safe for concurrent use.
type Resolver struct {
	ids    map[string]struct{}
	byName map[string][]string
	fold   cases.Caser
}

// NewResolver indexes guildRoles for id and case-insensitive name lookup.
func NewResolver(guildRoles []Role) *Resolver {
	r := &Resolver{
		ids:    make(map[string]struct{}, len(guildRoles)),
		byName: make(map[string][]string, len(guildRoles)),
		fold:   cases.Fold(),
	}
	for _, role := range guildRoles {
		r.ids[role.ID] = struct{}{}
		key := r.fold.String(role.Name)
		r.byName[key] = append(r.byName[key], role.ID)
	}
	return r
}

// ResolveOne maps a single reference to a role id.
func (r *Resolver) ResolveOne(ref Reference) (string, error) {
	if ref.Kind == ByID {
		if _, ok := r.ids[ref.Value]; !ok {
			return "", &Error{Kind: KindUnknownRoleID, Ref: ref.Value}
		}
		return ref.Value, nil
	}

	matches := r.byName[r.fold.String(ref.Value)]
	switch len(matches) {
	case 0:
		return "", &Error{Kind: KindUnknownRoleName, Ref: ref.Value}
	case 1:
		return matches[0], nil
	default:
		candidates := make([]string, len(matches))
		copy(candidates, matches)
		return "", &Error{Kind: KindAmbiguousRoleName, Ref: ref.Value, Candidates: candidates}
	}
}

// Resolve maps every reference, collecting all failures instead of stopping
// at the first one. The returned ids are deduplicated by role id in order of
// first occurrence; they are only meaningful when errs is empty. A reference
// that fails repeatedly is reported once.
func (r *Resolver) Resolve(refs []Reference) (ids []string, errs []error) {
	seen := make(map[string]struct{}, len(refs))
	failed := make(map[Reference]struct{})
	for _, ref := range refs {
		id, err := r.ResolveOne(ref)
		if err != nil {
			if _, dup := failed[ref]; !dup {
				failed[ref] = struct{}{}
				errs = append(errs, err)
			}
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids, errs
}
