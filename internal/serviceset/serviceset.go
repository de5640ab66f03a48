// Package serviceset implements the ServiceSet diffing in spec.md §3/§4.4:
// the set of systemd units a profile declares, and the set operations that
// compare two generations of it (`services.rs`'s use of
// `im::HashMap::relative_complement`/`intersection`, ported to plain Go maps
// since nothing here needs persistent-structure sharing across snapshots —
// each generation is loaded fresh from its own services.json).
package serviceset

import "system-manager-engine/internal/storepath"

// Config is the per-unit configuration a profile declares: currently just
// the store path its unit file was rendered from.
type Config struct {
	StorePath storepath.StorePath `json:"storePath"`
}

// Set maps a systemd unit name to its declared Config.
type Set map[string]Config

// Names returns the unit names in s, for passing to JobDispatcher calls
// that take a plain unit list.
func (s Set) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	return names
}

// RelativeComplement returns the units present in s but not in other — the
// "stop set" when s is the previous generation and other is the new one.
func (s Set) RelativeComplement(other Set) Set {
	out := make(Set, len(s))
	for name, cfg := range s {
		if _, ok := other[name]; !ok {
			out[name] = cfg
		}
	}
	return out
}

// Intersection returns the units present in both s and other, taking s's
// Config for each.
func (s Set) Intersection(other Set) Set {
	out := make(Set)
	for name, cfg := range s {
		if _, ok := other[name]; ok {
			out[name] = cfg
		}
	}
	return out
}

// ReloadSet returns the units present in both next and prev whose store
// path changed between generations — the set that needs a
// reload-or-restart rather than a bare no-op, per spec.md §4.4 and
// services.rs's get_services_to_reload.
func ReloadSet(next, prev Set) Set {
	candidates := next.Intersection(prev)
	out := make(Set, len(candidates))
	for name, cfg := range candidates {
		if cfg.StorePath.Path() != prev[name].StorePath.Path() {
			out[name] = cfg
		}
	}
	return out
}
