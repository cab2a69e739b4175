package settings

import "github.com/zappabad/marketsim/internal/simerr"

// ExtendsKey names the parent a group inherits from.
const ExtendsKey = "extends"

// Extend resolves the "extends" chain of target: every key of each ancestor
// that target (or a nearer ancestor) does not set is copied in. Keys listed in
// exclude are never inherited.
func Extend(all map[string]Settings, name string, target Settings, exclude ...string) (Settings, error) {
	skip := make(map[string]bool, len(exclude))
	for _, k := range exclude {
		skip[k] = true
	}
	out := target.Clone()
	visited := map[string]bool{name: true}
	for {
		raw, ok := out[ExtendsKey]
		if !ok {
			return out, nil
		}
		delete(out, ExtendsKey)
		parent, ok := raw.(string)
		if !ok {
			return nil, typeErr(name+"."+ExtendsKey, "a string", raw)
		}
		base, ok := all[parent]
		if !ok {
			return nil, simerr.Config(name, "cannot extend %q: no such group", parent)
		}
		if visited[parent] {
			return nil, simerr.Config(name, "extends loop through %q", parent)
		}
		visited[parent] = true
		for k, v := range base {
			if skip[k] {
				continue
			}
			if _, set := out[k]; !set {
				out[k] = v
			}
		}
	}
}
