package docstore

import (
	"reflect"
	"sort"
	"strings"
)

// Diff returns the keys whose values differ between old and new. Nested
// objects are compared recursively and only their differing keys are kept.
// A key present on one side only is a difference: added keys map to their
// new value and removed keys map to nil.
func Diff(old, new map[string]any) map[string]any {
	diff := make(map[string]any)
	for _, k := range unionKeys(old, new) {
		ov, inOld := old[k]
		nv, inNew := new[k]

		om, oldObj := ov.(map[string]any)
		nm, newObj := nv.(map[string]any)
		switch {
		case inOld && inNew && oldObj && newObj:
			if nested := Diff(om, nm); len(nested) > 0 {
				diff[k] = nested
			}
		case inOld != inNew || !reflect.DeepEqual(ov, nv):
			diff[k] = nv
		}
	}
	return diff
}

// DeltaKind classifies one entry of a Compare result.
type DeltaKind string

const (
	Added   DeltaKind = "added"
	Removed DeltaKind = "removed"
	Changed DeltaKind = "changed"
)

// Delta is a single leaf difference between two objects.
type Delta struct {
	Path string    `json:"path" yaml:"path"`
	Kind DeltaKind `json:"kind" yaml:"kind"`
	Old  any       `json:"old,omitempty" yaml:"old,omitempty"`
	New  any       `json:"new,omitempty" yaml:"new,omitempty"`
}

// Compare walks the same structure as Diff but reports each difference with
// its dotted key path and kind, sorted by path.
func Compare(old, new map[string]any) []Delta {
	var deltas []Delta
	compareInto(&deltas, nil, old, new)
	return deltas
}

func compareInto(out *[]Delta, prefix []string, old, new map[string]any) {
	for _, k := range unionKeys(old, new) {
		path := append(prefix[:len(prefix):len(prefix)], k)
		ov, inOld := old[k]
		nv, inNew := new[k]

		switch {
		case !inOld:
			*out = append(*out, Delta{Path: joinPath(path), Kind: Added, New: nv})
		case !inNew:
			*out = append(*out, Delta{Path: joinPath(path), Kind: Removed, Old: ov})
		default:
			om, oldObj := ov.(map[string]any)
			nm, newObj := nv.(map[string]any)
			if oldObj && newObj {
				compareInto(out, path, om, nm)
				continue
			}
			if !reflect.DeepEqual(ov, nv) {
				*out = append(*out, Delta{Path: joinPath(path), Kind: Changed, Old: ov, New: nv})
			}
		}
	}
}

func unionKeys(a, b map[string]any) []string {
	keys := make([]string, 0, len(a)+len(b))
	for k := range a {
		keys = append(keys, k)
	}
	for k := range b {
		if _, ok := a[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

func joinPath(parts []string) string {
	return strings.Join(parts, ".")
}
