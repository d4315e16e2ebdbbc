package tangguh

import (
	"encoding/json"
	"fmt"
	"strings"
)

// QueryKey is a hierarchical cache identifier: an ordered sequence of
// JSON-encodable segments, conventionally [module, kind, params...].
// The first segment names the owning module. Keys compare by structural
// equality of their canonical form.
type QueryKey []any

// Key builds a QueryKey from its segments.
func Key(segments ...any) QueryKey {
	return QueryKey(segments)
}

// Canonical returns a stable string form of the key, usable as a map key.
// Segments are encoded as a JSON array; encoding/json sorts map keys, so
// structurally equal keys always canonicalize identically.
func (k QueryKey) Canonical() string {
	b, err := json.Marshal([]any(k))
	if err != nil {
		return fmt.Sprintf("%v", []any(k))
	}
	return string(b)
}

// Module returns the leading segment as a string, or "" when the key is
// empty or its first segment is not textual.
func (k QueryKey) Module() string {
	if len(k) == 0 {
		return ""
	}
	return segmentText(k[0])
}

// Equal reports structural equality with other.
func (k QueryKey) Equal(other QueryKey) bool {
	return k.Canonical() == other.Canonical()
}

// ModuleKey returns the one-segment key naming just the owning module.
func (k QueryKey) ModuleKey() QueryKey {
	if len(k) == 0 {
		return QueryKey{}
	}
	return QueryKey{k[0]}
}

func segmentText(seg any) string {
	switch s := seg.(type) {
	case string:
		return s
	case fmt.Stringer:
		return s.String()
	default:
		return ""
	}
}

func (k QueryKey) lastText() string {
	if len(k) == 0 {
		return ""
	}
	return segmentText(k[len(k)-1])
}

// keyRule is one classification rule. Rules are evaluated in order and the
// first match wins, so non-critical markers override critical ones.
type keyRule struct {
	name     string
	critical bool
	match    func(QueryKey) bool
}

var classificationRules = []keyRule{
	{
		name: "collection-marker",
		match: func(k QueryKey) bool {
			switch k.lastText() {
			case "list", "lists", "detail", "details":
				return true
			}
			return false
		},
	},
	{
		name: "search-segment",
		match: func(k QueryKey) bool {
			for _, seg := range k {
				if strings.Contains(segmentText(seg), "search") {
					return true
				}
			}
			return false
		},
	},
	{
		name:     "critical-marker",
		critical: true,
		match: func(k QueryKey) bool {
			switch k.lastText() {
			case "stats", "profile", "permissions", "settings":
				return true
			}
			return false
		},
	},
	{
		name:     "critical-module",
		critical: true,
		match: func(k QueryKey) bool {
			switch k.Module() {
			case "auth", "user":
				return true
			}
			return false
		},
	},
}

// Critical reports whether entries under this key are exempt from age
// cleanup and eviction and included in critical-only persistence.
func (k QueryKey) Critical() bool {
	for _, rule := range classificationRules {
		if rule.match(k) {
			return rule.critical
		}
	}
	return false
}
