package metrics

import "strings"

// keySep joins key parts. Parts must not contain it.
const keySep = "\x1f"

// Key is a composite grouping key.
type Key []string

// K builds a Key from parts, replacing any separator found in them.
func K(parts ...string) Key {
	k := make(Key, len(parts))
	for i, p := range parts {
		k[i] = sanitizePart(p)
	}
	return k
}

// Encode renders the key as a single sortable string.
func (k Key) Encode() string {
	return strings.Join(k, keySep)
}

// Part returns the i-th component, or "" when out of range.
func (k Key) Part(i int) string {
	if i < 0 || i >= len(k) {
		return ""
	}
	return k[i]
}

func decodeKey(s string) Key {
	return Key(strings.Split(s, keySep))
}

// sanitizePart strips the separator from free text.
func sanitizePart(s string) string {
	if !strings.Contains(s, keySep) {
		return s
	}
	return strings.ReplaceAll(s, keySep, " ")
}
