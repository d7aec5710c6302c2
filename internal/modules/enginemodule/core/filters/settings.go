// Package filters implements the built-in frame filters and the comb
// detection analyzer. Filter settings are "key=value" pairs joined by ':'.
package filters

import (
	"fmt"
	"strconv"
	"strings"
)

// Settings is a parsed filter settings blob.
type Settings map[string]string

// ParseSettings parses "key=value:key=value". A bare token without '=' is
// stored with an empty value.
func ParseSettings(s string) (Settings, error) {
	out := Settings{}
	s = strings.TrimSpace(s)
	if s == "" {
		return out, nil
	}
	for _, part := range strings.Split(s, ":") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		k, v, _ := strings.Cut(part, "=")
		k = strings.TrimSpace(k)
		if k == "" {
			return nil, fmt.Errorf("empty key in filter settings %q", s)
		}
		out[k] = strings.TrimSpace(v)
	}
	return out, nil
}

// Int returns the integer value of key, or def when the key is absent.
func (s Settings) Int(key string, def int) (int, error) {
	v, ok := s[key]
	if !ok || v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("filter setting %s: %w", key, err)
	}
	return n, nil
}

// String returns the value of key, or def when the key is absent.
func (s Settings) String(key, def string) string {
	if v, ok := s[key]; ok && v != "" {
		return v
	}
	return def
}
