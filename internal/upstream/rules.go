package upstream

import (
	"strings"

	"github.com/tidwall/gjson"
)

// Rules is an ordered list of gjson paths tried in priority order when a
// field may appear in more than one place in an upstream body.
type Rules []string

// Find returns the first existing, non-null match.
func (r Rules) Find(data []byte) gjson.Result {
	for _, path := range r {
		res := gjson.GetBytes(data, path)
		if res.Exists() && res.Type != gjson.Null {
			return res
		}
	}
	return gjson.Result{}
}

// String returns the first match that is a non-empty string.
func (r Rules) String(data []byte) string {
	for _, path := range r {
		res := gjson.GetBytes(data, path)
		if res.Type != gjson.String {
			continue
		}
		if v := strings.TrimSpace(res.String()); v != "" {
			return v
		}
	}
	return ""
}

// Exists reports whether any path matches.
func (r Rules) Exists(data []byte) bool {
	return r.Find(data).Exists()
}
