package dispatch

import (
	"strings"

	"github.com/spf13/cast"
)

// Settings is the loosely typed config of an integration as stored by the
// authoring UI. Values may arrive as strings or JSON numbers/bools.
type Settings map[string]interface{}

func (s Settings) String(key string) string {
	return strings.TrimSpace(cast.ToString(s[key]))
}

func (s Settings) StringOr(key, def string) string {
	if v := s.String(key); v != "" {
		return v
	}
	return def
}

func (s Settings) IntOr(key string, def int) int {
	v, ok := s[key]
	if !ok || v == nil || v == "" {
		return def
	}
	n, err := cast.ToIntE(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func (s Settings) Bool(key string) bool {
	return cast.ToBool(s[key])
}
