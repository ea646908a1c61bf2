package records

import (
	"strconv"
	"strings"
)

// MangleName returns the next candidate name after a lost conflict.
//
// RFC 6762 §9: "host" becomes "host-2", "host-2" becomes "host-3". A suffix
// that is not the canonical decimal rendering of a number ("host-x",
// "host-07") is kept as part of the name and "-2" is appended.
func MangleName(name string) string {
	base, next := name, 2
	if i := strings.LastIndexByte(name, '-'); i >= 0 {
		suffix := name[i+1:]
		if v, err := strconv.Atoi(suffix); err == nil && strconv.Itoa(v) == suffix {
			base, next = name[:i], v+1
		}
	}
	return base + "-" + strconv.Itoa(next)
}
