package reconcile

import (
	"net/url"
	"strings"
)

// CleanImageURL validates a candidate generated-image URL. Workflow runs
// that interpolate a missing variable produce URLs containing the literal
// substring "undefined"; that marker is stripped before parsing. The second
// return is false when the remainder does not parse as an absolute URL.
func CleanImageURL(raw string) (string, bool) {
	cleaned := strings.ReplaceAll(strings.TrimSpace(raw), "undefined", "")
	if cleaned == "" {
		return "", false
	}
	u, err := url.Parse(cleaned)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return "", false
	}
	return cleaned, true
}
