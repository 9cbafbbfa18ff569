package figma

import (
	"errors"
	"net/url"
	"regexp"
	"strings"
)

var ErrInvalidURL = errors.New("not a figma file url")

var fileKeyPattern = regexp.MustCompile(`(?:^|[/.])figma\.com/(?:file|design|proto|board)/([A-Za-z0-9]+)`)

// ParseFileKey extracts the file key from a figma file, design or prototype
// link.
func ParseFileKey(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrInvalidURL
	}
	m := fileKeyPattern.FindStringSubmatch(raw)
	if m == nil {
		return "", ErrInvalidURL
	}
	return m[1], nil
}

// NodeIDFromURL returns the node-id query parameter in API form ("12:34"),
// or "" when the link does not point at a node.
func NodeIDFromURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	id := u.Query().Get("node-id")
	if id == "" {
		id = u.Query().Get("starting-point-node-id")
	}
	return strings.ReplaceAll(id, "-", ":")
}
