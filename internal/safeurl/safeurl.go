package safeurl

import (
	"net/url"
	"strings"
)

// IsHTTPOrHTTPS returns true if u is a valid URL with scheme http or https.
// Used to reject file://, ftp://, and other schemes that could lead to SSRF or local file access.
func IsHTTPOrHTTPS(u string) bool {
	parsed, err := url.Parse(u)
	if err != nil {
		return false
	}
	s := parsed.Scheme
	return s == "http" || s == "https"
}

// IsAbsolute reports whether s already names its own location: an absolute
// URL ("scheme://host/...") or a protocol-relative one ("//host/...").
// The resolver returns such values unchanged.
func IsAbsolute(s string) bool {
	if strings.HasPrefix(s, "//") {
		return true
	}
	parsed, err := url.Parse(s)
	if err != nil {
		return false
	}
	return parsed.Scheme != "" && parsed.Host != ""
}
