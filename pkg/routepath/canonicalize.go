// Package routepath canonicalises and resolves route paths.
package routepath

import (
	"errors"
	"net/url"
	"strings"
)

// CanonicalizeResult is a canonical path split from its query.
type CanonicalizeResult struct {
	// Path is the canonical path without query string.
	Path string

	// Query is the query string without the leading "?".
	Query string

	// Changed reports whether canonicalisation modified the path.
	Changed bool
}

// Path errors.
var (
	ErrBackslashInPath       = errors.New("path contains backslash")
	ErrNullByteInPath        = errors.New("path contains null byte")
	ErrInvalidPercentEscape  = errors.New("invalid percent escape sequence")
	ErrPathEscapesRoot       = errors.New("path escapes root via ..")
	ErrEncodedSlashInSegment = errors.New("encoded slash (%2F) in segment")
	ErrRemoteURL             = errors.New("remote URL where a path is required")
)

// CanonicalizePath normalises a URL path:
//   - a trailing slash is removed, except for "/"
//   - repeated slashes collapse
//   - "." segments are dropped and ".." segments pop their parent
//
// Backslashes, NUL bytes, malformed percent escapes and ".." above the root
// are rejected. A query string is split off and kept as is.
func CanonicalizePath(input string) (CanonicalizeResult, error) {
	if input == "" {
		return CanonicalizeResult{Path: "/", Changed: true}, nil
	}

	path, query, _ := strings.Cut(input, "?")

	if strings.Contains(path, "\\") {
		return CanonicalizeResult{}, ErrBackslashInPath
	}
	if strings.Contains(path, "\x00") || strings.Contains(strings.ToUpper(path), "%00") {
		return CanonicalizeResult{}, ErrNullByteInPath
	}
	if strings.Contains(path, "%") {
		if err := validatePercentEscapes(path); err != nil {
			return CanonicalizeResult{}, err
		}
	}

	original := path
	var out []string
	for _, seg := range strings.Split(path, "/") {
		switch seg {
		case "", ".":
		case "..":
			if len(out) == 0 {
				return CanonicalizeResult{}, ErrPathEscapesRoot
			}
			out = out[:len(out)-1]
		default:
			out = append(out, seg)
		}
	}
	path = "/" + strings.Join(out, "/")

	return CanonicalizeResult{
		Path:    path,
		Query:   query,
		Changed: path != original,
	}, nil
}

// validatePercentEscapes checks every % is followed by two hex digits.
func validatePercentEscapes(path string) error {
	for i := 0; i < len(path); i++ {
		if path[i] != '%' {
			continue
		}
		if i+2 >= len(path) || !isHexDigit(path[i+1]) || !isHexDigit(path[i+2]) {
			return ErrInvalidPercentEscape
		}
		i += 2
	}
	return nil
}

func isHexDigit(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

// DecodeSegment percent-decodes one segment. Unless allowSlash is set, a
// decoded "/" is rejected since it would smuggle an extra segment.
func DecodeSegment(segment string, allowSlash bool) (string, error) {
	decoded, err := url.PathUnescape(segment)
	if err != nil {
		return "", ErrInvalidPercentEscape
	}
	if !allowSlash && strings.Contains(decoded, "/") {
		return "", ErrEncodedSlashInSegment
	}
	return decoded, nil
}
