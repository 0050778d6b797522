package routepath

import (
	"errors"
	"net/url"
	"strings"

	lrerrors "github.com/vango-dev/liveroute/internal/errors"
)

// Segments canonicalises path and returns its decoded segments and query.
// Root yields no segments.
func Segments(path string) ([]string, string, error) {
	res, err := CanonicalizePath(path)
	if err != nil {
		return nil, "", classify(path, err)
	}
	trimmed := strings.TrimPrefix(res.Path, "/")
	if trimmed == "" {
		return nil, res.Query, nil
	}
	raw := strings.Split(trimmed, "/")
	segs := make([]string, len(raw))
	for i, s := range raw {
		d, err := DecodeSegment(s, false)
		if err != nil {
			return nil, "", classify(path, err)
		}
		segs[i] = d
	}
	return segs, res.Query, nil
}

// Join builds an escaped path from segments.
func Join(segments []string) string {
	if len(segments) == 0 {
		return "/"
	}
	var b strings.Builder
	for _, s := range segments {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(s))
	}
	return b.String()
}

// IsRemote reports whether target names another origin: it has a scheme or
// is protocol-relative.
func IsRemote(target string) bool {
	if strings.HasPrefix(target, "//") {
		return true
	}
	u, err := url.Parse(target)
	return err == nil && u.Scheme != ""
}

// IsAbsolute reports whether target is a root-relative path.
func IsAbsolute(target string) bool {
	return strings.HasPrefix(target, "/") && !strings.HasPrefix(target, "//")
}

// Resolve resolves target against the directory named by trail. Absolute
// targets ignore trail. Escaping the root fails with R001; a remote target
// fails with R002.
func Resolve(trail []string, target string) ([]string, string, error) {
	if IsRemote(target) {
		return nil, "", lrerrors.New("R002").WithDetail(target).Wrap(ErrRemoteURL)
	}
	if IsAbsolute(target) {
		return Segments(target)
	}
	return Segments(Join(trail) + "/" + target)
}

// CommonPrefix returns the longest shared prefix of a and b.
func CommonPrefix(a, b []string) []string {
	n := 0
	for n < len(a) && n < len(b) && a[n] == b[n] {
		n++
	}
	return a[:n:n]
}

func classify(path string, err error) error {
	if errors.Is(err, ErrPathEscapesRoot) {
		return lrerrors.New("R001").WithDetail(path).Wrap(err)
	}
	return lrerrors.New("R003").WithDetail(path).Wrap(err)
}
