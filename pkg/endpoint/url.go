package endpoint

import (
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/core-tools/hsu-apphost/pkg/errors"
)

// DefaultLoopbackHost replaces whatever host the application reported
const DefaultLoopbackHost = "localhost"

const schemeSeparator = "://"

// URL is a reachable application address. Scheme and Port are kept exactly as
// the application reported them; only the host is rewritten.
type URL struct {
	Scheme       string
	Host         string
	Port         string
	Path         string
	ReportedHost string
	Raw          string
}

// Normalize rewrites the host of a reported listen address to loopbackHost.
// The scheme is the text before the first colon and the port segment is the
// text from the last colon on, which must be a run of digits optionally
// followed by a path.
func Normalize(raw string, loopbackHost string) (URL, error) {
	if loopbackHost == "" {
		loopbackHost = DefaultLoopbackHost
	}
	text := strings.TrimSpace(raw)

	sep := strings.Index(text, schemeSeparator)
	if sep <= 0 || strings.IndexByte(text, ':') != sep {
		return URL{}, malformed(raw, "missing scheme")
	}
	scheme := text[:sep]

	last := strings.LastIndexByte(text, ':')
	authorityStart := sep + len(schemeSeparator)
	if last < authorityStart {
		return URL{}, malformed(raw, "missing port")
	}

	portSegment := text[last:]
	port, path := splitPort(portSegment[1:])
	if port == "" {
		return URL{}, malformed(raw, "missing port")
	}
	if path != "" && path[0] != '/' {
		return URL{}, malformed(raw, "non-numeric port")
	}

	u := URL{
		Scheme:       scheme,
		Host:         bracketHost(loopbackHost),
		Port:         port,
		Path:         path,
		ReportedHost: text[authorityStart:last],
		Raw:          raw,
	}

	parsed, err := url.Parse(u.String())
	if err != nil || !parsed.IsAbs() || parsed.Port() != port {
		return URL{}, errors.NewMalformedURLError("normalized address is not a valid absolute URL", err).
			WithContext("raw", raw).
			WithContext("normalized", u.String())
	}

	return u, nil
}

func malformed(raw, reason string) *errors.DomainError {
	return errors.NewMalformedURLError("cannot derive endpoint from \""+raw+"\": "+reason, nil).
		WithContext("raw", raw)
}

func splitPort(s string) (port, rest string) {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	return s[:i], s[i:]
}

func bracketHost(host string) string {
	if strings.Contains(host, ":") && !strings.HasPrefix(host, "[") {
		return "[" + host + "]"
	}
	return host
}

// String renders scheme://host:port/path
func (u URL) String() string {
	return u.Scheme + schemeSeparator + u.Host + ":" + u.Port + u.Path
}

// Address is the dialable host:port
func (u URL) Address() string {
	return net.JoinHostPort(strings.Trim(u.Host, "[]"), u.Port)
}

// PortNumber is Port as an integer, 0 if it does not fit
func (u URL) PortNumber() int {
	n, err := strconv.Atoi(u.Port)
	if err != nil {
		return 0
	}
	return n
}

// IsZero reports whether u is the zero URL
func (u URL) IsZero() bool {
	return u.Scheme == "" && u.Port == ""
}
