// Package origin implements the browser Origin policy shared by the HTTP API
// and the WebSocket upgrade.
package origin

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Wildcard allows every origin when present in an allow list.
const Wildcard = "*"

// Policy decides which browser origins may talk to the service.
//
// An empty Allowed list means same-host only: the origin's host[:port] must
// match the request's Host header, with default ports treated as equivalent.
// Scheme is ignored for that comparison so the service can sit behind a
// TLS-terminating proxy.
type Policy struct {
	Allowed []string
}

// Check reports whether a request carrying originHeader for requestHost is
// allowed. It returns the normalized origin for CORS echoing.
func (p Policy) Check(originHeader, requestHost string) (string, bool) {
	normalized, host, ok := Normalize(originHeader)
	if !ok {
		return "", false
	}
	if len(p.Allowed) > 0 {
		for _, allowed := range p.Allowed {
			if allowed == Wildcard || allowed == normalized {
				return normalized, true
			}
		}
		return "", false
	}

	scheme, _, found := strings.Cut(normalized, "://")
	if !found {
		// "null" never matches a host.
		return "", false
	}
	reqHost, ok := canonicalAuthority(strings.ToLower(strings.TrimSpace(requestHost)), scheme)
	if !ok || reqHost != host {
		return "", false
	}
	return normalized, true
}

// Normalize validates a browser Origin header and returns it as
// scheme://host[:port] along with the host[:port] part. "null" is accepted
// and returned unchanged with an empty host.
func Normalize(raw string) (normalized, host string, ok bool) {
	trimmed := strings.TrimSpace(raw)
	switch trimmed {
	case "":
		return "", "", false
	case "null":
		return "null", "", true
	}

	u, err := url.Parse(trimmed)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", "", false
	}
	if u.User != nil || u.RawQuery != "" || u.Fragment != "" || (u.Path != "" && u.Path != "/") {
		return "", "", false
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", "", false
	}

	host, ok = canonicalAuthority(u.Host, scheme)
	if !ok {
		return "", "", false
	}
	return scheme + "://" + host, host, true
}

// ParseList parses a comma-separated allow list. Entries are normalized;
// "*" is kept as is.
func ParseList(raw string) ([]string, error) {
	var out []string
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		switch entry {
		case "":
			continue
		case Wildcard:
			out = append(out, entry)
			continue
		}
		normalized, _, ok := Normalize(entry)
		if !ok || normalized == "null" {
			return nil, fmt.Errorf("invalid origin %q (expected full origin like https://example.com)", entry)
		}
		out = append(out, normalized)
	}
	return out, nil
}

// canonicalAuthority lowercases the hostname, drops the scheme's default port
// and re-brackets IPv6 literals.
func canonicalAuthority(authority, scheme string) (string, bool) {
	hostname, rawPort, ok := splitAuthority(authority)
	if !ok {
		return "", false
	}
	hostname = strings.ToLower(hostname)
	if hostname == "" {
		return "", false
	}

	var port uint64
	if rawPort != "" {
		n, err := strconv.ParseUint(rawPort, 10, 16)
		if err != nil || n == 0 {
			return "", false
		}
		port = n
	}
	if (scheme == "http" && port == 80) || (scheme == "https" && port == 443) {
		port = 0
	}

	if strings.Contains(hostname, ":") {
		hostname = "[" + hostname + "]"
	}
	if port != 0 {
		return hostname + ":" + strconv.FormatUint(port, 10), true
	}
	return hostname, true
}

// splitAuthority splits host[:port]. IPv6 hostnames come back unbracketed;
// the port is not validated.
func splitAuthority(authority string) (hostname, port string, ok bool) {
	if authority == "" {
		return "", "", false
	}
	if rest, found := strings.CutPrefix(authority, "["); found {
		hostname, rest, found = strings.Cut(rest, "]")
		if !found {
			return "", "", false
		}
		if rest == "" {
			return hostname, "", true
		}
		port, found = strings.CutPrefix(rest, ":")
		if !found || port == "" {
			return "", "", false
		}
		return hostname, port, true
	}

	switch strings.Count(authority, ":") {
	case 0:
		return authority, "", true
	case 1:
		hostname, port, _ = strings.Cut(authority, ":")
		if hostname == "" || port == "" {
			return "", "", false
		}
		return hostname, port, true
	default:
		// Unbracketed IPv6 is not a valid authority.
		return "", "", false
	}
}
