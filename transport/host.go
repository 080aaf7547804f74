package transport

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// Host describes one backend node. It is owned by the caller and treated
// as immutable for the lifetime of the Transport that references it.
type Host struct {
	Protocol string // "http" or "https", a trailing ":" is tolerated
	Hostname string
	Port     int
	Path     string // base path prepended to every request path

	// TLS carries the caller-supplied TLS options. It is consulted only
	// when the scheme is https.
	TLS *tls.Config

	Headers map[string]string // default headers sent with every request
	Query   url.Values        // default query parameters merged into every request
}

// scheme normalizes and validates the host protocol against the closed
// set of supported schemes.
func (h *Host) scheme() (string, error) {
	p := strings.TrimSuffix(strings.ToLower(h.Protocol), ":")
	switch p {
	case "http", "https":
		return p, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedProtocol, h.Protocol)
}

func (h *Host) secure() bool {
	s, _ := h.scheme()
	return s == "https"
}

// Addr returns the dialable host:port address of the node.
func (h *Host) Addr() string {
	return net.JoinHostPort(h.Hostname, strconv.Itoa(h.Port))
}

// URL renders the node base URL, mainly for logging and CLI output.
func (h *Host) URL() string {
	s, err := h.scheme()
	if err != nil {
		s = strings.TrimSuffix(h.Protocol, ":")
	}
	return fmt.Sprintf("%s://%s%s", s, h.Addr(), h.Path)
}

func (h *Host) String() string { return h.URL() }

// HeadersWith merges the host default headers with per-request overrides.
// Overrides win on conflicting keys. The returned map is a fresh copy.
func (h *Host) HeadersWith(overrides map[string]string) map[string]string {
	merged := make(map[string]string, len(h.Headers)+len(overrides))
	for k, v := range h.Headers {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return merged
}

// QueryWith merges the host default query parameters with per-request
// overrides. Overrides win on conflicting keys.
func (h *Host) QueryWith(overrides url.Values) url.Values {
	merged := make(url.Values, len(h.Query)+len(overrides))
	for k, vs := range h.Query {
		merged[k] = append([]string(nil), vs...)
	}
	for k, vs := range overrides {
		merged[k] = append([]string(nil), vs...)
	}
	return merged
}

// tlsConfig builds the connection TLS options for an https host. The
// caller-supplied config is cloned so dialing never mutates it.
func (h *Host) tlsConfig() *tls.Config {
	cfg := &tls.Config{}
	if h.TLS != nil {
		cfg = h.TLS.Clone()
	}
	if cfg.ServerName == "" {
		cfg.ServerName = h.Hostname
	}
	return cfg
}

// ParseHost builds a Host from a node URL such as "https://localhost:9200".
func ParseHost(rawURL string) (*Host, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("could not parse node url: %w", err)
	}

	port := 9200
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("could not parse node port: %w", err)
		}
	}

	return &Host{
		Protocol: u.Scheme,
		Hostname: u.Hostname(),
		Port:     port,
		Path:     strings.TrimSuffix(u.Path, "/"),
		Query:    u.Query(),
	}, nil
}
