package httpauth

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/smnsjas/go-winsso/provider"
)

// DefaultTimeout is the default HTTP request timeout.
const DefaultTimeout = 60 * time.Second

// ClientOption configures the client built by NewClient.
type ClientOption func(*http.Client, *Transport)

// NewClient returns an http.Client whose transport answers NTLM or
// Negotiate challenges.
func NewClient(opts ...ClientOption) *http.Client {
	auth := &Transport{
		Base: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
			// NTLM authenticates the connection, not the request
			DisableKeepAlives:   false,
			MaxIdleConns:        20,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	client := &http.Client{
		Timeout:   DefaultTimeout,
		Transport: auth,
	}
	for _, opt := range opts {
		opt(client, auth)
	}
	return client
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *http.Client, _ *Transport) {
		c.Timeout = d
	}
}

// WithPackage selects the scheme to answer.
func WithPackage(pkg provider.Package) ClientOption {
	return func(_ *http.Client, t *Transport) {
		t.Package = pkg
	}
}

// WithBinding sets the provider binding factory.
func WithBinding(fn func() (provider.Binding, error)) ClientOption {
	return func(_ *http.Client, t *Transport) {
		t.Binding = fn
	}
}

// WithAllowedHosts restricts which hosts receive credentials.
func WithAllowedHosts(patterns ...string) ClientOption {
	return func(_ *http.Client, t *Transport) {
		t.AllowedHosts = append(t.AllowedHosts, patterns...)
	}
}

// WithLogger sets the logger used for handshake diagnostics.
func WithLogger(l *slog.Logger) ClientOption {
	return func(_ *http.Client, t *Transport) {
		t.Logger = l
	}
}

// WithTransport replaces the round tripper that carries the individual requests.
// TLS options apply only while it is an *http.Transport.
func WithTransport(base http.RoundTripper) ClientOption {
	return func(_ *http.Client, t *Transport) {
		t.Base = base
	}
}

// WithInsecureSkipVerify configures TLS to skip certificate verification.
// WARNING: Only use this for testing. Never use in production.
func WithInsecureSkipVerify(skip bool) ClientOption {
	return func(_ *http.Client, t *Transport) {
		if skip {
			fmt.Fprintf(os.Stderr, "WARNING: TLS certificate verification disabled. This is insecure and should only be used for testing.\n")
		}
		base, ok := httpTransport(t)
		if !ok {
			return
		}
		if base.TLSClientConfig == nil {
			base.TLSClientConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		base.TLSClientConfig.InsecureSkipVerify = skip
	}
}

// WithTLSConfig sets a copy of cfg as the TLS configuration.
// NOTE: MinVersion is raised to TLS 1.2 when lower.
func WithTLSConfig(cfg *tls.Config) ClientOption {
	return func(_ *http.Client, t *Transport) {
		base, ok := httpTransport(t)
		if !ok {
			return
		}
		cfg = cfg.Clone()
		if cfg.MinVersion < tls.VersionTLS12 {
			cfg.MinVersion = tls.VersionTLS12
		}
		base.TLSClientConfig = cfg
	}
}

// httpTransport returns the base when it is an *http.Transport. A custom base
// set with WithTransport is left untouched.
func httpTransport(t *Transport) (*http.Transport, bool) {
	base, ok := t.Base.(*http.Transport)
	if !ok {
		t.logger().Debug("TLS option ignored for custom base round tripper",
			"base", fmt.Sprintf("%T", t.Base))
	}
	return base, ok
}
