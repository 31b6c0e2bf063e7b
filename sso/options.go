package sso

import (
	"crypto/x509"
	"log/slog"
)

// Option configures an AuthContext.
type Option func(*options)

type options struct {
	targetHost string
	digest     []byte
	cert       *x509.Certificate
	logger     *slog.Logger
}

// WithTargetHost sets the FQDN of the server. The service principal name
// becomes "HTTP/" + host.
func WithTargetHost(host string) Option {
	return func(o *options) {
		o.targetHost = host
	}
}

// WithPeerCertificateDigest enables TLS channel binding with a
// tls-server-end-point digest of the server certificate.
func WithPeerCertificateDigest(digest []byte) Option {
	return func(o *options) {
		o.digest = append([]byte(nil), digest...)
	}
}

// WithPeerCertificate enables TLS channel binding for cert, hashing it as
// RFC 5929 prescribes. It overrides WithPeerCertificateDigest.
func WithPeerCertificate(cert *x509.Certificate) Option {
	return func(o *options) {
		o.cert = cert
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}
