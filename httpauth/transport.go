package httpauth

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gobwas/glob"

	"github.com/smnsjas/go-winsso/channelbinding"
	"github.com/smnsjas/go-winsso/header"
	"github.com/smnsjas/go-winsso/provider"
	"github.com/smnsjas/go-winsso/sso"
)

// maxHandshakeLegs bounds the authenticated requests sent per round trip.
// This prevents infinite loops from misbehaving servers.
const maxHandshakeLegs = 5

// ErrHandshakeExhausted is returned when the server keeps challenging after
// maxHandshakeLegs authenticated requests.
var ErrHandshakeExhausted = errors.New("httpauth: handshake did not complete")

// Transport is an http.RoundTripper that answers NTLM or Negotiate challenges.
//
// Each challenged request gets its own sso.AuthContext, freed before
// RoundTrip returns. The zero value uses http.DefaultTransport, the NTLM
// package and the native provider binding.
type Transport struct {
	// Base performs the individual requests.
	Base http.RoundTripper

	// Package is the scheme to answer. Defaults to provider.NTLM.
	Package provider.Package

	// Binding returns the provider binding for a new handshake.
	// Defaults to provider.Native.
	Binding func() (provider.Binding, error)

	// AllowedHosts restricts which hosts receive credentials. Entries are
	// glob patterns matched against the request host name, with '.' as the
	// separator ("*.corp.example"). An empty list allows every host.
	AllowedHosts []string

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	compileOnce sync.Once
	allowed     []glob.Glob
	compileErr  error
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

func (t *Transport) pkg() provider.Package {
	if t.Package != "" {
		return t.Package
	}
	return provider.NTLM
}

func (t *Transport) logger() *slog.Logger {
	if t.Logger != nil {
		return t.Logger
	}
	return slog.Default()
}

func (t *Transport) binding() (provider.Binding, error) {
	if t.Binding != nil {
		return t.Binding()
	}
	return provider.Native()
}

// hostAllowed reports whether credentials may be sent to host.
func (t *Transport) hostAllowed(host string) (bool, error) {
	t.compileOnce.Do(func() {
		for _, pattern := range t.AllowedHosts {
			g, err := glob.Compile(pattern, '.')
			if err != nil {
				t.compileErr = fmt.Errorf("httpauth: allowed host %q: %w", pattern, err)
				return
			}
			t.allowed = append(t.allowed, g)
		}
	})
	if t.compileErr != nil {
		return false, t.compileErr
	}
	if len(t.allowed) == 0 {
		return true, nil
	}
	for _, g := range t.allowed {
		if g.Match(host) {
			return true, nil
		}
	}
	return false, nil
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	// Buffer the request body upfront so it can be replayed on every leg
	var bodyBytes []byte
	if req.Body != nil && req.Body != http.NoBody {
		var err error
		bodyBytes, err = io.ReadAll(req.Body)
		_ = req.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("httpauth: read request body: %w", err)
		}
	}
	send := func(authorization string) (*http.Response, error) {
		clone := req.Clone(req.Context())
		if bodyBytes != nil {
			clone.Body = io.NopCloser(bytes.NewReader(bodyBytes))
			clone.ContentLength = int64(len(bodyBytes))
			clone.GetBody = func() (io.ReadCloser, error) {
				return io.NopCloser(bytes.NewReader(bodyBytes)), nil
			}
		}
		if authorization != "" {
			clone.Header.Set("Authorization", authorization)
		}
		return t.base().RoundTrip(clone)
	}

	resp, err := send("")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	pkg := t.pkg()
	logger := t.logger()
	if !header.Offers(resp.Header.Values("WWW-Authenticate"), string(pkg)) {
		logger.Debug("challenge does not offer package", "package", string(pkg))
		return resp, nil
	}
	host := req.URL.Hostname()
	ok, err := t.hostAllowed(host)
	if err != nil {
		drain(resp)
		return nil, err
	}
	if !ok {
		logger.Debug("host not in allowlist, not authenticating", "host", host)
		return resp, nil
	}

	opts := []sso.Option{sso.WithTargetHost(host), sso.WithLogger(logger)}
	if digest, err := channelbinding.FromConnectionState(resp.TLS); err == nil {
		opts = append(opts, sso.WithPeerCertificateDigest(digest))
	}
	drain(resp)

	b, err := t.binding()
	if err != nil {
		return nil, fmt.Errorf("httpauth: provider binding: %w", err)
	}
	ctx, err := sso.New(b, pkg, opts...)
	if err != nil {
		return nil, fmt.Errorf("httpauth: %w", err)
	}
	defer func() {
		if err := ctx.Free(); err != nil {
			logger.Debug("free auth context", "error", err)
		}
	}()

	authorization, err := ctx.CreateAuthRequestHeader()
	if err != nil {
		return nil, fmt.Errorf("httpauth: %w", err)
	}

	for leg := 1; leg <= maxHandshakeLegs; leg++ {
		resp, err = send(authorization)
		if err != nil {
			return nil, err
		}
		logger.Debug("handshake leg", "leg", leg, "status", resp.StatusCode, "state", ctx.State().String())
		if resp.StatusCode != http.StatusUnauthorized {
			return resp, nil
		}

		challenge, ok := header.Select(resp.Header.Values("WWW-Authenticate"), string(pkg))
		if !ok {
			// Rejected outright; hand the 401 to the caller.
			return resp, nil
		}
		next, err := ctx.CreateAuthResponseHeader(challenge)
		if err != nil {
			drain(resp)
			return nil, fmt.Errorf("httpauth: %w", err)
		}
		if next == "" {
			return resp, nil
		}
		drain(resp)
		authorization = next
	}

	return nil, fmt.Errorf("%w after %d legs", ErrHandshakeExhausted, maxHandshakeLegs)
}

// drain reads and closes resp.Body so the connection, which NTLM is bound
// to, goes back to the pool.
func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}
