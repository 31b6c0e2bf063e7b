package sso

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/smnsjas/go-winsso/channelbinding"
	"github.com/smnsjas/go-winsso/header"
	"github.com/smnsjas/go-winsso/ntlm"
	"github.com/smnsjas/go-winsso/provider"
	"github.com/smnsjas/go-winsso/secbuf"
)

// AuthContext drives one client-side authentication handshake.
//
// It is not safe for concurrent use. Every context returned by New must be
// released with Free exactly once.
type AuthContext struct {
	id       uuid.UUID
	binding  provider.Binding
	pkg      provider.Package
	target   string
	bindings []byte // packed SEC_CHANNEL_BINDINGS, nil without TLS binding
	handle   provider.Handle
	maxToken uint32
	state    State
	logger   *slog.Logger
}

// New acquires credentials for pkg from b and returns a context in state Created.
func New(b provider.Binding, pkg provider.Package, opts ...Option) (*AuthContext, error) {
	if b == nil {
		return nil, errors.New("sso: nil provider binding")
	}
	if !pkg.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPackage, string(pkg))
	}

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	digest := o.digest
	if o.cert != nil {
		digest = channelbinding.CertificateDigest(o.cert)
	}
	bindings := channelbinding.Pack(channelbinding.ApplicationData(digest))

	maxToken, err := b.QueryMaxTokenLength(pkg)
	if err != nil {
		return nil, fmt.Errorf("query max token length: %w", err)
	}
	h, err := b.AcquireCredentials(pkg)
	if err != nil {
		return nil, fmt.Errorf("acquire credentials: %w", err)
	}

	id := uuid.New()
	c := &AuthContext{
		id:       id,
		binding:  b,
		pkg:      pkg,
		target:   o.targetHost,
		bindings: bindings,
		handle:   h,
		maxToken: maxToken,
		state:    Created,
		logger:   o.logger.With("context_id", id.String(), "package", string(pkg)),
	}
	c.logger.Debug("auth context created",
		"targetHost", o.targetHost,
		"channelBinding", len(bindings) > 0,
		"maxTokenLen", maxToken)
	return c, nil
}

// NewNative is New with the platform's native binding.
func NewNative(pkg provider.Package, opts ...Option) (*AuthContext, error) {
	b, err := provider.Native()
	if err != nil {
		return nil, err
	}
	return New(b, pkg, opts...)
}

// ID returns the correlation id attached to this context's log records.
func (c *AuthContext) ID() uuid.UUID { return c.id }

// Package returns the security package.
func (c *AuthContext) Package() provider.Package { return c.pkg }

// TargetHost returns the configured target host, or "".
func (c *AuthContext) TargetHost() string { return c.target }

// State returns the current lifecycle state.
func (c *AuthContext) State() State { return c.state }

// HasChannelBindings reports whether TLS channel binding data is attached.
func (c *AuthContext) HasChannelBindings() bool { return len(c.bindings) > 0 }

func (c *AuthContext) spn() string {
	return provider.ServicePrincipalName(c.target)
}

func (c *AuthContext) outputList() (*secbuf.List, error) {
	out := secbuf.New(secbuf.MaxBuffers)
	if err := out.Append(secbuf.Token, make([]byte, c.maxToken)); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateAuthRequest produces the first-leg token (an NTLM type 1 message or
// a Negotiate initial token). It may be called again before a challenge is
// answered; each call starts a fresh provider context.
func (c *AuthContext) CreateAuthRequest() ([]byte, error) {
	if c.state == Freed {
		return nil, ErrUseAfterFree
	}
	if c.state != Created && c.state != RequestSent {
		return nil, invalidState("CreateAuthRequest", c.state)
	}

	out, err := c.outputList()
	if err != nil {
		return nil, err
	}
	status, err := c.binding.InitializeContext(c.handle, c.spn(), nil, out)
	if err != nil {
		c.logger.Debug("auth request failed", "error", err)
		return nil, fmt.Errorf("create auth request: %w", err)
	}
	token, err := out.CopyOut(0)
	if err != nil {
		return nil, err
	}

	c.state = RequestSent
	c.logger.Debug("auth request created", "status", status.String(), "outputLen", len(token))
	return token, nil
}

// CreateAuthRequestHeader returns CreateAuthRequest encoded as "<package> <base64>".
func (c *AuthContext) CreateAuthRequestHeader() (string, error) {
	token, err := c.CreateAuthRequest()
	if err != nil {
		return "", err
	}
	return header.Encode(string(c.pkg), token), nil
}

// CreateAuthResponse answers the server challenge in challengeHeader
// ("<package> <base64>"). An empty token with a nil error means the handshake
// finished and nothing more needs to be sent.
func (c *AuthContext) CreateAuthResponse(challengeHeader string) ([]byte, error) {
	if c.state == Freed {
		return nil, ErrUseAfterFree
	}

	challenge, err := header.Decode(string(c.pkg), challengeHeader)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidChallenge, err)
	}
	if len(challenge) == 0 {
		return nil, fmt.Errorf("%w: empty token", ErrInvalidChallenge)
	}
	if c.state != RequestSent && c.state != ResponseReceived {
		return nil, invalidState("CreateAuthResponse", c.state)
	}

	in := secbuf.New(secbuf.MaxBuffers)
	if err := in.Append(secbuf.Token, challenge); err != nil {
		return nil, err
	}
	if len(c.bindings) > 0 {
		if err := in.Append(secbuf.ChannelBindings, c.bindings); err != nil {
			return nil, err
		}
	}
	out, err := c.outputList()
	if err != nil {
		return nil, err
	}

	status, err := c.binding.InitializeContext(c.handle, c.spn(), in, out)
	if err != nil {
		c.state = Complete
		var pe *provider.ProviderError
		if c.pkg == provider.NTLM && errors.As(err, &pe) &&
			pe.Code == provider.CodeUnsupportedFunction && ntlm.IsV1Challenge(challenge) {
			c.logger.Debug("NTLMv1 challenge refused by provider", "code", fmt.Sprintf("0x%x", pe.Code))
			return nil, &DowngradeError{Code: pe.Code, Err: err}
		}
		c.logger.Debug("auth response failed", "error", err)
		return nil, fmt.Errorf("create auth response: %w", err)
	}

	token, err := out.CopyOut(0)
	if err != nil {
		return nil, err
	}
	if status == provider.StatusContinueNeeded && len(token) == 0 {
		c.state = Complete
		c.logger.Debug("auth response failed", "status", status.String(), "outputLen", 0)
		return nil, fmt.Errorf("create auth response: %w", &provider.ProviderError{
			Op:   "InitializeSecurityContext",
			Code: provider.CodeInternalError,
			Err:  errors.New("continue needed without output token"),
		})
	}
	if status == provider.StatusContinueNeeded {
		c.state = ResponseReceived
	} else {
		c.state = Complete
	}
	c.logger.Debug("auth response created", "status", status.String(), "outputLen", len(token))
	return token, nil
}

// CreateAuthResponseHeader is CreateAuthResponse encoded as a header value.
// It returns "" when there is nothing to send.
func (c *AuthContext) CreateAuthResponseHeader(challengeHeader string) (string, error) {
	token, err := c.CreateAuthResponse(challengeHeader)
	if err != nil {
		return "", err
	}
	if len(token) == 0 {
		return "", nil
	}
	return header.Encode(string(c.pkg), token), nil
}

// Free deletes the security context and frees the credentials. Both steps
// are attempted; their errors are joined. A second call returns ErrUseAfterFree.
func (c *AuthContext) Free() error {
	if c.state == Freed {
		return ErrUseAfterFree
	}
	c.state = Freed

	var errs []error
	if err := c.binding.DeleteContext(c.handle); err != nil {
		errs = append(errs, fmt.Errorf("delete context: %w", err))
	}
	if err := c.binding.FreeCredentials(c.handle); err != nil {
		errs = append(errs, fmt.Errorf("free credentials: %w", err))
	}
	c.logger.Debug("auth context freed", "errors", len(errs))
	return errors.Join(errs...)
}

// LogonUserName returns the DOMAIN\user identity b authenticates as.
func LogonUserName(b provider.Binding) (string, error) {
	if b == nil {
		return "", errors.New("sso: nil provider binding")
	}
	return b.LogonUserName()
}

// NativeLogonUserName returns the logged-on user of this process via the native binding.
func NativeLogonUserName() (string, error) {
	b, err := provider.Native()
	if err != nil {
		return "", err
	}
	return LogonUserName(b)
}
