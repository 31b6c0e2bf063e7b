package provider

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/Azure/go-ntlmssp"

	"github.com/smnsjas/go-winsso/channelbinding"
	"github.com/smnsjas/go-winsso/ntlm"
	"github.com/smnsjas/go-winsso/secbuf"
)

// NTLMMaxTokenLength matches the cbMaxToken SSPI reports for NTLM.
const NTLMMaxTokenLength = 2888

type ntlmsspEntry struct {
	started bool
	done    bool
}

// NTLMSSP is a Binding for package NTLM backed by github.com/Azure/go-ntlmssp.
// It authenticates with explicit credentials and works on every platform.
type NTLMSSP struct {
	creds        Credentials
	refuseV1     bool
	domainNeeded bool
	logger       *slog.Logger
	handles      handleTable[ntlmsspEntry]
}

// NTLMSSPOption configures an NTLMSSP binding.
type NTLMSSPOption func(*NTLMSSP)

// WithAllowNTLMv1 lets the binding answer challenges that do not negotiate
// extended session security. By default they are refused with
// CodeUnsupportedFunction, as Windows does at LmCompatibilityLevel 3 and above.
func WithAllowNTLMv1() NTLMSSPOption {
	return func(n *NTLMSSP) {
		n.refuseV1 = false
	}
}

// WithDomainNeeded controls whether the server's target name is sent as the
// user's domain in the authenticate message. Default true.
func WithDomainNeeded(needed bool) NTLMSSPOption {
	return func(n *NTLMSSP) {
		n.domainNeeded = needed
	}
}

// WithNTLMSSPLogger sets the logger for handshake diagnostics.
func WithNTLMSSPLogger(l *slog.Logger) NTLMSSPOption {
	return func(n *NTLMSSP) {
		n.logger = l
	}
}

// NewNTLMSSP creates an NTLM binding for creds.
func NewNTLMSSP(creds Credentials, opts ...NTLMSSPOption) *NTLMSSP {
	n := &NTLMSSP{
		creds:        creds,
		refuseV1:     true,
		domainNeeded: true,
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.logger == nil {
		n.logger = slog.Default()
	}
	return n
}

// AcquireCredentials implements Binding.
func (n *NTLMSSP) AcquireCredentials(pkg Package) (Handle, error) {
	const op = "AcquireCredentialsHandle"
	if pkg != NTLM {
		return 0, &ProviderError{Op: op, Code: CodeSecPkgNotFound, Err: fmt.Errorf("package %q not supported", pkg)}
	}
	if err := n.creds.Validate(); err != nil {
		return 0, &ProviderError{Op: op, Code: CodeNoCredentials, Err: err}
	}
	return n.handles.add(&ntlmsspEntry{}), nil
}

// QueryMaxTokenLength implements Binding.
func (n *NTLMSSP) QueryMaxTokenLength(pkg Package) (uint32, error) {
	if pkg != NTLM {
		return 0, &ProviderError{Op: "QuerySecurityPackageInfo", Code: CodeSecPkgNotFound}
	}
	return NTLMMaxTokenLength, nil
}

// InitializeContext implements Binding.
func (n *NTLMSSP) InitializeContext(h Handle, _ string, in, out *secbuf.List) (Status, error) {
	const op = "InitializeSecurityContext"

	e, err := n.handles.get(op, h)
	if err != nil {
		return 0, err
	}

	if firstLeg(in) {
		domain, _ := n.creds.split()
		msg, err := ntlmssp.NewNegotiateMessage(domain, n.creds.Workstation)
		if err != nil {
			return 0, &ProviderError{Op: op, Code: CodeInternalError, Err: err}
		}
		if err := writeToken(op, out, msg); err != nil {
			return 0, err
		}
		e.started, e.done = true, false
		n.logger.Debug("NTLM negotiate message created", "outputLen", len(msg))
		return StatusContinueNeeded, nil
	}

	if !e.started || e.done {
		return 0, &ProviderError{Op: op, Code: CodeInvalidToken, Err: errors.New("unexpected challenge")}
	}

	challenge := inputToken(in)
	flags, err := ntlm.NegotiateFlags(challenge)
	if err != nil {
		return 0, &ProviderError{Op: op, Code: CodeInvalidToken, Err: err}
	}
	if n.refuseV1 && flags&ntlm.FlagExtendedSessionSecurity == 0 {
		n.logger.Debug("NTLM challenge refused by policy", "flags", fmt.Sprintf("0x%08x", flags))
		return 0, &ProviderError{Op: op, Code: CodeUnsupportedFunction, Err: errors.New("challenge does not negotiate NTLMv2 session security")}
	}

	if cb, ok := in.Find(secbuf.ChannelBindings); ok {
		appData, err := channelbinding.Unpack(cb.Data[:cb.Length])
		if err != nil {
			return 0, &ProviderError{Op: op, Code: CodeInternalError, Err: err}
		}
		challenge, err = ntlm.InjectChannelBindings(challenge, channelbinding.GSSHash(appData))
		if err != nil {
			return 0, &ProviderError{Op: op, Code: CodeInvalidToken, Err: fmt.Errorf("inject channel bindings: %w", err)}
		}
		n.logger.Debug("NTLM channel bindings applied", "appDataLen", len(appData))
	}

	_, user := n.creds.split()
	msg, err := ntlmssp.ProcessChallenge(challenge, user, n.creds.Password, n.domainNeeded)
	if err != nil {
		return 0, &ProviderError{Op: op, Code: CodeInvalidToken, Err: err}
	}
	if err := writeToken(op, out, msg); err != nil {
		return 0, err
	}
	e.done = true
	n.logger.Debug("NTLM authenticate message created", "outputLen", len(msg))
	return StatusComplete, nil
}

// DeleteContext implements Binding.
func (n *NTLMSSP) DeleteContext(h Handle) error {
	e, err := n.handles.get("DeleteSecurityContext", h)
	if err != nil {
		return err
	}
	e.started, e.done = false, false
	return nil
}

// FreeCredentials implements Binding.
func (n *NTLMSSP) FreeCredentials(h Handle) error {
	_, err := n.handles.remove("FreeCredentialsHandle", h)
	return err
}

// LogonUserName implements Binding.
func (n *NTLMSSP) LogonUserName() (string, error) {
	if n.creds.Username == "" {
		return "", &ProviderError{Op: "GetUserNameEx", Code: CodeNoCredentials, Err: errors.New("no username configured")}
	}
	return n.creds.LogonName(), nil
}
