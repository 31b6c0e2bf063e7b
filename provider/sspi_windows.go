//go:build windows

package provider

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"syscall"
	"unsafe"

	"github.com/alexbrainman/sspi"
	"golang.org/x/sys/windows"

	"github.com/smnsjas/go-winsso/secbuf"
)

type sspiEntry struct {
	pkg  Package
	cred *sspi.Credentials
	ctx  *sspi.Context
}

// SSPI is the native Windows binding.
type SSPI struct {
	identity *Credentials
	flags    uint32
	logger   *slog.Logger
	handles  handleTable[sspiEntry]
}

// SSPIOption configures an SSPI binding.
type SSPIOption func(*SSPI)

// WithSSPILogger sets the logger for provider diagnostics.
func WithSSPILogger(l *slog.Logger) SSPIOption {
	return func(s *SSPI) {
		s.logger = l
	}
}

// Native returns the SSPI binding using the logged-on user's credentials.
func Native() (Binding, error) {
	return NewSSPI(nil), nil
}

// NewSSPI creates an SSPI binding. A nil identity selects the current logon
// session (single sign-on); otherwise the explicit credentials are used.
func NewSSPI(identity *Credentials, opts ...SSPIOption) *SSPI {
	s := &SSPI{
		identity: identity,
		flags:    uint32(sspi.ISC_REQ_CONNECTION),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// AcquireCredentials implements Binding.
func (s *SSPI) AcquireCredentials(pkg Package) (Handle, error) {
	var (
		cred *sspi.Credentials
		err  error
	)
	if s.identity == nil {
		s.logger.Debug("SSPI acquiring current user credentials", "package", string(pkg))
		cred, err = sspi.AcquireCredentials("", string(pkg), sspi.SECPKG_CRED_OUTBOUND, nil)
	} else {
		domain, user := s.identity.split()
		s.logger.Debug("SSPI acquiring explicit credentials", "package", string(pkg),
			"domain", domain, "username", user)
		identity, idErr := buildAuthIdentity(domain, user, s.identity.Password)
		if idErr != nil {
			return 0, fmt.Errorf("build auth identity: %w", idErr)
		}
		cred, err = sspi.AcquireCredentials("", string(pkg), sspi.SECPKG_CRED_OUTBOUND, identity)
	}
	if err != nil {
		return 0, statusError("AcquireCredentialsHandle", err)
	}
	return s.handles.add(&sspiEntry{pkg: pkg, cred: cred}), nil
}

// QueryMaxTokenLength implements Binding.
func (s *SSPI) QueryMaxTokenLength(pkg Package) (uint32, error) {
	info, err := sspi.QueryPackageInfo(string(pkg))
	if err != nil {
		return 0, statusError("QuerySecurityPackageInfo", err)
	}
	return info.MaxToken, nil
}

// InitializeContext implements Binding.
func (s *SSPI) InitializeContext(h Handle, targetName string, in, out *secbuf.List) (Status, error) {
	const op = "InitializeSecurityContext"

	e, err := s.handles.get(op, h)
	if err != nil {
		return 0, err
	}

	if firstLeg(in) {
		if e.ctx != nil {
			_ = e.ctx.Release()
		}
		e.ctx = sspi.NewClientContext(e.cred, s.flags)
	} else if e.ctx == nil {
		return 0, &ProviderError{Op: op, Code: CodeInvalidHandle, Err: errors.New("no security context to continue")}
	}

	var target *uint16
	if targetName != "" {
		target, err = syscall.UTF16PtrFromString(targetName)
		if err != nil {
			return 0, fmt.Errorf("convert SPN to UTF-16: %w", err)
		}
	}

	inBufs, inDesc := toSecBufferDesc(in)
	outBufs, outDesc := toSecBufferDesc(out)
	ret := e.ctx.Update(target, outDesc, inDesc)
	runtime.KeepAlive(inBufs)
	n := outBufs[0].BufferSize
	s.logger.Debug("SSPI Update result", "returnCode", fmt.Sprintf("0x%x", uint32(ret)), "outputLen", n)

	switch ret {
	case sspi.SEC_E_OK, sspi.SEC_I_CONTINUE_NEEDED:
	case sspi.SEC_I_COMPLETE_NEEDED, sspi.SEC_I_COMPLETE_AND_CONTINUE:
		if cr := sspi.CompleteAuthToken(e.ctx.Handle, outDesc); cr != sspi.SEC_E_OK {
			return 0, &ProviderError{Op: "CompleteAuthToken", Code: uint32(cr)}
		}
		n = outBufs[0].BufferSize
	default:
		return 0, &ProviderError{Op: op, Code: uint32(ret)}
	}

	if err := out.SetLength(0, n); err != nil {
		return 0, &ProviderError{Op: op, Code: CodeBufferTooSmall, Err: err}
	}

	if ret == sspi.SEC_I_CONTINUE_NEEDED || ret == sspi.SEC_I_COMPLETE_AND_CONTINUE {
		return StatusContinueNeeded, nil
	}
	return StatusComplete, nil
}

// DeleteContext implements Binding.
func (s *SSPI) DeleteContext(h Handle) error {
	e, err := s.handles.get("DeleteSecurityContext", h)
	if err != nil {
		return err
	}
	if e.ctx == nil {
		return nil
	}
	ctx := e.ctx
	e.ctx = nil
	if err := ctx.Release(); err != nil {
		return statusError("DeleteSecurityContext", err)
	}
	return nil
}

// FreeCredentials implements Binding.
func (s *SSPI) FreeCredentials(h Handle) error {
	e, err := s.handles.remove("FreeCredentialsHandle", h)
	if err != nil {
		return err
	}
	if e.ctx != nil {
		_ = e.ctx.Release()
		e.ctx = nil
	}
	if err := e.cred.Release(); err != nil {
		return statusError("FreeCredentialsHandle", err)
	}
	return nil
}

// LogonUserName implements Binding using GetUserNameEx(NameSamCompatible).
func (s *SSPI) LogonUserName() (string, error) {
	n := uint32(256)
	for {
		buf := make([]uint16, n)
		err := windows.GetUserNameEx(windows.NameSamCompatible, &buf[0], &n)
		if err == nil {
			return windows.UTF16ToString(buf[:n]), nil
		}
		if !errors.Is(err, windows.ERROR_MORE_DATA) || n <= uint32(len(buf)) {
			return "", statusError("GetUserNameEx", err)
		}
	}
}

// toSecBufferDesc mirrors a buffer list into SSPI buffers. The returned slice
// must stay alive until the provider call returns.
func toSecBufferDesc(l *secbuf.List) ([]sspi.SecBuffer, *sspi.SecBufferDesc) {
	if l == nil || l.Len() == 0 {
		return nil, nil
	}
	bufs := make([]sspi.SecBuffer, l.Len())
	for i := range bufs {
		b, _ := l.At(i)
		bufs[i].Set(uint32(b.Kind), b.Data[:b.Length])
	}
	return bufs, &sspi.SecBufferDesc{
		Version:      sspi.SECBUFFER_VERSION,
		BuffersCount: uint32(len(bufs)),
		Buffers:      &bufs[0],
	}
}

func statusError(op string, err error) error {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return &ProviderError{Op: op, Code: uint32(errno), Err: err}
	}
	return &ProviderError{Op: op, Code: CodeInternalError, Err: err}
}

// buildAuthIdentity creates a SEC_WINNT_AUTH_IDENTITY structure for explicit credentials.
func buildAuthIdentity(domain, username, password string) (*byte, error) {
	d, err := syscall.UTF16FromString(domain)
	if err != nil {
		return nil, fmt.Errorf("encode domain to UTF-16: %w", err)
	}
	u, err := syscall.UTF16FromString(username)
	if err != nil {
		return nil, fmt.Errorf("encode username to UTF-16: %w", err)
	}
	pw, err := syscall.UTF16FromString(password)
	if err != nil {
		return nil, fmt.Errorf("encode password to UTF-16: %w", err)
	}
	identity := &sspi.SEC_WINNT_AUTH_IDENTITY{
		User:           &u[0],
		UserLength:     uint32(len(u) - 1),
		Domain:         &d[0],
		DomainLength:   uint32(len(d) - 1),
		Password:       &pw[0],
		PasswordLength: uint32(len(pw) - 1),
		Flags:          sspi.SEC_WINNT_AUTH_IDENTITY_UNICODE,
	}
	return (*byte)(unsafe.Pointer(identity)), nil
}
