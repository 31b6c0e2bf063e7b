package provider

import (
	"errors"
	"fmt"
	"runtime"
	"strings"

	"github.com/smnsjas/go-winsso/secbuf"
)

// Package names a security package understood by a Binding.
type Package string

const (
	// NTLM selects the NTLM security package.
	NTLM Package = "NTLM"
	// Negotiate selects SPNEGO, which picks Kerberos or NTLM.
	Negotiate Package = "Negotiate"
)

// ParsePackage accepts "NTLM" or "Negotiate", case-insensitively.
func ParsePackage(s string) (Package, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ntlm":
		return NTLM, nil
	case "negotiate":
		return Negotiate, nil
	default:
		return "", fmt.Errorf("provider: unknown security package %q", s)
	}
}

// Valid reports whether p is one of the supported packages.
func (p Package) Valid() bool {
	return p == NTLM || p == Negotiate
}

// Status is the non-error outcome of InitializeContext.
type Status int

const (
	// StatusComplete means the context is established; the output token, if
	// any, is the last one to send.
	StatusComplete Status = iota
	// StatusContinueNeeded means the output token must be sent and another
	// server token is expected.
	StatusContinueNeeded
)

func (s Status) String() string {
	switch s {
	case StatusComplete:
		return "Complete"
	case StatusContinueNeeded:
		return "ContinueNeeded"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Handle identifies a credential and its security context inside a Binding.
// Handles are never reused once freed.
type Handle uint64

// Binding is the capability interface over an operating system (or library)
// security service provider.
//
// A Binding may be shared by many authentication contexts; implementations
// guard their handle tables. A single Handle is owned by one caller and is
// not safe for concurrent use.
type Binding interface {
	// AcquireCredentials obtains outbound credentials for pkg.
	AcquireCredentials(pkg Package) (Handle, error)

	// QueryMaxTokenLength returns the largest token pkg can produce.
	QueryMaxTokenLength(pkg Package) (uint32, error)

	// InitializeContext drives one handshake step.
	//
	// When in carries no Token buffer the step is a first leg: any context
	// held under h is discarded and a new one started. Otherwise the
	// existing context is continued with the server token. A
	// ChannelBindings buffer in in applies to the step.
	//
	// out holds one Token buffer sized to the max token length; the binding
	// writes the output token into it and records its length.
	InitializeContext(h Handle, targetName string, in, out *secbuf.List) (Status, error)

	// DeleteContext releases the security context under h, if one exists.
	DeleteContext(h Handle) error

	// FreeCredentials releases the credentials under h and retires h.
	FreeCredentials(h Handle) error

	// LogonUserName returns the identity in DOMAIN\user form, or a bare user
	// when no domain is known.
	LogonUserName() (string, error)
}

// ErrUnsupportedPlatform is returned by Native when the operating system has
// no native security service provider.
var ErrUnsupportedPlatform = errors.New("provider: native security provider is only available on Windows")

// Supported reports whether Native can return a binding on this system.
func Supported() bool {
	return runtime.GOOS == "windows"
}

// Status codes reported in ProviderError.Code. Values match the SSPI
// SECURITY_STATUS constants so native codes pass through unchanged.
const (
	CodeInvalidHandle       uint32 = 0x80090301
	CodeUnsupportedFunction uint32 = 0x80090302
	CodeInternalError       uint32 = 0x80090304
	CodeSecPkgNotFound      uint32 = 0x80090305
	CodeInvalidToken        uint32 = 0x80090308
	CodeLogonDenied         uint32 = 0x8009030C
	CodeNoCredentials       uint32 = 0x8009030E
	CodeBufferTooSmall      uint32 = 0x80090321
)

var codeNames = map[uint32]string{
	CodeInvalidHandle:       "SEC_E_INVALID_HANDLE",
	CodeUnsupportedFunction: "SEC_E_UNSUPPORTED_FUNCTION",
	CodeInternalError:       "SEC_E_INTERNAL_ERROR",
	CodeSecPkgNotFound:      "SEC_E_SECPKG_NOT_FOUND",
	CodeInvalidToken:        "SEC_E_INVALID_TOKEN",
	CodeLogonDenied:         "SEC_E_LOGON_DENIED",
	CodeNoCredentials:       "SEC_E_NO_CREDENTIALS",
	CodeBufferTooSmall:      "SEC_E_BUFFER_TOO_SMALL",
}

// ProviderError carries the failing operation and the provider status code.
type ProviderError struct {
	Op   string
	Code uint32
	Err  error
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("provider: %s failed: 0x%08x", e.Op, e.Code)
	if name, ok := codeNames[e.Code]; ok {
		msg += " (" + name + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsCode reports whether err is a ProviderError with the given code.
func IsCode(err error, code uint32) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Code == code
}

// ServicePrincipalName returns "HTTP/" + host, or "" when host is empty.
func ServicePrincipalName(host string) string {
	if host == "" {
		return ""
	}
	return "HTTP/" + host
}

// firstLeg reports whether in carries no server token.
func firstLeg(in *secbuf.List) bool {
	if in == nil {
		return true
	}
	_, ok := in.Find(secbuf.Token)
	return !ok
}

// inputToken returns the server token in in.
func inputToken(in *secbuf.List) []byte {
	if in == nil {
		return nil
	}
	b, ok := in.Find(secbuf.Token)
	if !ok {
		return nil
	}
	return b.Data[:b.Length]
}

// writeToken copies token into the first buffer of out and records its length.
func writeToken(op string, out *secbuf.List, token []byte) error {
	b, err := out.At(0)
	if err != nil {
		return &ProviderError{Op: op, Code: CodeInternalError, Err: err}
	}
	if len(token) > len(b.Data) {
		return &ProviderError{
			Op:   op,
			Code: CodeBufferTooSmall,
			Err:  fmt.Errorf("token of %d bytes exceeds buffer of %d", len(token), len(b.Data)),
		}
	}
	copy(b.Data, token)
	return out.SetLength(0, uint32(len(token)))
}
