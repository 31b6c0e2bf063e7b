package sso

import (
	"errors"
	"fmt"

	"github.com/smnsjas/go-winsso/provider"
)

var (
	// ErrUnsupportedPlatform is returned by NewNative off Windows.
	ErrUnsupportedPlatform = provider.ErrUnsupportedPlatform

	// ErrUnknownPackage is returned by New for a package other than NTLM or Negotiate.
	ErrUnknownPackage = errors.New("sso: unknown security package")

	// ErrInvalidChallenge is returned when a challenge header does not carry a
	// token for the context's package.
	ErrInvalidChallenge = errors.New("sso: invalid challenge header")

	// ErrUseAfterFree is returned by every operation on a freed context.
	ErrUseAfterFree = errors.New("sso: auth context used after free")

	// ErrInvalidState is returned when an operation is called out of order.
	ErrInvalidState = errors.New("sso: operation not valid in current state")

	// ErrNTLMv1Downgrade matches a *DowngradeError with errors.Is.
	ErrNTLMv1Downgrade = errors.New("sso: NTLMv1 challenge refused")
)

const downgradeMessage = "could not create NTLM type 3 message: " +
	"incoming type 2 message uses NTLMv1, it is likely that the client is prevented from sending such messages; " +
	"update target host to use NTLMv2 (recommended) or adjust LMCompatibilityLevel on the client (insecure)"

// DowngradeError reports that the provider refused an NTLMv1 challenge.
// The message tells an operator how to fix the server or client policy.
type DowngradeError struct {
	// Code is the provider status that triggered the diagnosis.
	Code uint32
	// Err is the underlying provider error.
	Err error
}

func (e *DowngradeError) Error() string {
	return downgradeMessage
}

func (e *DowngradeError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrNTLMv1Downgrade) true.
func (e *DowngradeError) Is(target error) bool {
	return target == ErrNTLMv1Downgrade
}

func invalidState(op string, s State) error {
	return fmt.Errorf("%w: %s in state %s", ErrInvalidState, op, s)
}
