// Package ntlm inspects NTLM (MS-NLMP) messages without implementing the
// protocol's cryptography.
//
// It offers a best-effort NTLMv1 downgrade check used for error reporting,
// framing helpers, and MsvAvChannelBindings injection for libraries that do
// not carry channel bindings themselves.
package ntlm

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// Signature prefixes every NTLM message.
const Signature = "NTLMSSP\x00"

// Message types.
const (
	TypeNegotiate    uint32 = 1
	TypeChallenge    uint32 = 2
	TypeAuthenticate uint32 = 3
)

// Negotiate flags, as read little-endian from the wire.
const (
	FlagUnicode                 uint32 = 0x00000001
	FlagNTLM                    uint32 = 0x00000200
	FlagExtendedSessionSecurity uint32 = 0x00080000
	FlagTargetInfo              uint32 = 0x00800000
)

// NTLM2Key is the bit tested by IsV1Challenge.
const NTLM2Key uint32 = 1 << 19

var (
	// ErrShortMessage is returned for a buffer too small for the field being read.
	ErrShortMessage = errors.New("ntlm: message too short")

	// ErrBadSignature is returned when the buffer does not start with Signature.
	ErrBadSignature = errors.New("ntlm: invalid signature")
)

// MessageType validates the signature and returns the message type.
func MessageType(msg []byte) (uint32, error) {
	if len(msg) < 12 {
		return 0, fmt.Errorf("%w: %d bytes", ErrShortMessage, len(msg))
	}
	if !bytes.Equal(msg[:8], []byte(Signature)) {
		return 0, ErrBadSignature
	}
	return binary.LittleEndian.Uint32(msg[8:12]), nil
}

// NegotiateFlags returns the flags field of a CHALLENGE_MESSAGE.
func NegotiateFlags(challenge []byte) (uint32, error) {
	typ, err := MessageType(challenge)
	if err != nil {
		return 0, err
	}
	if typ != TypeChallenge {
		return 0, fmt.Errorf("ntlm: not a challenge message (type %d)", typ)
	}
	if len(challenge) < 24 {
		return 0, fmt.Errorf("%w: %d bytes", ErrShortMessage, len(challenge))
	}
	return binary.LittleEndian.Uint32(challenge[20:24]), nil
}

// IsV1Challenge reports whether a type 2 message looks like it negotiates
// NTLMv1. It reads the 32-bit word at offset 20 big-endian and reports true
// when NTLM2Key is clear. Messages shorter than 24 bytes are never flagged.
//
// The result only selects an error message and must not gate authentication.
func IsV1Challenge(msg []byte) bool {
	if len(msg) < 24 {
		return false
	}
	flags := binary.BigEndian.Uint32(msg[20:24])
	return flags&NTLM2Key == 0
}
