// Package channelbinding builds TLS channel binding data (RFC 5929
// tls-server-end-point) in the layouts consumed by security providers.
//
// # Usage
//
//	digest := channelbinding.CertificateDigest(resp.TLS.PeerCertificates[0])
//	appData := channelbinding.ApplicationData(digest)
//	packed := channelbinding.Pack(appData) // SEC_CHANNEL_BINDINGS
package channelbinding

import (
	"crypto"
	"crypto/md5" // #nosec G501 -- MD5 is mandated by MS-NLMP for MsvAvChannelBindings
	_ "crypto/sha256"
	_ "crypto/sha512"
	"crypto/tls"
	"crypto/x509"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// EndpointPrefix is the RFC 5929 channel binding type prefix.
const EndpointPrefix = "tls-server-end-point:"

// HeaderSize is the size of the SEC_CHANNEL_BINDINGS header: eight uint32 fields.
const HeaderSize = 32

var (
	// ErrNoPeerCertificate is returned when a TLS connection state has no peer certificate.
	ErrNoPeerCertificate = errors.New("channelbinding: no peer certificate")

	// ErrMalformed is returned by Unpack for a structure whose offsets do not fit.
	ErrMalformed = errors.New("channelbinding: malformed SEC_CHANNEL_BINDINGS")
)

// ApplicationData returns "tls-server-end-point:" followed by digest.
// An empty digest yields an empty result, meaning "no channel binding".
func ApplicationData(digest []byte) []byte {
	if len(digest) == 0 {
		return nil
	}
	out := make([]byte, len(EndpointPrefix)+len(digest))
	copy(out, EndpointPrefix)
	copy(out[len(EndpointPrefix):], digest)
	return out
}

// Pack lays out appData as a SEC_CHANNEL_BINDINGS structure.
// https://learn.microsoft.com/en-us/windows/win32/api/sspi/ns-sspi-sec_channel_bindings
//
// All address fields are zero; only the application data length (field 6)
// and offset (field 7) are set. Empty input yields nil.
func Pack(appData []byte) []byte {
	if len(appData) == 0 {
		return nil
	}
	buf := make([]byte, HeaderSize+len(appData))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(len(appData)))
	binary.LittleEndian.PutUint32(buf[28:32], HeaderSize)
	copy(buf[HeaderSize:], appData)
	return buf
}

// Unpack returns the application data held in a SEC_CHANNEL_BINDINGS structure.
func Unpack(buf []byte) ([]byte, error) {
	if len(buf) < HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrMalformed, len(buf))
	}
	length := binary.LittleEndian.Uint32(buf[24:28])
	offset := binary.LittleEndian.Uint32(buf[28:32])
	if uint64(offset)+uint64(length) > uint64(len(buf)) {
		return nil, fmt.Errorf("%w: data [%d:+%d] past end %d", ErrMalformed, offset, length, len(buf))
	}
	out := make([]byte, length)
	copy(out, buf[offset:offset+length])
	return out, nil
}

// GSSHash returns the MD5 of the RFC 2744 gss_channel_bindings_struct holding
// appData with empty initiator and acceptor addresses. NTLM carries this value
// in its MsvAvChannelBindings AV_PAIR.
func GSSHash(appData []byte) []byte {
	buf := make([]byte, 0, 20+len(appData))
	buf = binary.LittleEndian.AppendUint32(buf, 0) // initiator addrtype
	buf = binary.LittleEndian.AppendUint32(buf, 0) // initiator length
	buf = binary.LittleEndian.AppendUint32(buf, 0) // acceptor addrtype
	buf = binary.LittleEndian.AppendUint32(buf, 0) // acceptor length
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(appData)))
	buf = append(buf, appData...)

	sum := md5.Sum(buf) // #nosec G401
	return sum[:]
}

// CertificateDigest hashes the DER encoding of cert as RFC 5929 section 4.1
// prescribes: SHA-384 or SHA-512 when the signature uses them, SHA-256 for
// MD5, SHA-1 and everything else.
func CertificateDigest(cert *x509.Certificate) []byte {
	hashType := crypto.SHA256
	switch cert.SignatureAlgorithm {
	case x509.SHA384WithRSA, x509.ECDSAWithSHA384, x509.SHA384WithRSAPSS:
		hashType = crypto.SHA384
	case x509.SHA512WithRSA, x509.ECDSAWithSHA512, x509.SHA512WithRSAPSS:
		hashType = crypto.SHA512
	}

	h := hashType.New()
	h.Write(cert.Raw)
	return h.Sum(nil)
}

// FromConnectionState returns the endpoint digest of the server's leaf certificate.
func FromConnectionState(cs *tls.ConnectionState) ([]byte, error) {
	if cs == nil || len(cs.PeerCertificates) == 0 {
		return nil, ErrNoPeerCertificate
	}
	return CertificateDigest(cs.PeerCertificates[0]), nil
}

// ParseFingerprint decodes a colon-separated hex fingerprint such as
// "00:11:22:...:FF" into raw digest bytes. Separators are optional.
func ParseFingerprint(s string) ([]byte, error) {
	clean := strings.ReplaceAll(strings.TrimSpace(s), ":", "")
	if clean == "" {
		return nil, nil
	}
	digest, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("parse fingerprint: %w", err)
	}
	return digest, nil
}
