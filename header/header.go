// Package header converts security tokens to and from HTTP
// Authorization and WWW-Authenticate header values of the form
// "<scheme> <base64 token>".
package header

import (
	"encoding/base64"
	"errors"
	"regexp"
	"strings"
)

var (
	// ErrMissingPrefix is returned when a header value does not start with the scheme and a space.
	ErrMissingPrefix = errors.New("header: missing scheme prefix")

	// ErrInvalidEncoding is returned when the token is not valid standard base64.
	ErrInvalidEncoding = errors.New("header: invalid token encoding")
)

// DecodeError describes why a header value could not be decoded.
type DecodeError struct {
	Scheme string
	Value  string
	Err    error
}

func (e *DecodeError) Error() string {
	return e.Err.Error() + " (scheme " + e.Scheme + ")"
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Encode returns scheme + " " + base64(token).
func Encode(scheme string, token []byte) string {
	return scheme + " " + base64.StdEncoding.EncodeToString(token)
}

// Decode extracts the token from a header value produced for scheme.
// Matching is case-sensitive; the token ends at the first comma or whitespace.
func Decode(scheme, value string) ([]byte, error) {
	if !strings.HasPrefix(value, scheme+" ") {
		return nil, &DecodeError{Scheme: scheme, Value: value, Err: ErrMissingPrefix}
	}

	m := tokenPattern(scheme).FindStringSubmatch(value)
	if m == nil {
		return nil, &DecodeError{Scheme: scheme, Value: value, Err: ErrMissingPrefix}
	}

	token, err := base64.StdEncoding.DecodeString(m[1])
	if err != nil {
		return nil, &DecodeError{Scheme: scheme, Value: value, Err: errors.Join(ErrInvalidEncoding, err)}
	}
	return token, nil
}

// Select returns the first challenge value that carries a token for scheme.
func Select(values []string, scheme string) (string, bool) {
	for _, v := range values {
		v = strings.TrimSpace(v)
		if strings.HasPrefix(v, scheme+" ") && strings.TrimSpace(v[len(scheme):]) != "" {
			return v, true
		}
	}
	return "", false
}

// Offers reports whether any challenge value names scheme, with or without a token.
// Scheme comparison is case-insensitive here since servers vary in the
// capitalisation of bare challenges.
func Offers(values []string, scheme string) bool {
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			fields := strings.Fields(part)
			if len(fields) > 0 && strings.EqualFold(fields[0], scheme) {
				return true
			}
		}
	}
	return false
}

var patterns = map[string]*regexp.Regexp{
	"NTLM":      regexp.MustCompile(`^NTLM ([^,\s]*)`),
	"Negotiate": regexp.MustCompile(`^Negotiate ([^,\s]*)`),
}

func tokenPattern(scheme string) *regexp.Regexp {
	if re, ok := patterns[scheme]; ok {
		return re
	}
	return regexp.MustCompile(`^` + regexp.QuoteMeta(scheme) + ` ([^,\s]*)`)
}
