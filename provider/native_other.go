//go:build !windows

package provider

// Native reports ErrUnsupportedPlatform on systems without SSPI.
// Use NewNTLMSSP or NewKerberos there.
func Native() (Binding, error) {
	return nil, ErrUnsupportedPlatform
}
