// Package provider binds authentication contexts to a security service
// provider: the native Windows SSPI, or a library-backed implementation for
// hosts without one.
//
// # Bindings
//
//   - Native: Windows SSPI through github.com/alexbrainman/sspi. Uses the
//     credentials of the logged-on user, so no secrets are handled here.
//   - NTLMSSP: explicit credentials through github.com/Azure/go-ntlmssp.
//     Runs everywhere; package NTLM only.
//   - Kerberos: github.com/go-krb5/krb5 with a keytab, credential cache or
//     password; package Negotiate only.
//
// All bindings report failures as *ProviderError carrying an SSPI-style
// status code, so callers can inspect them uniformly.
//
// # Usage
//
//	b, err := provider.Native()
//	if errors.Is(err, provider.ErrUnsupportedPlatform) {
//	    b = provider.NewNTLMSSP(provider.Credentials{Username: "user", Password: pw, Domain: "CORP"})
//	}
package provider
