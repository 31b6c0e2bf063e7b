// Package winsso provides client-side Windows integrated authentication
// (NTLM and Negotiate) for HTTP in Go.
//
// It turns security provider tokens into Authorization header values, feeds
// WWW-Authenticate challenges back to the provider, and binds the exchange to
// the TLS channel when a server certificate is known.
//
// # Architecture
//
// The library is organized into layers:
//
//	┌─────────────────────────────────────────────────────────┐
//	│  httpauth/     http.RoundTripper running the handshake  │
//	├─────────────────────────────────────────────────────────┤
//	│  sso/          AuthContext state machine                │
//	├─────────────────────────────────────────────────────────┤
//	│  header/ channelbinding/ secbuf/ ntlm/   codecs         │
//	├─────────────────────────────────────────────────────────┤
//	│  provider/     SSPI (Windows), NTLMSSP, Kerberos        │
//	└─────────────────────────────────────────────────────────┘
//
// # Quick Start
//
//	ctx, err := sso.NewNative(provider.NTLM, sso.WithTargetHost("intranet.corp.example"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer ctx.Free()
//
//	first, _ := ctx.CreateAuthRequestHeader()
//	// send first, read the WWW-Authenticate challenge
//	final, err := ctx.CreateAuthResponseHeader(challenge)
//
// Or let net/http drive it:
//
//	client := httpauth.NewClient(httpauth.WithPackage(provider.Negotiate))
//	resp, err := client.Get("https://intranet.corp.example/")
package winsso
