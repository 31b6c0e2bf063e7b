// Package sso turns security provider tokens into HTTP authentication
// headers and drives the NTLM or Negotiate handshake for one connection.
//
// An AuthContext moves through Created, RequestSent, ResponseReceived and
// Complete, and ends in Freed. It owns a credential and context handle in its
// provider binding until Free is called.
//
// # Usage
//
//	ctx, err := sso.NewNative(provider.NTLM,
//	    sso.WithTargetHost("intranet.corp.example"),
//	    sso.WithPeerCertificate(resp.TLS.PeerCertificates[0]))
//	if err != nil {
//	    return err
//	}
//	defer ctx.Free()
//
//	req1, _ := ctx.CreateAuthRequestHeader()          // Authorization: NTLM TlRMTVNT...
//	resp1 := send(req1)                               // 401, WWW-Authenticate: NTLM ...
//	req2, err := ctx.CreateAuthResponseHeader(resp1)  // "" means send nothing more
//
// # Errors
//
// Provider failures surface as *provider.ProviderError. When the provider
// refuses an NTLMv1 challenge the error is a *DowngradeError matching
// ErrNTLMv1Downgrade. Nothing is retried.
package sso
