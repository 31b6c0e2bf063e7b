// Package httpauth carries NTLM and Negotiate authentication over net/http.
//
// Transport sends each request unauthenticated first. When the server answers
// 401 with a WWW-Authenticate challenge for the configured package, it runs
// the handshake with a fresh sso.AuthContext on the same connection and
// returns the final response. Channel binding data comes from the TLS
// connection state of the challenge response.
//
// # Usage
//
//	client := httpauth.NewClient(
//	    httpauth.WithPackage(provider.Negotiate),
//	    httpauth.WithAllowedHosts("*.corp.example"),
//	)
//	resp, err := client.Get("https://intranet.corp.example/")
//
// Off Windows, supply a binding explicitly:
//
//	client := httpauth.NewClient(httpauth.WithBinding(func() (provider.Binding, error) {
//	    return provider.NewNTLMSSP(creds), nil
//	}))
package httpauth
