package httpauth

import (
	"bytes"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smnsjas/go-winsso/channelbinding"
	"github.com/smnsjas/go-winsso/provider"
	"github.com/smnsjas/go-winsso/secbuf"
)

const v2Challenge = "NTLM TlRMTVNTUAACAAAAFAAUADgAAAAFAIkCU3J2Tm9uY2UAAAAAAAAAAJYAlgBMAAAACgC6RwAAAA9VAFIAUwBBAC0ATQBJAE4ATwBSAAEAEABNAE8AUwBJAFMATABFAFkAAgAUAFUAUgBTAEEALQBNAEkATgBPAFIAAwAmAE0AbwBzAEkAcwBsAGUAeQAuAHUAcgBzAGEALgBtAGkAbgBvAHIABAAUAHUAcgBzAGEALgBtAGkAbgBvAHIABQAUAHUAcgBzAGEALgBtAGkAbgBvAHIABwAIAKUvIxkwMNUBAAAAAA=="

// MockRoundTripper captures requests and returns canned responses
type MockRoundTripper struct {
	RoundTripFunc func(req *http.Request) (*http.Response, error)
}

func (m *MockRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if m.RoundTripFunc != nil {
		return m.RoundTripFunc(req)
	}
	return &http.Response{StatusCode: 200, Body: http.NoBody}, nil
}

func response(status int, challenge ...string) *http.Response {
	h := http.Header{}
	for _, c := range challenge {
		h.Add("WWW-Authenticate", c)
	}
	return &http.Response{StatusCode: status, Header: h, Body: io.NopCloser(strings.NewReader("body"))}
}

func ntlmssp() (provider.Binding, error) {
	return provider.NewNTLMSSP(provider.Credentials{
		Username: "luke",
		Password: "use-the-force",
		Domain:   "URSA-MINOR",
	}), nil
}

// ntlmServer plays the server half of an NTLM handshake and records what it saw.
type ntlmServer struct {
	mu     sync.Mutex
	auths  []string
	bodies []string
}

func (s *ntlmServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	auth := r.Header.Get("Authorization")

	s.mu.Lock()
	s.auths = append(s.auths, auth)
	s.bodies = append(s.bodies, string(body))
	s.mu.Unlock()

	switch {
	case auth == "":
		w.Header().Add("WWW-Authenticate", "Negotiate")
		w.Header().Add("WWW-Authenticate", "NTLM")
		w.WriteHeader(http.StatusUnauthorized)
	case strings.HasPrefix(auth, "NTLM TlRMTVNTUAAB"):
		w.Header().Set("WWW-Authenticate", v2Challenge)
		w.WriteHeader(http.StatusUnauthorized)
	case strings.HasPrefix(auth, "NTLM TlRMTVNTUAAD"):
		_, _ = w.Write([]byte("welcome"))
	default:
		w.WriteHeader(http.StatusBadRequest)
	}
}

func TestTransport_NoChallenge(t *testing.T) {
	called := false
	rt := &Transport{
		Base: &MockRoundTripper{},
		Binding: func() (provider.Binding, error) {
			called = true
			return ntlmssp()
		},
	}

	req, err := http.NewRequest(http.MethodGet, "http://example.com", nil)
	require.NoError(t, err)
	resp, err := rt.RoundTrip(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, called)
}

func TestTransport_FullHandshake(t *testing.T) {
	srv := &ntlmServer{}
	server := httptest.NewServer(srv)
	defer server.Close()

	client := NewClient(WithBinding(ntlmssp), WithPackage(provider.NTLM))
	resp, err := client.Post(server.URL, "text/plain", strings.NewReader("payload"))
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "welcome", string(body))

	require.Len(t, srv.auths, 3)
	assert.Empty(t, srv.auths[0])
	assert.True(t, strings.HasPrefix(srv.auths[1], "NTLM TlRMTVNTUAAB"))
	assert.True(t, strings.HasPrefix(srv.auths[2], "NTLM TlRMTVNTUAAD"))
	assert.Equal(t, []string{"payload", "payload", "payload"}, srv.bodies, "body replayed on every leg")
}

func TestTransport_ChannelBinding(t *testing.T) {
	var type3 []byte
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		switch {
		case auth == "":
			w.Header().Set("WWW-Authenticate", "NTLM")
			w.WriteHeader(http.StatusUnauthorized)
		case strings.HasPrefix(auth, "NTLM TlRMTVNTUAAB"):
			w.Header().Set("WWW-Authenticate", v2Challenge)
			w.WriteHeader(http.StatusUnauthorized)
		default:
			type3, _ = base64.StdEncoding.DecodeString(strings.TrimPrefix(auth, "NTLM "))
		}
	}))
	defer server.Close()

	client := NewClient(WithBinding(ntlmssp), WithTransport(server.Client().Transport))
	resp, err := client.Get(server.URL)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	digest := channelbinding.CertificateDigest(server.Certificate())
	gss := channelbinding.GSSHash(channelbinding.ApplicationData(digest))
	assert.True(t, bytes.Contains(type3, gss), "type 3 message carries the channel binding hash")
}

func TestTransport_PackageNotOffered(t *testing.T) {
	called := false
	rt := &Transport{
		Base: &MockRoundTripper{RoundTripFunc: func(*http.Request) (*http.Response, error) {
			return response(http.StatusUnauthorized, `Basic realm="ursa"`), nil
		}},
		Binding: func() (provider.Binding, error) {
			called = true
			return ntlmssp()
		},
	}

	req, _ := http.NewRequest(http.MethodGet, "http://example.com", nil)
	resp, err := rt.RoundTrip(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.False(t, called)
}

func TestTransport_AllowedHosts(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		allowed bool
	}{
		{"matching subdomain", "http://intranet.corp.example/", true},
		{"other domain", "http://evil.example/", false},
		{"nested subdomain", "http://a.b.corp.example/", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			requests := 0
			rt := &Transport{
				Base: &MockRoundTripper{RoundTripFunc: func(req *http.Request) (*http.Response, error) {
					requests++
					if req.Header.Get("Authorization") != "" {
						return response(http.StatusOK), nil
					}
					return response(http.StatusUnauthorized, "NTLM"), nil
				}},
				Binding:      ntlmssp,
				AllowedHosts: []string{"*.corp.example"},
			}

			req, _ := http.NewRequest(http.MethodGet, tt.url, nil)
			resp, err := rt.RoundTrip(req)
			require.NoError(t, err)
			if tt.allowed {
				assert.Equal(t, http.StatusOK, resp.StatusCode)
				assert.Equal(t, 2, requests)
			} else {
				assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
				assert.Equal(t, 1, requests)
			}
		})
	}
}

func TestTransport_BadAllowPattern(t *testing.T) {
	rt := &Transport{
		Base: &MockRoundTripper{RoundTripFunc: func(*http.Request) (*http.Response, error) {
			return response(http.StatusUnauthorized, "NTLM"), nil
		}},
		Binding:      ntlmssp,
		AllowedHosts: []string{"[unterminated"},
	}

	req, _ := http.NewRequest(http.MethodGet, "http://example.com", nil)
	_, err := rt.RoundTrip(req)
	assert.Error(t, err)
}

func TestTransport_Rejected(t *testing.T) {
	rt := &Transport{
		Base: &MockRoundTripper{RoundTripFunc: func(req *http.Request) (*http.Response, error) {
			if strings.HasPrefix(req.Header.Get("Authorization"), "NTLM TlRMTVNTUAAB") {
				return response(http.StatusUnauthorized, v2Challenge), nil
			}
			return response(http.StatusUnauthorized, "NTLM"), nil
		}},
		Binding: ntlmssp,
	}

	req, _ := http.NewRequest(http.MethodGet, "http://example.com", nil)
	resp, err := rt.RoundTrip(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

// endless keeps asking for more legs.
type endless struct{}

func (endless) AcquireCredentials(provider.Package) (provider.Handle, error) { return 1, nil }
func (endless) QueryMaxTokenLength(provider.Package) (uint32, error)         { return 16, nil }
func (endless) DeleteContext(provider.Handle) error                           { return nil }
func (endless) FreeCredentials(provider.Handle) error                         { return nil }
func (endless) LogonUserName() (string, error)                                { return "leia", nil }

func (endless) InitializeContext(_ provider.Handle, _ string, _, out *secbuf.List) (provider.Status, error) {
	b, err := out.At(0)
	if err != nil {
		return 0, err
	}
	n := copy(b.Data, "more")
	return provider.StatusContinueNeeded, out.SetLength(0, uint32(n))
}

func TestTransport_HandshakeExhausted(t *testing.T) {
	requests := 0
	rt := &Transport{
		Base: &MockRoundTripper{RoundTripFunc: func(*http.Request) (*http.Response, error) {
			requests++
			return response(http.StatusUnauthorized, "Negotiate AQID"), nil
		}},
		Package: provider.Negotiate,
		Binding: func() (provider.Binding, error) { return endless{}, nil },
	}

	req, _ := http.NewRequest(http.MethodGet, "http://example.com", nil)
	_, err := rt.RoundTrip(req)
	assert.ErrorIs(t, err, ErrHandshakeExhausted)
	assert.Equal(t, 1+maxHandshakeLegs, requests)
}

func TestTransport_BindingError(t *testing.T) {
	rt := &Transport{
		Base: &MockRoundTripper{RoundTripFunc: func(*http.Request) (*http.Response, error) {
			return response(http.StatusUnauthorized, "NTLM"), nil
		}},
		Binding: func() (provider.Binding, error) { return nil, provider.ErrUnsupportedPlatform },
	}

	req, _ := http.NewRequest(http.MethodGet, "http://example.com", nil)
	_, err := rt.RoundTrip(req)
	assert.ErrorIs(t, err, provider.ErrUnsupportedPlatform)
}

func TestTransport_BaseError(t *testing.T) {
	boom := errors.New("connection refused")
	rt := &Transport{Base: &MockRoundTripper{RoundTripFunc: func(*http.Request) (*http.Response, error) {
		return nil, boom
	}}}

	req, _ := http.NewRequest(http.MethodGet, "http://example.com", nil)
	_, err := rt.RoundTrip(req)
	assert.ErrorIs(t, err, boom)
}

func TestNewClient_Options(t *testing.T) {
	client := NewClient(WithTimeout(5*time.Second), WithInsecureSkipVerify(true))
	assert.Equal(t, 5*time.Second, client.Timeout)

	rt, ok := client.Transport.(*Transport)
	require.True(t, ok)
	base, ok := rt.Base.(*http.Transport)
	require.True(t, ok)
	assert.True(t, base.TLSClientConfig.InsecureSkipVerify)
	assert.Equal(t, uint16(tls.VersionTLS12), base.TLSClientConfig.MinVersion)
}

func TestNewClient_TLSConfigMinVersion(t *testing.T) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS10}
	client := NewClient(WithTLSConfig(cfg))

	base := client.Transport.(*Transport).Base.(*http.Transport)
	assert.NotSame(t, cfg, base.TLSClientConfig)
	assert.Equal(t, uint16(tls.VersionTLS12), base.TLSClientConfig.MinVersion)
	assert.Equal(t, uint16(tls.VersionTLS10), cfg.MinVersion, "caller config must not change")
}

func TestNewClient_CustomTransportKept(t *testing.T) {
	mock := &MockRoundTripper{}
	cfg := &tls.Config{MinVersion: tls.VersionTLS13}
	client := NewClient(WithTransport(mock), WithTLSConfig(cfg), WithInsecureSkipVerify(false))

	rt := client.Transport.(*Transport)
	assert.Same(t, mock, rt.Base)
	assert.False(t, cfg.InsecureSkipVerify)
}

func TestNewClient_Defaults(t *testing.T) {
	client := NewClient(WithAllowedHosts("*.corp.example"), WithPackage(provider.Negotiate))
	assert.Equal(t, DefaultTimeout, client.Timeout)

	rt := client.Transport.(*Transport)
	assert.Equal(t, provider.Negotiate, rt.Package)
	assert.Equal(t, []string{"*.corp.example"}, rt.AllowedHosts)
}
