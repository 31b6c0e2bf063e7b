package provider

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smnsjas/go-winsso/secbuf"
)

const testKrb5Conf = `[libdefaults]
  default_realm = URSA.MINOR
  dns_lookup_kdc = false

[realms]
  URSA.MINOR = {
    kdc = kdc.ursa.minor:88
  }
`

func writeKrb5Conf(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "krb5.conf")
	require.NoError(t, os.WriteFile(path, []byte(testKrb5Conf), 0o600))
	return path
}

func TestNewKerberos_ConfigErrors(t *testing.T) {
	_, err := NewKerberos(KerberosConfig{Krb5ConfPath: filepath.Join(t.TempDir(), "missing.conf")})
	assert.Error(t, err)

	conf := writeKrb5Conf(t)

	_, err = NewKerberos(KerberosConfig{Krb5ConfPath: conf})
	assert.ErrorContains(t, err, "no credentials provided")

	_, err = NewKerberos(KerberosConfig{Krb5ConfPath: conf, KeytabPath: "/nonexistent.keytab"})
	assert.ErrorContains(t, err, "requires a username")

	_, err = NewKerberos(KerberosConfig{Krb5ConfPath: conf, Credentials: &Credentials{Username: "luke"}})
	assert.Error(t, err)
}

func TestNewKerberos_EnvConfig(t *testing.T) {
	t.Setenv("KRB5_CONFIG", writeKrb5Conf(t))

	k, err := NewKerberos(KerberosConfig{Credentials: &Credentials{Username: "luke", Password: "pw"}})
	require.NoError(t, err)
	assert.Equal(t, "URSA.MINOR", k.cfg.Realm)
}

func TestKerberos_Binding(t *testing.T) {
	k, err := NewKerberos(KerberosConfig{
		Krb5ConfPath: writeKrb5Conf(t),
		Credentials:  &Credentials{Username: "luke", Password: "pw"},
	})
	require.NoError(t, err)

	_, err = k.AcquireCredentials(NTLM)
	assert.True(t, IsCode(err, CodeSecPkgNotFound))

	_, err = k.QueryMaxTokenLength(NTLM)
	assert.True(t, IsCode(err, CodeSecPkgNotFound))

	maxTok, err := k.QueryMaxTokenLength(Negotiate)
	require.NoError(t, err)
	assert.Equal(t, uint32(KerberosMaxTokenLength), maxTok)

	h, err := k.AcquireCredentials(Negotiate)
	require.NoError(t, err)

	// No SPN: fails before any network traffic.
	_, err = k.InitializeContext(h, "", nil, outList(t, KerberosMaxTokenLength))
	assert.True(t, IsCode(err, CodeTargetUnknown), "got %v", err)

	// A server token without a first leg is rejected.
	in := challengeList(t, "YII=", nil)
	_, err = k.InitializeContext(h, "HTTP/MosIsley.ursa.minor", in, outList(t, KerberosMaxTokenLength))
	assert.True(t, IsCode(err, CodeInvalidToken), "got %v", err)

	require.NoError(t, k.DeleteContext(h))
	require.NoError(t, k.FreeCredentials(h))
	assert.True(t, IsCode(k.FreeCredentials(h), CodeInvalidHandle))
}

func TestKerberos_ServerNegTokenResp(t *testing.T) {
	tests := []struct {
		name   string
		token  []byte
		code   uint32
		status Status
	}{
		{name: "accept completed", token: []byte{0xa1, 0x07, 0x30, 0x05, 0xa0, 0x03, 0x0a, 0x01, 0x00}, status: StatusComplete},
		{name: "reject", token: []byte{0xa1, 0x07, 0x30, 0x05, 0xa0, 0x03, 0x0a, 0x01, 0x02}, code: CodeLogonDenied},
		{name: "accept incomplete", token: []byte{0xa1, 0x07, 0x30, 0x05, 0xa0, 0x03, 0x0a, 0x01, 0x01}, code: CodeInvalidToken},
		{name: "truncated", token: []byte{0xa1, 0x07, 0x30}, code: CodeInvalidToken},
		{name: "not spnego", token: []byte("NTLMSSP\x00"), code: CodeInvalidToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var logs bytes.Buffer
			k, err := NewKerberos(KerberosConfig{
				Krb5ConfPath: writeKrb5Conf(t),
				Credentials:  &Credentials{Username: "luke", Password: "pw"},
				Logger:       slog.New(slog.NewJSONHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug})),
			})
			require.NoError(t, err)
			h, err := k.AcquireCredentials(Negotiate)
			require.NoError(t, err)
			defer func() { _ = k.FreeCredentials(h) }()

			// Stand in for a first leg that reached the KDC.
			e, err := k.handles.get("test", h)
			require.NoError(t, err)
			e.started = true

			in := secbuf.New(secbuf.MaxBuffers)
			require.NoError(t, in.Append(secbuf.Token, tt.token))
			out := outList(t, KerberosMaxTokenLength)

			status, err := k.InitializeContext(h, "HTTP/MosIsley.ursa.minor", in, out)
			if tt.code != 0 {
				assert.True(t, IsCode(err, tt.code), "got %v", err)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.status, status)
				tok, err := out.CopyOut(0)
				require.NoError(t, err)
				assert.Empty(t, tok)
				assert.Contains(t, logs.String(), "Kerberos context complete")
			}

			// The context is finished either way.
			_, err = k.InitializeContext(h, "HTTP/MosIsley.ursa.minor", in, out)
			assert.True(t, IsCode(err, CodeInvalidToken), "got %v", err)
		})
	}
}

func TestKerberos_LogonUserName(t *testing.T) {
	k, err := NewKerberos(KerberosConfig{
		Krb5ConfPath: writeKrb5Conf(t),
		Credentials:  &Credentials{Username: "luke", Password: "pw"},
	})
	require.NoError(t, err)

	name, err := k.LogonUserName()
	require.NoError(t, err)
	assert.Equal(t, `URSA.MINOR\luke`, name)
}
