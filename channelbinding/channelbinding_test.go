package channelbinding

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/binary"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testFingerprint = "00:11:22:33:44:55:66:77:88:99:AA:BB:CC:DD:EE:FF"

func newTestCert(t *testing.T, alg x509.SignatureAlgorithm) *x509.Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber:       big.NewInt(1),
		Subject:            pkix.Name{CommonName: "MosIsley.ursa.minor"},
		NotBefore:          time.Now().Add(-time.Hour),
		NotAfter:           time.Now().Add(time.Hour),
		SignatureAlgorithm: alg,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return cert
}

func TestApplicationData(t *testing.T) {
	digest, err := ParseFingerprint(testFingerprint)
	require.NoError(t, err)
	require.Len(t, digest, 16)

	got := ApplicationData(digest)
	assert.Equal(t, append([]byte(EndpointPrefix), digest...), got)
	assert.Equal(t, got, ApplicationData(digest), "must be deterministic")
}

func TestApplicationData_Empty(t *testing.T) {
	assert.Empty(t, ApplicationData(nil))
	assert.Empty(t, ApplicationData([]byte{}))
}

func TestPack_Layout(t *testing.T) {
	appData := ApplicationData([]byte{0xde, 0xad, 0xbe, 0xef})
	packed := Pack(appData)

	require.Len(t, packed, HeaderSize+len(appData))
	for i := 0; i < 6; i++ {
		assert.Zero(t, binary.LittleEndian.Uint32(packed[i*4:]), "field %d", i)
	}
	assert.Equal(t, uint32(len(appData)), binary.LittleEndian.Uint32(packed[24:28]))
	assert.Equal(t, uint32(HeaderSize), binary.LittleEndian.Uint32(packed[28:32]))
	assert.Equal(t, appData, packed[HeaderSize:])
}

func TestPack_Empty(t *testing.T) {
	assert.Nil(t, Pack(nil))
}

func TestUnpack(t *testing.T) {
	appData := ApplicationData([]byte("digest"))
	got, err := Unpack(Pack(appData))
	require.NoError(t, err)
	assert.Equal(t, appData, got)

	_, err = Unpack([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrMalformed)

	bad := Pack(appData)
	binary.LittleEndian.PutUint32(bad[24:28], 1000)
	_, err = Unpack(bad)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestGSSHash(t *testing.T) {
	appData := []byte("tls-server-end-point:test")
	h := GSSHash(appData)
	assert.Len(t, h, 16)
	assert.Equal(t, h, GSSHash(appData))
	assert.NotEqual(t, h, GSSHash([]byte("tls-server-end-point:other")))
}

func TestCertificateDigest(t *testing.T) {
	tests := []struct {
		name string
		alg  x509.SignatureAlgorithm
		want func([]byte) []byte
	}{
		{
			name: "sha256 signature",
			alg:  x509.ECDSAWithSHA256,
			want: func(b []byte) []byte { s := sha256.Sum256(b); return s[:] },
		},
		{
			name: "sha384 signature",
			alg:  x509.ECDSAWithSHA384,
			want: func(b []byte) []byte { s := sha512.Sum384(b); return s[:] },
		},
		{
			name: "sha512 signature",
			alg:  x509.ECDSAWithSHA512,
			want: func(b []byte) []byte { s := sha512.Sum512(b); return s[:] },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cert := newTestCert(t, tt.alg)
			assert.Equal(t, tt.want(cert.Raw), CertificateDigest(cert))
		})
	}
}

func TestFromConnectionState(t *testing.T) {
	_, err := FromConnectionState(nil)
	assert.ErrorIs(t, err, ErrNoPeerCertificate)

	_, err = FromConnectionState(&tls.ConnectionState{})
	assert.ErrorIs(t, err, ErrNoPeerCertificate)

	cert := newTestCert(t, x509.ECDSAWithSHA256)
	digest, err := FromConnectionState(&tls.ConnectionState{PeerCertificates: []*x509.Certificate{cert}})
	require.NoError(t, err)
	assert.Equal(t, CertificateDigest(cert), digest)
}

func TestParseFingerprint(t *testing.T) {
	got, err := ParseFingerprint("0a:FF")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x0a, 0xff}, got)

	got, err = ParseFingerprint("")
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = ParseFingerprint("zz:01")
	assert.Error(t, err)
}
