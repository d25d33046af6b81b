package crypto

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// spiffeSVID builds a self-signed certificate carrying a spiffe://
// URI SAN and returns it PEM-encoded alongside its PEM-encoded key,
// the shape LoadIdentityFromX509SVID expects to find baked into
// firmware.
func spiffeSVID(t *testing.T) (certPEM, keyPEM []byte) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	spiffeURI, err := url.Parse("spiffe://aacore.example/head-unit/dash-1")
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "dash-1"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
		URIs:         []*url.URL{spiffeURI},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)

	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	return certPEM, keyPEM
}

func TestLoadIdentityFromX509SVIDParsesSpiffeCertificate(t *testing.T) {
	certPEM, keyPEM := spiffeSVID(t)

	id, err := LoadIdentityFromX509SVID(certPEM, keyPEM)
	require.NoError(t, err)
	require.NotNil(t, id.Certificate.Leaf)
	require.Len(t, id.Certificate.Certificate, 1)
	require.NotNil(t, id.Certificate.PrivateKey)
}

func TestLoadIdentityFromX509SVIDRejectsMalformedInput(t *testing.T) {
	_, err := LoadIdentityFromX509SVID([]byte("not a cert"), []byte("not a key"))
	require.Error(t, err)
}

func TestIdentityTLSConfigSkipsPeerVerification(t *testing.T) {
	certPEM, keyPEM := spiffeSVID(t)
	id, err := LoadIdentityFromX509SVID(certPEM, keyPEM)
	require.NoError(t, err)

	cfg := id.TLSConfig()
	require.True(t, cfg.InsecureSkipVerify)
	require.Len(t, cfg.Certificates, 1)
}
