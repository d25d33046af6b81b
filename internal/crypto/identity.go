package crypto

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"log/slog"

	"github.com/spiffe/go-spiffe/v2/svid/x509svid"
	"software.sslmate.com/src/go-pkcs12"
)

// Identity holds the head unit's authentication material for the
// control-channel TLS handshake: its own certificate/key pair and any
// CA certificates bundled with a PKCS#12 identity. TLSConfig does not
// use TrustedCAs, since peer verification is disabled.
type Identity struct {
	Certificate tls.Certificate
	TrustedCAs  *x509.CertPool
}

// LoadIdentityFromX509SVID parses a raw PEM certificate chain and key
// — the format an embedder typically ships baked into firmware — the
// same way an SVID would be parsed off the workload API, without
// requiring a running SPIRE agent on the head unit itself.
func LoadIdentityFromX509SVID(certPEM, keyPEM []byte) (Identity, error) {
	// x509svid.Parse takes PKCS#8 keys only; re-encode a SEC1 EC key.
	if block, _ := pem.Decode(keyPEM); block != nil && block.Type == "EC PRIVATE KEY" {
		ecKey, err := x509.ParseECPrivateKey(block.Bytes)
		if err != nil {
			return Identity{}, fmt.Errorf("crypto: parse embedded identity key: %w", err)
		}
		der, err := x509.MarshalPKCS8PrivateKey(ecKey)
		if err != nil {
			return Identity{}, fmt.Errorf("crypto: parse embedded identity key: %w", err)
		}
		keyPEM = pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
	}
	svid, err := x509svid.Parse(certPEM, keyPEM)
	if err != nil {
		return Identity{}, fmt.Errorf("crypto: parse embedded identity: %w", err)
	}

	rawCerts := make([][]byte, len(svid.Certificates))
	for i, cert := range svid.Certificates {
		rawCerts[i] = cert.Raw
	}

	slog.Info("loaded head unit identity", "spiffe_id", svid.ID.String())

	return Identity{
		Certificate: tls.Certificate{
			Certificate: rawCerts,
			PrivateKey:  svid.PrivateKey,
			Leaf:        svid.Certificates[0],
		},
	}, nil
}

// LoadIdentityFromPKCS12 loads an identity from a PKCS#12 bundle, the
// format some head unit vendors ship instead of raw PEM.
func LoadIdentityFromPKCS12(data []byte, password string) (Identity, error) {
	privateKey, cert, caCerts, err := pkcs12.DecodeChain(data, password)
	if err != nil {
		return Identity{}, fmt.Errorf("crypto: decode pkcs12 identity: %w", err)
	}

	pool := x509.NewCertPool()
	for _, ca := range caCerts {
		pool.AddCert(ca)
	}

	return Identity{
		Certificate: tls.Certificate{
			Certificate: [][]byte{cert.Raw},
			PrivateKey:  privateKey,
			Leaf:        cert,
		},
		TrustedCAs: pool,
	}, nil
}

// TLSConfig builds the client-side tls.Config used for the control
// channel handshake: the head unit authenticates with its own
// certificate. Verification of the phone's certificate is disabled by
// design — the phone's session certificate is self-signed and single
// use, and there is no CA hierarchy to validate it against.
func (id Identity) TLSConfig() *tls.Config {
	return &tls.Config{
		Certificates:       []tls.Certificate{id.Certificate},
		MinVersion:         tls.VersionTLS10,
		InsecureSkipVerify: true,
	}
}
