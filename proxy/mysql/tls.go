package mysql

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"sync"
	"time"
)

// selfSignedCert is generated once per process: every session's TLS
// switchover reuses the same ephemeral "localhost" certificate rather than
// minting a fresh keypair per connection.
var selfSignedCert = sync.OnceValues(generateSelfSignedCert)

// generateSelfSignedCert creates an in-memory self-signed certificate for
// hostname "localhost" with a fresh ECDSA keypair. The certificate never
// touches disk and is never presented anywhere a real trust decision is
// made; the proxy's TLS is for test environments only.
func generateSelfSignedCert() (tls.Certificate, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("mysql: generate TLS key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("mysql: generate TLS serial: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: "localhost"},
		DNSNames:              []string{"localhost"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &priv.PublicKey, priv)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("mysql: create TLS certificate: %w", err)
	}

	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: priv}, nil
}

// switchoverToTLS re-wraps both of sess's transports in TLS: the client
// side becomes a TLS server (presenting the self-signed
// "localhost" cert), the upstream side becomes a TLS client trusting any
// peer certificate (this proxy is a test harness, not a compliant TLS
// deployment). Both handshakes complete lazily on first I/O against the
// wrapped net.Conn.
func switchoverToTLS(sess *Session) error {
	cert, err := selfSignedCert()
	if err != nil {
		return fmt.Errorf("mysql: TLS switchover: %w", err)
	}

	serverCfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}
	clientCfg := &tls.Config{
		InsecureSkipVerify: true, //nolint:gosec // explicit insecure mode; the upstream's identity is not this proxy's concern
		MinVersion:         tls.VersionTLS12,
	}

	sess.ClientTransport = tls.Server(sess.ClientTransport, serverCfg)
	sess.ServerTransport = tls.Client(sess.ServerTransport, clientCfg)
	return nil
}
