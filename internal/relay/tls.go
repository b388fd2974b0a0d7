package relay

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"time"

	"github.com/quic-go/quic-go"
)

const (
	alpnProtocol    = "ardrone-relay-v1"
	exporterLabel   = "ardrone-relay-auth-v1"
	relayServerName = "ardrone-relay"

	// A new certificate is made on every Listen.
	certLifetime = 7 * 24 * time.Hour
)

// relayCert returns a throwaway certificate for one relay run. Clients do not
// verify it; the passkey token is what authenticates the relay.
func relayCert(now time.Time) (tls.Certificate, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("relay key: %w", err)
	}
	serial := make([]byte, 16)
	if _, err := rand.Read(serial); err != nil {
		return tls.Certificate{}, fmt.Errorf("relay cert serial: %w", err)
	}

	tmpl := &x509.Certificate{
		SerialNumber:          new(big.Int).SetBytes(serial),
		Subject:               pkix.Name{CommonName: relayServerName},
		DNSNames:              []string{relayServerName},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(certLifetime),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, key.Public(), key)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("relay cert: %w", err)
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}, nil
}

// relayTLS returns the TLS 1.3 settings for the relay. A nil cert selects
// the client side.
func relayTLS(cert *tls.Certificate) *tls.Config {
	cfg := &tls.Config{
		ServerName: relayServerName,
		NextProtos: []string{alpnProtocol},
		MinVersion: tls.VersionTLS13,
	}
	if cert != nil {
		cfg.Certificates = []tls.Certificate{*cert}
	} else {
		cfg.InsecureSkipVerify = true
	}
	return cfg
}

func quicConfig() *quic.Config {
	return &quic.Config{
		MaxIdleTimeout:  30 * time.Second,
		KeepAlivePeriod: 5 * time.Second,
	}
}

// sessionMaterial is the per-connection secret the auth token is keyed on.
// Both ends derive the same bytes from the TLS session.
func sessionMaterial(qconn *quic.Conn) ([]byte, error) {
	state := qconn.ConnectionState()
	return state.TLS.ExportKeyingMaterial(exporterLabel, []byte(alpnProtocol), sha256.Size)
}
