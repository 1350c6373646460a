package dev

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"sync"
	"time"

	"github.com/0chain/errors"

	"github.com/strandnet/strand/code/go/strand.net/sdkcore/rhp"
)

// One self-signed loopback certificate is shared by every in-process host.
// Host identity does not live in TLS here or in production; the post-TLS
// key handshake binds a connection to a host key.
var (
	tlsOnce sync.Once
	tlsCert tls.Certificate
	tlsPool *x509.CertPool
	tlsErr  error
)

func initTLS() {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		tlsErr = errors.Wrap(err, errors.New("dev_tls", "generate key"))
		return
	}

	template := x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{Organization: []string{"strand dev"}},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{"localhost"},
		IPAddresses:           []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
	}
	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		tlsErr = errors.Wrap(err, errors.New("dev_tls", "create certificate"))
		return
	}
	leaf, err := x509.ParseCertificate(certDER)
	if err != nil {
		tlsErr = errors.Wrap(err, errors.New("dev_tls", "parse certificate"))
		return
	}

	tlsCert = tls.Certificate{
		Certificate: [][]byte{certDER},
		PrivateKey:  key,
		Leaf:        leaf,
	}
	tlsPool = x509.NewCertPool()
	tlsPool.AddCert(leaf)
}

// serverTLS is the config in-process hosts listen with.
func serverTLS() (*tls.Config, error) {
	tlsOnce.Do(initTLS)
	if tlsErr != nil {
		return nil, tlsErr
	}
	return &tls.Config{
		Certificates: []tls.Certificate{tlsCert},
		NextProtos:   []string{rhp.ALPN},
		MinVersion:   tls.VersionTLS13,
	}, nil
}

// ClientTLS returns a config trusting exactly the dev certificate. Hand it
// to the dialer to verify in-process hosts through the normal chain checks.
func ClientTLS() (*tls.Config, error) {
	tlsOnce.Do(initTLS)
	if tlsErr != nil {
		return nil, tlsErr
	}
	return &tls.Config{RootCAs: tlsPool.Clone()}, nil
}
