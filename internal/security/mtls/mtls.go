// Package mtls builds the listener's TLS configuration, optionally
// requiring viewer client certificates.
package mtls

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"net"
	"os"
	"time"
)

const selfSignedValidity = 365 * 24 * time.Hour

var (
	ErrCANotFound     = errors.New("CA certificate not found")
	ErrInvalidCert    = errors.New("invalid certificate")
	ErrCertLoadFailed = errors.New("failed to load certificate")
	ErrNoCertificate  = errors.New("no server certificate configured")
)

// ServerPaths holds the paths to the listener's certificate files.
type ServerPaths struct {
	Cert     string
	Key      string
	ClientCA string
}

// NewServerTLSConfig creates the listener TLS configuration. The key pair
// comes from paths or, when selfSigned is set and no pair is configured,
// from SelfSigned. A ClientCA enables mutual TLS.
func NewServerTLSConfig(paths ServerPaths, selfSigned bool) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
	}

	switch {
	case paths.Cert != "" && paths.Key != "":
		cert, err := tls.LoadX509KeyPair(paths.Cert, paths.Key)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCertLoadFailed, err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	case selfSigned:
		cert, _, err := SelfSigned()
		if err != nil {
			return nil, err
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	default:
		return nil, ErrNoCertificate
	}

	if paths.ClientCA != "" {
		pool, err := loadCertPool(paths.ClientCA)
		if err != nil {
			return nil, err
		}
		tlsConfig.ClientCAs = pool
		tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
	}

	return tlsConfig, nil
}

// loadCertPool reads a PEM bundle into a certificate pool.
func loadCertPool(caPath string) (*x509.CertPool, error) {
	caCert, err := os.ReadFile(caPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrCANotFound
		}
		return nil, fmt.Errorf("reading CA cert: %w", err)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("%w: failed to parse CA certificate", ErrInvalidCert)
	}
	return pool, nil
}

// SelfSigned generates an ephemeral ECDSA P-256 certificate valid for one
// year for localhost, the loopback addresses and every interface address.
// It returns the SHA-256 fingerprint of the certificate in hex.
func SelfSigned() (tls.Certificate, string, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, "", fmt.Errorf("generate key: %w", err)
	}

	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return tls.Certificate{}, "", fmt.Errorf("generate serial: %w", err)
	}

	now := time.Now()
	tmpl := &x509.Certificate{
		SerialNumber:          serialNumber,
		NotBefore:             now,
		NotAfter:              now.Add(selfSignedValidity),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{"localhost"},
		IPAddresses:           []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
	}

	if addrs, err := net.InterfaceAddrs(); err == nil {
		for _, a := range addrs {
			if ipNet, ok := a.(*net.IPNet); ok && !ipNet.IP.IsLoopback() {
				tmpl.IPAddresses = append(tmpl.IPAddresses, ipNet.IP)
			}
		}
	}

	certDER, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, "", fmt.Errorf("create certificate: %w", err)
	}

	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return tls.Certificate{}, "", fmt.Errorf("marshal key: %w", err)
	}

	cert, err := tls.X509KeyPair(
		pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER}),
		pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}),
	)
	if err != nil {
		return tls.Certificate{}, "", fmt.Errorf("load key pair: %w", err)
	}

	return cert, fmt.Sprintf("%X", sha256.Sum256(certDER)), nil
}

// CertExpiry returns the expiration time of the leaf certificate in tlsConfig.
func CertExpiry(tlsConfig *tls.Config) (time.Time, error) {
	if tlsConfig == nil || len(tlsConfig.Certificates) == 0 {
		return time.Time{}, ErrNoCertificate
	}

	cert := tlsConfig.Certificates[0]
	if cert.Leaf != nil {
		return cert.Leaf.NotAfter, nil
	}
	if len(cert.Certificate) == 0 {
		return time.Time{}, ErrNoCertificate
	}

	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing certificate: %w", err)
	}
	return leaf.NotAfter, nil
}

// Fingerprint returns the SHA-256 fingerprint, in hex, of the leaf
// certificate in tlsConfig. Viewers pin it when trusting a self-signed host.
func Fingerprint(tlsConfig *tls.Config) (string, error) {
	if tlsConfig == nil || len(tlsConfig.Certificates) == 0 || len(tlsConfig.Certificates[0].Certificate) == 0 {
		return "", ErrNoCertificate
	}
	return fmt.Sprintf("%X", sha256.Sum256(tlsConfig.Certificates[0].Certificate[0])), nil
}

// GetCertExpiry returns the expiration time of the PEM certificate at certPath.
func GetCertExpiry(certPath string) (string, error) {
	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return "", fmt.Errorf("reading certificate: %w", err)
	}

	block, _ := pem.Decode(certPEM)
	if block == nil {
		return "", errors.New("failed to parse certificate PEM")
	}

	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return "", fmt.Errorf("parsing certificate: %w", err)
	}

	return cert.NotAfter.Format("2006-01-02 15:04:05"), nil
}
