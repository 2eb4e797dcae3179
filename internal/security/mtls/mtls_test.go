package mtls

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewServerTLSConfigWithCerts(t *testing.T) {
	tmpDir := t.TempDir()

	caCert, caKey := generateTestCA(t)
	serverCert, serverKey := generateTestCert(t, caCert, caKey)

	paths := ServerPaths{
		Cert:     filepath.Join(tmpDir, "server.crt"),
		Key:      filepath.Join(tmpDir, "server.key"),
		ClientCA: filepath.Join(tmpDir, "ca.crt"),
	}
	savePEM(t, paths.Cert, "CERTIFICATE", serverCert)
	savePEM(t, paths.Key, "EC PRIVATE KEY", serverKey)
	savePEM(t, paths.ClientCA, "CERTIFICATE", caCert)

	tlsConfig, err := NewServerTLSConfig(paths, false)
	if err != nil {
		t.Fatalf("NewServerTLSConfig failed: %v", err)
	}

	if tlsConfig.MinVersion != tls.VersionTLS12 {
		t.Errorf("MinVersion = %d, want %d", tlsConfig.MinVersion, tls.VersionTLS12)
	}
	if len(tlsConfig.Certificates) != 1 {
		t.Errorf("Certificates = %d, want 1", len(tlsConfig.Certificates))
	}
	if tlsConfig.ClientAuth != tls.RequireAndVerifyClientCert {
		t.Errorf("ClientAuth = %v, want RequireAndVerifyClientCert", tlsConfig.ClientAuth)
	}
	if tlsConfig.ClientCAs == nil {
		t.Error("ClientCAs should be set")
	}
}

func TestNewServerTLSConfigWithoutClientCA(t *testing.T) {
	tlsConfig, err := NewServerTLSConfig(ServerPaths{}, true)
	if err != nil {
		t.Fatalf("NewServerTLSConfig failed: %v", err)
	}

	if tlsConfig.ClientAuth != tls.NoClientCert {
		t.Errorf("ClientAuth = %v, want NoClientCert", tlsConfig.ClientAuth)
	}
}

func TestNewServerTLSConfigErrors(t *testing.T) {
	tmpDir := t.TempDir()

	invalid := filepath.Join(tmpDir, "invalid.crt")
	if err := os.WriteFile(invalid, []byte("not a cert"), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	tests := []struct {
		name       string
		paths      ServerPaths
		selfSigned bool
		wantErr    error
	}{
		{"no certificate", ServerPaths{}, false, ErrNoCertificate},
		{"bad key pair", ServerPaths{Cert: invalid, Key: invalid}, false, ErrCertLoadFailed},
		{"missing client ca", ServerPaths{ClientCA: filepath.Join(tmpDir, "missing.crt")}, true, ErrCANotFound},
		{"invalid client ca", ServerPaths{ClientCA: invalid}, true, ErrInvalidCert},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewServerTLSConfig(tt.paths, tt.selfSigned)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("NewServerTLSConfig() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSelfSigned(t *testing.T) {
	cert, fingerprint, err := SelfSigned()
	if err != nil {
		t.Fatalf("SelfSigned failed: %v", err)
	}

	if len(fingerprint) != 64 {
		t.Errorf("fingerprint length = %d, want 64 hex chars", len(fingerprint))
	}

	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		t.Fatalf("failed to parse leaf: %v", err)
	}
	if _, ok := leaf.PublicKey.(*ecdsa.PublicKey); !ok {
		t.Errorf("public key = %T, want ECDSA", leaf.PublicKey)
	}
	if err := leaf.VerifyHostname("localhost"); err != nil {
		t.Errorf("VerifyHostname(localhost) = %v", err)
	}
	if err := leaf.VerifyHostname("127.0.0.1"); err != nil {
		t.Errorf("VerifyHostname(127.0.0.1) = %v", err)
	}
	if leaf.NotAfter.Sub(leaf.NotBefore) != selfSignedValidity {
		t.Errorf("validity = %v, want %v", leaf.NotAfter.Sub(leaf.NotBefore), selfSignedValidity)
	}

	got, err := Fingerprint(&tls.Config{Certificates: []tls.Certificate{cert}})
	if err != nil {
		t.Fatalf("Fingerprint failed: %v", err)
	}
	if got != fingerprint {
		t.Errorf("Fingerprint() = %s, want %s", got, fingerprint)
	}
	if _, err := Fingerprint(nil); !errors.Is(err, ErrNoCertificate) {
		t.Errorf("Fingerprint(nil) error = %v, want %v", err, ErrNoCertificate)
	}
}

func TestCertExpiry(t *testing.T) {
	tlsConfig, err := NewServerTLSConfig(ServerPaths{}, true)
	if err != nil {
		t.Fatalf("NewServerTLSConfig failed: %v", err)
	}

	expiry, err := CertExpiry(tlsConfig)
	if err != nil {
		t.Fatalf("CertExpiry failed: %v", err)
	}
	if until := time.Until(expiry); until < 364*24*time.Hour {
		t.Errorf("expiry in %v, want about a year", until)
	}

	if _, err := CertExpiry(&tls.Config{}); !errors.Is(err, ErrNoCertificate) {
		t.Errorf("CertExpiry(empty) error = %v, want %v", err, ErrNoCertificate)
	}
}

func TestGetCertExpiry(t *testing.T) {
	tmpDir := t.TempDir()

	caCert, _ := generateTestCA(t)
	certPath := filepath.Join(tmpDir, "ca.crt")
	savePEM(t, certPath, "CERTIFICATE", caCert)

	expiry, err := GetCertExpiry(certPath)
	if err != nil {
		t.Fatalf("GetCertExpiry failed: %v", err)
	}
	if _, err := time.Parse("2006-01-02 15:04:05", expiry); err != nil {
		t.Errorf("expiry %q has unexpected format: %v", expiry, err)
	}

	invalid := filepath.Join(tmpDir, "invalid.crt")
	if err := os.WriteFile(invalid, []byte("garbage"), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
	if _, err := GetCertExpiry(invalid); err == nil {
		t.Error("GetCertExpiry should fail for invalid PEM")
	}
	if _, err := GetCertExpiry(filepath.Join(tmpDir, "missing.crt")); err == nil {
		t.Error("GetCertExpiry should fail for missing file")
	}
}

func generateTestCA(t *testing.T) ([]byte, *ecdsa.PrivateKey) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			CommonName: "Test CA",
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		IsCA:                  true,
		BasicConstraintsValid: true,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("failed to create certificate: %v", err)
	}

	return certDER, key
}

func generateTestCert(t *testing.T, caCertDER []byte, caKey *ecdsa.PrivateKey) ([]byte, []byte) {
	t.Helper()

	caCert, err := x509.ParseCertificate(caCertDER)
	if err != nil {
		t.Fatalf("failed to parse CA cert: %v", err)
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	template := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject: pkix.Name{
			CommonName: "localhost",
		},
		DNSNames:  []string{"localhost"},
		NotBefore: time.Now(),
		NotAfter:  time.Now().Add(time.Hour),
		KeyUsage:  x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{
			x509.ExtKeyUsageServerAuth,
		},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, caCert, &key.PublicKey, caKey)
	if err != nil {
		t.Fatalf("failed to create certificate: %v", err)
	}

	keyBytes, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatalf("failed to marshal key: %v", err)
	}

	return certDER, keyBytes
}

func savePEM(t *testing.T, path, pemType string, data []byte) {
	t.Helper()

	block := &pem.Block{
		Type:  pemType,
		Bytes: data,
	}
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0600); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}
