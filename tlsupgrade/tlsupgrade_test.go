package tlsupgrade

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"io"
	"math/big"
	"net"
	"testing"
	"time"
)

func selfSignedCert(t *testing.T) tls.Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "mysrv-test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("CreateCertificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("ParseCertificate: %v", err)
	}
	return tls.Certificate{Certificate: [][]byte{cert.Raw}, PrivateKey: key}
}

// TestSwitchWithPrependedBytes exercises scenario 5 from spec.md §8: the
// client's ClientHello bytes have already been buffered by the plaintext
// reader before the switch happens, and must be replayed to the TLS
// handshake rather than lost.
func TestSwitchWithPrependedBytes(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()

	cert := selfSignedCert(t)
	serverCfg := &tls.Config{Certificates: []tls.Certificate{cert}}
	clientCfg := &tls.Config{InsecureSkipVerify: true}

	serverDone := make(chan error, 1)
	go func() {
		// Simulate the plaintext reader having already consumed the first
		// few bytes of the ClientHello before the switch was triggered.
		peek := make([]byte, 3)
		if _, err := io.ReadFull(serverConn, peek); err != nil {
			serverDone <- err
			return
		}
		tlsConn, err := Switch(serverConn, peek, serverCfg)
		if err != nil {
			serverDone <- err
			return
		}
		defer tlsConn.Close()
		buf := make([]byte, 5)
		if _, err := io.ReadFull(tlsConn, buf); err != nil {
			serverDone <- err
			return
		}
		if string(buf) != "hello" {
			serverDone <- errBadPayload
			return
		}
		serverDone <- nil
	}()

	clientTLS := tls.Client(clientConn, clientCfg)
	if err := clientTLS.Handshake(); err != nil {
		t.Fatalf("client handshake: %v", err)
	}
	if _, err := clientTLS.Write([]byte("hello")); err != nil {
		t.Fatalf("client write: %v", err)
	}

	if err := <-serverDone; err != nil {
		t.Fatalf("server side: %v", err)
	}
}

var errBadPayload = &payloadError{}

type payloadError struct{}

func (e *payloadError) Error() string { return "unexpected payload" }
