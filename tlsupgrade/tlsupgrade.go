// Package tlsupgrade switches a connection's transport from plaintext to
// TLS mid-handshake, preserving any bytes the plaintext packet reader had
// already buffered past the first handshake packet (spec.md §4.6).
//
// It is grounded on the same shape as a prepended-reader: bytes read ahead
// of the switch are replayed to the TLS handshake before the underlying
// connection is read again.
package tlsupgrade

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
)

// Config is the external TLS configuration surface (spec.md §6): the
// server certificate/key on disk, and an optional directory of client
// trust roots.
type Config struct {
	ServerCertPath string
	ServerKeyPath  string
	ClientCertDir  string
	RequireTLS     bool
}

// TLSConfig loads c into a *tls.Config suitable for tls.Server. The key
// file may be PKCS#1 or PKCS#8 (tls.X509KeyPair handles both); encrypted
// keys are rejected by that same loader.
func (c *Config) TLSConfig() (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(c.ServerCertPath, c.ServerKeyPath)
	if err != nil {
		return nil, fmt.Errorf("tlsupgrade: loading server certificate: %w", err)
	}

	cfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}

	if c.ClientCertDir == "" {
		return cfg, nil
	}

	pool := x509.NewCertPool()
	entries, err := os.ReadDir(c.ClientCertDir)
	if err != nil {
		return nil, fmt.Errorf("tlsupgrade: reading client cert dir: %w", err)
	}
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		pem, err := os.ReadFile(filepath.Join(c.ClientCertDir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("tlsupgrade: reading client cert %s: %w", e.Name(), err)
		}
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("tlsupgrade: %s is not a valid PEM certificate", e.Name())
		}
	}
	cfg.ClientCAs = pool
	cfg.ClientAuth = tls.RequireAndVerifyClientCert
	return cfg, nil
}

// prependedReader replays buffered bytes ahead of inner, then reads from
// inner as normal — mirroring the original PrependedReader/Cursor pair.
type prependedReader struct {
	prepended []byte
	inner     io.ReadWriter
}

func (r *prependedReader) Read(p []byte) (int, error) {
	if len(r.prepended) > 0 {
		n := copy(p, r.prepended)
		r.prepended = r.prepended[n:]
		return n, nil
	}
	return r.inner.Read(p)
}

func (r *prependedReader) Write(p []byte) (int, error) {
	return r.inner.Write(p)
}

// Switch wraps rw in a *tls.Conn and runs the server-side handshake,
// replaying prepended (bytes already consumed from rw by the plaintext
// packet reader, e.g. the start of the client's TLS ClientHello) before
// any further reads reach rw.
func Switch(rw io.ReadWriter, prepended []byte, cfg *tls.Config) (*tls.Conn, error) {
	var src io.ReadWriter = rw
	if len(prepended) > 0 {
		src = &prependedReader{prepended: prepended, inner: rw}
	}
	c, _ := rw.(net.Conn)
	conn := tls.Server(readWriteCloser{ReadWriter: src, Conn: c}, cfg)
	if err := conn.Handshake(); err != nil {
		return nil, fmt.Errorf("tlsupgrade: handshake: %w", err)
	}
	return conn, nil
}

// readWriteCloser presents an io.ReadWriter (rw itself or a prependedReader
// over it) as the net.Conn tls.Server requires. Read and Write go to the
// ReadWriter, and Close closes it if it is an io.Closer. The remaining
// net.Conn methods (addresses, deadlines) come from Conn, which is rw when
// rw is a net.Conn and nil otherwise.
type readWriteCloser struct {
	io.ReadWriter
	net.Conn
}

func (r readWriteCloser) Read(p []byte) (int, error)  { return r.ReadWriter.Read(p) }
func (r readWriteCloser) Write(p []byte) (int, error) { return r.ReadWriter.Write(p) }

func (r readWriteCloser) Close() error {
	if c, ok := r.ReadWriter.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
