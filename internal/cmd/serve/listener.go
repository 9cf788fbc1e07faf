package serve

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/conversation-identity/internal/config"
	"github.com/soheilhy/cmux"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// Listener is one bound HTTP endpoint serving plaintext (HTTP/1.1 + h2c)
// and/or TLS on the same port.
type Listener struct {
	Addr  net.Addr
	Port  int
	Close func(ctx context.Context) error
}

func startListener(name string, cfg config.ListenerConfig, handler http.Handler) (*Listener, error) {
	if !cfg.EnablePlainText && !cfg.EnableTLS {
		return nil, fmt.Errorf("%s listener requires plaintext and/or tls enabled", name)
	}
	if cfg.ReadHeaderTimeout == 0 {
		cfg.ReadHeaderTimeout = 5 * time.Second
	}

	baseLis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return nil, fmt.Errorf("%s listen failed: %w", name, err)
	}
	muxer := cmux.New(baseLis)

	var servers []*http.Server
	serve := func(srv *http.Server, lis net.Listener, proto string) {
		servers = append(servers, srv)
		go func() {
			if err := srv.Serve(lis); err != nil && err != http.ErrServerClosed {
				log.Error("HTTP server failed", "listener", name, "proto", proto, "err", err)
			}
		}()
	}

	// TLS must be matched before the catch-all plaintext matcher.
	if cfg.EnableTLS {
		cert, err := loadServerCertificate(cfg.TLSCertFile, cfg.TLSKeyFile)
		if err != nil {
			_ = baseLis.Close()
			return nil, err
		}
		tlsLis := tls.NewListener(muxer.Match(cmux.TLS()), &tls.Config{
			Certificates: []tls.Certificate{cert},
			NextProtos:   []string{"h2", "http/1.1"},
			MinVersion:   tls.VersionTLS12,
		})
		serve(&http.Server{Handler: handler, ReadHeaderTimeout: cfg.ReadHeaderTimeout}, tlsLis, "tls")
	}
	if cfg.EnablePlainText {
		plainLis := muxer.Match(cmux.Any())
		serve(&http.Server{
			Handler:           h2c.NewHandler(handler, &http2.Server{}),
			ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		}, plainLis, "plaintext")
	}

	go func() {
		if err := muxer.Serve(); err != nil && !strings.Contains(err.Error(), "use of closed network connection") {
			log.Error("HTTP mux failed", "listener", name, "err", err)
		}
	}()

	port := 0
	if tcpAddr, ok := baseLis.Addr().(*net.TCPAddr); ok {
		port = tcpAddr.Port
	}

	var closeOnce sync.Once
	closeFn := func(ctx context.Context) error {
		var shutdownErr error
		closeOnce.Do(func() {
			for _, srv := range servers {
				if err := srv.Shutdown(ctx); err != nil && err != context.Canceled && shutdownErr == nil {
					shutdownErr = err
				}
			}
			_ = baseLis.Close()
		})
		return shutdownErr
	}

	return &Listener{Addr: baseLis.Addr(), Port: port, Close: closeFn}, nil
}

func loadServerCertificate(certFile, keyFile string) (tls.Certificate, error) {
	if strings.TrimSpace(certFile) != "" && strings.TrimSpace(keyFile) != "" {
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return tls.Certificate{}, fmt.Errorf("failed to load tls certificate: %w", err)
		}
		return cert, nil
	}
	log.Warn("No TLS certificate configured, generating a self-signed one")
	return generateSelfSignedCertificate()
}

func generateSelfSignedCertificate() (tls.Certificate, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("generate tls key failed: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("generate tls serial failed: %w", err)
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: "localhost"},
		NotBefore:             now.Add(-5 * time.Minute),
		NotAfter:              now.Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{"localhost"},
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1"), net.ParseIP("::1")},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("generate tls certificate failed: %w", err)
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key, Leaf: template}, nil
}
