package serve

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/soheilhy/cmux"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/chirino/memory-service/internal/config"
)

// runningListener is a bound port serving handler over plaintext h2c and/or
// TLS, as configured. Grounded on the teacher's single-port cmux split that
// used to also multiplex a gRPC server on the same port; here it only ever
// dispatches HTTP, so the mux exists solely to let plaintext and TLS share
// one listen address.
type runningListener struct {
	Addr  net.Addr
	Close func(ctx context.Context) error
}

// startListener binds cfg.Port and serves handler over whichever of
// plaintext/TLS cfg enables, using cmux to split the raw TCP stream by
// TLS ClientHello when both are enabled on the same port.
func startListener(name string, cfg config.ListenerConfig, handler http.Handler) (*runningListener, error) {
	if !cfg.EnablePlainText && !cfg.EnableTLS {
		cfg.EnablePlainText = true
	}
	if cfg.ReadHeaderTimeout == 0 {
		cfg.ReadHeaderTimeout = 5 * time.Second
	}

	baseLis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return nil, fmt.Errorf("%s listen failed: %w", name, err)
	}

	muxer := cmux.New(baseLis)
	var tlsLis, plainLis net.Listener
	if cfg.EnableTLS {
		tlsLis = muxer.Match(cmux.TLS())
	}
	if cfg.EnablePlainText {
		plainLis = muxer.Match(cmux.Any())
	}

	var plainServer, tlsServer *http.Server
	if cfg.EnablePlainText {
		plainServer = &http.Server{
			Handler:           h2c.NewHandler(handler, &http2.Server{}),
			ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		}
		go func() {
			if err := plainServer.Serve(plainLis); err != nil && err != http.ErrServerClosed {
				log.Error(name+" plaintext server failed", "err", err)
			}
		}()
	}
	if cfg.EnableTLS {
		cert, err := tls.LoadX509KeyPair(cfg.TLSCertFile, cfg.TLSKeyFile)
		if err != nil {
			_ = baseLis.Close()
			return nil, fmt.Errorf("%s: load TLS certificate: %w", name, err)
		}
		tlsServer = &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		}
		wrapped := tls.NewListener(tlsLis, &tls.Config{
			Certificates: []tls.Certificate{cert},
			NextProtos:   []string{"h2", "http/1.1"},
			MinVersion:   tls.VersionTLS12,
		})
		go func() {
			if err := tlsServer.Serve(wrapped); err != nil && err != http.ErrServerClosed {
				log.Error(name+" tls server failed", "err", err)
			}
		}()
	}

	go func() {
		if err := muxer.Serve(); err != nil && !strings.Contains(err.Error(), "use of closed network connection") {
			log.Error(name+" mux failed", "err", err)
		}
	}()

	var closeOnce sync.Once
	closeFn := func(ctx context.Context) error {
		var shutdownErr error
		closeOnce.Do(func() {
			if plainServer != nil {
				if err := plainServer.Shutdown(ctx); err != nil && err != context.Canceled {
					shutdownErr = err
				}
			}
			if tlsServer != nil {
				if err := tlsServer.Shutdown(ctx); err != nil && err != context.Canceled && shutdownErr == nil {
					shutdownErr = err
				}
			}
			_ = baseLis.Close()
		})
		return shutdownErr
	}

	log.Info(name+" listening", "addr", baseLis.Addr())
	return &runningListener{Addr: baseLis.Addr(), Close: closeFn}, nil
}
