package frontdoor

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	stdlog "log"

	"github.com/One-com/gone/log"
	"github.com/One-com/gone/log/syslog"
	"github.com/One-com/gone/netutil/reaper"
	"github.com/pkg/errors"

	"github.com/One-com/frontdoor/config"
	"github.com/One-com/frontdoor/tlsconf"
)

// ListenerHandle owns one bound listener serving the shared handler.
type ListenerHandle struct {
	instance config.InstanceConfig
	server   *http.Server
	listener net.Listener

	live      atomic.Bool
	closeOnce sync.Once
	served    chan struct{} // closed when Serve returns
}

// Callback turning IO activity timeout on/off for use as a http.Server.ConnState callback
func toggleIOActivityTimeout(conn net.Conn, state http.ConnState) {
	if tc, ok := conn.(*tls.Conn); ok {
		conn = tc.NetConn()
	}
	switch state {
	case http.StateNew, http.StateActive:
		reaper.IOActivityTimeout(conn, true)
	case http.StateIdle, http.StateClosed, http.StateHijacked:
		reaper.IOActivityTimeout(conn, false)
	}
}

// tlsConfigFor loads the instance credential and applies the shared TLS policy.
func tlsConfigFor(inst config.InstanceConfig, policy *tlsconf.TLSServerConfig) (*tls.Config, error) {
	cred, err := LoadCredential(inst)
	if err != nil {
		return nil, err
	}
	cert, err := cred.Certificate()
	if err != nil {
		return nil, &CredentialError{Instance: inst.URL(), Err: err}
	}
	tlsCfg, err := tlsconf.GetTLSServerConfig(policy, cert)
	if err != nil {
		return nil, config.WrapError(errors.Wrap(err, "TLS"))
	}
	log.DEBUG("TLS Config", "url", inst.URL(), "ciphers", log.Lazy(func() interface{} { return fmt.Sprint(tlsCfg.CipherSuites) }))
	return tlsCfg, nil
}

// createListener binds inst and starts serving handler on it.
// Errors are not retried.
func createListener(ctx context.Context, inst config.InstanceConfig, cfg *config.Config, handler http.Handler) (h *ListenerHandle, err error) {
	start := time.Now()
	defer func() {
		if err != nil {
			bindFailures.Inc(1)
			return
		}
		binds.Inc(1)
		bindTime.Sample(int64(time.Since(start) / time.Millisecond))
	}()

	var tlsCfg *tls.Config
	if inst.Secured() {
		tlsCfg, err = tlsConfigFor(inst, cfg.TLS)
		if err != nil {
			return
		}
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", inst.Address())
	if err != nil {
		return nil, &BindError{Instance: inst.URL(), Err: err}
	}

	to := inst.IOActivityTimeout.Duration
	if to != 0 {
		ln = reaper.NewIOActivityTimeoutListener(ln, to, to/2)
	}
	if tlsCfg != nil {
		ln = tls.NewListener(ln, tlsCfg)
	}

	// Set up a log adapter for stdlib HTTP server.
	errorGonelog := log.NewStdlibAdapter(log.GetLogger(inst.URL()), syslog.LOG_CRIT)

	srv := &http.Server{
		Handler:           handler,
		ErrorLog:          stdlog.New(errorGonelog, "", 0),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout.Duration,
		IdleTimeout:       cfg.IdleTimeout.Duration,
		ReadTimeout:       cfg.ReadTimeout.Duration,
		WriteTimeout:      cfg.WriteTimeout.Duration,
	}
	if to != 0 {
		srv.ConnState = toggleIOActivityTimeout
	}

	h = &ListenerHandle{
		instance: inst,
		server:   srv,
		listener: ln,
		served:   make(chan struct{}),
	}
	h.live.Store(true)

	go func() {
		defer close(h.served)
		if e := srv.Serve(ln); e != nil && e != http.ErrServerClosed {
			log.ERROR("Serve failed", "url", h.URL(), "err", e)
		}
	}()

	log.NOTICE("Listening", "url", h.URL())
	return h, nil
}

// Instance is the configuration the listener was created from.
func (h *ListenerHandle) Instance() config.InstanceConfig {
	return h.instance
}

// Addr is the bound address. With port 0 configured it carries the chosen port.
func (h *ListenerHandle) Addr() net.Addr {
	return h.listener.Addr()
}

// URL formats the bound address with the instance scheme.
func (h *ListenerHandle) URL() string {
	u := url.URL{Scheme: "http", Host: h.Addr().String()}
	if h.instance.Secured() {
		u.Scheme = "https"
	}
	return u.String()
}

// Live is true until the listener is closed.
func (h *ListenerHandle) Live() bool {
	return h.live.Load()
}

// Close releases the listener and all its connections immediately.
// Closing again is a no-op.
func (h *ListenerHandle) Close() error {
	return h.close(func() error { return h.server.Close() })
}

// Shutdown stops accepting connections and waits for active requests until
// ctx is done, then closes whatever is left. Closing again is a no-op.
func (h *ListenerHandle) Shutdown(ctx context.Context) error {
	return h.close(func() error {
		err := h.server.Shutdown(ctx)
		if err != nil {
			log.WARN("Graceful shutdown incomplete", "url", h.URL(), "err", err)
			err = h.server.Close()
		}
		return err
	})
}

func (h *ListenerHandle) close(f func() error) (err error) {
	h.closeOnce.Do(func() {
		log.INFO("Stopping", "url", h.URL())
		h.live.Store(false)
		err = f()
		<-h.served
		closes.Inc(1)
	})
	return
}
