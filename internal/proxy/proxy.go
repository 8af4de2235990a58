// Package proxy implements the HTTP and TLS-terminated HTTPS listeners that
// route Host headers to registered backends.
package proxy

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/portless-dev/portless/internal/registry"
)

// ErrBind indicates a proxy listener could not bind its port. This is fatal
// at daemon startup.
var ErrBind = errors.New("proxy: failed to bind listener")

// StopFunc terminates a registered service; the dashboard's kill button
// routes through the same path as the control server's stop command.
type StopFunc func(domain string) error

// Options configures the proxy engine.
type Options struct {
	Registry  *registry.Registry
	HTTPAddr  string      // defaults to ":80"
	HTTPSAddr string      // defaults to ":443"
	TLSConfig *tls.Config // nil leaves the HTTPS listener off
	Stop      StopFunc    // optional; disables the kill endpoint when nil
}

// Engine serves both listeners. Every connection is handled concurrently by
// the stdlib server; a stalled backend only occupies its own goroutine.
type Engine struct {
	registry  *registry.Registry
	stop      StopFunc
	httpAddr  string
	httpsAddr string
	tlsConfig *tls.Config
	transport *http.Transport

	mu       sync.Mutex
	httpSrv  *http.Server
	httpsSrv *http.Server
	httpLn   net.Listener
	httpsLn  net.Listener
}

// New creates a proxy engine for the given registry.
func New(opts Options) *Engine {
	httpAddr := opts.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":80"
	}
	httpsAddr := opts.HTTPSAddr
	if httpsAddr == "" {
		httpsAddr = ":443"
	}

	return &Engine{
		registry:  opts.Registry,
		stop:      opts.Stop,
		httpAddr:  httpAddr,
		httpsAddr: httpsAddr,
		tlsConfig: opts.TLSConfig,
		transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout: 3 * time.Second,
			}).DialContext,
			MaxIdleConnsPerHost:   32,
			IdleConnTimeout:       90 * time.Second,
			ResponseHeaderTimeout: 0, // dev servers may be arbitrarily slow
		},
	}
}

// Start binds the listeners and begins serving. Bind failures are returned
// immediately so the daemon can abort startup with a clear diagnostic.
func (e *Engine) Start(ctx context.Context) error {
	handler := http.HandlerFunc(e.handle)

	httpLn, err := net.Listen("tcp", e.httpAddr)
	if err != nil {
		return fmt.Errorf("%w: %s (ports below 1024 need elevated privileges): %v", ErrBind, e.httpAddr, err)
	}

	e.mu.Lock()
	e.httpLn = httpLn
	e.httpSrv = &http.Server{Handler: handler}
	e.mu.Unlock()

	go e.serve(e.httpSrv, httpLn, "http")

	if e.tlsConfig != nil {
		httpsLn, err := net.Listen("tcp", e.httpsAddr)
		if err != nil {
			httpLn.Close()
			return fmt.Errorf("%w: %s: %v", ErrBind, e.httpsAddr, err)
		}
		tlsLn := tls.NewListener(httpsLn, e.tlsConfig)

		e.mu.Lock()
		e.httpsLn = httpsLn
		e.httpsSrv = &http.Server{Handler: handler}
		e.mu.Unlock()

		go e.serve(e.httpsSrv, tlsLn, "https")
	}

	return nil
}

// Shutdown closes the listeners, refusing new connections, and lets in-flight
// requests drain until the context expires.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	servers := []*http.Server{e.httpSrv, e.httpsSrv}
	e.httpSrv, e.httpsSrv = nil, nil
	e.mu.Unlock()

	var firstErr error
	for _, srv := range servers {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	e.transport.CloseIdleConnections()
	return firstErr
}

// HTTPAddr returns the bound address of the plain listener, usable once Start
// has returned.
func (e *Engine) HTTPAddr() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.httpLn == nil {
		return ""
	}
	return e.httpLn.Addr().String()
}

// HTTPSAddr returns the bound address of the TLS listener, or "".
func (e *Engine) HTTPSAddr() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.httpsLn == nil {
		return ""
	}
	return e.httpsLn.Addr().String()
}

func (e *Engine) serve(srv *http.Server, ln net.Listener, name string) {
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Printf("[Proxy] %s listener stopped: %v", name, err)
	}
}

func (e *Engine) handle(w http.ResponseWriter, r *http.Request) {
	domain := hostOnly(r.Host)

	if domain == "localhost" || domain == "127.0.0.1" {
		e.handleDashboard(w, r)
		return
	}

	svc, ok := e.registry.Lookup(domain)
	if !ok {
		e.writeUnknownDomain(w, domain)
		return
	}

	e.forward(w, r, svc)
}

// forward proxies one request to the service's loopback port. Streaming
// bodies are passed through unbuffered and Upgrade handshakes (WebSocket)
// are spliced bidirectionally by the reverse proxy once the backend accepts.
func (e *Engine) forward(w http.ResponseWriter, r *http.Request, svc registry.Service) {
	target := &url.URL{
		Scheme: "http",
		Host:   fmt.Sprintf("127.0.0.1:%d", svc.Port),
	}

	rp := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
			pr.Out.Host = target.Host
		},
		Transport:     e.transport,
		FlushInterval: -1,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			log.Printf("[Proxy] upstream %s (port %d): %v", svc.Domain, svc.Port, err)
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.WriteHeader(http.StatusBadGateway)
			fmt.Fprintf(w, "portless: upstream for %s is unavailable: %v\n", svc.Domain, err)
		},
	}

	rp.ServeHTTP(w, r)
}

// writeUnknownDomain answers requests for unregistered hosts with an error
// page naming the domain; the connection is never silently dropped.
func (e *Engine) writeUnknownDomain(w http.ResponseWriter, domain string) {
	var b strings.Builder
	fmt.Fprintf(&b, "portless: domain %q is not registered.\n\nRegistered services:\n", domain)

	services := e.registry.List()
	if len(services) == 0 {
		b.WriteString("  (none)\n")
	} else {
		for _, svc := range services {
			fmt.Fprintf(&b, "  - http://%s\n", svc.Domain)
		}
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	fmt.Fprint(w, b.String())
}

// hostOnly strips an optional :port suffix from a Host header and
// lower-cases the rest.
func hostOnly(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.ToLower(strings.TrimSpace(host))
}
