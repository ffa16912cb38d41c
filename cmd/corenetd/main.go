// SPDX-License-Identifier: GPL-3.0-or-later

// corenetd is an example server binary wiring the runtime's packages
// together end to end: a reactor drives non-blocking pipes for a
// plain-HTTP listener handed off by [sproc.Supervisor], an [httpcore]
// server dispatches requests, and — when -upstream is set — a
// [cluster.Cluster] fans requests out to it over pooled, DNS-resolved
// connections.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/bassosimone/corenet"
	"github.com/bassosimone/corenet/cluster"
	"github.com/bassosimone/corenet/dnscache"
	"github.com/bassosimone/corenet/httpcore"
	"github.com/bassosimone/corenet/reactor"
	"github.com/bassosimone/corenet/sproc"
)

func main() {
	port := flag.Int("port", 8080, "port to listen on when no fd was inherited")
	upstream := flag.String("upstream", "", "optional upstream host:port this server proxies to")
	httpFd := flag.Int("http_fd", -1, "inherited plain-HTTP listening socket fd")
	httpsFd := flag.Int("https_fd", -1, "inherited HTTPS listening socket fd")
	privateFd := flag.Int("private_fd", -1, "inherited private/admin listening socket fd")
	cmdFd := flag.Int("cmd_fd", -1, "bidirectional command fd")
	flag.Parse()

	flags := &sproc.Flags{HTTPFd: *httpFd, HTTPSFd: *httpsFd, PrivateFd: *privateFd, CmdFd: *cmdFd}

	cfg := corenet.NewConfig()
	cfg.Logger = slog.Default()

	r := reactor.New(reactor.Options{Logger: cfg.Logger, ErrClassifier: cfg.ErrClassifier})
	if err := r.Start(0, false); err != nil {
		fatal(cfg, "reactorStart", err)
	}
	defer r.Join()

	sup, err := sproc.New(&sproc.Config{Corenet: cfg}, flags, r)
	if err != nil {
		fatal(cfg, "sprocNew", err)
	}
	defer sup.StopUpgrader()

	ln, err := sup.ListenHTTP(*port)
	if err != nil {
		fatal(cfg, "listenHTTP", err)
	}

	handler := newHandler(cfg, r, *upstream)
	srv := httpcore.NewServer(&httpcore.Config{Corenet: cfg}, handler)
	factory := &httpcore.TCPServerFunc{Server: srv, React: r}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if _, serveErr := factory.Call(ctx, ln); serveErr != nil {
			cfg.Logger.Info("httpServeFailed", slog.String("err", serveErr.Error()))
		}
	}()

	if err := sup.Ready(); err != nil {
		fatal(cfg, "sprocReady", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		if err := sup.RunHandshake(ctx, func(ctx context.Context) error {
			cancel()
			return ln.Close()
		}); err != nil {
			cfg.Logger.Info("sprocHandshakeFailed", slog.String("err", err.Error()))
		}
	}()

	select {
	case <-sup.Exit():
	case <-sigCh:
	}

	cancel()
	ln.Close()
	r.Stop()
}

// newHandler builds the HTTP handler for this server. When upstream is
// non-empty, requests are proxied through a [cluster.Cluster]; otherwise
// a trivial handler answers directly, useful for smoke-testing the
// listener/server wiring without a real upstream.
func newHandler(cfg *corenet.Config, r *reactor.Reactor, upstream string) http.Handler {
	if upstream == "" {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			w.Header().Set("Content-Type", "text/plain")
			w.Write([]byte("corenetd: no upstream configured\n"))
		})
	}

	host, portStr, err := net.SplitHostPort(upstream)
	if err != nil {
		fatal(cfg, "splitUpstream", err)
	}
	portNum, err := strconv.Atoi(portStr)
	if err != nil {
		fatal(cfg, "parseUpstreamPort", err)
	}

	dns := dnscache.New(&dnscache.Config{Corenet: cfg}, r)
	cl := cluster.New(&cluster.Config{Corenet: cfg, Host: host, Port: uint16(portNum)}, dns, r)

	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		err := cl.WithConnectedPipe(req.Context(), func(conn cluster.Conn) bool {
			return proxyOne(w, req, upstream, conn)
		})
		if err != nil {
			w.WriteHeader(http.StatusBadGateway)
			fmt.Fprintln(w, err.Error())
		}
	})
}

// proxyOne forwards req over conn using net/http's own request/response
// framing (the same streaming parser [httpcore.Server] uses on the
// inbound side), copies the response back to w, and reports whether conn
// may be returned to the cluster's idle pool.
func proxyOne(w http.ResponseWriter, req *http.Request, upstream string, conn cluster.Conn) bool {
	outReq := req.Clone(req.Context())
	outReq.RequestURI = ""
	outReq.URL.Scheme = "http"
	outReq.URL.Host = upstream

	if err := outReq.Write(conn); err != nil {
		return false
	}
	resp, err := http.ReadResponse(bufio.NewReader(conn), outReq)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	for k, vs := range resp.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body)
	return !resp.Close
}

func fatal(cfg *corenet.Config, op string, err error) {
	cfg.Logger.Info("corenetdFatal", slog.String("op", op), slog.String("err", err.Error()))
	os.Exit(1)
}
