package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gofrs/flock"

	"cluetracker.ai/internal/persistence/kvstore"
	"cluetracker.ai/internal/sim/catalogs"
	"cluetracker.ai/internal/sim/session"
	"cluetracker.ai/internal/sim/tuning"
	"cluetracker.ai/internal/transport/observer"
	"cluetracker.ai/internal/transport/ws"
)

func main() {
	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	cfg, err := loadConfig(os.Args[1:], nil)
	if err != nil {
		logger.Fatalf("config: %v", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.Fatalf("create data dir: %v", err)
	}
	// One server per data dir: the sqlite store and journals assume a
	// single writer.
	lock := flock.New(filepath.Join(cfg.DataDir, "server.lock"))
	ok, err := lock.TryLock()
	if err != nil {
		logger.Fatalf("lock data dir: %v", err)
	}
	if !ok {
		logger.Fatalf("data dir %s is in use by another server", cfg.DataDir)
	}
	defer lock.Unlock()

	cats, err := catalogs.Load(cfg.ConfigDir)
	if err != nil {
		logger.Fatalf("load catalogs: %v", err)
	}
	tune, err := tuning.Load(cfg.TuningPath)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", cfg.TuningPath)
		tune = tuning.Defaults()
	}

	rt := &runtime{dataDir: cfg.DataDir, tune: tune, cats: cats, logger: logger}
	if !cfg.DisableDB {
		store, err := kvstore.OpenSQLite(filepath.Join(cfg.DataDir, "tracker.sqlite"))
		if err != nil {
			logger.Fatalf("open store: %v", err)
		}
		defer store.Close()
		if err := store.UpsertCatalogs(cfg.ConfigDir, cats, tune); err != nil {
			logger.Printf("store: upsert catalogs: %v", err)
		}
		rt.store = store
	} else {
		logger.Printf("db disabled; ground state will not survive restarts")
	}

	sessions := session.NewRegistry()
	wsSrv := ws.NewServer(rt.open, sessions, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		writeMetrics(rw, rt, sessions)
	})
	mux.HandleFunc("/v1/ws", wsSrv.Handler())

	if cfg.EnableObserver {
		obs := observer.NewServer(sessions, cats.Contents, logger)
		mux.HandleFunc("/v1/sessions", obs.SessionsHandler())
		mux.HandleFunc("/v1/tracked", obs.TrackedHandler())
		mux.HandleFunc("/v1/search", obs.SearchHandler())
		mux.HandleFunc("/v1/observe", obs.WSHandler())
	}

	if cfg.EnablePprof {
		mux.HandleFunc("/debug/pprof/", loopbackOnly(pprof.Index))
		mux.HandleFunc("/debug/pprof/cmdline", loopbackOnly(pprof.Cmdline))
		mux.HandleFunc("/debug/pprof/profile", loopbackOnly(pprof.Profile))
		mux.HandleFunc("/debug/pprof/symbol", loopbackOnly(pprof.Symbol))
		mux.HandleFunc("/debug/pprof/trace", loopbackOnly(pprof.Trace))
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, cancel := signalContext()
	defer cancel()

	go func() {
		<-ctx.Done()
		shutdownCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
		defer c()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Printf("listening on %s (catalog %s, %d tracked types)", cfg.Addr, shortDigest(cats.Contents.Digest), len(cats.Contents.Types))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatalf("listen: %v", err)
	}
	if rt.store != nil {
		rt.store.Flush()
	}
	logger.Printf("stopped")
}

func writeMetrics(rw http.ResponseWriter, rt *runtime, sessions *session.Registry) {
	fmt.Fprintf(rw, "# HELP cluetracker_sessions_active Sessions currently connected.\n")
	fmt.Fprintf(rw, "# TYPE cluetracker_sessions_active gauge\n")
	fmt.Fprintf(rw, "cluetracker_sessions_active %d\n", len(sessions.List()))

	fmt.Fprintf(rw, "# HELP cluetracker_sessions_opened_total Sessions opened since start.\n")
	fmt.Fprintf(rw, "# TYPE cluetracker_sessions_opened_total counter\n")
	fmt.Fprintf(rw, "cluetracker_sessions_opened_total %d\n", rt.opened.Load())

	fmt.Fprintf(rw, "# HELP cluetracker_snapshots_written_total Session snapshots written since start.\n")
	fmt.Fprintf(rw, "# TYPE cluetracker_snapshots_written_total counter\n")
	fmt.Fprintf(rw, "cluetracker_snapshots_written_total %d\n", rt.snapshots.Load())

	fmt.Fprintf(rw, "# HELP cluetracker_catalog_contents Content entries in the loaded catalog.\n")
	fmt.Fprintf(rw, "# TYPE cluetracker_catalog_contents gauge\n")
	fmt.Fprintf(rw, "cluetracker_catalog_contents %d\n", len(rt.cats.Contents.ByID))
}

func loopbackOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		h(rw, r)
	}
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func shortDigest(d string) string {
	if len(d) > 12 {
		return d[:12]
	}
	return d
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
