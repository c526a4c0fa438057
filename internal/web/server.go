// Package web serves the ground-test HTTP API: live status, recent logs,
// Prometheus metrics and a command endpoint.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"runtime"
	"runtime/debug"
	"strings"
	"time"

	"sparky-ng/internal/telemetry"
)

// Commander runs one command line and returns the reply ("OK" or
// "ERR <reason>"). command.Dispatcher implements it.
type Commander interface {
	Handle(line string) string
}

type Options struct {
	Status   *telemetry.Status
	Logs     *LogBuffer
	Metrics  http.Handler
	Commands Commander
}

type AboutResponse struct {
	Service    string `json:"service"`
	NowUTC     string `json:"now_utc"`
	GoVersion  string `json:"go_version"`
	ModulePath string `json:"module_path,omitempty"`
	Version    string `json:"version,omitempty"`
	Commit     string `json:"commit,omitempty"`
	Dirty      bool   `json:"dirty,omitempty"`
}

func allowMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	return false
}

func writeJSON(w http.ResponseWriter, b []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(b)
	_, _ = w.Write([]byte("\n"))
}

func Handler(opts Options) http.Handler {
	status := opts.Status
	if status == nil {
		status = telemetry.NewStatus()
	}
	mux := http.NewServeMux()

	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodGet) {
			return
		}
		b, err := json.MarshalIndent(status.Snapshot(time.Now().UTC()), "", "  ")
		if err != nil {
			http.Error(w, "marshal failed", http.StatusInternalServerError)
			return
		}
		writeJSON(w, b)
	})

	mux.HandleFunc("/api/about", func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodGet) {
			return
		}
		resp := AboutResponse{
			Service:   "sparky-ng",
			NowUTC:    time.Now().UTC().Format(time.RFC3339Nano),
			GoVersion: runtime.Version(),
		}
		if bi, ok := debug.ReadBuildInfo(); ok && bi != nil {
			resp.ModulePath = bi.Main.Path
			resp.Version = bi.Main.Version
			for _, s := range bi.Settings {
				switch s.Key {
				case "vcs.revision":
					resp.Commit = s.Value
				case "vcs.modified":
					resp.Dirty = s.Value == "true"
				}
			}
		}
		b, err := json.MarshalIndent(resp, "", "  ")
		if err != nil {
			http.Error(w, "marshal failed", http.StatusInternalServerError)
			return
		}
		writeJSON(w, b)
	})

	// Ground testing only: the flight path for commands is the UDP listener.
	mux.HandleFunc("/api/command", func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodPost) {
			return
		}
		if opts.Commands == nil {
			http.Error(w, "commands unavailable", http.StatusNotFound)
			return
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, 256))
		if err != nil {
			http.Error(w, "read failed", http.StatusBadRequest)
			return
		}
		reply := opts.Commands.Handle(strings.TrimSpace(string(body)))
		code := http.StatusOK
		if reply != "OK" {
			code = http.StatusBadRequest
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(code)
		_, _ = fmt.Fprintln(w, reply)
	})

	if opts.Logs != nil {
		mux.Handle("/api/logs", opts.Logs.Handler())
	}
	if opts.Metrics != nil {
		mux.Handle("/metrics", opts.Metrics)
	}

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		if !allowMethod(w, r, http.MethodGet) {
			return
		}
		snap := status.Snapshot(time.Now().UTC())
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = fmt.Fprintf(w, "sparky-ng\nsource=%s\nenabled=%v\nsamples=%d\ndecoded=%d\n",
			snap.Source, snap.Enabled, snap.Samples, snap.Decoder.Decoded)
		for _, ax := range snap.Axes {
			_, _ = fmt.Fprintf(w, "%s desired=%d actual=%d actuation=%d\n",
				ax.Axis, ax.Desired, ax.Actual, ax.Actuation)
		}
	})

	return mux
}

// Serve runs the API on listenAddr until ctx is done.
func Serve(ctx context.Context, listenAddr string, opts Options) error {
	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           Handler(opts),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       30 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
