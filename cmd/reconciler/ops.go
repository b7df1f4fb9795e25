package main

import (
	"fmt"
	"net/http"

	"github.com/davecgh/go-spew/spew"

	"reconciler.transitchat.org/internal/app"
)

// opsHandler serves the operational surface: health, metrics, and a debug
// dump of schedule-table counts.
func opsHandler(a *app.Application) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := a.Store.DB.PingContext(r.Context()); err != nil {
			http.Error(w, "schedule store unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintf(w, "ok: %d agencies configured\n", len(a.Agencies))
	})

	mux.Handle("/metrics", a.Metrics.Handler())

	mux.HandleFunc("/debug/counts", func(w http.ResponseWriter, r *http.Request) {
		counts, err := a.Store.TableCounts()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		spew.Fprintf(w, "%v\n", counts)
	})

	return mux
}
