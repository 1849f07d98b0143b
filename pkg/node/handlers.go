package node

import (
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/ryandielhenn/zephyrmesh/internal/telemetry"
	"github.com/ryandielhenn/zephyrmesh/pkg/gossip"
)

// Healthz returns 200 OK to indicate the node is alive.
func (n *Node) Healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// Info writes the live protocol state of the node as JSON.
func (n *Node) Info(w http.ResponseWriter, _ *http.Request) {
	type resp struct {
		PID        int             `json:"pid"`
		Now        time.Time       `json:"now"`
		Node       gossip.NodeID   `json:"node"`
		Addr       string          `json:"addr"`
		Round      int             `json:"round"`
		Terminated bool            `json:"terminated"`
		Stopped    bool            `json:"stopped"`
		Active     []gossip.NodeID `json:"active_neighbors"`
		KnownHosts int             `json:"known_hosts"`
		Buffered   int             `json:"buffered"`
	}
	e := n.engine
	writeJSON(w, http.StatusOK, resp{
		PID:        os.Getpid(),
		Now:        time.Now(),
		Node:       e.Self(),
		Addr:       n.tr.Addr(),
		Round:      e.Round(),
		Terminated: e.Terminated(),
		Stopped:    e.Stopped(),
		Active:     e.ActiveNeighbors(),
		KnownHosts: e.Table().Len(),
		Buffered:   e.Buffered(),
	})
}

// Distances writes the final report, or 503 while the protocol still runs.
// ?format=text renders the plain report instead of JSON.
func (n *Node) Distances(w http.ResponseWriter, req *http.Request) {
	report, ok := n.engine.Report()
	if !ok {
		http.Error(w, "discovery still running", http.StatusServiceUnavailable)
		return
	}
	if req.URL.Query().Get("format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		report.Format(w)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// AdminMux serves the admin endpoints, each instrumented under its own op.
func (n *Node) AdminMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/healthz", telemetry.Instrument("healthz", http.HandlerFunc(n.Healthz)))
	mux.Handle("/info", telemetry.Instrument("info", http.HandlerFunc(n.Info)))
	mux.Handle("/distances", telemetry.Instrument("distances", http.HandlerFunc(n.Distances)))
	mux.Handle("/metrics", telemetry.MetricsHandler())
	return mux
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(data)
}
