// Package httpsrv is the HTTP Surface (spec.md §4.5, §6): request parsing,
// path dispatch, and the success/error envelope mapping, wired over the
// Host Handler and Store. Grounded on boulder's wfe2 package — in
// particular WebFrontEndImpl.HandleFunc's wrapping of every route with
// request-ID tagging, timing, logging, and panic recovery.
package httpsrv

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jmhodges/clock"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Half-Shot/hds/blog"
	"github.com/Half-Shot/hds/federation"
	"github.com/Half-Shot/hds/handler"
	"github.com/Half-Shot/hds/hderr"
	"github.com/Half-Shot/hds/metrics"
	"github.com/Half-Shot/hds/store"
)

// Server is the HTTP Surface. It holds no business logic of its own:
// every route parses its request, delegates to Handler/Store/Federation,
// and maps the result to the wire envelope of spec.md §6–§7.
type Server struct {
	Handler    *handler.Handler
	Store      store.Store
	Federation *federation.Client
	Log        blog.Logger
	Stats      metrics.Scope
	Clk        clock.Clock

	// ServerKey is this directory's own identity, returned by /identify.
	ServerKey string
}

// New constructs a Server and its *http.ServeMux with every route
// registered.
func New(h *handler.Handler, st store.Store, fed *federation.Client, log blog.Logger, stats metrics.Scope, clk clock.Clock, serverKey string) *Server {
	return &Server{
		Handler:    h,
		Store:      st,
		Federation: fed,
		Log:        log,
		Stats:      stats,
		Clk:        clk,
		ServerKey:  serverKey,
	}
}

// Mux builds the *http.ServeMux exposing every /_hds route plus /metrics.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/_hds/", s.wrap(s.dispatch))
	return mux
}

// requestEvent is the per-request log record assembled by the top-level
// wrapper, matching boulder's requestEvent/topHandler pattern in shape
// (request ID, endpoint, status, latency) without the ACME-specific
// fields that don't apply here.
type requestEvent struct {
	RequestID string
	Method    string
	Endpoint  string
	Status    int
	Latency   time.Duration
	Error     string
}

// wrap is the topHandler-equivalent: every request gets a request ID,
// a recovered panic becomes a 500, and the outcome is logged once with
// method/path/status/latency, regardless of which route matched.
func (s *Server) wrap(h func(ctx context.Context, evt *requestEvent, w http.ResponseWriter, r *http.Request)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		evt := &requestEvent{
			RequestID: newRequestID(),
			Method:    r.Method,
			Endpoint:  r.URL.Path,
		}
		start := s.clock().Now()

		rw := &statusCapturingWriter{ResponseWriter: w, status: http.StatusOK}

		defer func() {
			if rec := recover(); rec != nil {
				s.Log.Err(fmt.Sprintf("[%s] panic: %v", evt.RequestID, rec))
				if rw.status == http.StatusOK {
					rw.WriteHeader(http.StatusInternalServerError)
				}
				evt.Error = fmt.Sprintf("panic: %v", rec)
			}
			evt.Latency = s.clock().Now().Sub(start)
			evt.Status = rw.status
			s.Log.Info(fmt.Sprintf("[%s] %s %s -> %d (%s) %s", evt.RequestID, evt.Method, evt.Endpoint, evt.Status, evt.Latency, evt.Error))
		}()

		h(r.Context(), evt, rw, r)
	})
}

type statusCapturingWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusCapturingWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func newRequestID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "unknown"
	}
	return hex.EncodeToString(b[:])
}

func (s *Server) clock() clock.Clock {
	if s.Clk == nil {
		return clock.Default()
	}
	return s.Clk
}

// writeJSON writes v as the JSON response body with the given status.
func (s *Server) writeJSON(w http.ResponseWriter, evt *requestEvent, status int, v interface{}) {
	body, err := json.Marshal(v)
	if err != nil {
		s.writeError(w, evt, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// errEnvelope is the wire error shape of spec.md §6: "Error envelope".
type errEnvelope struct {
	Text string `json:"hds.error.text"`
	Kind string `json:"hds.error"`
}

// statusForKind maps an hds.error.* kind to an HTTP status, per spec.md
// §7 "Propagation": host.missing/hosts.none/topic.missing -> 404,
// hds.error.unknown (which includes any error that is not an *hderr.Error)
// -> 500, every other kind (validation, admission, federation.*) -> 400.
func statusForKind(kind hderr.Kind) int {
	switch kind {
	case hderr.HostMissing, hderr.HostsNone, hderr.TopicMissing:
		return http.StatusNotFound
	case hderr.Unknown:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

// writeError maps err to the §6/§7 error envelope and an appropriate
// status code, logging unknown (internal) errors at Err level.
func (s *Server) writeError(w http.ResponseWriter, evt *requestEvent, err error) {
	kind := hderr.KindOf(err)
	status := statusForKind(kind)
	evt.Error = err.Error()
	if kind == hderr.Unknown {
		s.Log.Err(fmt.Sprintf("[%s] internal error: %s", evt.RequestID, err))
	}
	s.writeJSON(w, evt, status, errEnvelope{Text: err.Error(), Kind: string(kind)})
}

// requireJSON enforces spec.md §4.5's Content-Type rule for request
// bodies.
func requireJSON(r *http.Request) error {
	if r.ContentLength == 0 && r.Method != http.MethodPut {
		return nil
	}
	ct := r.Header.Get("Content-Type")
	if ct == "" {
		return hderr.New(hderr.HeadersMissing, "missing Content-Type header")
	}
	if !strings.HasPrefix(ct, "application/json") {
		return hderr.New(hderr.HeadersUnsupported, "unsupported Content-Type %q", ct)
	}
	return nil
}
