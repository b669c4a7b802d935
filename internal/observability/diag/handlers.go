package diag

import (
	"context"
	"encoding/json"
	"net/http"
	hpprof "net/http/pprof"
	"strconv"
	"strings"
	"time"
)

// Sources feeds the diagnostics endpoints. Nil members disable their route.
type Sources struct {
	// Health returns nil when the daemon is healthy. Its detail is
	// rendered as JSON either way.
	Health func() (detail any, err error)
	// Timers returns the scheduler and engine snapshot.
	Timers func() any
	// Journal returns recent cycles, newest first. timer may be empty.
	Journal func(ctx context.Context, timer string, limit int) (any, error)
	Metrics http.Handler
}

const pprofPrefix = "/debug/pprof/"

func (s *Service) mux(cfg Config, src Sources) *http.ServeMux {
	mux := http.NewServeMux()
	wrap := func(h http.HandlerFunc) http.HandlerFunc { return withAuth(cfg.Token, h) }

	mux.HandleFunc("/healthz", wrap(func(w http.ResponseWriter, r *http.Request) {
		if src.Health == nil {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
			return
		}
		detail, err := src.Health()
		if err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "degraded", "err": err.Error(), "detail": detail})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "detail": detail})
	}))

	if src.Timers != nil {
		mux.HandleFunc("/timers", wrap(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, src.Timers())
		}))
	}

	if src.Journal != nil {
		mux.HandleFunc("/journal", wrap(func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			limit := 50
			if v := strings.TrimSpace(q.Get("limit")); v != "" {
				n, err := strconv.Atoi(v)
				if err != nil || n <= 0 {
					http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
					return
				}
				limit = min(n, 1000)
			}
			ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
			defer cancel()
			out, err := src.Journal(ctx, strings.TrimSpace(q.Get("timer")), limit)
			if err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
			writeJSON(w, http.StatusOK, out)
		}))
	}

	if src.Metrics != nil {
		mux.Handle("/metrics", wrap(src.Metrics.ServeHTTP))
	}

	if cfg.Pprof {
		mux.HandleFunc(pprofPrefix, wrap(hpprof.Index))
		mux.HandleFunc(pprofPrefix+"cmdline", wrap(hpprof.Cmdline))
		mux.HandleFunc(pprofPrefix+"profile", wrap(hpprof.Profile))
		mux.HandleFunc(pprofPrefix+"symbol", wrap(hpprof.Symbol))
		mux.HandleFunc(pprofPrefix+"trace", wrap(hpprof.Trace))
	}
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// withAuth accepts "Authorization: Bearer <token>" or "?token=<token>".
// An empty token disables the check.
func withAuth(token string, h http.HandlerFunc) http.HandlerFunc {
	tok := strings.TrimSpace(token)
	if tok == "" {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("token"); got != "" {
			if got == tok {
				h(w, r)
				return
			}
			unauthorized(w)
			return
		}
		if ah := r.Header.Get("Authorization"); ah != "" {
			const p = "Bearer "
			if strings.HasPrefix(ah, p) && strings.TrimSpace(strings.TrimPrefix(ah, p)) == tok {
				h(w, r)
				return
			}
		}
		unauthorized(w)
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}
