package idempotency

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/punchamoorthee/walletops/internal/clock"
	"github.com/punchamoorthee/walletops/internal/logger"
	"github.com/punchamoorthee/walletops/internal/metrics"
	"github.com/sirupsen/logrus"
)

const maxKeyLength = 255

// ScopeFunc names the caller a key belongs to. It returns AnonymousScope when
// the request carries no principal.
type ScopeFunc func(r *http.Request) string

type Middleware struct {
	store   Store
	scope   ScopeFunc
	ttl     time.Duration
	lease   time.Duration
	clock   clock.Clock
	metrics *metrics.Metrics
}

func NewMiddleware(s Store, scope ScopeFunc, ttl time.Duration, c clock.Clock, m *metrics.Metrics) *Middleware {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if c == nil {
		c = clock.RealClock{}
	}
	if scope == nil {
		scope = func(*http.Request) string { return AnonymousScope }
	}
	return &Middleware{store: s, scope: scope, ttl: ttl, lease: DefaultLease, clock: c, metrics: m}
}

// WithLease sets how long a reservation holds its key before the response is
// stored. Completed records keep the full ttl.
func (m *Middleware) WithLease(d time.Duration) *Middleware {
	if d > 0 {
		m.lease = d
	}
	return m
}

func (m *Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(HeaderKey)
		if key == "" {
			next.ServeHTTP(w, r)
			return
		}
		if len(key) > maxKeyLength {
			writeError(w, http.StatusBadRequest, "ValidationError", "Idempotency-Key must be at most 255 characters")
			return
		}

		scope := m.scope(r)
		if scope == "" {
			scope = AnonymousScope
		}
		log := logger.WithFields(logrus.Fields{"scope": scope, "idempotency_key": key})

		rec, reserved, err := m.store.Reserve(r.Context(), scope, key, m.clock.Now().Add(m.lease))
		if err != nil {
			log.WithError(err).Error("idempotency reserve failed")
			m.metrics.ObserveIdempotency("store_error")
			writeError(w, http.StatusInternalServerError, "ServerError", "Internal server error")
			return
		}

		if !reserved {
			if rec.State != StateCompleted {
				m.metrics.ObserveIdempotency("conflict")
				writeError(w, http.StatusConflict, "IdempotencyConflict", "A request with this Idempotency-Key is still being processed")
				return
			}
			m.metrics.ObserveIdempotency("replayed")
			replay(w, rec)
			return
		}

		cw := &captureWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(cw, r)

		// The response is already on the wire; store failures are only logged.
		ctx := context.WithoutCancel(r.Context())
		if cw.status >= http.StatusInternalServerError {
			m.metrics.ObserveIdempotency("released")
			if err := m.store.Release(ctx, scope, key); err != nil {
				log.WithError(err).Warn("idempotency release failed")
			}
			return
		}
		resp := Response{
			StatusCode:  cw.status,
			ContentType: cw.Header().Get("Content-Type"),
			Body:        cw.buf.Bytes(),
		}
		if err := m.store.Complete(ctx, scope, key, resp, m.clock.Now().Add(m.ttl)); err != nil {
			log.WithError(err).Error("idempotency persist failed")
			m.metrics.ObserveIdempotency("store_error")
			if err := m.store.Release(ctx, scope, key); err != nil {
				log.WithError(err).Warn("idempotency release failed")
			}
			return
		}
		m.metrics.ObserveIdempotency("stored")
	})
}

func replay(w http.ResponseWriter, rec *Record) {
	if rec.ContentType != "" {
		w.Header().Set("Content-Type", rec.ContentType)
	}
	w.Header().Set(HeaderReplayed, "true")
	w.WriteHeader(rec.StatusCode)
	w.Write(rec.Body)
}

func writeError(w http.ResponseWriter, code int, errCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"code": errCode, "message": message})
}

// captureWriter tees the handler's output so it can be stored after the
// response has been written.
type captureWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	buf         bytes.Buffer
}

func (c *captureWriter) WriteHeader(code int) {
	if c.wroteHeader {
		return
	}
	c.status = code
	c.wroteHeader = true
	c.ResponseWriter.WriteHeader(code)
}

func (c *captureWriter) Write(b []byte) (int, error) {
	if !c.wroteHeader {
		c.WriteHeader(http.StatusOK)
	}
	c.buf.Write(b)
	return c.ResponseWriter.Write(b)
}
