package api

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"gamerent/pkg/idempotency"
)

const idempotencyHeader = "Idempotency-Key"

type captureWriter struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (c *captureWriter) WriteHeader(code int) {
	c.status = code
	c.ResponseWriter.WriteHeader(code)
}

func (c *captureWriter) Write(b []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	c.body.Write(b)
	return c.ResponseWriter.Write(b)
}

// idempotent replays the stored response when a request repeats an Idempotency-Key. Keys are
// scoped to method and path. Server errors release the key so the client can retry.
func (a *API) idempotent(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get(idempotencyHeader))
		if key == "" || a.idem == nil {
			next.ServeHTTP(w, r)
			return
		}
		if len(key) > 255 {
			respondError(w, http.StatusBadRequest, codeValidation, "Idempotency-Key is too long")
			return
		}
		scoped := r.Method + " " + r.URL.Path + " " + key

		stored, err := a.idem.Begin(r.Context(), scoped)
		switch {
		case errors.Is(err, idempotency.ErrInFlight):
			respondError(w, http.StatusConflict, codeConflict, "a request with this Idempotency-Key is still in progress")
			return
		case err != nil:
			// fail open: the store being down must not block purchases
			log.Ctx(r.Context()).Warn().Err(err).Msg("idempotency store unavailable")
			next.ServeHTTP(w, r)
			return
		case stored != nil:
			a.metrics.idemReplays.Inc()
			if stored.ContentType != "" {
				w.Header().Set("Content-Type", stored.ContentType)
			}
			w.Header().Set("Idempotent-Replayed", "true")
			w.WriteHeader(stored.Status)
			_, _ = w.Write(stored.Body)
			return
		}

		ctx := context.WithoutCancel(r.Context())
		// released unless a response is stored below, including when next panics
		var completed bool
		defer func() {
			if completed {
				return
			}
			if err := a.idem.Abort(ctx, scoped); err != nil {
				log.Ctx(ctx).Warn().Err(err).Msg("release idempotency key")
			}
		}()

		rec := &captureWriter{ResponseWriter: w}
		next.ServeHTTP(rec, r)

		if rec.status == 0 || rec.status >= http.StatusInternalServerError {
			return
		}
		resp := idempotency.Response{
			Status:      rec.status,
			ContentType: rec.Header().Get("Content-Type"),
			Body:        rec.body.Bytes(),
		}
		if err := a.idem.Complete(ctx, scoped, resp); err != nil {
			log.Ctx(ctx).Warn().Err(err).Msg("store idempotent response")
			return
		}
		completed = true
	})
}
