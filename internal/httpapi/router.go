package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/atomicbridge/swapserver/internal/handlers/frombtc"
	"github.com/atomicbridge/swapserver/internal/handlers/frombtcln"
	"github.com/atomicbridge/swapserver/internal/handlers/info"
	"github.com/atomicbridge/swapserver/internal/handlers/tobtc"
	"github.com/atomicbridge/swapserver/internal/handlers/tobtcln"
	"github.com/atomicbridge/swapserver/internal/swapbase"
)

// Dependencies holds the handlers the router dispatches to, one per
// swap direction plus the discovery handler (spec.md §2, §6).
type Dependencies struct {
	Info      *info.Handler
	ToBtcLn   *tobtcln.Handler
	FromBtcLn *frombtcln.Handler
	ToBtc     *tobtc.Handler
	FromBtc   *frombtc.Handler
}

// NewRouter builds the chi router serving every route in spec.md §6
// under basePath (e.g. "/swap").
func NewRouter(basePath string, deps *Dependencies) chi.Router {
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(requestTracing)
	r.Use(requestLogging)
	r.Use(chimw.Timeout(30 * time.Second))

	slog.Info("httpapi router initialized", "basePath", basePath)

	r.Route(basePath, func(r chi.Router) {
		r.Post("/info", InfoHandler(deps.Info))

		r.Post("/ln/payInvoice", PayInvoiceHandler(deps.ToBtcLn))
		r.Post("/ln/getRefundAuthorization", GetRefundAuthorizationHandler(deps.ToBtcLn))

		r.Post("/ln/createInvoice", CreateInvoiceHandler(deps.FromBtcLn))
		r.Get("/ln/getInvoiceStatus", GetInvoiceStatusHandler(deps.FromBtcLn))
		r.Post("/ln/getInvoiceStatus", GetInvoiceStatusHandler(deps.FromBtcLn))
		r.Get("/ln/getInvoicePaymentAuth", GetInvoicePaymentAuthHandler(deps.FromBtcLn))
		r.Post("/ln/getInvoicePaymentAuth", GetInvoicePaymentAuthHandler(deps.FromBtcLn))

		r.Post("/onchain/getQuote", GetQuoteHandler(deps.ToBtc))
		r.Post("/onchain/getQuoteCommit", GetQuoteCommitHandler(deps.ToBtc))

		r.Post("/onchain/getAddress", GetAddressHandler(deps.FromBtc))
	})

	return r
}

// requestTracing mints a trace id for the request (spec.md §3
// Metadata.RequestID), attaching it to the request context so any swap
// created downstream can stamp it, and to the response so a client can
// correlate its own logs against the intermediary's.
func requestTracing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := swapbase.NewRequestID()
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r.WithContext(swapbase.WithRequestID(r.Context(), id)))
	})
}

// requestLogging logs each request's method, path, status, and
// duration, adapted from the teacher's own chi request-logging
// middleware to use slog instead of a bespoke response-writer wrapper.
func requestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start).String(),
			"remoteAddr", r.RemoteAddr,
			"requestId", swapbase.RequestIDFromContext(r.Context()),
		)
	})
}
