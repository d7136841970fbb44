package api

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// SetupRouter creates and configures the HTTP router
func SetupRouter(handler *Handler, allowedOrigins []string, logger *zap.Logger) *mux.Router {
	router := mux.NewRouter()

	// Apply middleware
	router.Use(loggingMiddleware(logger))
	router.Use(corsMiddleware(allowedOrigins))
	router.Use(recoveryMiddleware(logger))

	router.HandleFunc("/health", handler.HandleHealth).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	if handler.sockets != nil {
		router.Handle("/ws", handler.sockets).Methods(http.MethodGet)
	}

	// API v1 routes
	api := router.PathPrefix("/api/v1").Subrouter()

	// Wallets
	api.HandleFunc("/wallets", handler.HandleCreateWallets).Methods(http.MethodPost)
	api.HandleFunc("/wallets/{userId}/balances", handler.HandleGetBalances).Methods(http.MethodGet)

	// Transfers
	api.HandleFunc("/transfers", handler.HandleTransfer).Methods(http.MethodPost)
	api.HandleFunc("/transfers/token", handler.HandleTransferToken).Methods(http.MethodPost)
	api.HandleFunc("/networks/{network}/fee", handler.HandleEstimateFee).Methods(http.MethodGet)

	// Payments and spot orders
	api.HandleFunc("/payments", handler.HandleCreatePayment).Methods(http.MethodPost)
	api.HandleFunc("/payments/{id}", handler.HandleGetPayment).Methods(http.MethodGet)
	api.HandleFunc("/orders", handler.HandleCreateOrder).Methods(http.MethodPost)
	api.HandleFunc("/orders/{id}", handler.HandleGetOrder).Methods(http.MethodGet)

	return router
}

// ==================== Middleware ====================

// loggingMiddleware logs HTTP requests
func loggingMiddleware(logger *zap.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Wrap response writer to capture status code
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			logger.Info("HTTP request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", wrapped.statusCode),
				zap.Duration("duration", time.Since(start)),
				zap.String("remote_addr", r.RemoteAddr),
			)
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack lets the websocket upgrade take over the connection
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	rw.statusCode = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}

// corsMiddleware adds CORS headers for the allowed origins, "*" allows any
func corsMiddleware(allowedOrigins []string) mux.MiddlewareFunc {
	allowAll := len(allowedOrigins) == 0
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		if origin == "*" {
			allowAll = true
		}
		allowed[origin] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			switch {
			case allowAll:
				w.Header().Set("Access-Control-Allow-Origin", "*")
			case allowed[origin]:
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

			// Handle preflight requests
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// recoveryMiddleware recovers from panics and logs them
func recoveryMiddleware(logger *zap.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.Error("Panic recovered",
						zap.Any("error", err),
						zap.String("method", r.Method),
						zap.String("path", r.URL.Path),
					)

					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					w.Write([]byte(`{"error":"Internal server error","message":"An unexpected error occurred"}`))
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
