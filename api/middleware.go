package api

import (
	"crypto/subtle"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

const adminCookie = "admin_token"

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// observe records request counts and latency by route template.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := s.now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := "unmatched"
		if cr := mux.CurrentRoute(r); cr != nil {
			if tpl, err := cr.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		s.metrics.ObserveHTTP(route, sw.status, s.now().Sub(start))
		s.log.WithFields(logrus.Fields{
			"method": r.Method,
			"route":  route,
			"status": sw.status,
		}).Debug("request")
	})
}

// limited rejects callers over their per-IP budget. A limiter failure lets
// the request through.
func (s *Server) limited(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil {
			ok, err := s.limiter.Allow(r.Context(), clientIP(r))
			if err != nil {
				s.log.WithError(err).Warn("rate limiter unavailable")
			} else if !ok {
				w.Header().Set("Retry-After", strconv.Itoa(60))
				writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "rate limited"})
				return
			}
		}
		h(w, r)
	}
}

func (s *Server) admin(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.isAdmin(r) {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized"})
			return
		}
		h(w, r)
	}
}

func (s *Server) cron(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.isAdmin(r) && !s.isCron(r) {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized"})
			return
		}
		h(w, r)
	}
}

func (s *Server) isAdmin(r *http.Request) bool {
	if c, err := r.Cookie(adminCookie); err == nil && secretEqual(c.Value, s.auth.AdminSecret) {
		return true
	}
	return secretEqual(bearer(r), s.auth.AdminSecret)
}

func (s *Server) isCron(r *http.Request) bool {
	if secretEqual(bearer(r), s.auth.CronSecret) {
		return true
	}
	if s.auth.TrustedCronHeader == "" {
		return false
	}
	return secretEqual(r.Header.Get(s.auth.TrustedCronHeader), s.auth.TrustedCronValue)
}

func bearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) < len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(h[len(prefix):])
}

func secretEqual(got, want string) bool {
	if got == "" || want == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
