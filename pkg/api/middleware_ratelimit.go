package api

import (
	"net"
	"net/http"
	"strconv"
)

// rateLimitMiddleware enforces per-IP limits on the HTTP API
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limiter := s.limiter.Load()
		if limiter == nil || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		clientIP := clientIPFromRequest(r)
		allowed, retryAfter := limiter.Allow(clientIP)
		if allowed {
			next.ServeHTTP(w, r)
			return
		}

		s.logger.Debug("HTTP request rate limited", "client_ip", clientIP, "path", r.URL.Path)
		w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
		s.writeError(w, http.StatusTooManyRequests, "Rate limit exceeded")
	})
}

// clientIPFromRequest uses the socket peer; forwarding headers are not trusted
func clientIPFromRequest(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
