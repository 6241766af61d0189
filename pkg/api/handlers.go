package api

import (
	"context"
	"net/http"
	"strconv"
	"time"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// handleHealth handles GET /api/health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, HealthResponse{
		Status:  statusOK,
		Uptime:  s.getUptime(),
		Version: s.version,
	})
}

// handleHealthz is the liveness probe
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, LivenessResponse{Status: "alive"})
}

// handleReadyz is the readiness probe: the writer must be running, the
// queue must accept work and the journal must answer
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, 3)
	ready := true

	if s.writer != nil {
		select {
		case <-s.writer.Done():
			checks["writer"] = "stopped"
			ready = false
		default:
			checks["writer"] = statusOK
		}
	}

	if s.queue != nil {
		if s.queue.Len() >= s.queue.Cap() {
			checks["queue"] = "full"
			ready = false
		} else {
			checks["queue"] = statusOK
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.storage.Ping(ctx); err != nil {
		s.logger.Warn("Readiness check: storage unavailable", "error", err)
		checks["storage"] = "unavailable"
		ready = false
	} else {
		checks["storage"] = statusOK
	}

	if !ready {
		s.writeJSON(w, http.StatusServiceUnavailable, ReadinessResponse{Status: "not_ready", Checks: checks})
		return
	}
	s.writeJSON(w, http.StatusOK, ReadinessResponse{Status: "ready", Checks: checks})
}

// handleStats handles GET /api/stats
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := StatsResponse{
		Uptime:    s.getUptime(),
		Timestamp: time.Now().Format(time.RFC3339),
		System:    collectSystemStats(ctx),
	}

	if s.store != nil {
		resp.Zone = ZoneStats{
			Name:    s.store.Origin(),
			Sets:    s.store.Count(),
			Records: s.store.Size(),
			Version: s.store.Version(),
		}
	}
	if s.queue != nil {
		resp.Mutations.Pending = s.queue.Len()
		resp.Mutations.Capacity = s.queue.Cap()
		resp.Mutations.LastVersion = s.queue.LastVersion()
	}
	if s.writer != nil {
		resp.Mutations.Applied = s.writer.Applied()
		resp.Mutations.Dropped = s.writer.Dropped()
	}
	if s.forwarder != nil {
		if health := s.forwarder.Health(); len(health) > 0 {
			resp.Upstreams = make(map[string]string, len(health))
			for upstream, state := range health {
				resp.Upstreams[upstream] = state.String()
			}
		}
	}

	s.writeJSON(w, http.StatusOK, resp)
}

// handleZones handles GET /api/zones
func (s *Server) handleZones(w http.ResponseWriter, r *http.Request) {
	if s.catalog == nil {
		s.writeError(w, http.StatusServiceUnavailable, "Catalog not available")
		return
	}
	s.writeJSON(w, http.StatusOK, ZonesResponse{Zones: s.catalog.Zones()})
}

// handleMutations handles GET /api/mutations
func (s *Server) handleMutations(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r)

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	entries, err := s.storage.RecentMutations(ctx, limit)
	if err != nil {
		s.logger.Error("Failed to get mutations", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to retrieve mutations")
		return
	}

	s.writeJSON(w, http.StatusOK, MutationsResponse{
		Mutations: entries,
		Total:     len(entries),
		Limit:     limit,
	})
}

// handleQueries handles GET /api/queries
func (s *Server) handleQueries(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r)

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	queries, err := s.storage.RecentQueries(ctx, limit)
	if err != nil {
		s.logger.Error("Failed to get queries", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to retrieve queries")
		return
	}

	s.writeJSON(w, http.StatusOK, QueriesResponse{
		Queries: queries,
		Total:   len(queries),
		Limit:   limit,
	})
}

// parseLimit reads ?limit=, falling back to the default when absent or out of range
func parseLimit(r *http.Request) int {
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 && l <= maxListLimit {
		return l
	}
	return defaultListLimit
}
