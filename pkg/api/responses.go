package api

import (
	"override-dns/pkg/config"
	"override-dns/pkg/dns"
	"override-dns/pkg/storage"
)

const (
	statusOK       = "ok"
	statusAccepted = "accepted"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status  string `json:"status"`
	Uptime  string `json:"uptime"`
	Version string `json:"version"`
}

// LivenessResponse represents the liveness probe response
type LivenessResponse struct {
	Status string `json:"status"` // "alive"
}

// ReadinessResponse represents the readiness probe response
type ReadinessResponse struct {
	Status string            `json:"status"` // "ready" or "not_ready"
	Checks map[string]string `json:"checks"`
}

// ErrorResponse represents an API error
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
}

// RecordResponse is one stored record in entry form plus its zone file line
type RecordResponse struct {
	config.LocalRecordEntry
	Value string `json:"value"`
}

// RecordSetResponse is every record stored for one (name, type)
type RecordSetResponse struct {
	Name    string           `json:"name"`
	Type    string           `json:"type"`
	Records []RecordResponse `json:"records"`
}

// RecordsListResponse lists the whole override zone
type RecordsListResponse struct {
	Zone    string           `json:"zone"`
	Records []RecordResponse `json:"records"`
	Total   int              `json:"total"`
	Version uint64           `json:"version"`
}

// MutationAcceptedResponse is returned once an instruction is queued.
// Version is the value the store reports after it has been applied.
type MutationAcceptedResponse struct {
	Status  string `json:"status"`
	Kind    string `json:"kind"`
	Name    string `json:"name"`
	Type    string `json:"type"`
	Version uint64 `json:"version"`
}

// MutationsResponse lists recent journal entries
type MutationsResponse struct {
	Mutations []*storage.MutationEntry `json:"mutations"`
	Total     int                      `json:"total"`
	Limit     int                      `json:"limit"`
}

// QueriesResponse lists recent query log entries
type QueriesResponse struct {
	Queries []*storage.QueryLog `json:"queries"`
	Total   int                 `json:"total"`
	Limit   int                 `json:"limit"`
}

// ZonesResponse lists the zones the resolver consults
type ZonesResponse struct {
	Zones []dns.ZoneInfo `json:"zones"`
}

// StatsResponse summarizes the process, the zone and the mutation pipeline
type StatsResponse struct {
	Uptime    string            `json:"uptime"`
	Timestamp string            `json:"timestamp"`
	System    SystemStats       `json:"system"`
	Zone      ZoneStats         `json:"zone"`
	Mutations MutationStats     `json:"mutations"`
	Upstreams map[string]string `json:"upstreams,omitempty"`
}

// SystemStats holds process resource usage
type SystemStats struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemUsed    uint64  `json:"mem_used_bytes"`
	MemTotal   uint64  `json:"mem_total_bytes"`
	MemPercent float64 `json:"mem_percent"`
	Goroutines int     `json:"goroutines"`
	Hostname   string  `json:"hostname,omitempty"`
}

// ZoneStats describes the record store
type ZoneStats struct {
	Name    string `json:"name"`
	Sets    int    `json:"record_sets"`
	Records int    `json:"records"`
	Version uint64 `json:"version"`
}

// MutationStats describes the queue and its writer
type MutationStats struct {
	Pending     int    `json:"pending"`
	Capacity    int    `json:"capacity"`
	LastVersion uint64 `json:"last_version"`
	Applied     uint64 `json:"applied"`
	Dropped     uint64 `json:"dropped"`
}
