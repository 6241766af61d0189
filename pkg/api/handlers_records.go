package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"override-dns/pkg/config"
	"override-dns/pkg/localrecords"
	"override-dns/pkg/mutation"

	"github.com/miekg/dns"
)

const maxBodyBytes = 1 << 20

// handleListRecords handles GET /api/records
func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeError(w, http.StatusServiceUnavailable, "Record store not available")
		return
	}

	records := make([]RecordResponse, 0, s.store.Size())
	for _, set := range s.store.Records() {
		for _, rr := range set {
			records = append(records, toRecordResponse(rr))
		}
	}

	s.writeJSON(w, http.StatusOK, RecordsListResponse{
		Zone:    s.store.Origin(),
		Records: records,
		Total:   len(records),
		Version: s.store.Version(),
	})
}

// handleGetRecordSet handles GET /api/records/{name}/{type}
func (s *Server) handleGetRecordSet(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeError(w, http.StatusServiceUnavailable, "Record store not available")
		return
	}

	key, ok := s.pathKey(w, r)
	if !ok {
		return
	}

	set, err := s.store.Lookup(key.Name, key.Type)
	if errors.Is(err, localrecords.ErrRecordNotFound) {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("No %s records for %s", localrecords.TypeLabel(key.Type), key.Name))
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := RecordSetResponse{
		Name:    key.Name,
		Type:    localrecords.TypeLabel(key.Type),
		Records: make([]RecordResponse, 0, len(set)),
	}
	for _, rr := range set {
		resp.Records = append(resp.Records, toRecordResponse(rr))
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleAddRecord handles POST /api/records: the records built from the
// entry are upserted into their set
func (s *Server) handleAddRecord(w http.ResponseWriter, r *http.Request) {
	if s.store == nil || s.queue == nil {
		s.writeError(w, http.StatusServiceUnavailable, "Mutation queue not available")
		return
	}

	var entry config.LocalRecordEntry
	if err := decodeJSON(w, r, &entry); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	set, err := mutation.EntryToSet(entry)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.checkSet(set); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.enqueue(w, mutation.Add(set...).WithSource(mutation.SourceAPI))
}

// handleReplaceRecords handles PUT /api/records: the entries must describe
// one (name, type) and replace whatever is stored for it
func (s *Server) handleReplaceRecords(w http.ResponseWriter, r *http.Request) {
	if s.store == nil || s.queue == nil {
		s.writeError(w, http.StatusServiceUnavailable, "Mutation queue not available")
		return
	}

	var entries []config.LocalRecordEntry
	if err := decodeJSON(w, r, &entries); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if len(entries) == 0 {
		s.writeError(w, http.StatusBadRequest, "At least one record is required")
		return
	}

	sets, err := mutation.BuildSets(entries)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(sets) != 1 {
		s.writeError(w, http.StatusBadRequest, "Records must share one name and type")
		return
	}

	var set localrecords.RecordSet
	for _, only := range sets {
		set = only
	}
	if err := s.checkSet(set); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.enqueue(w, mutation.Replace(set).WithSource(mutation.SourceAPI))
}

// handleRemoveRecordSet handles DELETE /api/records/{name}/{type}
func (s *Server) handleRemoveRecordSet(w http.ResponseWriter, r *http.Request) {
	if s.store == nil || s.queue == nil {
		s.writeError(w, http.StatusServiceUnavailable, "Mutation queue not available")
		return
	}

	key, ok := s.pathKey(w, r)
	if !ok {
		return
	}
	if _, err := s.store.Lookup(key.Name, key.Type); errors.Is(err, localrecords.ErrRecordNotFound) {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("No %s records for %s", localrecords.TypeLabel(key.Type), key.Name))
		return
	}

	s.enqueue(w, mutation.Remove(key.Name, key.Type).WithSource(mutation.SourceAPI))
}

// enqueue hands ins to the writer without blocking; a full queue is
// reported to the caller instead of waiting
func (s *Server) enqueue(w http.ResponseWriter, ins mutation.Instruction) {
	version, err := s.queue.TryEnqueue(ins)
	switch {
	case errors.Is(err, mutation.ErrQueueFull):
		w.Header().Set("Retry-After", "1")
		s.writeError(w, http.StatusServiceUnavailable, "Mutation queue is full")
		return
	case errors.Is(err, mutation.ErrQueueClosed):
		s.writeError(w, http.StatusServiceUnavailable, "Server is shutting down")
		return
	case err != nil:
		s.logger.Error("Failed to queue mutation", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to queue mutation")
		return
	}

	key := ins.Target()
	s.logger.Info("Queued mutation",
		"kind", ins.Kind.String(),
		"name", key.Name,
		"type", localrecords.TypeLabel(key.Type),
		"version", version)

	s.writeJSON(w, http.StatusAccepted, MutationAcceptedResponse{
		Status:  statusAccepted,
		Kind:    ins.Kind.String(),
		Name:    key.Name,
		Type:    localrecords.TypeLabel(key.Type),
		Version: version,
	})
}

// checkSet rejects records the store would refuse, so the caller sees the
// error instead of the writer dropping the instruction
func (s *Server) checkSet(set localrecords.RecordSet) error {
	for _, rr := range set {
		if err := s.store.Check(rr); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) pathKey(w http.ResponseWriter, r *http.Request) (localrecords.Key, bool) {
	name := r.PathValue("name")
	if _, ok := dns.IsDomainName(name); !ok || name == "" {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid domain name %q", name))
		return localrecords.Key{}, false
	}
	rtype, err := localrecords.ParseRecordType(r.PathValue("type"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return localrecords.Key{}, false
	}
	return localrecords.NewKey(name, rtype.Qtype()), true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func toRecordResponse(rr dns.RR) RecordResponse {
	return RecordResponse{
		LocalRecordEntry: localrecords.EntryFromRR(rr),
		Value:            rr.String(),
	}
}
