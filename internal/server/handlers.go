package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/hoshu-ai/hoshu/internal/model"
	"github.com/hoshu-ai/hoshu/internal/service/dataset"
	"github.com/hoshu-ai/hoshu/internal/storage"
)

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	deps HandlersDeps
}

// NewHandlers creates the handler set.
func NewHandlers(deps HandlersDeps) *Handlers {
	return &Handlers{deps: deps}
}

// HandleAggregate groups feedback matching the filter into per-message
// aggregates without scoring or persisting anything.
func (h *Handlers) HandleAggregate(w http.ResponseWriter, r *http.Request) {
	var filter model.FeedbackFilter
	if err := decodeJSON(r, &filter); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body: "+err.Error())
		return
	}

	aggs, err := h.deps.Aggregator.Aggregate(r.Context(), filter)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"aggregates": aggs,
		"count":      len(aggs),
	})
}

// HandleComputeRewards scores all messages matching the filter and appends
// the records to the reward store.
func (h *Handlers) HandleComputeRewards(w http.ResponseWriter, r *http.Request) {
	var req model.ComputeRewardsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body: "+err.Error())
		return
	}

	records, err := h.deps.RewardSvc.ComputeRewards(r.Context(), req.Filter, req.WeightVersion)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	// Feed the live metrics tracker in the same request so summaries stay
	// close to real time.
	if h.deps.Tracker != nil {
		h.deps.Tracker.IngestAll(records)
	}

	writeJSON(w, r, http.StatusOK, map[string]any{
		"records": records,
		"count":   len(records),
	})
}

// HandleBuildDataset builds (or returns the already-built) dataset version
// for the criteria.
func (h *Handlers) HandleBuildDataset(w http.ResponseWriter, r *http.Request) {
	var req model.BuildDatasetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body: "+err.Error())
		return
	}

	ds, err := h.deps.Builder.Build(r.Context(), req.Criteria, req.MinReward)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, ds)
}

// HandleListDatasets lists dataset metadata, newest first.
func (h *Handlers) HandleListDatasets(w http.ResponseWriter, r *http.Request) {
	includeArchived := r.URL.Query().Get("include_archived") == "true"
	list, err := h.deps.Builder.List(r.Context(), includeArchived)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"datasets": list,
		"count":    len(list),
	})
}

// HandleGetDataset returns one dataset with its entries.
func (h *Handlers) HandleGetDataset(w http.ResponseWriter, r *http.Request) {
	ds, err := h.deps.Builder.Get(r.Context(), r.PathValue("version_id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, ds)
}

// HandleArchiveDataset hides a built dataset from default listings.
func (h *Handlers) HandleArchiveDataset(w http.ResponseWriter, r *http.Request) {
	versionID := r.PathValue("version_id")
	if err := h.deps.Builder.Archive(r.Context(), versionID); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"version_id": versionID,
		"status":     model.DatasetArchived,
	})
}

// HandleMetricsSummary returns folded reward statistics for a time range.
func (h *Handlers) HandleMetricsSummary(w http.ResponseWriter, r *http.Request) {
	mr, ok := h.parseRange(w, r)
	if !ok {
		return
	}
	sum, err := h.deps.Tracker.Summary(r.Context(), mr)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, sum)
}

// HandleMetricsTimeseries returns per-bucket snapshots for a time range.
func (h *Handlers) HandleMetricsTimeseries(w http.ResponseWriter, r *http.Request) {
	mr, ok := h.parseRange(w, r)
	if !ok {
		return
	}

	width := h.deps.Tracker.Width()
	if s := r.URL.Query().Get("bucket"); s != "" {
		var err error
		width, err = model.ParseBucketWidth(s)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
			return
		}
	}

	snaps, err := h.deps.Tracker.Timeseries(r.Context(), mr, width)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"buckets": snaps,
		"count":   len(snaps),
	})
}

// HandleCreateWeightConfig registers a new immutable weight-config version.
func (h *Handlers) HandleCreateWeightConfig(w http.ResponseWriter, r *http.Request) {
	var req model.CreateWeightConfigRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body: "+err.Error())
		return
	}
	if req.Version == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "version is required")
		return
	}

	halfLife := h.deps.DefaultHalfLife
	if req.HalfLife != "" {
		d, err := time.ParseDuration(req.HalfLife)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid half_life: "+err.Error())
			return
		}
		halfLife = d
	}

	cfg, err := model.NewWeightConfig(req.Version,
		req.RatingsWeight, req.BinaryWeight, req.CitationWeight, req.LatencyWeight,
		halfLife)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	if err := h.deps.WeightStore.CreateWeightConfig(r.Context(), cfg); err != nil {
		if errors.Is(err, storage.ErrWeightVersionExists) {
			writeError(w, r, http.StatusConflict, model.ErrCodeConflict, "weight config version already exists")
			return
		}
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, cfg)
}

// HandleListWeightConfigs lists all weight configs, newest first.
func (h *Handlers) HandleListWeightConfigs(w http.ResponseWriter, r *http.Request) {
	list, err := h.deps.WeightStore.ListWeightConfigs(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"weight_configs": list,
		"count":          len(list),
	})
}

// HandleGetWeightConfig returns one weight config by version.
func (h *Handlers) HandleGetWeightConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.deps.WeightStore.GetWeightConfig(r.Context(), r.PathValue("version"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, cfg)
}

// HandleConversationFeedback returns all feedback recorded for a conversation.
func (h *Handlers) HandleConversationFeedback(w http.ResponseWriter, r *http.Request) {
	conversationID, err := uuid.Parse(r.PathValue("conversation_id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid conversation_id")
		return
	}

	events, err := h.deps.Aggregator.ByConversation(r.Context(), conversationID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"conversation_id": conversationID,
		"events":          events,
		"count":           len(events),
	})
}

// HandleHealth reports service and backing-store health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	httpStatus := http.StatusOK
	if h.deps.Health != nil {
		if err := h.deps.Health(r.Context()); err != nil {
			status = "degraded"
			httpStatus = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, r, httpStatus, map[string]any{
		"status":  status,
		"version": h.deps.Version,
	})
}

// writeServiceError maps service errors to API error responses.
func (h *Handlers) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, model.ErrInvalidFilter), errors.Is(err, model.ErrWeightConfig):
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, err.Error())
	case errors.Is(err, dataset.ErrBuildConflict):
		writeError(w, r, http.StatusConflict, model.ErrCodeConflict, err.Error())
	case errors.Is(err, storage.ErrPersistence):
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeUnavailable, err.Error())
	default:
		h.deps.Logger.Error("request failed",
			"path", r.URL.Path,
			"request_id", RequestIDFromContext(r.Context()),
			"error", err,
		)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "internal server error")
	}
}

// parseRange reads optional RFC 3339 start/end query parameters.
func (h *Handlers) parseRange(w http.ResponseWriter, r *http.Request) (model.MetricsRange, bool) {
	var mr model.MetricsRange
	q := r.URL.Query()
	if s := q.Get("start"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid start: "+err.Error())
			return mr, false
		}
		mr.Start = t
	}
	if s := q.Get("end"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid end: "+err.Error())
			return mr, false
		}
		mr.End = t
	}
	return mr, true
}
