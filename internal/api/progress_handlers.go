package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Chanseok/crawlMatterCertis-sub005/internal/progress"
)

const (
	defaultEventLimit = 100
	maxEventLimit     = 1000
)

// ProgressSource yields captured progress events, newest last. The in-memory
// sink satisfies it.
type ProgressSource interface {
	Events() []progress.Event
}

// progressHandler exposes read-only crawl progress endpoints.
type progressHandler struct {
	source ProgressSource
	logger *zap.Logger
}

func newProgressHandler(source ProgressSource, logger *zap.Logger) *progressHandler {
	return &progressHandler{source: source, logger: logger}
}

// ListEvents handles GET /v1/progress?limit=&stage=. It returns the most
// recent events, optionally filtered by stage.
func (h *progressHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	if h.source == nil {
		writeError(w, http.StatusServiceUnavailable, "progress capture unavailable")
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	stage := strings.TrimSpace(r.URL.Query().Get("stage"))

	events := h.source.Events()
	dtos := make([]eventDTO, 0, len(events))
	for _, evt := range events {
		if stage != "" && !strings.EqualFold(stage, string(evt.Stage)) {
			continue
		}
		dtos = append(dtos, toEventDTO(evt))
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": tail(dtos, limit)})
}

// ListRunEvents handles GET /v1/runs/{run_id}/progress.
func (h *progressHandler) ListRunEvents(w http.ResponseWriter, r *http.Request) {
	if h.source == nil {
		writeError(w, http.StatusServiceUnavailable, "progress capture unavailable")
		return
	}
	runID, err := uuid.Parse(chi.URLParam(r, "run_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed run id")
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var dtos []eventDTO
	for _, evt := range h.source.Events() {
		if evt.RunUUID() != runID {
			continue
		}
		dtos = append(dtos, toEventDTO(evt))
	}
	if len(dtos) == 0 {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": tail(dtos, limit)})
}

func parseLimit(r *http.Request) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return defaultEventLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, errors.New("limit must be a positive integer")
	}
	if limit > maxEventLimit {
		limit = maxEventLimit
	}
	return limit, nil
}

func tail(dtos []eventDTO, limit int) []eventDTO {
	if len(dtos) <= limit {
		return dtos
	}
	return dtos[len(dtos)-limit:]
}

type eventDTO struct {
	RunID   string          `json:"run_id"`
	TS      time.Time       `json:"ts"`
	Stage   string          `json:"stage"`
	Kind    string          `json:"kind"`
	PageID  int             `json:"page_id"`
	UnitID  string          `json:"unit_id,omitempty"`
	Status  string          `json:"status,omitempty"`
	Attempt int             `json:"attempt,omitempty"`
	Cycle   int             `json:"cycle,omitempty"`
	Counts  progress.Counts `json:"counts"`
	Note    string          `json:"note,omitempty"`
}

func toEventDTO(evt progress.Event) eventDTO {
	return eventDTO{
		RunID:   evt.RunUUID().String(),
		TS:      evt.TS,
		Stage:   string(evt.Stage),
		Kind:    string(evt.Kind),
		PageID:  evt.PageID,
		UnitID:  evt.UnitID,
		Status:  evt.Status,
		Attempt: evt.Attempt,
		Cycle:   evt.Cycle,
		Counts:  evt.Counts,
		Note:    evt.Note,
	}
}
