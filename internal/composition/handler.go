package composition

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"tracklab/internal/platform/metrics"

	"github.com/go-chi/chi/v5"
)

// Handler exposes the persistence service HTTP endpoints using go-chi.
type Handler struct {
	svc     *Service
	log     *slog.Logger
	metrics *metrics.Metrics
}

// NewHandler returns a Handler that uses the given Service, Logger, and optional Metrics.
// Metrics may be nil to disable metric recording (e.g. in tests).
func NewHandler(svc *Service, log *slog.Logger, m *metrics.Metrics) *Handler {
	return &Handler{svc: svc, log: log, metrics: m}
}

// RegisterRoutes mounts all composition endpoints on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/compositions", func(r chi.Router) {
		r.Post("/", h.CreateComposition)
		r.Get("/", h.ListCompositions)
		r.Route("/{composition_id}", func(r chi.Router) {
			r.Get("/", h.GetComposition)
			r.Patch("/", h.UpdateComposition)
			r.Delete("/", h.DeleteComposition)
			r.Post("/save", h.SaveComposition)
			r.Get("/history", h.ListHistory)
			r.Post("/history/{version}/restore", h.RestoreVersion)
			r.Post("/recover", h.RecoverAutosave)
			r.Get("/export", h.ExportComposition)
			r.Put("/sequence", h.SaveSequence)
			r.Put("/mixer", h.SaveMixer)
			r.Put("/effects/{track_id}", h.SaveEffectChain)
			r.Put("/samples/{track_id}", h.SaveSampleAssignment)
		})
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors to HTTP status codes.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var status int
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrVersionNotFound), errors.Is(err, ErrNoAutosave):
		status = http.StatusNotFound
	case errors.Is(err, ErrInvalidInput):
		status = http.StatusBadRequest
	default:
		status = http.StatusInternalServerError
		h.log.Error("request failed", slog.String("error", err.Error()))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// CreateComposition handles POST /compositions.
// Body: { "name": "Song A", "tempo": 120 }.
func (h *Handler) CreateComposition(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name  string  `json:"name"`
		Tempo float64 `json:"tempo"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log.Debug("invalid create body", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	meta, err := h.svc.CreateComposition(r.Context(), req.Name, req.Tempo)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.log.Info("composition created",
		slog.String("composition_id", string(meta.ID)),
		slog.String("name", meta.Name))
	writeJSON(w, http.StatusCreated, meta)
}

// ListCompositions handles GET /compositions.
func (h *Handler) ListCompositions(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.ListCompositions(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"compositions": list})
}

// GetComposition handles GET /compositions/{composition_id}?use_autosave=true.
func (h *Handler) GetComposition(w http.ResponseWriter, r *http.Request) {
	id := CompositionID(chi.URLParam(r, "composition_id"))
	useAutosave, _ := strconv.ParseBool(r.URL.Query().Get("use_autosave"))

	doc, err := h.svc.GetComposition(r.Context(), id, useAutosave)
	if err != nil {
		if h.metrics != nil {
			h.metrics.IncLoadFailures()
		}
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// UpdateComposition handles PATCH /compositions/{composition_id}.
func (h *Handler) UpdateComposition(w http.ResponseWriter, r *http.Request) {
	id := CompositionID(chi.URLParam(r, "composition_id"))

	var upd MetadataUpdate
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	meta, err := h.svc.UpdateComposition(r.Context(), id, upd)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

// SaveComposition handles POST /compositions/{composition_id}/save.
// Body: { "create_history": false, "is_autosave": true }.
func (h *Handler) SaveComposition(w http.ResponseWriter, r *http.Request) {
	id := CompositionID(chi.URLParam(r, "composition_id"))

	var opts SaveOptions
	if err := json.NewDecoder(r.Body).Decode(&opts); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	res, err := h.svc.SaveComposition(r.Context(), id, opts)
	if err != nil {
		if h.metrics != nil {
			h.metrics.IncSaveFailures()
		}
		h.writeError(w, err)
		return
	}

	kind := "manual"
	if opts.IsAutosave {
		kind = "autosave"
	}
	if h.metrics != nil {
		h.metrics.IncSaves(kind)
	}
	h.log.Debug("composition saved",
		slog.String("composition_id", string(id)),
		slog.String("kind", kind),
		slog.Bool("history_created", res.HistoryCreated))
	writeJSON(w, http.StatusOK, res)
}

// DeleteComposition handles DELETE /compositions/{composition_id}.
func (h *Handler) DeleteComposition(w http.ResponseWriter, r *http.Request) {
	id := CompositionID(chi.URLParam(r, "composition_id"))

	if err := h.svc.DeleteComposition(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	h.log.Info("composition deleted", slog.String("composition_id", string(id)))
	writeJSON(w, http.StatusOK, map[string]any{})
}

// ListHistory handles GET /compositions/{composition_id}/history.
func (h *Handler) ListHistory(w http.ResponseWriter, r *http.Request) {
	id := CompositionID(chi.URLParam(r, "composition_id"))

	history, err := h.svc.ListHistory(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": history})
}

// RestoreVersion handles POST /compositions/{composition_id}/history/{version}/restore.
func (h *Handler) RestoreVersion(w http.ResponseWriter, r *http.Request) {
	id := CompositionID(chi.URLParam(r, "composition_id"))
	version, err := strconv.Atoi(chi.URLParam(r, "version"))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	doc, err := h.svc.RestoreVersion(r.Context(), id, version)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.log.Info("version restored",
		slog.String("composition_id", string(id)),
		slog.Int("version", version))
	writeJSON(w, http.StatusOK, doc)
}

// RecoverAutosave handles POST /compositions/{composition_id}/recover.
func (h *Handler) RecoverAutosave(w http.ResponseWriter, r *http.Request) {
	id := CompositionID(chi.URLParam(r, "composition_id"))

	doc, err := h.svc.RecoverAutosave(r.Context(), id)
	if err != nil {
		if h.metrics != nil {
			h.metrics.IncLoadFailures()
		}
		h.writeError(w, err)
		return
	}
	h.log.Info("autosave recovered", slog.String("composition_id", string(id)))
	writeJSON(w, http.StatusOK, doc)
}

// ExportComposition handles GET /compositions/{composition_id}/export and
// returns the document as a YAML download.
func (h *Handler) ExportComposition(w http.ResponseWriter, r *http.Request) {
	id := CompositionID(chi.URLParam(r, "composition_id"))

	doc, err := h.svc.GetComposition(r.Context(), id, false)
	if err != nil {
		h.writeError(w, err)
		return
	}

	data, err := ExportYAML(doc)
	if err != nil {
		h.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/x-yaml")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", doc.Composition.Name+".yaml"))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// SaveSequence handles PUT /compositions/{composition_id}/sequence.
func (h *Handler) SaveSequence(w http.ResponseWriter, r *http.Request) {
	id := CompositionID(chi.URLParam(r, "composition_id"))

	var doc SequenceDoc
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if err := h.svc.SaveSequence(r.Context(), id, doc); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{})
}

// SaveMixer handles PUT /compositions/{composition_id}/mixer.
func (h *Handler) SaveMixer(w http.ResponseWriter, r *http.Request) {
	id := CompositionID(chi.URLParam(r, "composition_id"))

	var st MixerState
	if err := json.NewDecoder(r.Body).Decode(&st); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if err := h.svc.SaveMixer(r.Context(), id, st); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{})
}

// SaveEffectChain handles PUT /compositions/{composition_id}/effects/{track_id}.
func (h *Handler) SaveEffectChain(w http.ResponseWriter, r *http.Request) {
	id := CompositionID(chi.URLParam(r, "composition_id"))
	trackID := chi.URLParam(r, "track_id")

	var chain []Effect
	if err := json.NewDecoder(r.Body).Decode(&chain); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if err := h.svc.SaveEffectChain(r.Context(), id, trackID, chain); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{})
}

// SaveSampleAssignment handles PUT /compositions/{composition_id}/samples/{track_id}.
// A JSON null body clears the assignment.
func (h *Handler) SaveSampleAssignment(w http.ResponseWriter, r *http.Request) {
	id := CompositionID(chi.URLParam(r, "composition_id"))
	trackID := chi.URLParam(r, "track_id")

	var a *SampleAssignment
	if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if err := h.svc.SaveSampleAssignment(r.Context(), id, trackID, a); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{})
}
