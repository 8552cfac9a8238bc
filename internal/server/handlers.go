package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/dhaniverse/contrag/internal/catalog"
	"github.com/dhaniverse/contrag/internal/errs"
	"github.com/dhaniverse/contrag/internal/logger"
	"github.com/dhaniverse/contrag/internal/pipeline"
)

type handlers struct {
	pipeline *pipeline.Pipeline
	log      *logger.Logger
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	reports := h.pipeline.TestConnections(r.Context())

	status := http.StatusOK
	body := map[string]any{"status": "ok", "components": reports}
	for _, rep := range reports {
		if !rep.OK {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
			break
		}
	}
	writeJSON(w, status, body)
}

func (h *handlers) build(w http.ResponseWriter, r *http.Request) {
	entityType := chi.URLParam(r, "entityType")
	id := chi.URLParam(r, "id")

	res, err := h.pipeline.Rebuild(r.Context(), entityType, id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *handlers) remove(w http.ResponseWriter, r *http.Request) {
	entityType := chi.URLParam(r, "entityType")
	id := chi.URLParam(r, "id")

	if err := h.pipeline.Delete(r.Context(), entityType, id); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) query(w http.ResponseWriter, r *http.Request) {
	entityType := chi.URLParam(r, "entityType")
	id := chi.URLParam(r, "id")

	text := r.URL.Query().Get("q")
	k := 0
	if raw := r.URL.Query().Get("k"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			h.writeError(w, errs.Newf(errs.ErrKindInvalidInput, "k must be a positive integer, got %q", raw))
			return
		}
		k = parsed
	}

	matches, err := h.pipeline.Query(r.Context(), entityType, id, text, k)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if matches == nil {
		matches = []pipeline.QueryMatch{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"namespace": pipeline.Namespace(entityType, id),
		"matches":   matches,
	})
}

func (h *handlers) listNamespaces(w http.ResponseWriter, r *http.Request) {
	names, err := h.pipeline.Store().ListNamespaces(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"namespaces": names})
}

type fieldView struct {
	Name             string `json:"name"`
	Type             string `json:"type"`
	Nullable         bool   `json:"nullable,omitempty"`
	IsPrimaryKey     bool   `json:"is_primary_key,omitempty"`
	IsForeignKey     bool   `json:"is_foreign_key,omitempty"`
	ReferencedEntity string `json:"referenced_entity,omitempty"`
	ReferencedField  string `json:"referenced_field,omitempty"`
}

type relationshipView struct {
	Kind         string `json:"kind"`
	TargetEntity string `json:"target_entity"`
	LocalKey     string `json:"local_key,omitempty"`
	ForeignKey   string `json:"foreign_key,omitempty"`
}

type schemaView struct {
	Name            string             `json:"name"`
	Fields          []fieldView        `json:"fields"`
	Relationships   []relationshipView `json:"relationships,omitempty"`
	TimeSeriesField string             `json:"time_series_field,omitempty"`
}

func (h *handlers) schema(w http.ResponseWriter, r *http.Request) {
	schemas, err := h.pipeline.Catalog().Schemas(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	views := make([]schemaView, 0, len(schemas))
	for _, s := range schemas {
		views = append(views, toSchemaView(s))
	}
	writeJSON(w, http.StatusOK, map[string][]schemaView{"entities": views})
}

func toSchemaView(s *catalog.EntitySchema) schemaView {
	view := schemaView{Name: s.Name}
	for _, f := range s.Fields {
		view.Fields = append(view.Fields, fieldView{
			Name:             f.Name,
			Type:             f.Type.String(),
			Nullable:         f.Nullable,
			IsPrimaryKey:     f.IsPrimaryKey,
			IsForeignKey:     f.IsForeignKey,
			ReferencedEntity: f.ReferencedEntity,
			ReferencedField:  f.ReferencedField,
		})
	}
	for _, rel := range s.Relationships {
		view.Relationships = append(view.Relationships, relationshipView{
			Kind:         rel.Kind.String(),
			TargetEntity: rel.TargetEntity,
			LocalKey:     rel.LocalKey,
			ForeignKey:   rel.ForeignKey,
		})
	}
	if s.TimeSeries != nil && s.TimeSeries.Enabled {
		view.TimeSeriesField = s.TimeSeries.Field
	}
	return view
}

// writeError maps pipeline error kinds onto HTTP statuses. Branch fetch
// failures never surface here (the builder absorbs them), but the mapping
// is kept total so new kinds degrade to 500 instead of panicking.
func (h *handlers) writeError(w http.ResponseWriter, err error) {
	var (
		status int
		kind   string
	)
	switch {
	case errs.IsNotFound(err):
		status, kind = http.StatusNotFound, "not_found"
	case errs.IsInvalidInput(err):
		status, kind = http.StatusBadRequest, "invalid_input"
	case errs.IsConfig(err):
		status, kind = http.StatusUnprocessableEntity, "configuration"
	case errs.IsTimeout(err):
		status, kind = http.StatusGatewayTimeout, "timeout"
	case errs.IsConnectionFailed(err), errs.IsUnavailable(err):
		status, kind = http.StatusBadGateway, "unavailable"
	default:
		status, kind = http.StatusInternalServerError, "internal"
	}

	if status >= http.StatusInternalServerError {
		h.log.ErrorWith("request failed", err, nil)
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Kind: kind})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
