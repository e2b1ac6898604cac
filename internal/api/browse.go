package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/opsmith-labs/opsmith-core/internal/audit"
	"github.com/opsmith-labs/opsmith-core/internal/definition"
	"github.com/opsmith-labs/opsmith-core/internal/inventory"
)

// handleListPacks returns the loaded pack names with their metadata.
func (s *Server) handleListPacks(w http.ResponseWriter, _ *http.Request) {
	names := s.library.PackNames()
	packs := make([]definition.Metadata, 0, len(names))
	for _, name := range names {
		if pack, err := s.library.Pack(name); err == nil {
			packs = append(packs, pack.Metadata)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"packs": packs,
		"total": len(packs),
	})
}

// handleGetPack returns one full pack definition.
func (s *Server) handleGetPack(w http.ResponseWriter, r *http.Request) {
	pack, err := s.library.Pack(chi.URLParam(r, "name"))
	if err != nil {
		writeNotFound(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, pack)
}

// handleListRecipes returns the loaded recipe names.
func (s *Server) handleListRecipes(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"recipes": s.library.RecipeNames(),
		"total":   len(s.library.RecipeNames()),
	})
}

// handleGetRecipe returns one full recipe definition.
func (s *Server) handleGetRecipe(w http.ResponseWriter, r *http.Request) {
	recipe, err := s.library.Recipe(chi.URLParam(r, "name"))
	if err != nil {
		writeNotFound(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, recipe)
}

// handleQueryDevices resolves an inventory selector from query
// parameters and returns the canonical device records.
//
// Query parameters:
//   - group: named group to expand
//   - tags: comma-separated tag list (all must match)
//   - any other parameter becomes a field equality filter
func (s *Server) handleQueryDevices(w http.ResponseWriter, r *http.Request) {
	if s.inventory == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeInternal, "inventory not configured")
		return
	}

	selector := inventory.Selector{}
	filter := inventory.Filter{}
	for key, values := range r.URL.Query() {
		if len(values) == 0 || values[0] == "" {
			continue
		}
		switch key {
		case "group":
			selector.Group = values[0]
		case "tags":
			filter.Tags = strings.Split(values[0], ",")
		default:
			if filter.Fields == nil {
				filter.Fields = make(map[string]string)
			}
			filter.Fields[key] = values[0]
		}
	}
	if len(filter.Tags) > 0 || len(filter.Fields) > 0 {
		selector.Filter = &filter
	}

	if selector.IsZero() {
		writeBadRequest(w, "at least one of group, tags, or a field filter is required")
		return
	}

	devices, err := s.inventory.Query(r.Context(), selector)
	if err != nil {
		if errors.Is(err, inventory.ErrGroupNotFound) {
			writeNotFound(w, err.Error())
			return
		}
		writeError(w, http.StatusServiceUnavailable, ErrCodeInternal, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"devices": devices,
		"total":   len(devices),
	})
}

// handleListExecutions returns the paginated execution history.
func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeInternal, "execution history not configured")
		return
	}

	filter := audit.Filter{
		Kind:    r.URL.Query().Get("kind"),
		Name:    r.URL.Query().Get("name"),
		Verdict: r.URL.Query().Get("verdict"),
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		filter.Limit, _ = strconv.Atoi(v) //nolint:errcheck // Zero falls back to default
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		filter.Offset, _ = strconv.Atoi(v) //nolint:errcheck // Zero falls back to default
	}

	result, err := s.history.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing executions", "error", err)
		writeInternalError(w, "listing executions failed")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// handleGetExecution returns one execution with its device rows.
func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeInternal, "execution history not configured")
		return
	}

	exec, devices, err := s.history.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, audit.ErrNotFound) {
			writeNotFound(w, err.Error())
			return
		}
		s.logger.Error("loading execution", "error", err)
		writeInternalError(w, "loading execution failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"execution": exec,
		"devices":   devices,
	})
}
