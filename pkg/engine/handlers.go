package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/steiner385/MachShop-sub017/pkg/dispatch"
	"github.com/steiner385/MachShop-sub017/pkg/schedule"
)

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	Code       string `json:"code,omitempty"`
	Field      string `json:"field,omitempty"`
	Violations any    `json:"violations,omitempty"`
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorBody{Error: http.StatusText(status), Message: message})
}

// writeEngineError maps domain errors onto HTTP statuses: validation
// failures are 400, missing entities 404, rejected transitions and version
// conflicts 409, collaborator or persistence timeouts 504.
func writeEngineError(w http.ResponseWriter, err error) {
	var ve *schedule.ValidationError
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, errorBody{
			Error:   http.StatusText(http.StatusBadRequest),
			Message: err.Error(),
			Field:   ve.Field,
		})
	case schedule.IsNotFound(err):
		writeError(w, http.StatusNotFound, err.Error())
	case schedule.AsTransition(err) != nil:
		te := schedule.AsTransition(err)
		writeJSON(w, http.StatusConflict, errorBody{
			Error:   http.StatusText(http.StatusConflict),
			Message: te.Message,
			Code:    te.Code,
		})
	case schedule.IsConflict(err):
		writeJSON(w, http.StatusConflict, errorBody{
			Error:   http.StatusText(http.StatusConflict),
			Message: err.Error(),
			Code:    "VERSION_CONFLICT",
		})
	case dispatch.AsDispatch(err) != nil:
		de := dispatch.AsDispatch(err)
		body := errorBody{
			Error:   http.StatusText(http.StatusConflict),
			Message: de.Message,
			Code:    de.Code,
		}
		if len(de.Violations) > 0 {
			body.Violations = de.Violations
		}
		writeJSON(w, http.StatusConflict, body)
	case schedule.IsTimeout(err):
		writeError(w, http.StatusGatewayTimeout, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

func pageParams(r *http.Request) (int, string) {
	pageSize := 0
	if raw := r.URL.Query().Get("pageSize"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			pageSize = n
		}
	}
	return pageSize, r.URL.Query().Get("pageToken")
}

func createScheduleHandler(e *Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateScheduleRequest
		if !decodeBody(w, r, &req) {
			return
		}
		view, err := e.CreateSchedule(r.Context(), req)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, view)
	}
}

func getScheduleHandler(e *Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, err := e.GetSchedule(r.Context(), chi.URLParam(r, "scheduleID"))
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

func listSchedulesHandler(e *Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pageSize, pageToken := pageParams(r)
		list, err := e.ListSchedules(r.Context(),
			r.URL.Query().Get("siteId"), r.URL.Query().Get("state"), pageSize, pageToken)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}

func updateHorizonHandler(e *Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req UpdateHorizonRequest
		if !decodeBody(w, r, &req) {
			return
		}
		view, err := e.UpdateScheduleHorizon(r.Context(), chi.URLParam(r, "scheduleID"), req)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

func transitionScheduleHandler(e *Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req TransitionRequest
		if !decodeBody(w, r, &req) {
			return
		}
		view, err := e.TransitionSchedule(r.Context(), chi.URLParam(r, "scheduleID"), req)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

func sequenceHandler(e *Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := SequenceRequest{Strategy: r.URL.Query().Get("strategy")}
		if r.Body != nil && r.ContentLength > 0 {
			if !decodeBody(w, r, &req) {
				return
			}
		}
		view, err := e.RunSequencer(r.Context(), chi.URLParam(r, "scheduleID"), req)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

func feasibilityHandler(e *Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := e.CheckFeasibility(r.Context(), chi.URLParam(r, "scheduleID"))
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}

func refreshConstraintsHandler(e *Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := e.RefreshConstraints(r.Context(), chi.URLParam(r, "scheduleID"))
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}

func listScheduleConstraintsHandler(e *Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		unresolvedOnly := r.URL.Query().Get("unresolved") == "true"
		views, err := e.ListScheduleConstraints(r.Context(), chi.URLParam(r, "scheduleID"), unresolvedOnly)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"constraints": views})
	}
}

func addEntryHandler(e *Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AddEntryRequest
		if !decodeBody(w, r, &req) {
			return
		}
		view, err := e.AddEntry(r.Context(), chi.URLParam(r, "scheduleID"), req)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, view)
	}
}

func queryEntriesHandler(e *Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		views, err := e.QueryEntries(r.Context(), chi.URLParam(r, "scheduleID"), r.URL.Query().Get("filter"))
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"entries": views})
	}
}

func getEntryHandler(e *Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, err := e.GetEntry(r.Context(), chi.URLParam(r, "entryID"))
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

func removeEntryHandler(e *Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, err := e.RemoveEntry(r.Context(), chi.URLParam(r, "entryID"), r.URL.Query().Get("reason"))
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

func transitionEntryHandler(e *Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req TransitionRequest
		if !decodeBody(w, r, &req) {
			return
		}
		view, err := e.TransitionEntry(r.Context(), chi.URLParam(r, "entryID"), req)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

func entryReadinessHandler(e *Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		readiness, err := e.EntryReadiness(r.Context(), chi.URLParam(r, "entryID"))
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, readiness)
	}
}

func listEntryConstraintsHandler(e *Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		unresolvedOnly := r.URL.Query().Get("unresolved") == "true"
		views, err := e.ListEntryConstraints(r.Context(), chi.URLParam(r, "entryID"), unresolvedOnly)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"constraints": views})
	}
}

func overrideConstraintHandler(e *Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req OverrideRequest
		if !decodeBody(w, r, &req) {
			return
		}
		view, err := e.OverrideConstraint(r.Context(), chi.URLParam(r, "constraintID"), req)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

func dispatchEntryHandler(e *Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, err := e.Dispatch(r.Context(), chi.URLParam(r, "entryID"))
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

func dispatchScheduleHandler(e *Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		batch, err := e.DispatchAll(r.Context(), chi.URLParam(r, "scheduleID"))
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, batch)
	}
}

func listDispatchesHandler(e *Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		views, err := e.ListDispatches(r.Context(), chi.URLParam(r, "scheduleID"))
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"dispatches": views})
	}
}

func entityHistoryHandler(e *Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pageSize, pageToken := pageParams(r)
		list, err := e.TransitionHistory(r.Context(),
			chi.URLParam(r, "entityType"), chi.URLParam(r, "entityID"), pageSize, pageToken)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}

func historyHandler(e *Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pageSize, pageToken := pageParams(r)
		list, err := e.History(r.Context(), r.URL.Query().Get("entityType"), pageSize, pageToken)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}
