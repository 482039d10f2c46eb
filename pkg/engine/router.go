package engine

import (
	"github.com/go-chi/chi/v5"
)

// NewRouter creates a chi router with every scheduling API route. The
// routes assume identity middleware already ran; mutating handlers reject
// requests without a resolved actor.
func NewRouter(e *Engine) chi.Router {
	r := chi.NewRouter()

	r.Route("/schedules", func(r chi.Router) {
		r.Post("/", createScheduleHandler(e))
		r.Get("/", listSchedulesHandler(e))

		r.Route("/{scheduleID}", func(r chi.Router) {
			r.Get("/", getScheduleHandler(e))
			r.Patch("/horizon", updateHorizonHandler(e))
			r.Post("/transition", transitionScheduleHandler(e))
			r.Post("/sequence", sequenceHandler(e))
			r.Get("/feasibility", feasibilityHandler(e))
			r.Post("/feasibility/refresh", refreshConstraintsHandler(e))
			r.Get("/constraints", listScheduleConstraintsHandler(e))
			r.Post("/entries", addEntryHandler(e))
			r.Get("/entries", queryEntriesHandler(e))
			r.Post("/dispatch", dispatchScheduleHandler(e))
			r.Get("/dispatches", listDispatchesHandler(e))
		})
	})

	r.Route("/entries/{entryID}", func(r chi.Router) {
		r.Get("/", getEntryHandler(e))
		r.Delete("/", removeEntryHandler(e))
		r.Post("/transition", transitionEntryHandler(e))
		r.Get("/readiness", entryReadinessHandler(e))
		r.Get("/constraints", listEntryConstraintsHandler(e))
		r.Post("/dispatch", dispatchEntryHandler(e))
	})

	r.Post("/constraints/{constraintID}/override", overrideConstraintHandler(e))

	r.Route("/history", func(r chi.Router) {
		r.Get("/", historyHandler(e))
		r.Get("/{entityType}/{entityID}", entityHistoryHandler(e))
	})

	return r
}
