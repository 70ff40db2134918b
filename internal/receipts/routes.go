package receipts

import "github.com/go-chi/chi/v5"

// MountRoutes registers receipt voucher routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.create)
	r.Get("/", h.list)
	r.Get("/pending", h.pending)
	r.Get("/summary", h.summary)
	r.Post("/retry", h.retry)
	r.Post("/batch", h.runBatch)
	r.Post("/batch/jobs", h.enqueueBatch)
	r.Get("/batch/runs", h.listRuns)
	r.Get("/batch/runs/{jobID}", h.getRun)
	r.Get("/by-source/{sourceID}", h.getBySource)
	r.Get("/{id}", h.get)
	r.Post("/{id}/cancel", h.cancel)
}
