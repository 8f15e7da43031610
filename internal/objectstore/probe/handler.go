package probe

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/Adoubf/cloud-mail/internal/objectstore"
)

type Handler struct {
	store  objectstore.Store
	prefix string
	log    *slog.Logger
}

func NewHandler(store objectstore.Store, prefix string, log *slog.Logger) *Handler {
	return &Handler{store: store, prefix: prefix, log: log}
}

func (h *Handler) Check() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.storage.Check"

		log := h.log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		report := Run(r.Context(), h.store, h.prefix)
		if !report.OK {
			// step errors carry backend diagnostics; they go to the log, not the client
			for _, s := range report.Steps {
				if !s.OK {
					log.Error("storage probe step failed", slog.String("step", s.Name), slog.String("error", s.Error))
				}
			}
			for i := range report.Steps {
				report.Steps[i].Error = ""
			}
			render.Status(r, http.StatusServiceUnavailable)
		}

		render.JSON(w, r, report)
	}
}
