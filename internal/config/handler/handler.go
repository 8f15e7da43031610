package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/Adoubf/cloud-mail/internal/config"
)

func New(cfg config.Config, logger *slog.Logger) *Handler {
	return &Handler{cfg: cfg, log: logger}
}

type Handler struct {
	cfg config.Config
	log *slog.Logger
}

// storageView reports whether credentials are configured without revealing them.
type storageView struct {
	config.StorageConfig
	AccessKeySet bool `json:"access_key_set"`
	SecretKeySet bool `json:"secret_key_set"`
}

type configView struct {
	Env         string                   `json:"env"`
	App         config.AppConfig         `json:"app"`
	Storage     storageView              `json:"storage"`
	Attachments config.AttachmentsConfig `json:"attachments"`
	Database    string                   `json:"database_driver"`
}

type appConfigResponse struct {
	Config configView `json:"config"`
}

func (h *Handler) GetConfig() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.config.GetConfig"

		log := h.log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		log.Debug("config requested")

		render.JSON(w, r, appConfigResponse{
			Config: configView{
				Env: h.cfg.Env,
				App: h.cfg.App,
				Storage: storageView{
					StorageConfig: h.cfg.Storage,
					AccessKeySet:  h.cfg.Storage.AccessKey != "",
					SecretKeySet:  h.cfg.Storage.SecretKey != "",
				},
				Attachments: h.cfg.Attachments,
				Database:    h.cfg.Database.Driver,
			},
		})
	}
}
