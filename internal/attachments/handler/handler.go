package handler

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	attachmentsdomain "github.com/Adoubf/cloud-mail/internal/attachments/domain"
	response "github.com/Adoubf/cloud-mail/internal/lib"
	"github.com/Adoubf/cloud-mail/internal/lib/logger/sl"
	"github.com/Adoubf/cloud-mail/internal/owner"
	"github.com/Adoubf/cloud-mail/internal/transport/httpapi"
)

// jsonOverhead covers field names and framing around the base64 payloads.
const jsonOverhead = 64 << 10

type Handler struct {
	service      attachmentsdomain.Service
	maxBodyBytes int64
	log          *slog.Logger
}

// New builds the attachment handlers. maxBatchBytes is the decoded batch limit; JSON
// bodies are capped at its base64 size. Zero leaves bodies unbounded.
func New(service attachmentsdomain.Service, maxBatchBytes int64, log *slog.Logger) *Handler {
	var maxBody int64
	if maxBatchBytes > 0 {
		maxBody = (maxBatchBytes+2)/3*4 + jsonOverhead
	}
	return &Handler{service: service, maxBodyBytes: maxBody, log: log}
}

func (h *Handler) logger(r *http.Request, op string) *slog.Logger {
	return h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)
}

func (h *Handler) SaveAttachments() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.attachments.SaveAttachments"

		log := h.logger(r, op)

		messageID, err := messageIDParam(r)
		if err != nil {
			log.Error("invalid message_id", sl.Err(err))
			httpapi.WriteError(w, r, err)
			return
		}

		var req attachmentsdomain.SaveAttachmentsRequest
		if err := h.decode(w, r, &req); err != nil {
			log.Error("decode request error", sl.Err(err))
			httpapi.WriteError(w, r, err)
			return
		}

		records, err := h.service.SaveOutgoing(r.Context(), req.Attachments, attachmentsdomain.Owner{
			UserID:    owner.UserID(r),
			AccountID: req.AccountID,
			MessageID: messageID,
		})
		if err != nil {
			log.Error("failed to save attachments", sl.Err(err))
			httpapi.WriteError(w, r, err)
			return
		}

		response.WriteJSON(w, r, http.StatusCreated, attachmentsdomain.SaveAttachmentsResponse{
			Attachments: records,
		})
	}
}

func (h *Handler) SaveEmbedded() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.attachments.SaveEmbedded"

		log := h.logger(r, op)

		messageID, err := messageIDParam(r)
		if err != nil {
			log.Error("invalid message_id", sl.Err(err))
			httpapi.WriteError(w, r, err)
			return
		}

		var req attachmentsdomain.SaveHTMLRequest
		if err := h.decode(w, r, &req); err != nil {
			log.Error("decode request error", sl.Err(err))
			httpapi.WriteError(w, r, err)
			return
		}

		html, records, err := h.service.SaveHTML(r.Context(), req.HTML, attachmentsdomain.Owner{
			UserID:    owner.UserID(r),
			AccountID: req.AccountID,
			MessageID: messageID,
		})
		if err != nil {
			log.Error("failed to save embedded images", sl.Err(err))
			httpapi.WriteError(w, r, err)
			return
		}

		log.Debug("embedded images saved", slog.Int("count", len(records)))

		response.WriteJSON(w, r, http.StatusCreated, attachmentsdomain.SaveHTMLResponse{
			HTML:        html,
			Attachments: records,
		})
	}
}

func (h *Handler) ListAttachments() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.attachments.ListAttachments"

		log := h.logger(r, op)

		messageID, err := messageIDParam(r)
		if err != nil {
			log.Error("invalid message_id", sl.Err(err))
			httpapi.WriteError(w, r, err)
			return
		}

		records, err := h.service.List(r.Context(), messageID, owner.UserID(r))
		if err != nil {
			log.Error("failed to list attachments", sl.Err(err))
			httpapi.WriteError(w, r, err)
			return
		}

		response.WriteJSON(w, r, http.StatusOK, attachmentsdomain.ListAttachmentsResponse{
			Attachments: records,
		})
	}
}

// Content streams the object named by the key query parameter.
func (h *Handler) Content() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.stream(w, r, "handlers.attachments.Content", r.URL.Query().Get("key"))
	}
}

// File streams the object whose key is the rest of the path. Inline images point
// here when storage has no public domain.
func (h *Handler) File() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.attachments.File"

		key := chi.URLParam(r, "*")
		// chi routes on RawPath when the path has escapes, so the key is still encoded
		if r.URL.RawPath != "" {
			unescaped, err := url.PathUnescape(key)
			if err != nil {
				h.logger(r, op).Error("invalid file path", sl.Err(err))
				httpapi.WriteError(w, r, fmt.Errorf("%w: malformed file path", httpapi.ErrInvalidRequest))
				return
			}
			key = unescaped
		}

		h.stream(w, r, op, key)
	}
}

func (h *Handler) stream(w http.ResponseWriter, r *http.Request, op, key string) {
	log := h.logger(r, op).With(slog.String("key", key))

	content, err := h.service.Open(r.Context(), key)
	if err != nil {
		log.Error("failed to open attachment", sl.Err(err))
		httpapi.WriteError(w, r, err)
		return
	}
	defer content.Body.Close()

	w.Header().Set("Content-Type", content.ContentType)
	if content.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(content.Size, 10))
	}
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, content.Body); err != nil {
		log.Warn("attachment stream interrupted", sl.Err(err))
	}
}

func (h *Handler) Link() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.attachments.Link"

		log := h.logger(r, op)

		link, err := h.service.Link(r.Context(), r.URL.Query().Get("key"))
		if err != nil {
			log.Error("failed to build link", sl.Err(err))
			httpapi.WriteError(w, r, err)
			return
		}

		response.WriteJSON(w, r, http.StatusOK, attachmentsdomain.LinkResponse{URL: link})
	}
}

func (h *Handler) RemoveByOwner() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.attachments.RemoveByOwner"

		log := h.logger(r, op)

		kind, err := attachmentsdomain.ParseOwnerKind(chi.URLParam(r, "kind"))
		if err != nil {
			log.Error("invalid owner kind", sl.Err(err))
			httpapi.WriteError(w, r, err)
			return
		}

		var req attachmentsdomain.RemoveByOwnerRequest
		if err := h.decode(w, r, &req); err != nil {
			log.Error("decode request error", sl.Err(err))
			httpapi.WriteError(w, r, err)
			return
		}

		if err := h.service.RemoveByOwner(r.Context(), kind, req.IDs); err != nil {
			log.Error("failed to remove attachments", sl.Err(err))
			httpapi.WriteError(w, r, err)
			return
		}

		log.Info("attachments removed", slog.String("owner_kind", string(kind)), slog.Int("owners", len(req.IDs)))

		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) error {
	body := r.Body
	if h.maxBodyBytes > 0 {
		body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	}

	if err := render.DecodeJSON(body, v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("%w: body exceeds %d bytes", httpapi.ErrRequestTooLarge, tooLarge.Limit)
		}
		return fmt.Errorf("%w: malformed json body", httpapi.ErrInvalidRequest)
	}
	return nil
}

func messageIDParam(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "messageId"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: messageId must be a positive integer", httpapi.ErrInvalidRequest)
	}
	return id, nil
}

// Mount registers the attachment routes. Message routes need an owner; files do not.
func (h *Handler) Mount(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(owner.WithUser)

		r.Post("/messages/{messageId}/attachments", h.SaveAttachments())
		r.Post("/messages/{messageId}/embedded", h.SaveEmbedded())
		r.Get("/messages/{messageId}/attachments", h.ListAttachments())
		r.Get("/attachments/content", h.Content())
		r.Get("/attachments/link", h.Link())
	})

	r.Get("/files/*", h.File())
}

// MountAdmin registers routes meant for internal callers. The caller puts them
// behind admin authentication.
func (h *Handler) MountAdmin(r chi.Router) {
	r.Delete("/owners/{kind}", h.RemoveByOwner())
}
