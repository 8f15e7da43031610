package httpapi

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/Adoubf/cloud-mail/internal/attachments"
	"github.com/Adoubf/cloud-mail/internal/objectstore"
)

var (
	ErrInvalidRequest  = errors.New("invalid request")
	ErrMissingUser     = errors.New("missing user_id")
	ErrInvalidUser     = errors.New("invalid user_id")
	ErrRequestTooLarge = errors.New("request body too large")
	ErrUnauthorized    = errors.New("unauthorized")
)

// MapError turns err into a status, a stable code and a message safe to show a
// client. Backend details stay in the logs.
func MapError(err error) (status int, code, msg string) {
	var verr *attachments.ValidationError

	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, "invalid_attachment", fmt.Sprintf("attachment %q: %s", verr.Filename, verr.Reason)

	case errors.Is(err, attachments.ErrDecode):
		return http.StatusBadRequest, "invalid_encoding", "content is not valid base64"

	case errors.Is(err, attachments.ErrInvalidOwnerKind):
		return http.StatusBadRequest, "invalid_owner_kind", "owner kind must be user, account or message"

	case errors.Is(err, attachments.ErrInvalidKey):
		return http.StatusBadRequest, "invalid_key", "invalid storage key"

	case errors.Is(err, ErrMissingUser):
		return http.StatusBadRequest, "missing_user_id", ErrMissingUser.Error()

	case errors.Is(err, ErrInvalidUser):
		return http.StatusBadRequest, "invalid_user_id", ErrInvalidUser.Error()

	case errors.Is(err, ErrRequestTooLarge):
		return http.StatusRequestEntityTooLarge, "request_too_large", ErrRequestTooLarge.Error()

	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized", ErrUnauthorized.Error()

	case errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest, "invalid_request", err.Error()

	case errors.Is(err, attachments.ErrNotFound), errors.Is(err, objectstore.ErrNotFound):
		return http.StatusNotFound, "attachment_not_found", "attachment not found"

	case errors.Is(err, attachments.ErrUpload):
		return http.StatusBadGateway, "upload_failed", "attachment upload failed"

	case errors.Is(err, attachments.ErrPersistence):
		return http.StatusInternalServerError, "persistence_failed", "attachment could not be saved"

	case errors.Is(err, objectstore.ErrWrite):
		return http.StatusBadGateway, "storage_write_failed", "storage write failed"

	case errors.Is(err, objectstore.ErrDelete):
		return http.StatusBadGateway, "storage_delete_failed", "storage delete failed"

	case errors.Is(err, objectstore.ErrRead):
		return http.StatusBadGateway, "storage_read_failed", "storage read failed"
	}

	return http.StatusInternalServerError, "internal_error", "internal server error"
}
