package attachmentsservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Adoubf/cloud-mail/internal/attachments"
	attachmentsdomain "github.com/Adoubf/cloud-mail/internal/attachments/domain"
	"github.com/Adoubf/cloud-mail/internal/attachments/inline"
	"github.com/Adoubf/cloud-mail/internal/lib/logger/sl"
	"github.com/Adoubf/cloud-mail/internal/objectstore"
)

const (
	DefaultPurgeBatchSize = 99
	DefaultPresignTTL     = 15 * time.Minute
)

type batchState string

const (
	stateValidating  batchState = "validating"
	stateUploading   batchState = "uploading"
	statePersisting  batchState = "persisting"
	stateCommitted   batchState = "committed"
	stateRollingBack batchState = "rolling_back"
	stateFailed      batchState = "failed"
)

type Config struct {
	KeyPrefix      string
	PurgeBatchSize int
	// MaxBatchBytes caps the decoded size of one batch; zero disables the check.
	MaxBatchBytes int64
	PresignTTL    time.Duration
	// InlineBaseURL is where rewritten inline images point.
	InlineBaseURL string
	Now           func() time.Time
}

type service struct {
	store objectstore.Store
	repo  attachmentsdomain.Repo
	cfg   Config
	log   *slog.Logger
}

func New(store objectstore.Store, repo attachmentsdomain.Repo, cfg Config, log *slog.Logger) attachmentsdomain.Service {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = attachmentsdomain.DefaultKeyPrefix
	}
	if cfg.PurgeBatchSize <= 0 {
		cfg.PurgeBatchSize = DefaultPurgeBatchSize
	}
	if cfg.PresignTTL <= 0 {
		cfg.PresignTTL = DefaultPresignTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &service{store: store, repo: repo, cfg: cfg, log: log}
}

// SaveOutgoing stores the attachments of an outgoing message. Nothing is written
// unless every upload decodes; records are inserted only after every blob is stored.
func (s *service) SaveOutgoing(
	ctx context.Context, uploads []attachmentsdomain.Upload, owner attachmentsdomain.Owner,
) ([]attachmentsdomain.Record, error) {
	const op = "attachments.service.SaveOutgoing"

	if len(uploads) == 0 {
		return []attachmentsdomain.Record{}, nil
	}

	descriptors := make([]attachmentsdomain.Descriptor, 0, len(uploads))
	for _, u := range uploads {
		if strings.TrimSpace(u.Content) == "" {
			return nil, fmt.Errorf("%s: %w", op, &attachments.ValidationError{
				Filename: u.Filename, Reason: "content is empty",
			})
		}

		data, err := attachmentsdomain.DecodeTransportPayload(strings.TrimSpace(u.Content))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, &attachments.ValidationError{
				Filename: u.Filename, Reason: "content cannot be decoded", Err: err,
			})
		}

		descriptors = append(descriptors, attachmentsdomain.NewDescriptor(s.cfg.KeyPrefix, u.Filename, u.Type, data))
	}

	records, err := s.commit(ctx, descriptors, owner, attachmentsdomain.KindAttachment)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return records, nil
}

func (s *service) SaveEmbedded(
	ctx context.Context, descriptors []attachmentsdomain.Descriptor, owner attachmentsdomain.Owner,
) ([]attachmentsdomain.Record, error) {
	const op = "attachments.service.SaveEmbedded"

	if len(descriptors) == 0 {
		return []attachmentsdomain.Record{}, nil
	}

	prepared := make([]attachmentsdomain.Descriptor, 0, len(descriptors))
	for _, d := range descriptors {
		if len(d.Content) == 0 {
			return nil, fmt.Errorf("%s: %w", op, &attachments.ValidationError{
				Filename: d.Filename, Reason: "content is empty",
			})
		}
		if d.Key == "" {
			d = attachmentsdomain.NewDescriptor(s.cfg.KeyPrefix, d.Filename, d.MimeType, d.Content)
		}
		d.MimeType = attachmentsdomain.ContentTypeOrDefault(d.MimeType)
		prepared = append(prepared, d)
	}

	records, err := s.commit(ctx, prepared, owner, attachmentsdomain.KindEmbedded)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return records, nil
}

// SaveHTML moves data-URI images out of content into storage and returns the
// rewritten HTML along with the embedded records.
func (s *service) SaveHTML(
	ctx context.Context, content string, owner attachmentsdomain.Owner,
) (string, []attachmentsdomain.Record, error) {
	const op = "attachments.service.SaveHTML"

	extractor := inline.Extractor{
		PublicBaseURL: s.cfg.InlineBaseURL,
		KeyPrefix:     s.cfg.KeyPrefix,
		Now:           s.cfg.Now,
	}

	res, err := extractor.Extract(content)
	if err != nil {
		return "", nil, fmt.Errorf("%s: %w", op, &attachments.ValidationError{
			Filename: "body.html", Reason: "html cannot be parsed", Err: err,
		})
	}

	records, err := s.SaveEmbedded(ctx, res.Extracted, owner)
	if err != nil {
		return "", nil, fmt.Errorf("%s: %w", op, err)
	}

	return res.HTML, records, nil
}

func (s *service) commit(
	ctx context.Context, descriptors []attachmentsdomain.Descriptor, owner attachmentsdomain.Owner, kind attachmentsdomain.Kind,
) ([]attachmentsdomain.Record, error) {
	log := s.log.With(
		slog.String("batch_id", uuid.NewString()),
		slog.String("kind", string(kind)),
		slog.Int("size", len(descriptors)),
	)
	transition := func(state batchState) {
		log.Debug("attachment batch", slog.String("state", string(state)))
	}

	transition(stateValidating)
	if s.cfg.MaxBatchBytes > 0 {
		var total int64
		for _, d := range descriptors {
			total += d.Size()
			if total > s.cfg.MaxBatchBytes {
				transition(stateFailed)
				return nil, &attachments.ValidationError{
					Filename: d.Filename,
					Reason:   fmt.Sprintf("batch exceeds %d bytes", s.cfg.MaxBatchBytes),
				}
			}
		}
	}

	transition(stateUploading)
	uploaded := make([]string, 0, len(descriptors))
	for _, d := range descriptors {
		opts := objectstore.PutOptions{ContentType: d.MimeType}
		if kind == attachmentsdomain.KindAttachment {
			opts.ContentDisposition = contentDisposition(d.Filename)
		}

		if _, err := s.store.Put(ctx, d.Key, d.Content, opts); err != nil {
			log.Error("attachment upload failed", slog.String("filename", d.Filename), slog.String("key", d.Key), sl.Err(err))
			transition(stateRollingBack)
			s.rollback(context.WithoutCancel(ctx), log, uploaded)
			transition(stateFailed)
			return nil, &attachments.UploadError{Filename: d.Filename, Key: d.Key, Err: err}
		}
		uploaded = append(uploaded, d.Key)
	}

	transition(statePersisting)
	records := make([]attachmentsdomain.Record, 0, len(descriptors))
	for _, d := range descriptors {
		records = append(records, attachmentsdomain.Record{
			ID:             uuid.Must(uuid.NewV7()).String(),
			OwnerUserID:    owner.UserID,
			OwnerAccountID: owner.AccountID,
			OwnerMessageID: owner.MessageID,
			StorageKey:     d.Key,
			Filename:       d.Filename,
			MimeType:       d.MimeType,
			SizeBytes:      d.Size(),
			Kind:           kind,
		})
	}

	if err := s.repo.InsertAttachmentRecords(ctx, records); err != nil {
		log.Error("attachment records insert failed", sl.Err(err))
		transition(stateRollingBack)
		s.rollback(context.WithoutCancel(ctx), log, uploaded)
		transition(stateFailed)
		return nil, &attachments.PersistenceError{Count: len(records), Err: err}
	}

	transition(stateCommitted)
	return records, nil
}

// rollback deletes blobs uploaded by a failed batch. A key that some persisted record
// still points at belongs to an earlier batch and is kept. Failures are only logged.
func (s *service) rollback(ctx context.Context, log *slog.Logger, keys []string) {
	for _, key := range unique(keys) {
		refs, err := s.repo.CountReferencesToKey(ctx, key)
		if err != nil {
			log.Warn("rollback: cannot count references, keeping blob", slog.String("key", key), sl.Err(err))
			continue
		}
		if refs > 0 {
			log.Debug("rollback: blob still referenced", slog.String("key", key), slog.Int64("refs", refs))
			continue
		}
		if err := s.store.Delete(ctx, key); err != nil {
			log.Warn("rollback: blob delete failed", slog.String("key", key), sl.Err(err))
		}
	}
}

// RemoveByOwner deletes every record owned by ids in bounded passes, then deletes the
// blobs no remaining record references. Blob delete failures do not stop the purge;
// they are returned together once all records are gone.
func (s *service) RemoveByOwner(ctx context.Context, kind attachmentsdomain.OwnerKind, ids []int64) error {
	const op = "attachments.service.RemoveByOwner"

	log := s.log.With(slog.String("op", op), slog.String("owner_kind", string(kind)))

	if _, err := attachmentsdomain.ParseOwnerKind(string(kind)); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if len(ids) == 0 {
		return nil
	}

	var blobErrs []error
	for pass := 1; ; pass++ {
		records, err := s.repo.SelectAttachmentsByOwner(ctx, kind, ids, s.cfg.PurgeBatchSize)
		if err != nil {
			return errors.Join(fmt.Errorf("%s: select pass %d: %w", op, pass, err), errors.Join(blobErrs...))
		}
		if len(records) == 0 {
			break
		}

		recordIDs := make([]string, 0, len(records))
		keys := make([]string, 0, len(records))
		for _, r := range records {
			recordIDs = append(recordIDs, r.ID)
			keys = append(keys, r.StorageKey)
		}

		if err := s.repo.DeleteAttachmentRecords(ctx, recordIDs); err != nil {
			return errors.Join(fmt.Errorf("%s: delete records pass %d: %w", op, pass, err), errors.Join(blobErrs...))
		}

		for _, key := range unique(keys) {
			refs, err := s.repo.CountReferencesToKey(ctx, key)
			if err != nil {
				log.Error("cannot count key references", slog.String("key", key), sl.Err(err))
				blobErrs = append(blobErrs, fmt.Errorf("count references %q: %w", key, err))
				continue
			}
			if refs > 0 {
				continue
			}
			if err := s.store.Delete(ctx, key); err != nil {
				log.Error("blob delete failed", slog.String("key", key), sl.Err(err))
				blobErrs = append(blobErrs, err)
			}
		}

		log.Debug("purge pass done", slog.Int("pass", pass), slog.Int("records", len(records)))

		if len(records) < s.cfg.PurgeBatchSize {
			break
		}
	}

	if err := errors.Join(blobErrs...); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *service) List(ctx context.Context, messageID, userID int64) ([]attachmentsdomain.Record, error) {
	const op = "attachments.service.List"

	records, err := s.repo.ListByMessage(ctx, messageID, userID, attachmentsdomain.KindAttachment)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return records, nil
}

func (s *service) Open(ctx context.Context, key string) (*attachmentsdomain.Content, error) {
	const op = "attachments.service.Open"

	if err := s.validateKey(key); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	obj, err := s.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, objectstore.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, attachments.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &attachmentsdomain.Content{
		Body:        obj.Body,
		ContentType: obj.ContentType,
		Size:        obj.Size,
	}, nil
}

// Link prefers the public URL and falls back to a presigned one.
func (s *service) Link(ctx context.Context, key string) (string, error) {
	const op = "attachments.service.Link"

	if err := s.validateKey(key); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	info, err := s.store.Head(ctx, key)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if info == nil {
		return "", fmt.Errorf("%s: %w", op, attachments.ErrNotFound)
	}

	if u, ok := s.store.PublicURL(key); ok {
		return u, nil
	}

	u, err := s.store.PresignGet(ctx, key, s.cfg.PresignTTL)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

func (s *service) validateKey(key string) error {
	if key == "" || !strings.HasPrefix(key, s.cfg.KeyPrefix) || strings.Contains(key, "..") {
		return attachments.ErrInvalidKey
	}
	return nil
}

func contentDisposition(filename string) string {
	if filename == "" {
		return "attachment"
	}
	if v := mime.FormatMediaType("attachment", map[string]string{"filename": filename}); v != "" {
		return v
	}
	return "attachment"
}

func unique(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
