package attachmentsrepo

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/Adoubf/cloud-mail/internal/attachments"
	attachmentsdomain "github.com/Adoubf/cloud-mail/internal/attachments/domain"
)

// schema sticks to types both Postgres and SQLite accept.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS attachments (
		id               TEXT PRIMARY KEY,
		owner_user_id    BIGINT NOT NULL,
		owner_account_id BIGINT NOT NULL,
		owner_message_id BIGINT NOT NULL,
		storage_key      TEXT NOT NULL,
		filename         TEXT NOT NULL,
		mime_type        TEXT NOT NULL,
		size_bytes       BIGINT NOT NULL,
		kind             TEXT NOT NULL,
		created_at       TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS attachments_owner_user_idx ON attachments (owner_user_id)`,
	`CREATE INDEX IF NOT EXISTS attachments_owner_account_idx ON attachments (owner_account_id)`,
	`CREATE INDEX IF NOT EXISTS attachments_owner_message_idx ON attachments (owner_message_id)`,
	`CREATE INDEX IF NOT EXISTS attachments_storage_key_idx ON attachments (storage_key)`,
}

const recordColumns = `id, owner_user_id, owner_account_id, owner_message_id,
	storage_key, filename, mime_type, size_bytes, kind`

var ownerColumns = map[attachmentsdomain.OwnerKind]string{
	attachmentsdomain.OwnerUser:    "owner_user_id",
	attachmentsdomain.OwnerAccount: "owner_account_id",
	attachmentsdomain.OwnerMessage: "owner_message_id",
}

type Repo struct {
	db *sqlx.DB
}

func New(db *sqlx.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) Migrate(ctx context.Context) error {
	const op = "attachments.repo.Migrate"

	for _, stmt := range schema {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	return nil
}

// InsertAttachmentRecords writes all records in one transaction; either all rows
// land or none do.
func (r *Repo) InsertAttachmentRecords(ctx context.Context, records []attachmentsdomain.Record) error {
	const op = "attachments.repo.InsertAttachmentRecords"

	if len(records) == 0 {
		return nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: begin tx: %w", op, err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO attachments (`+recordColumns+`)
		VALUES (:id, :owner_user_id, :owner_account_id, :owner_message_id,
			:storage_key, :filename, :mime_type, :size_bytes, :kind)
	`, records)
	if err != nil {
		return fmt.Errorf("%s: insert: %w", op, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: commit tx: %w", op, err)
	}

	return nil
}

func (r *Repo) SelectAttachmentsByOwner(
	ctx context.Context, kind attachmentsdomain.OwnerKind, ids []int64, limit int,
) ([]attachmentsdomain.Record, error) {
	const op = "attachments.repo.SelectAttachmentsByOwner"

	column, ok := ownerColumns[kind]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, attachments.ErrInvalidOwnerKind)
	}
	if len(ids) == 0 {
		return []attachmentsdomain.Record{}, nil
	}

	q, args, err := sqlx.In(`
		SELECT `+recordColumns+`
		FROM attachments
		WHERE `+column+` IN (?)
		ORDER BY id
		LIMIT ?
	`, ids, limit)
	if err != nil {
		return nil, fmt.Errorf("%s: sqlx.In: %w", op, err)
	}
	q = r.db.Rebind(q)

	records := []attachmentsdomain.Record{}
	if err := r.db.SelectContext(ctx, &records, q, args...); err != nil {
		return nil, fmt.Errorf("%s: select: %w", op, err)
	}

	return records, nil
}

func (r *Repo) DeleteAttachmentRecords(ctx context.Context, ids []string) error {
	const op = "attachments.repo.DeleteAttachmentRecords"

	if len(ids) == 0 {
		return nil
	}

	q, args, err := sqlx.In(`DELETE FROM attachments WHERE id IN (?)`, ids)
	if err != nil {
		return fmt.Errorf("%s: sqlx.In: %w", op, err)
	}
	q = r.db.Rebind(q)

	if _, err := r.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("%s: delete: %w", op, err)
	}

	return nil
}

func (r *Repo) CountReferencesToKey(ctx context.Context, key string) (int64, error) {
	const op = "attachments.repo.CountReferencesToKey"

	var n int64
	if err := r.db.GetContext(ctx, &n, r.db.Rebind(`
		SELECT COUNT(*) FROM attachments WHERE storage_key = ?
	`), key); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return n, nil
}

func (r *Repo) ListByMessage(
	ctx context.Context, messageID, userID int64, kind attachmentsdomain.Kind,
) ([]attachmentsdomain.Record, error) {
	const op = "attachments.repo.ListByMessage"

	records := []attachmentsdomain.Record{}
	if err := r.db.SelectContext(ctx, &records, r.db.Rebind(`
		SELECT `+recordColumns+`
		FROM attachments
		WHERE owner_message_id = ? AND owner_user_id = ? AND kind = ?
		ORDER BY created_at, id
	`), messageID, userID, kind); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return records, nil
}
