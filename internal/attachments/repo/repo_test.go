package attachmentsrepo

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adoubf/cloud-mail/internal/attachments"
	attachmentsdomain "github.com/Adoubf/cloud-mail/internal/attachments/domain"
	"github.com/Adoubf/cloud-mail/internal/storage/sqldb"
)

func newRepo(t *testing.T) *Repo {
	t.Helper()

	ctx := context.Background()
	db, err := sqldb.Open(ctx, sqldb.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	r := New(db)
	require.NoError(t, r.Migrate(ctx))
	require.NoError(t, r.Migrate(ctx), "migrate must be repeatable")
	return r
}

func record(owner attachmentsdomain.Owner, key string, kind attachmentsdomain.Kind) attachmentsdomain.Record {
	return attachmentsdomain.Record{
		ID:             uuid.Must(uuid.NewV7()).String(),
		OwnerUserID:    owner.UserID,
		OwnerAccountID: owner.AccountID,
		OwnerMessageID: owner.MessageID,
		StorageKey:     key,
		Filename:       "file.txt",
		MimeType:       "text/plain",
		SizeBytes:      3,
		Kind:           kind,
	}
}

func TestRepo_InsertAndList(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t)

	owner := attachmentsdomain.Owner{UserID: 1, AccountID: 2, MessageID: 3}
	recs := []attachmentsdomain.Record{
		record(owner, "attachments/a.txt", attachmentsdomain.KindAttachment),
		record(owner, "attachments/b.txt", attachmentsdomain.KindAttachment),
		record(owner, "attachments/c.png", attachmentsdomain.KindEmbedded),
	}
	require.NoError(t, r.InsertAttachmentRecords(ctx, recs))

	got, err := r.ListByMessage(ctx, 3, 1, attachmentsdomain.KindAttachment)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, recs[0], got[0])
	assert.Equal(t, recs[1], got[1])

	other, err := r.ListByMessage(ctx, 3, 99, attachmentsdomain.KindAttachment)
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestRepo_InsertIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t)

	owner := attachmentsdomain.Owner{UserID: 1, AccountID: 1, MessageID: 1}
	dup := record(owner, "attachments/a.txt", attachmentsdomain.KindAttachment)

	err := r.InsertAttachmentRecords(ctx, []attachmentsdomain.Record{dup, dup})
	require.Error(t, err)

	n, err := r.CountReferencesToKey(ctx, "attachments/a.txt")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRepo_SelectByOwnerAndDelete(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t)

	var recs []attachmentsdomain.Record
	for i := range 5 {
		owner := attachmentsdomain.Owner{UserID: 7, AccountID: int64(10 + i%2), MessageID: int64(100 + i)}
		recs = append(recs, record(owner, fmt.Sprintf("attachments/%d.txt", i), attachmentsdomain.KindAttachment))
	}
	recs = append(recs, record(attachmentsdomain.Owner{UserID: 8, AccountID: 20, MessageID: 200}, "attachments/0.txt", attachmentsdomain.KindAttachment))
	require.NoError(t, r.InsertAttachmentRecords(ctx, recs))

	page, err := r.SelectAttachmentsByOwner(ctx, attachmentsdomain.OwnerUser, []int64{7}, 3)
	require.NoError(t, err)
	assert.Len(t, page, 3)

	byAccount, err := r.SelectAttachmentsByOwner(ctx, attachmentsdomain.OwnerAccount, []int64{10}, 99)
	require.NoError(t, err)
	assert.Len(t, byAccount, 3)

	byMessage, err := r.SelectAttachmentsByOwner(ctx, attachmentsdomain.OwnerMessage, []int64{100, 101, 200}, 99)
	require.NoError(t, err)
	assert.Len(t, byMessage, 3)

	n, err := r.CountReferencesToKey(ctx, "attachments/0.txt")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	ids := make([]string, 0, len(page))
	for _, rec := range page {
		ids = append(ids, rec.ID)
	}
	require.NoError(t, r.DeleteAttachmentRecords(ctx, ids))

	rest, err := r.SelectAttachmentsByOwner(ctx, attachmentsdomain.OwnerUser, []int64{7}, 99)
	require.NoError(t, err)
	assert.Len(t, rest, 2)
}

func TestRepo_SelectByOwnerEdgeCases(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t)

	_, err := r.SelectAttachmentsByOwner(ctx, attachmentsdomain.OwnerKind("domain"), []int64{1}, 10)
	require.ErrorIs(t, err, attachments.ErrInvalidOwnerKind)

	got, err := r.SelectAttachmentsByOwner(ctx, attachmentsdomain.OwnerUser, nil, 10)
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, r.DeleteAttachmentRecords(ctx, nil))
	require.NoError(t, r.InsertAttachmentRecords(ctx, nil))
}
