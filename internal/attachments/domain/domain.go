package attachmentsdomain

import (
	"context"
	"io"

	"github.com/Adoubf/cloud-mail/internal/attachments"
)

type Kind string

const (
	KindAttachment Kind = "attachment"
	KindEmbedded   Kind = "embedded"
)

type OwnerKind string

const (
	OwnerUser    OwnerKind = "user"
	OwnerAccount OwnerKind = "account"
	OwnerMessage OwnerKind = "message"
)

func ParseOwnerKind(s string) (OwnerKind, error) {
	switch k := OwnerKind(s); k {
	case OwnerUser, OwnerAccount, OwnerMessage:
		return k, nil
	}
	return "", attachments.ErrInvalidOwnerKind
}

// Owner ties a record to the user, mail account and message it belongs to.
type Owner struct {
	UserID    int64
	AccountID int64
	MessageID int64
}

// Upload is an attachment as the send path supplies it, content still base64.
type Upload struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
	Type     string `json:"type"`
}

// Descriptor is an attachment with decoded bytes and its content-addressed key.
type Descriptor struct {
	Filename string
	MimeType string
	Content  []byte
	Key      string
}

func (d Descriptor) Size() int64 {
	return int64(len(d.Content))
}

func NewDescriptor(prefix, filename, mimeType string, content []byte) Descriptor {
	return Descriptor{
		Filename: filename,
		MimeType: ContentTypeOrDefault(mimeType),
		Content:  content,
		Key:      StorageKey(prefix, content, filename),
	}
}

type Record struct {
	ID             string `json:"id" db:"id"`
	OwnerUserID    int64  `json:"user_id" db:"owner_user_id"`
	OwnerAccountID int64  `json:"account_id" db:"owner_account_id"`
	OwnerMessageID int64  `json:"message_id" db:"owner_message_id"`
	StorageKey     string `json:"key" db:"storage_key"`
	Filename       string `json:"filename" db:"filename"`
	MimeType       string `json:"mime_type" db:"mime_type"`
	SizeBytes      int64  `json:"size" db:"size_bytes"`
	Kind           Kind   `json:"kind" db:"kind"`
}

// Repo is the metadata persistence collaborator.
type Repo interface {
	InsertAttachmentRecords(ctx context.Context, records []Record) error
	SelectAttachmentsByOwner(ctx context.Context, kind OwnerKind, ids []int64, limit int) ([]Record, error)
	DeleteAttachmentRecords(ctx context.Context, ids []string) error
	CountReferencesToKey(ctx context.Context, key string) (int64, error)
	ListByMessage(ctx context.Context, messageID, userID int64, kind Kind) ([]Record, error)
}

// Content is an attachment body opened for streaming.
type Content struct {
	Body        io.ReadCloser
	ContentType string
	Size        int64
}

type Service interface {
	SaveOutgoing(ctx context.Context, uploads []Upload, owner Owner) ([]Record, error)
	SaveEmbedded(ctx context.Context, descriptors []Descriptor, owner Owner) ([]Record, error)
	SaveHTML(ctx context.Context, html string, owner Owner) (string, []Record, error)
	RemoveByOwner(ctx context.Context, kind OwnerKind, ids []int64) error
	List(ctx context.Context, messageID, userID int64) ([]Record, error)
	Open(ctx context.Context, key string) (*Content, error)
	Link(ctx context.Context, key string) (string, error)
}

type SaveAttachmentsRequest struct {
	AccountID   int64    `json:"account_id"`
	Attachments []Upload `json:"attachments"`
}

type SaveAttachmentsResponse struct {
	Attachments []Record `json:"attachments"`
}

type SaveHTMLRequest struct {
	AccountID int64  `json:"account_id"`
	HTML      string `json:"html"`
}

type SaveHTMLResponse struct {
	HTML        string   `json:"html"`
	Attachments []Record `json:"attachments"`
}

type ListAttachmentsResponse struct {
	Attachments []Record `json:"attachments"`
}

type RemoveByOwnerRequest struct {
	IDs []int64 `json:"ids"`
}

type LinkResponse struct {
	URL string `json:"url"`
}
