package docs

import (
	"context"
	"errors"
)

// Error kinds reported by the data gateway. Callers branch on these with
// errors.Is; the queue worker maps NotFound and PermissionDenied to
// permanent job failure and Transient to retry.
var (
	ErrNotFound         = errors.New("document not found")
	ErrPermissionDenied = errors.New("permission denied")
	ErrTransient        = errors.New("data gateway unavailable")
)

// Document is the durable record owned by the data gateway.
type Document struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Body  string `json:"body"`
}

// HistoryEntry is one append-only edit record.
type HistoryEntry struct {
	DocumentID  string `json:"documentId"`
	PrincipalID string `json:"principalId"`
	Operation   string `json:"operation"`
	Version     int64  `json:"version"`
}

// Gateway is the external service owning document durability and
// authorization. The hub never touches the database directly.
type Gateway interface {
	// GetDocument returns the document as visible to the principal.
	GetDocument(ctx context.Context, documentID, principalID string) (*Document, error)

	// UpdateDocument applies a partial update as the principal and returns
	// the resulting document.
	UpdateDocument(ctx context.Context, documentID, principalID string, title, body *string) (*Document, error)

	// AppendEditHistory records one edit. Best effort for callers; failure
	// never invalidates the write it describes.
	AppendEditHistory(ctx context.Context, entry *HistoryEntry) error

	// CanEdit reports whether the principal may write the document. A nil
	// error means yes; otherwise the error is one of the kinds above.
	CanEdit(ctx context.Context, principalID, documentID string) error
}
