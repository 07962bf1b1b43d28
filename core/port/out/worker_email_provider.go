package out

import (
	"context"

	"cleanup_worker/core/domain"
)

// EmailPage is one page of a message listing.
type EmailPage struct {
	Messages   []domain.EmailMessage
	NextCursor string
}

// EmailSource is the remote mailbox (Gmail).
// An empty NextCursor ends the listing.
type EmailSource interface {
	ListMessages(ctx context.Context, cursor string) (*EmailPage, error)
	DeleteMessage(ctx context.Context, messageID string) error
}
