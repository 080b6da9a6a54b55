// Package mailbox polls an IMAPS mailbox for starred messages and parses
// them into message records. The bulk poll fetches headers, body text, and
// attachment metadata only; attachment bytes are retrieved on demand via
// FetchFull when a user opens a message.
package mailbox

import (
	"context"
	"time"

	"github.com/flowdesk-io/flowdesk/internal/models"
)

// Account carries the credentials needed to open a mailbox. The transport
// is fixed to IMAPS (993, TLS); Address+AppPassword is the Gmail
// app-password pair.
type Account struct {
	Host        string
	Port        int
	Address     string
	AppPassword string
	Folder      string
}

// Poller is the contract the sync engine consumes.
type Poller interface {
	// Poll returns the starred messages within the recency window. On a
	// deadline it returns whatever was parsed so far with a nil error;
	// connect/auth failures return a non-nil error and no messages.
	Poll(ctx context.Context, account Account) ([]*models.Message, error)
	// FetchFull retrieves a single message by UID including attachment
	// bytes.
	FetchFull(ctx context.Context, account Account, uid uint32) (*models.Message, error)
}

const (
	defaultWindow      = 30 * 24 * time.Hour
	defaultPollBudget  = 60 * time.Second
	defaultDialTimeout = 10 * time.Second
)
