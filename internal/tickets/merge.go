package tickets

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/flowdesk-io/flowdesk/internal/models"
)

// Merge absorbs the source ticket into the target: embedded messages are
// unioned by message id, a history entry records the absorption, and
// every stored message of the source is repointed at the target with its
// starred flag cleared so it stops surfacing as a sync candidate. The
// whole operation runs in one transaction, so a failure after the target
// update cannot strand a half-merged pair.
func (s *Service) Merge(ctx context.Context, workspaceID, sourceJobID, targetJobID string) (*models.Ticket, error) {
	if sourceJobID == targetJobID {
		return nil, errors.New("tickets: cannot merge a ticket into itself")
	}
	source, err := s.tickets.GetByJobID(ctx, workspaceID, sourceJobID)
	if err != nil {
		return nil, fmt.Errorf("merge source %s: %w", sourceJobID, err)
	}
	target, err := s.tickets.GetByJobID(ctx, workspaceID, targetJobID)
	if err != nil {
		return nil, fmt.Errorf("merge target %s: %w", targetJobID, err)
	}
	if !sameClient(source, target) {
		return nil, fmt.Errorf("%w: %s belongs to %q, %s belongs to %q",
			ErrClientMismatch, source.JobID, source.ClientName, target.JobID, target.ClientName)
	}

	for _, snap := range source.Messages {
		if !target.HasMessage(snap.MessageID) {
			target.Messages = append(target.Messages, snap)
		}
	}
	target.MergeHistory = append(target.MergeHistory, models.MergeEntry{
		SourceJobID:  source.JobID,
		MessageCount: len(source.Messages),
		MergedAt:     s.clock().UTC(),
	})
	target.MergeCount++

	err = s.tickets.Transact(ctx, func(tx *sqlx.Tx) error {
		if err := s.tickets.Update(ctx, tx, target); err != nil {
			return err
		}
		if _, err := s.messages.RepointJobID(ctx, tx, workspaceID, source.JobID, target.JobID); err != nil {
			return err
		}
		return s.tickets.Delete(ctx, tx, workspaceID, source.JobID)
	})
	if err != nil {
		return nil, fmt.Errorf("merge %s into %s: %w", sourceJobID, targetJobID, err)
	}
	s.logger.Printf("tickets: merged %s into %s (%d messages)", sourceJobID, targetJobID, len(source.Messages))
	return target, nil
}

// sameClient matches by email, else by case-insensitive client name, so
// two contacts at one company still count as the same client.
func sameClient(a, b *models.Ticket) bool {
	if a.ClientEmail != "" && strings.EqualFold(a.ClientEmail, b.ClientEmail) {
		return true
	}
	return a.ClientName != "" && strings.EqualFold(a.ClientName, b.ClientName)
}
