package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/cadencehq/cadence"
	"github.com/cadencehq/cadence/id"
	"github.com/cadencehq/cadence/item"
)

const itemColumns = `id, recipient_id, campaign_id, step_key, template_id, status,
	priority, scheduled_at, attempt_count, max_attempts, last_error,
	subject, body_html, body_text, tracking_id, provider_message_id,
	claimed_by, claimed_at, resolved_at, attempts, created_at, updated_at`

// CreateItem persists a new work item. The partial unique index on
// active (recipient, campaign, step) tuples turns a duplicate insert
// into cadence.ErrDuplicateActiveItem.
func (s *Store) CreateItem(ctx context.Context, it *item.Item) error {
	attempts, err := json.Marshal(attemptsOrEmpty(it.Attempts))
	if err != nil {
		return fmt.Errorf("cadence/postgres: marshal attempts: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO cadence_items (
			id, recipient_id, campaign_id, step_key, template_id, status,
			priority, scheduled_at, attempt_count, max_attempts, last_error,
			subject, body_html, body_text, tracking_id, provider_message_id,
			claimed_by, claimed_at, resolved_at, attempts, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11,
			$12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22
		)`,
		it.ID.String(), it.RecipientID.String(), it.CampaignID.String(),
		it.StepKey, it.TemplateID.String(), string(it.Status),
		it.Priority, it.ScheduledAt, it.AttemptCount, it.MaxAttempts, it.LastError,
		it.Subject, it.BodyHTML, it.BodyText, it.TrackingID, it.ProviderMessageID,
		it.ClaimedBy.String(), it.ClaimedAt, it.ResolvedAt, attempts,
		it.CreatedAt, it.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return cadence.ErrDuplicateActiveItem
		}
		return fmt.Errorf("cadence/postgres: create item: %w", err)
	}
	return nil
}

// ClaimDue atomically flips up to limit due pending items to claimed on
// behalf of workerID. FOR UPDATE SKIP LOCKED keeps concurrent claimers
// from ever receiving the same item.
func (s *Store) ClaimDue(ctx context.Context, workerID id.WorkerID, limit int) ([]*item.Item, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx, `
		WITH due AS (
			SELECT id FROM cadence_items
			WHERE status = 'pending' AND scheduled_at <= NOW()
			ORDER BY priority DESC, scheduled_at ASC, id ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		UPDATE cadence_items AS i
		SET status = 'claimed', claimed_by = $1, claimed_at = NOW(), updated_at = NOW()
		FROM due
		WHERE i.id = due.id
		RETURNING `+prefixColumns("i."),
		workerID.String(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("cadence/postgres: claim due: %w", err)
	}
	defer rows.Close()

	items, err := scanItems(rows)
	if err != nil {
		return nil, err
	}

	// RETURNING does not guarantee claim order.
	sortClaimed(items)
	return items, nil
}

// GetItem retrieves an item by ID.
func (s *Store) GetItem(ctx context.Context, itemID id.ItemID) (*item.Item, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+itemColumns+` FROM cadence_items WHERE id = $1`,
		itemID.String(),
	)

	it, err := scanItem(row)
	if err != nil {
		if isNoRows(err) {
			return nil, cadence.ErrItemNotFound
		}
		return nil, fmt.Errorf("cadence/postgres: get item: %w", err)
	}
	return it, nil
}

// GetItemByTrackingID retrieves an item by its tracking token.
func (s *Store) GetItemByTrackingID(ctx context.Context, trackingID string) (*item.Item, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+itemColumns+` FROM cadence_items WHERE tracking_id = $1`,
		trackingID,
	)

	it, err := scanItem(row)
	if err != nil {
		if isNoRows(err) {
			return nil, cadence.ErrItemNotFound
		}
		return nil, fmt.Errorf("cadence/postgres: get item by tracking id: %w", err)
	}
	return it, nil
}

// UpdateItem persists changes to an existing item. The status predicate
// makes terminal rows immutable at the database: a stale write from a
// worker that lost a race against a withdrawal matches no row and
// surfaces cadence.ErrInvalidTransition.
func (s *Store) UpdateItem(ctx context.Context, it *item.Item) error {
	it.Touch()

	attempts, err := json.Marshal(attemptsOrEmpty(it.Attempts))
	if err != nil {
		return fmt.Errorf("cadence/postgres: marshal attempts: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE cadence_items SET
			status = $2, priority = $3, scheduled_at = $4,
			attempt_count = $5, max_attempts = $6, last_error = $7,
			subject = $8, body_html = $9, body_text = $10,
			provider_message_id = $11, claimed_by = $12, claimed_at = $13,
			resolved_at = $14, attempts = $15, updated_at = $16
		WHERE id = $1 AND status IN ('pending', 'claimed', 'sending')`,
		it.ID.String(), string(it.Status), it.Priority, it.ScheduledAt,
		it.AttemptCount, it.MaxAttempts, it.LastError,
		it.Subject, it.BodyHTML, it.BodyText,
		it.ProviderMessageID, it.ClaimedBy.String(), it.ClaimedAt,
		it.ResolvedAt, attempts, it.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("cadence/postgres: update item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM cadence_items WHERE id = $1)`,
			it.ID.String(),
		).Scan(&exists); err != nil {
			return fmt.Errorf("cadence/postgres: update item: %w", err)
		}
		if exists {
			return cadence.ErrInvalidTransition
		}
		return cadence.ErrItemNotFound
	}
	return nil
}

// ListItemsByStatus returns items matching the given status.
func (s *Store) ListItemsByStatus(ctx context.Context, status item.Status, opts item.ListOpts) ([]*item.Item, error) {
	var (
		sb   strings.Builder
		args []any
	)
	sb.WriteString(`SELECT ` + itemColumns + ` FROM cadence_items WHERE status = $1`)
	args = append(args, string(status))

	if !opts.CampaignID.IsNil() {
		args = append(args, opts.CampaignID.String())
		fmt.Fprintf(&sb, " AND campaign_id = $%d", len(args))
	}

	sb.WriteString(" ORDER BY scheduled_at ASC, id ASC")

	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		fmt.Fprintf(&sb, " LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		fmt.Fprintf(&sb, " OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("cadence/postgres: list items: %w", err)
	}
	defer rows.Close()

	return scanItems(rows)
}

// ReleaseStale resets items stuck in claimed or sending beyond
// olderThan back to pending. The attempt count is deliberately left
// alone.
func (s *Store) ReleaseStale(ctx context.Context, olderThan time.Duration) ([]*item.Item, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE cadence_items
		SET status = 'pending', claimed_by = '', claimed_at = NULL, updated_at = NOW()
		WHERE status IN ('claimed', 'sending')
		  AND claimed_at IS NOT NULL
		  AND claimed_at <= NOW() - $1::interval
		RETURNING `+itemColumns,
		olderThan.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("cadence/postgres: release stale: %w", err)
	}
	defer rows.Close()

	return scanItems(rows)
}

// CancelActive transitions every active item for the recipient and
// campaign to cancelled.
func (s *Store) CancelActive(ctx context.Context, recipientID id.RecipientID, campaignID id.CampaignID) ([]*item.Item, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE cadence_items
		SET status = 'cancelled', resolved_at = NOW(), updated_at = NOW()
		WHERE recipient_id = $1 AND campaign_id = $2
		  AND status IN ('pending', 'claimed', 'sending')
		RETURNING `+itemColumns,
		recipientID.String(), campaignID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("cadence/postgres: cancel active: %w", err)
	}
	defer rows.Close()

	return scanItems(rows)
}

// Withdraw records the recipient's withdrawal from the campaign.
// Idempotent.
func (s *Store) Withdraw(ctx context.Context, recipientID id.RecipientID, campaignID id.CampaignID) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO cadence_withdrawals (recipient_id, campaign_id)
		VALUES ($1, $2)
		ON CONFLICT (recipient_id, campaign_id) DO NOTHING`,
		recipientID.String(), campaignID.String(),
	)
	if err != nil {
		return fmt.Errorf("cadence/postgres: withdraw: %w", err)
	}
	return nil
}

// IsWithdrawn reports whether the recipient has been withdrawn from the
// campaign.
func (s *Store) IsWithdrawn(ctx context.Context, recipientID id.RecipientID, campaignID id.CampaignID) (bool, error) {
	var withdrawn bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM cadence_withdrawals
			WHERE recipient_id = $1 AND campaign_id = $2
		)`,
		recipientID.String(), campaignID.String(),
	).Scan(&withdrawn)
	if err != nil {
		return false, fmt.Errorf("cadence/postgres: is withdrawn: %w", err)
	}
	return withdrawn, nil
}

// CountItems returns the number of items matching the given options.
func (s *Store) CountItems(ctx context.Context, opts item.CountOpts) (int64, error) {
	var (
		sb   strings.Builder
		args []any
	)
	sb.WriteString(`SELECT COUNT(*) FROM cadence_items WHERE 1=1`)

	if !opts.CampaignID.IsNil() {
		args = append(args, opts.CampaignID.String())
		fmt.Fprintf(&sb, " AND campaign_id = $%d", len(args))
	}
	if opts.Status != "" {
		args = append(args, string(opts.Status))
		fmt.Fprintf(&sb, " AND status = $%d", len(args))
	}

	var count int64
	if err := s.pool.QueryRow(ctx, sb.String(), args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("cadence/postgres: count items: %w", err)
	}
	return count, nil
}

func attemptsOrEmpty(attempts []item.Attempt) []item.Attempt {
	if attempts == nil {
		return []item.Attempt{}
	}
	return attempts
}

// prefixColumns qualifies the shared column list for queries that must
// disambiguate the updated table from a CTE.
func prefixColumns(prefix string) string {
	cols := strings.Split(itemColumns, ",")
	for i, c := range cols {
		cols[i] = prefix + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}

func sortClaimed(items []*item.Item) {
	sort.Slice(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.ScheduledAt.Equal(b.ScheduledAt) {
			return a.ScheduledAt.Before(b.ScheduledAt)
		}
		return a.ID.String() < b.ID.String()
	})
}

func scanItem(row pgx.Row) (*item.Item, error) {
	var (
		it           item.Item
		status       string
		claimedBy    string
		attemptsJSON []byte
	)

	err := row.Scan(
		&it.ID, &it.RecipientID, &it.CampaignID, &it.StepKey, &it.TemplateID,
		&status, &it.Priority, &it.ScheduledAt, &it.AttemptCount,
		&it.MaxAttempts, &it.LastError, &it.Subject, &it.BodyHTML,
		&it.BodyText, &it.TrackingID, &it.ProviderMessageID,
		&claimedBy, &it.ClaimedAt, &it.ResolvedAt, &attemptsJSON,
		&it.CreatedAt, &it.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	it.Status = item.Status(status)
	if claimedBy != "" {
		workerID, err := id.ParseWorkerID(claimedBy)
		if err != nil {
			return nil, fmt.Errorf("cadence/postgres: parse claimed_by: %w", err)
		}
		it.ClaimedBy = workerID
	}
	if len(attemptsJSON) > 0 {
		if err := json.Unmarshal(attemptsJSON, &it.Attempts); err != nil {
			return nil, fmt.Errorf("cadence/postgres: unmarshal attempts: %w", err)
		}
	}
	if len(it.Attempts) == 0 {
		it.Attempts = nil
	}

	return &it, nil
}

func scanItems(rows pgx.Rows) ([]*item.Item, error) {
	var items []*item.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("cadence/postgres: scan item: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("cadence/postgres: iterate items: %w", err)
	}
	return items, nil
}
