// Package ledger is the transactional query layer over the revenue
// ledger: creators, subscriptions, payments, purchases, tips, payouts.
// Rows are only ever created or status-transitioned, never deleted, so
// the ledger stays auditable. Every financial write is keyed by the
// provider's external idempotency id with a uniqueness constraint as the
// actual replay guard.
package ledger

import (
	"context"
	"errors"

	"creatorpay/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidRequest   = errors.New("invalid request")
	ErrDuplicateRequest = errors.New("duplicate request")
)

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

const creatorColumns = `id, user_id, username, display_name, email, subscription_price_cents,
		commission_rate_bps, stripe_account_id, onboarding_complete, active, payout_schedule,
		created_at, updated_at`

func scanCreator(row pgx.Row) (models.Creator, error) {
	var c models.Creator
	err := row.Scan(&c.ID, &c.UserID, &c.Username, &c.DisplayName, &c.Email, &c.SubscriptionPriceCents,
		&c.CommissionRateBps, &c.StripeAccountID, &c.OnboardingComplete, &c.Active, &c.PayoutSchedule,
		&c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Creator{}, ErrNotFound
	}
	return c, err
}

func (s *Store) CreateCreator(ctx context.Context, c models.Creator) (models.Creator, error) {
	if c.UserID == "" || c.Username == "" {
		return models.Creator{}, ErrInvalidRequest
	}
	if c.CommissionRateBps == 0 {
		c.CommissionRateBps = 2000
	}
	if c.PayoutSchedule == "" {
		c.PayoutSchedule = models.PayoutScheduleWeekly
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO creators (user_id, username, display_name, email, subscription_price_cents,
			commission_rate_bps, payout_schedule)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+creatorColumns,
		c.UserID, c.Username, c.DisplayName, c.Email, c.SubscriptionPriceCents,
		c.CommissionRateBps, c.PayoutSchedule)
	created, err := scanCreator(row)
	if isUniqueViolation(err) {
		return models.Creator{}, ErrDuplicateRequest
	}
	return created, err
}

func (s *Store) GetCreator(ctx context.Context, id int64) (models.Creator, error) {
	return scanCreator(s.pool.QueryRow(ctx, `
		SELECT `+creatorColumns+` FROM creators WHERE id = $1`, id))
}

func (s *Store) GetCreatorByUserID(ctx context.Context, userID string) (models.Creator, error) {
	return scanCreator(s.pool.QueryRow(ctx, `
		SELECT `+creatorColumns+` FROM creators WHERE user_id = $1`, userID))
}

func (s *Store) GetCreatorByUsername(ctx context.Context, username string) (models.Creator, error) {
	return scanCreator(s.pool.QueryRow(ctx, `
		SELECT `+creatorColumns+` FROM creators WHERE username = $1 AND active = true`, username))
}

// SetStripeAccount attaches the provider-side payout destination created
// during Connect onboarding. The onboarding-complete flag is only ever
// set by the account-updated webhook, not here.
func (s *Store) SetStripeAccount(ctx context.Context, creatorID int64, stripeAccountID string) error {
	ct, err := s.pool.Exec(ctx, `
		UPDATE creators SET stripe_account_id = $1, updated_at = NOW()
		WHERE id = $2`, stripeAccountID, creatorID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) SetPayoutSchedule(ctx context.Context, creatorID int64, schedule string) error {
	ct, err := s.pool.Exec(ctx, `
		UPDATE creators SET payout_schedule = $1, updated_at = NOW()
		WHERE id = $2`, schedule, creatorID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeactivateCreator soft-deactivates; rows with financial history are
// never hard-deleted.
func (s *Store) DeactivateCreator(ctx context.Context, creatorID int64) error {
	ct, err := s.pool.Exec(ctx, `
		UPDATE creators SET active = false, updated_at = NOW()
		WHERE id = $1`, creatorID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const contentColumns = `id, creator_id, title, description, media_url, media_type,
		price_cents, is_premium, is_published, created_at`

func scanContentItem(row pgx.Row) (models.ContentItem, error) {
	var item models.ContentItem
	err := row.Scan(&item.ID, &item.CreatorID, &item.Title, &item.Description, &item.MediaURL,
		&item.MediaType, &item.PriceCents, &item.IsPremium, &item.Published, &item.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ContentItem{}, ErrNotFound
	}
	return item, err
}

func (s *Store) CreateContentItem(ctx context.Context, item models.ContentItem) (models.ContentItem, error) {
	if item.CreatorID == 0 || item.MediaURL == "" {
		return models.ContentItem{}, ErrInvalidRequest
	}
	if item.IsPremium && item.PriceCents <= 0 {
		return models.ContentItem{}, ErrInvalidRequest
	}
	return scanContentItem(s.pool.QueryRow(ctx, `
		INSERT INTO content_items (creator_id, title, description, media_url, media_type,
			price_cents, is_premium, is_published)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+contentColumns,
		item.CreatorID, item.Title, item.Description, item.MediaURL, item.MediaType,
		item.PriceCents, item.IsPremium, item.Published))
}

func (s *Store) GetContentItem(ctx context.Context, id int64) (models.ContentItem, error) {
	return scanContentItem(s.pool.QueryRow(ctx, `
		SELECT `+contentColumns+` FROM content_items WHERE id = $1`, id))
}

// ListPublishedContent returns a creator's published items, newest
// first. Unpublished items never leave this layer for non-owner viewers.
func (s *Store) ListPublishedContent(ctx context.Context, creatorID int64, includeUnpublished bool, limit, offset int) ([]models.ContentItem, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+contentColumns+`
		FROM content_items
		WHERE creator_id = $1 AND (is_published = true OR $2)
		ORDER BY created_at DESC, id DESC
		LIMIT $3 OFFSET $4`, creatorID, includeUnpublished, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []models.ContentItem
	for rows.Next() {
		item, err := scanContentItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *Store) HasActiveSubscription(ctx context.Context, fanID string, creatorID int64) (bool, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(1) FROM subscriptions
		WHERE fan_id = $1 AND creator_id = $2 AND status = $3`,
		fanID, creatorID, models.SubscriptionActive).Scan(&count)
	return count > 0, err
}

func (s *Store) CompletedPurchaseContentIDs(ctx context.Context, fanID string, creatorID int64) (map[int64]bool, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT content_id FROM purchases
		WHERE fan_id = $1 AND creator_id = $2 AND status = $3`,
		fanID, creatorID, models.PurchaseCompleted)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ids := make(map[int64]bool)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = true
	}
	return ids, rows.Err()
}

func (s *Store) HasCompletedPurchase(ctx context.Context, fanID string, contentID int64) (bool, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(1) FROM purchases
		WHERE fan_id = $1 AND content_id = $2 AND status = $3`,
		fanID, contentID, models.PurchaseCompleted).Scan(&count)
	return count > 0, err
}

func (s *Store) GetSubscriptionByProviderID(ctx context.Context, stripeSubscriptionID string) (models.Subscription, error) {
	var sub models.Subscription
	err := s.pool.QueryRow(ctx, `
		SELECT id, fan_id, creator_id, stripe_subscription_id, status,
			current_period_start, current_period_end, cancel_at_period_end, created_at, updated_at
		FROM subscriptions WHERE stripe_subscription_id = $1`, stripeSubscriptionID,
	).Scan(&sub.ID, &sub.FanID, &sub.CreatorID, &sub.StripeSubscriptionID, &sub.Status,
		&sub.CurrentPeriodStart, &sub.CurrentPeriodEnd, &sub.CancelAtPeriodEnd, &sub.CreatedAt, &sub.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Subscription{}, ErrNotFound
	}
	return sub, err
}

// CreatePendingPurchase opens a purchase in pending status before the
// checkout session is handed to the fan. The completion event later
// resolves it by the session id carried in the event metadata.
func (s *Store) CreatePendingPurchase(ctx context.Context, p models.Purchase) (models.Purchase, error) {
	if p.FanID == "" || p.ContentID == 0 || p.CreatorID == 0 || p.StripeSessionID == "" {
		return models.Purchase{}, ErrInvalidRequest
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO purchases (fan_id, content_id, creator_id, gross, commission, creator_net,
			stripe_session_id, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at`,
		p.FanID, p.ContentID, p.CreatorID, p.Gross, p.Commission, p.CreatorNet,
		p.StripeSessionID, models.PurchasePending,
	).Scan(&p.ID, &p.CreatedAt)
	if isUniqueViolation(err) {
		return models.Purchase{}, ErrDuplicateRequest
	}
	if err != nil {
		return models.Purchase{}, err
	}
	p.Status = models.PurchasePending
	return p, nil
}

func (s *Store) CreatePendingTip(ctx context.Context, t models.Tip) (models.Tip, error) {
	if t.FanID == "" || t.CreatorID == 0 || t.StripeSessionID == "" || t.Gross <= 0 {
		return models.Tip{}, ErrInvalidRequest
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO tips (conversation_id, fan_id, creator_id, gross, commission, creator_net,
			stripe_session_id, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at`,
		t.ConversationID, t.FanID, t.CreatorID, t.Gross, t.Commission, t.CreatorNet,
		t.StripeSessionID, models.TipPending,
	).Scan(&t.ID, &t.CreatedAt)
	if isUniqueViolation(err) {
		return models.Tip{}, ErrDuplicateRequest
	}
	if err != nil {
		return models.Tip{}, err
	}
	t.Status = models.TipPending
	return t, nil
}

