package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	cfg.MaxConnLifetime = time.Hour
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// Migrate applies the ledger schema. All statements are idempotent so it
// is safe to run on every boot. Financial tables carry a uniqueness
// constraint on their external idempotency id; that constraint, not any
// application-level pre-check, is what makes event replay safe.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, schema)
	return err
}

const schema = `
CREATE TABLE IF NOT EXISTS creators (
	id BIGSERIAL PRIMARY KEY,
	user_id TEXT NOT NULL UNIQUE,
	username TEXT NOT NULL UNIQUE,
	display_name TEXT NOT NULL DEFAULT '',
	email TEXT NOT NULL DEFAULT '',
	subscription_price_cents BIGINT NOT NULL DEFAULT 0,
	commission_rate_bps INT NOT NULL DEFAULT 2000,
	stripe_account_id TEXT NOT NULL DEFAULT '',
	onboarding_complete BOOLEAN NOT NULL DEFAULT false,
	active BOOLEAN NOT NULL DEFAULT true,
	payout_schedule TEXT NOT NULL DEFAULT 'weekly',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS content_items (
	id BIGSERIAL PRIMARY KEY,
	creator_id BIGINT NOT NULL REFERENCES creators(id),
	title TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	media_url TEXT NOT NULL DEFAULT '',
	media_type TEXT NOT NULL DEFAULT 'image',
	price_cents BIGINT NOT NULL DEFAULT 0,
	is_premium BOOLEAN NOT NULL DEFAULT false,
	is_published BOOLEAN NOT NULL DEFAULT false,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_content_items_creator ON content_items (creator_id, is_published);

CREATE TABLE IF NOT EXISTS subscriptions (
	id BIGSERIAL PRIMARY KEY,
	fan_id TEXT NOT NULL,
	creator_id BIGINT NOT NULL REFERENCES creators(id),
	stripe_subscription_id TEXT NOT NULL UNIQUE,
	status TEXT NOT NULL,
	current_period_start TIMESTAMPTZ NOT NULL,
	current_period_end TIMESTAMPTZ NOT NULL,
	cancel_at_period_end BOOLEAN NOT NULL DEFAULT false,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_subscriptions_fan_creator ON subscriptions (fan_id, creator_id, status);

CREATE TABLE IF NOT EXISTS subscription_payments (
	id BIGSERIAL PRIMARY KEY,
	subscription_id BIGINT NOT NULL REFERENCES subscriptions(id),
	fan_id TEXT NOT NULL,
	creator_id BIGINT NOT NULL REFERENCES creators(id),
	stripe_invoice_id TEXT NOT NULL UNIQUE,
	gross BIGINT NOT NULL,
	commission BIGINT NOT NULL,
	creator_net BIGINT NOT NULL,
	period_start TIMESTAMPTZ NOT NULL,
	period_end TIMESTAMPTZ NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	CONSTRAINT subscription_payments_split CHECK (commission + creator_net = gross)
);
CREATE INDEX IF NOT EXISTS idx_subscription_payments_creator ON subscription_payments (creator_id);

CREATE TABLE IF NOT EXISTS purchases (
	id BIGSERIAL PRIMARY KEY,
	fan_id TEXT NOT NULL,
	content_id BIGINT NOT NULL REFERENCES content_items(id),
	creator_id BIGINT NOT NULL REFERENCES creators(id),
	gross BIGINT NOT NULL,
	commission BIGINT NOT NULL,
	creator_net BIGINT NOT NULL,
	stripe_session_id TEXT NOT NULL UNIQUE,
	stripe_payment_intent_id TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'pending',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	completed_at TIMESTAMPTZ,
	CONSTRAINT purchases_split CHECK (commission + creator_net = gross)
);
CREATE INDEX IF NOT EXISTS idx_purchases_fan_content ON purchases (fan_id, content_id, status);
CREATE INDEX IF NOT EXISTS idx_purchases_creator ON purchases (creator_id, status);
CREATE UNIQUE INDEX IF NOT EXISTS ux_purchases_intent ON purchases (stripe_payment_intent_id) WHERE stripe_payment_intent_id <> '';

CREATE TABLE IF NOT EXISTS tips (
	id BIGSERIAL PRIMARY KEY,
	conversation_id TEXT NOT NULL DEFAULT '',
	fan_id TEXT NOT NULL,
	creator_id BIGINT NOT NULL REFERENCES creators(id),
	gross BIGINT NOT NULL,
	commission BIGINT NOT NULL,
	creator_net BIGINT NOT NULL,
	stripe_session_id TEXT NOT NULL UNIQUE,
	stripe_payment_intent_id TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'pending',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	completed_at TIMESTAMPTZ,
	CONSTRAINT tips_split CHECK (commission + creator_net = gross)
);
CREATE INDEX IF NOT EXISTS idx_tips_creator ON tips (creator_id, status);
CREATE UNIQUE INDEX IF NOT EXISTS ux_tips_intent ON tips (stripe_payment_intent_id) WHERE stripe_payment_intent_id <> '';

CREATE TABLE IF NOT EXISTS payouts (
	id BIGSERIAL PRIMARY KEY,
	creator_id BIGINT NOT NULL REFERENCES creators(id),
	amount BIGINT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	stripe_transfer_id TEXT NOT NULL DEFAULT '',
	failure_reason TEXT NOT NULL DEFAULT '',
	requested_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	paid_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_payouts_creator ON payouts (creator_id, status);
CREATE UNIQUE INDEX IF NOT EXISTS ux_payouts_transfer ON payouts (stripe_transfer_id) WHERE stripe_transfer_id <> '';

CREATE TABLE IF NOT EXISTS webhook_events (
	id BIGSERIAL PRIMARY KEY,
	stripe_event_id TEXT NOT NULL UNIQUE,
	event_type TEXT NOT NULL,
	received_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS reconcile_alerts (
	id BIGSERIAL PRIMARY KEY,
	alert_id TEXT NOT NULL UNIQUE,
	event_type TEXT NOT NULL,
	external_id TEXT NOT NULL,
	detail TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`
