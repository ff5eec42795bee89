/**
 * @description
 * PostgreSQL implementation of the CampaignRepository interface: campaigns
 * and their daily analytics rollups.
 */

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/verdantnursery/marketing-service/internal/domain"
)

const campaignColumns = `id, name, type, status, discount_code, discount_pct, discount_cents,
	min_order_cents, max_uses, used_count, audience, channels, start_at, end_at,
	created_at, updated_at`

// CreateCampaign persists a new campaign. A duplicate discount code is
// reported as ErrCodeTaken (unique index on discount_code).
func (r *PostgresRepository) CreateCampaign(ctx context.Context, c *domain.Campaign) error {
	audience, err := json.Marshal(c.Audience)
	if err != nil {
		return err
	}
	if c.Channels == nil {
		c.Channels = []string{}
	}
	query := `
		INSERT INTO campaigns (
			id, name, type, status, discount_code, discount_pct, discount_cents,
			min_order_cents, max_uses, used_count, audience, channels, start_at, end_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 0, $10, $11, $12, $13)
		RETURNING created_at, updated_at
	`
	err = r.db.QueryRow(ctx, query, c.ID, c.Name, c.Type, c.Status, c.DiscountCode,
		c.DiscountPct, c.DiscountCents, c.MinOrderCents, c.MaxUses, audience,
		c.Channels, c.StartAt, c.EndAt).Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrCodeTaken
		}
		return err
	}
	return nil
}

// FindCampaignByID retrieves a campaign by its primary key.
func (r *PostgresRepository) FindCampaignByID(ctx context.Context, id uuid.UUID) (*domain.Campaign, error) {
	row := r.db.QueryRow(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE id = $1`, id)
	return scanCampaign(row)
}

// FindCampaignByCode retrieves a campaign by its discount code.
func (r *PostgresRepository) FindCampaignByCode(ctx context.Context, code string) (*domain.Campaign, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+campaignColumns+` FROM campaigns WHERE upper(discount_code) = upper($1)`, code)
	return scanCampaign(row)
}

func scanCampaign(row rowScanner) (*domain.Campaign, error) {
	var c domain.Campaign
	var audience []byte
	err := row.Scan(&c.ID, &c.Name, &c.Type, &c.Status, &c.DiscountCode, &c.DiscountPct,
		&c.DiscountCents, &c.MinOrderCents, &c.MaxUses, &c.UsedCount, &audience,
		&c.Channels, &c.StartAt, &c.EndAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCampaignNotFound
		}
		return nil, err
	}
	if len(audience) > 0 {
		if err := json.Unmarshal(audience, &c.Audience); err != nil {
			return nil, fmt.Errorf("failed to decode campaign audience: %w", err)
		}
	}
	return &c, nil
}

// UpdateCampaignStatus transitions a campaign's lifecycle state.
func (r *PostgresRepository) UpdateCampaignStatus(ctx context.Context, id uuid.UUID, status domain.CampaignStatus) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE campaigns SET status = $1, updated_at = NOW() WHERE id = $2`, status, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrCampaignNotFound
	}
	return nil
}

// IncrementCampaignUsage bumps used_count atomically and returns the new
// value, so the caller can auto-complete the campaign at the cap.
func (r *PostgresRepository) IncrementCampaignUsage(ctx context.Context, id uuid.UUID) (int, error) {
	var used int
	err := r.db.QueryRow(ctx, `
		UPDATE campaigns SET used_count = used_count + 1, updated_at = NOW()
		WHERE id = $1
		RETURNING used_count
	`, id).Scan(&used)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrCampaignNotFound
		}
		return 0, err
	}
	return used, nil
}

// FindScheduledCampaignsDue returns SCHEDULED campaigns whose start has arrived.
func (r *PostgresRepository) FindScheduledCampaignsDue(ctx context.Context, now time.Time) ([]domain.Campaign, error) {
	return r.listCampaigns(ctx,
		`SELECT `+campaignColumns+` FROM campaigns WHERE status = 'SCHEDULED' AND start_at <= $1`, now)
}

// FindActiveCampaignsEnded returns ACTIVE campaigns whose end has passed.
func (r *PostgresRepository) FindActiveCampaignsEnded(ctx context.Context, now time.Time) ([]domain.Campaign, error) {
	return r.listCampaigns(ctx,
		`SELECT `+campaignColumns+` FROM campaigns WHERE status = 'ACTIVE' AND end_at <= $1`, now)
}

func (r *PostgresRepository) listCampaigns(ctx context.Context, query string, args ...any) ([]domain.Campaign, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var campaigns []domain.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, *c)
	}
	return campaigns, rows.Err()
}

// UpsertDailyAnalytics additively folds the delta into the (campaign, day)
// rollup row, creating it on first touch. Counters only ever grow.
func (r *PostgresRepository) UpsertDailyAnalytics(ctx context.Context, campaignID uuid.UUID, day time.Time, delta domain.AnalyticsDelta) error {
	query := `
		INSERT INTO campaign_analytics (
			campaign_id, day, impressions, clicks, conversions, revenue_cents,
			emails_sent, emails_opened, emails_clicked, social_reach, social_engagement
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (campaign_id, day) DO UPDATE
		SET impressions = campaign_analytics.impressions + EXCLUDED.impressions,
		    clicks = campaign_analytics.clicks + EXCLUDED.clicks,
		    conversions = campaign_analytics.conversions + EXCLUDED.conversions,
		    revenue_cents = campaign_analytics.revenue_cents + EXCLUDED.revenue_cents,
		    emails_sent = campaign_analytics.emails_sent + EXCLUDED.emails_sent,
		    emails_opened = campaign_analytics.emails_opened + EXCLUDED.emails_opened,
		    emails_clicked = campaign_analytics.emails_clicked + EXCLUDED.emails_clicked,
		    social_reach = campaign_analytics.social_reach + EXCLUDED.social_reach,
		    social_engagement = campaign_analytics.social_engagement + EXCLUDED.social_engagement
	`
	_, err := r.db.Exec(ctx, query, campaignID, day.UTC().Truncate(24*time.Hour),
		delta.Impressions, delta.Clicks, delta.Conversions, delta.RevenueCents,
		delta.EmailsSent, delta.EmailsOpened, delta.EmailsClicked,
		delta.SocialReach, delta.SocialEngagement)
	return err
}

// FindAnalytics returns the rollup rows for a campaign in [from, to].
func (r *PostgresRepository) FindAnalytics(ctx context.Context, campaignID uuid.UUID, from, to time.Time) ([]domain.CampaignAnalytics, error) {
	query := `
		SELECT campaign_id, day, impressions, clicks, conversions, revenue_cents,
		       emails_sent, emails_opened, emails_clicked, social_reach, social_engagement
		FROM campaign_analytics
		WHERE campaign_id = $1 AND day BETWEEN $2 AND $3
		ORDER BY day
	`
	rows, err := r.db.Query(ctx, query, campaignID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.CampaignAnalytics
	for rows.Next() {
		var a domain.CampaignAnalytics
		if err := rows.Scan(&a.CampaignID, &a.Day, &a.Impressions, &a.Clicks, &a.Conversions,
			&a.RevenueCents, &a.EmailsSent, &a.EmailsOpened, &a.EmailsClicked,
			&a.SocialReach, &a.SocialEngagement); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
