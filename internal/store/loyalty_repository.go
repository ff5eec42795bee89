/**
 * @description
 * PostgreSQL implementation of the LoyaltyRepository interface: accounts,
 * ledger transactions, tiers, rewards, and redemptions.
 *
 * @notes
 * - AppendTransaction and RedeemRewardAtomic are the only writers of
 *   `accounts.points_balance`. Both lock the account row with FOR UPDATE so
 *   concurrent appends to the same account serialize instead of losing
 *   updates.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/verdantnursery/marketing-service/internal/domain"
)

// FindAccountByID retrieves a loyalty account by its primary key.
func (r *PostgresRepository) FindAccountByID(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	return r.scanAccount(ctx, `WHERE id = $1`, id)
}

// FindAccountByEmail retrieves a loyalty account by email (case-insensitive).
func (r *PostgresRepository) FindAccountByEmail(ctx context.Context, email string) (*domain.Account, error) {
	return r.scanAccount(ctx, `WHERE lower(email) = lower($1)`, email)
}

// FindAccountByCustomerID retrieves a loyalty account by the external
// storefront customer id.
func (r *PostgresRepository) FindAccountByCustomerID(ctx context.Context, customerID string) (*domain.Account, error) {
	return r.scanAccount(ctx, `WHERE customer_id = $1`, customerID)
}

// FindAccountByReferralCode retrieves the account owning a referral code.
func (r *PostgresRepository) FindAccountByReferralCode(ctx context.Context, code string) (*domain.Account, error) {
	return r.scanAccount(ctx, `WHERE referral_code = $1`, code)
}

const accountColumns = `id, email, customer_id, name, points_balance, lifetime_points,
	lifetime_spent_cents, tier_id, referral_code, referral_count, last_activity_at,
	created_at, updated_at`

func (r *PostgresRepository) scanAccount(ctx context.Context, where string, arg any) (*domain.Account, error) {
	var a domain.Account
	query := `SELECT ` + accountColumns + ` FROM loyalty_accounts ` + where
	err := r.db.QueryRow(ctx, query, arg).Scan(
		&a.ID, &a.Email, &a.CustomerID, &a.Name, &a.PointsBalance, &a.LifetimePoints,
		&a.LifetimeSpentCents, &a.TierID, &a.ReferralCode, &a.ReferralCount,
		&a.LastActivityAt, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &a, nil
}

// CreateAccount inserts a new loyalty account row.
func (r *PostgresRepository) CreateAccount(ctx context.Context, account *domain.Account) error {
	query := `
		INSERT INTO loyalty_accounts (
			id, email, customer_id, name, points_balance, lifetime_points,
			lifetime_spent_cents, tier_id, referral_code, referral_count, last_activity_at
		)
		VALUES ($1, lower($2), $3, $4, 0, 0, 0, $5, $6, 0, NOW())
		RETURNING created_at, updated_at, last_activity_at
	`
	return r.db.QueryRow(ctx, query,
		account.ID, account.Email, account.CustomerID, account.Name,
		account.TierID, account.ReferralCode,
	).Scan(&account.CreatedAt, &account.UpdatedAt, &account.LastActivityAt)
}

// SetAccountCustomerID backfills the external customer id on an account.
func (r *PostgresRepository) SetAccountCustomerID(ctx context.Context, accountID uuid.UUID, customerID string) error {
	query := `UPDATE loyalty_accounts SET customer_id = $1, updated_at = NOW() WHERE id = $2`
	_, err := r.db.Exec(ctx, query, customerID, accountID)
	return err
}

// SetAccountTier moves an account onto the given tier.
func (r *PostgresRepository) SetAccountTier(ctx context.Context, accountID uuid.UUID, tierID uuid.UUID) error {
	query := `UPDATE loyalty_accounts SET tier_id = $1, updated_at = NOW() WHERE id = $2`
	_, err := r.db.Exec(ctx, query, tierID, accountID)
	return err
}

// IncrementReferralCount adds one successful referral to the account.
func (r *PostgresRepository) IncrementReferralCount(ctx context.Context, accountID uuid.UUID) error {
	query := `UPDATE loyalty_accounts SET referral_count = referral_count + 1, updated_at = NOW() WHERE id = $1`
	_, err := r.db.Exec(ctx, query, accountID)
	return err
}

// AddLifetimeSpend adds an order total to the account's lifetime spend.
func (r *PostgresRepository) AddLifetimeSpend(ctx context.Context, accountID uuid.UUID, cents int64) error {
	query := `UPDATE loyalty_accounts SET lifetime_spent_cents = lifetime_spent_cents + $1, updated_at = NOW() WHERE id = $2`
	_, err := r.db.Exec(ctx, query, cents, accountID)
	return err
}

// AppendTransaction inserts a ledger entry and applies its delta to the
// account inside one database transaction. See the interface doc for the
// full contract.
func (r *PostgresRepository) AppendTransaction(ctx context.Context, txn *domain.Transaction) (*domain.Account, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	account, err := appendTransactionTx(ctx, tx, txn)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return account, nil
}

// appendTransactionTx is the shared append primitive, usable inside a larger
// unit of work (reward redemption reuses it under the same lock scope).
func appendTransactionTx(ctx context.Context, tx pgx.Tx, txn *domain.Transaction) (*domain.Account, error) {
	var balance int64
	// Lock the account row to serialize concurrent appends.
	err := tx.QueryRow(ctx,
		`SELECT points_balance FROM loyalty_accounts WHERE id = $1 FOR UPDATE`,
		txn.AccountID,
	).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}

	if balance+txn.Points < 0 {
		return nil, ErrInsufficientPoints
	}

	insert := `
		INSERT INTO loyalty_transactions (
			id, account_id, type, points, order_id, description, expires_at, source_transaction_id
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`
	if err := tx.QueryRow(ctx, insert,
		txn.ID, txn.AccountID, txn.Type, txn.Points, txn.OrderID,
		txn.Description, txn.ExpiresAt, txn.SourceTransactionID,
	).Scan(&txn.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to insert ledger entry: %w", err)
	}

	lifetimeDelta := int64(0)
	if txn.Points > 0 {
		lifetimeDelta = txn.Points
	}

	var a domain.Account
	update := `
		UPDATE loyalty_accounts
		SET points_balance = points_balance + $1,
		    lifetime_points = lifetime_points + $2,
		    last_activity_at = NOW(),
		    updated_at = NOW()
		WHERE id = $3
		RETURNING ` + accountColumns + `
	`
	err = tx.QueryRow(ctx, update, txn.Points, lifetimeDelta, txn.AccountID).Scan(
		&a.ID, &a.Email, &a.CustomerID, &a.Name, &a.PointsBalance, &a.LifetimePoints,
		&a.LifetimeSpentCents, &a.TierID, &a.ReferralCode, &a.ReferralCount,
		&a.LastActivityAt, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to apply ledger delta: %w", err)
	}
	return &a, nil
}

// FindTransactionsByAccount returns the most recent ledger entries for an
// account, newest first.
func (r *PostgresRepository) FindTransactionsByAccount(ctx context.Context, accountID uuid.UUID, limit int) ([]domain.Transaction, error) {
	query := `
		SELECT id, account_id, type, points, order_id, description, expires_at,
		       source_transaction_id, created_at
		FROM loyalty_transactions
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txns []domain.Transaction
	for rows.Next() {
		var t domain.Transaction
		if err := rows.Scan(&t.ID, &t.AccountID, &t.Type, &t.Points, &t.OrderID,
			&t.Description, &t.ExpiresAt, &t.SourceTransactionID, &t.CreatedAt); err != nil {
			return nil, err
		}
		txns = append(txns, t)
	}
	return txns, rows.Err()
}

// FindExpirableTransactions returns positive, non-redemption entries whose
// expiry has passed and which have not already been offset by an EXPIRED
// entry. The NOT EXISTS guard is what keeps the expiry sweep idempotent.
func (r *PostgresRepository) FindExpirableTransactions(ctx context.Context, now time.Time) ([]domain.Transaction, error) {
	query := `
		SELECT t.id, t.account_id, t.type, t.points, t.order_id, t.description,
		       t.expires_at, t.source_transaction_id, t.created_at
		FROM loyalty_transactions t
		WHERE t.points > 0
		  AND t.type NOT IN ('EXPIRED', 'REDEMPTION')
		  AND t.expires_at IS NOT NULL
		  AND t.expires_at <= $1
		  AND NOT EXISTS (
			SELECT 1 FROM loyalty_transactions e
			WHERE e.type = 'EXPIRED' AND e.source_transaction_id = t.id
		  )
		ORDER BY t.expires_at
	`
	rows, err := r.db.Query(ctx, query, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txns []domain.Transaction
	for rows.Next() {
		var t domain.Transaction
		if err := rows.Scan(&t.ID, &t.AccountID, &t.Type, &t.Points, &t.OrderID,
			&t.Description, &t.ExpiresAt, &t.SourceTransactionID, &t.CreatedAt); err != nil {
			return nil, err
		}
		txns = append(txns, t)
	}
	return txns, rows.Err()
}

// ListTiers returns all tiers ordered by ascending threshold.
func (r *PostgresRepository) ListTiers(ctx context.Context) ([]domain.Tier, error) {
	query := `
		SELECT id, name, min_points, multiplier, discount_pct, free_shipping,
		       early_access, birthday_bonus, color, sort_order
		FROM loyalty_tiers
		ORDER BY min_points
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tiers []domain.Tier
	for rows.Next() {
		var t domain.Tier
		if err := rows.Scan(&t.ID, &t.Name, &t.MinPoints, &t.Multiplier, &t.DiscountPct,
			&t.FreeShipping, &t.EarlyAccess, &t.BirthdayBonus, &t.Color, &t.SortOrder); err != nil {
			return nil, err
		}
		tiers = append(tiers, t)
	}
	return tiers, rows.Err()
}

// FindTierByID retrieves a single tier.
func (r *PostgresRepository) FindTierByID(ctx context.Context, id uuid.UUID) (*domain.Tier, error) {
	var t domain.Tier
	query := `
		SELECT id, name, min_points, multiplier, discount_pct, free_shipping,
		       early_access, birthday_bonus, color, sort_order
		FROM loyalty_tiers WHERE id = $1
	`
	err := r.db.QueryRow(ctx, query, id).Scan(&t.ID, &t.Name, &t.MinPoints, &t.Multiplier,
		&t.DiscountPct, &t.FreeShipping, &t.EarlyAccess, &t.BirthdayBonus, &t.Color, &t.SortOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("tier %s not found", id)
		}
		return nil, err
	}
	return &t, nil
}

// CountTiers reports how many tier rows exist. Seeding checks this first so
// a second initialization call is a no-op.
func (r *PostgresRepository) CountTiers(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM loyalty_tiers`).Scan(&n)
	return n, err
}

// CreateTier inserts a tier seed row.
func (r *PostgresRepository) CreateTier(ctx context.Context, tier *domain.Tier) error {
	query := `
		INSERT INTO loyalty_tiers (
			id, name, min_points, multiplier, discount_pct, free_shipping,
			early_access, birthday_bonus, color, sort_order
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.db.Exec(ctx, query, tier.ID, tier.Name, tier.MinPoints, tier.Multiplier,
		tier.DiscountPct, tier.FreeShipping, tier.EarlyAccess, tier.BirthdayBonus,
		tier.Color, tier.SortOrder)
	return err
}

const rewardColumns = `id, name, points_cost, type, value, min_order_cents, max_uses,
	used_count, valid_days, active, created_at`

// FindRewardByID retrieves a reward catalog entry.
func (r *PostgresRepository) FindRewardByID(ctx context.Context, id uuid.UUID) (*domain.Reward, error) {
	var rw domain.Reward
	query := `SELECT ` + rewardColumns + ` FROM loyalty_rewards WHERE id = $1`
	err := r.db.QueryRow(ctx, query, id).Scan(&rw.ID, &rw.Name, &rw.PointsCost, &rw.Type,
		&rw.Value, &rw.MinOrderCents, &rw.MaxUses, &rw.UsedCount, &rw.ValidDays,
		&rw.Active, &rw.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRewardNotFound
		}
		return nil, err
	}
	return &rw, nil
}

// ListActiveRewards returns the active reward catalog, cheapest first.
func (r *PostgresRepository) ListActiveRewards(ctx context.Context) ([]domain.Reward, error) {
	query := `SELECT ` + rewardColumns + ` FROM loyalty_rewards WHERE active ORDER BY points_cost`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rewards []domain.Reward
	for rows.Next() {
		var rw domain.Reward
		if err := rows.Scan(&rw.ID, &rw.Name, &rw.PointsCost, &rw.Type, &rw.Value,
			&rw.MinOrderCents, &rw.MaxUses, &rw.UsedCount, &rw.ValidDays,
			&rw.Active, &rw.CreatedAt); err != nil {
			return nil, err
		}
		rewards = append(rewards, rw)
	}
	return rewards, rows.Err()
}

// CountRewards reports how many reward rows exist, for idempotent seeding.
func (r *PostgresRepository) CountRewards(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM loyalty_rewards`).Scan(&n)
	return n, err
}

// CreateReward inserts a reward seed row.
func (r *PostgresRepository) CreateReward(ctx context.Context, reward *domain.Reward) error {
	query := `
		INSERT INTO loyalty_rewards (
			id, name, points_cost, type, value, min_order_cents, max_uses,
			used_count, valid_days, active
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8, $9)
		RETURNING created_at
	`
	return r.db.QueryRow(ctx, query, reward.ID, reward.Name, reward.PointsCost, reward.Type,
		reward.Value, reward.MinOrderCents, reward.MaxUses, reward.ValidDays,
		reward.Active).Scan(&reward.CreatedAt)
}

// RedeemRewardAtomic performs balance deduction, redemption-row creation,
// and used-count increment as one atomic unit of work. The account balance
// can never be observed in a state inconsistent with the ledger.
func (r *PostgresRepository) RedeemRewardAtomic(ctx context.Context, redemption *domain.Redemption, txn *domain.Transaction) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Lock the reward row and re-check the usage cap under the lock.
	var usedCount int
	var maxUses *int
	err = tx.QueryRow(ctx,
		`SELECT used_count, max_uses FROM loyalty_rewards WHERE id = $1 FOR UPDATE`,
		redemption.RewardID,
	).Scan(&usedCount, &maxUses)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrRewardNotFound
		}
		return err
	}
	if maxUses != nil && usedCount >= *maxUses {
		return ErrRewardSoldOut
	}

	// Appending the negative REDEMPTION entry also guards the balance.
	if _, err := appendTransactionTx(ctx, tx, txn); err != nil {
		return err
	}

	insert := `
		INSERT INTO loyalty_redemptions (
			id, account_id, reward_id, points_spent, coupon_code, expires_at, status
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`
	if err := tx.QueryRow(ctx, insert, redemption.ID, redemption.AccountID,
		redemption.RewardID, redemption.PointsSpent, redemption.CouponCode,
		redemption.ExpiresAt, redemption.Status).Scan(&redemption.CreatedAt); err != nil {
		return fmt.Errorf("failed to insert redemption: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE loyalty_rewards SET used_count = used_count + 1 WHERE id = $1`,
		redemption.RewardID,
	); err != nil {
		return fmt.Errorf("failed to increment reward usage: %w", err)
	}

	return tx.Commit(ctx)
}

// FindRedemptionsByAccount returns an account's redemptions, newest first.
func (r *PostgresRepository) FindRedemptionsByAccount(ctx context.Context, accountID uuid.UUID, limit int) ([]domain.Redemption, error) {
	query := `
		SELECT id, account_id, reward_id, points_spent, coupon_code, expires_at, status, created_at
		FROM loyalty_redemptions
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var redemptions []domain.Redemption
	for rows.Next() {
		var red domain.Redemption
		if err := rows.Scan(&red.ID, &red.AccountID, &red.RewardID, &red.PointsSpent,
			&red.CouponCode, &red.ExpiresAt, &red.Status, &red.CreatedAt); err != nil {
			return nil, err
		}
		redemptions = append(redemptions, red)
	}
	return redemptions, rows.Err()
}
