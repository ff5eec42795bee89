/**
 * @description
 * Idempotent seeding of the tier ladder and the default reward catalog.
 * Both seeders are no-ops when any rows already exist, so they are safe to
 * run on every boot.
 */

package app

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/verdantnursery/marketing-service/internal/domain"
)

// SeedDefaultTiers creates the four-step tier ladder on first boot.
func (s *LoyaltyService) SeedDefaultTiers(ctx context.Context) error {
	n, err := s.repo.CountTiers(ctx)
	if err != nil {
		return fmt.Errorf("failed to count tiers: %w", err)
	}
	if n > 0 {
		return nil
	}

	tiers := []domain.Tier{
		{Name: "Seedling", MinPoints: 0, Multiplier: 1.0, DiscountPct: 0, BirthdayBonus: 0, Color: "#8BC34A", SortOrder: 0},
		{Name: "Sprout", MinPoints: 500, Multiplier: 1.1, DiscountPct: 5, BirthdayBonus: 50, Color: "#4CAF50", SortOrder: 1},
		{Name: "Bloom", MinPoints: 1500, Multiplier: 1.25, DiscountPct: 10, FreeShipping: true, BirthdayBonus: 100, Color: "#2E7D32", SortOrder: 2},
		{Name: "Evergreen", MinPoints: 5000, Multiplier: 1.5, DiscountPct: 15, FreeShipping: true, EarlyAccess: true, BirthdayBonus: 250, Color: "#1B5E20", SortOrder: 3},
	}
	for i := range tiers {
		tiers[i].ID = uuid.New()
		if err := s.repo.CreateTier(ctx, &tiers[i]); err != nil {
			return fmt.Errorf("failed to seed tier %q: %w", tiers[i].Name, err)
		}
	}
	s.logger.Info("seeded loyalty tiers", "count", len(tiers))
	return nil
}

// SeedDefaultRewards creates the starter reward catalog on first boot.
func (s *LoyaltyService) SeedDefaultRewards(ctx context.Context) error {
	n, err := s.repo.CountRewards(ctx)
	if err != nil {
		return fmt.Errorf("failed to count rewards: %w", err)
	}
	if n > 0 {
		return nil
	}

	rewards := []domain.Reward{
		{Name: "Free Shipping", PointsCost: 300, Type: domain.RewardFreeShipping, Value: 0, ValidDays: 30, Active: true},
		{Name: "$5 Off Your Order", PointsCost: 500, Type: domain.RewardFixedDiscount, Value: 500, ValidDays: 60, Active: true},
		{Name: "10% Off Your Order", PointsCost: 750, Type: domain.RewardPercentDiscount, Value: 10, ValidDays: 60, Active: true},
		{Name: "$20 Off Your Order", PointsCost: 1800, Type: domain.RewardFixedDiscount, Value: 2000, ValidDays: 90, Active: true},
	}
	for i := range rewards {
		rewards[i].ID = uuid.New()
		if err := s.repo.CreateReward(ctx, &rewards[i]); err != nil {
			return fmt.Errorf("failed to seed reward %q: %w", rewards[i].Name, err)
		}
	}
	s.logger.Info("seeded reward catalog", "count", len(rewards))
	return nil
}
