/**
 * @description
 * This file declares the PostgreSQL-backed repository shared by the loyalty
 * ledger, workflow engine, and campaign manager. The method implementations
 * live in loyalty_repository.go, workflow_repository.go, and
 * campaign_repository.go, grouped by concern.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 */

package store

import (
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository is the concrete implementation of every repository
// interface in this package, backed by a pgx connection pool.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}
