// Package domain defines the core types and interfaces for Kestrel.
package domain

import (
	"context"
	"time"
)

// Repository defines the persistence collaborator consumed by the
// engine. Transactions are never physically deleted; terminal states
// are retained for audit.
type Repository interface {
	// Transaction operations. SaveTransaction enforces reference
	// uniqueness and returns ErrDuplicateReference on conflict.
	SaveTransaction(ctx context.Context, tx *Transaction) error
	UpdateTransaction(ctx context.Context, tx *Transaction) error
	GetTransaction(ctx context.Context, txID string) (*Transaction, error)
	GetTransactionByReference(ctx context.Context, reference string) (*Transaction, error)
	ListTransactionsByUser(ctx context.Context, userID string) ([]*Transaction, error)

	// UserAggregates returns the per-user statistics the feature
	// extractor consumes.
	UserAggregates(ctx context.Context, userID string) (*UserAggregates, error)

	// Pattern operations. Patterns are insert-once, review-update-only.
	SavePattern(ctx context.Context, p *FraudPattern) error
	UpdatePatternReview(ctx context.Context, p *FraudPattern) error
	GetPattern(ctx context.Context, patternID string) (*FraudPattern, error)
	ListPatternsByTransaction(ctx context.Context, txID string) ([]*FraudPattern, error)
	ListPatternsByReviewed(ctx context.Context, reviewed bool) ([]*FraudPattern, error)
	ListPatternsByConfidence(ctx context.Context, minConfidence float64) ([]*FraudPattern, error)
	ListPatternsByDateRange(ctx context.Context, from, to time.Time) ([]*FraudPattern, error)
	PatternStatistics(ctx context.Context) (*PatternStatistics, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
