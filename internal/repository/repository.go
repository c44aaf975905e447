// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// rebind converts `?` placeholders to `$N` for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, ch := range query {
		if ch == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(ch)
	}
	return b.String()
}

// SaveTransaction stores a new transaction, enforcing reference
// uniqueness.
func (r *SQLRepository) SaveTransaction(ctx context.Context, tx *domain.Transaction) error {
	query := `
		INSERT INTO transactions (
			id, reference, user_id, type, amount, description,
			status, fraud_score, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		tx.ID, tx.Reference, tx.UserID, string(tx.Type),
		tx.Amount, tx.Description, string(tx.Status), tx.FraudScore,
		tx.CreatedAt, tx.UpdatedAt,
	)
	if err != nil && isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateReference, tx.Reference)
	}
	return err
}

// isUniqueViolation detects a reference-uniqueness conflict across
// both drivers.
func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || // sqlite
		strings.Contains(msg, "duplicate key value") // postgres
}

// UpdateTransaction persists the status/score mutation of an existing
// transaction.
func (r *SQLRepository) UpdateTransaction(ctx context.Context, tx *domain.Transaction) error {
	query := `
		UPDATE transactions
		SET status = ?, fraud_score = ?, updated_at = ?
		WHERE id = ?
	`

	res, err := r.db.ExecContext(ctx, r.rebind(query),
		string(tx.Status), tx.FraudScore, tx.UpdatedAt, tx.ID,
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetTransaction retrieves a transaction by ID.
func (r *SQLRepository) GetTransaction(ctx context.Context, txID string) (*domain.Transaction, error) {
	return r.getTransaction(ctx, "id", txID)
}

// GetTransactionByReference retrieves a transaction by its unique
// reference string.
func (r *SQLRepository) GetTransactionByReference(ctx context.Context, reference string) (*domain.Transaction, error) {
	return r.getTransaction(ctx, "reference", reference)
}

func (r *SQLRepository) getTransaction(ctx context.Context, column, value string) (*domain.Transaction, error) {
	query := `
		SELECT id, reference, user_id, type, amount, description,
			   status, fraud_score, created_at, updated_at
		FROM transactions
		WHERE ` + column + ` = ?
	`

	tx, err := scanTransaction(r.db.QueryRowContext(ctx, r.rebind(query), value))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return tx, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*domain.Transaction, error) {
	var tx domain.Transaction
	var txType, status string
	var description sql.NullString
	var fraudScore sql.NullFloat64

	err := row.Scan(
		&tx.ID, &tx.Reference, &tx.UserID, &txType,
		&tx.Amount, &description, &status, &fraudScore,
		&tx.CreatedAt, &tx.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	tx.Type = domain.TransactionType(txType)
	tx.Status = domain.TransactionStatus(status)
	tx.Description = description.String
	if fraudScore.Valid {
		score := fraudScore.Float64
		tx.FraudScore = &score
	}

	return &tx, nil
}

// ListTransactionsByUser retrieves all transactions owned by a user,
// newest first.
func (r *SQLRepository) ListTransactionsByUser(ctx context.Context, userID string) ([]*domain.Transaction, error) {
	query := `
		SELECT id, reference, user_id, type, amount, description,
			   status, fraud_score, created_at, updated_at
		FROM transactions
		WHERE user_id = ?
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transactions []*domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}

	return transactions, rows.Err()
}

// UserAggregates returns the user's settled transaction count and
// average amount. PENDING transactions are excluded so the one being
// evaluated does not count toward its own history.
func (r *SQLRepository) UserAggregates(ctx context.Context, userID string) (*domain.UserAggregates, error) {
	query := `
		SELECT COUNT(*), COALESCE(AVG(amount), 0)
		FROM transactions
		WHERE user_id = ? AND status != ?
	`

	agg := &domain.UserAggregates{UserID: userID}
	err := r.db.QueryRowContext(ctx, r.rebind(query), userID, string(domain.StatusPending)).Scan(
		&agg.TransactionCount, &agg.AverageAmount,
	)
	if err != nil {
		return nil, err
	}

	return agg, nil
}

// SavePattern stores a new fraud pattern.
func (r *SQLRepository) SavePattern(ctx context.Context, p *domain.FraudPattern) error {
	metadata, err := json.Marshal(p.Metadata)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO fraud_patterns (
			id, transaction_id, pattern_type, description, confidence,
			detector_model, metadata, detected_at, reviewed,
			reviewed_by, reviewed_at, review_notes
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		p.ID, p.TransactionID, string(p.Type), p.Description, p.Confidence,
		p.DetectorModel, string(metadata), p.DetectedAt, boolToInt(p.Reviewed),
		p.ReviewedBy, p.ReviewedAt, p.ReviewNotes,
	)
	return err
}

// UpdatePatternReview persists the review fields of a pattern. The
// reviewed flag is only ever raised here, never cleared.
func (r *SQLRepository) UpdatePatternReview(ctx context.Context, p *domain.FraudPattern) error {
	query := `
		UPDATE fraud_patterns
		SET reviewed = 1, reviewed_by = ?, reviewed_at = ?, review_notes = ?
		WHERE id = ?
	`

	res, err := r.db.ExecContext(ctx, r.rebind(query),
		p.ReviewedBy, p.ReviewedAt, p.ReviewNotes, p.ID,
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

const patternColumns = `
	id, transaction_id, pattern_type, description, confidence,
	detector_model, metadata, detected_at, reviewed,
	reviewed_by, reviewed_at, review_notes
`

// GetPattern retrieves a pattern by ID.
func (r *SQLRepository) GetPattern(ctx context.Context, patternID string) (*domain.FraudPattern, error) {
	query := `SELECT ` + patternColumns + ` FROM fraud_patterns WHERE id = ?`

	p, err := scanPattern(r.db.QueryRowContext(ctx, r.rebind(query), patternID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return p, err
}

func scanPattern(row rowScanner) (*domain.FraudPattern, error) {
	var p domain.FraudPattern
	var patternType, metadata string
	var reviewed int
	var reviewedBy, reviewNotes sql.NullString
	var reviewedAt sql.NullTime

	err := row.Scan(
		&p.ID, &p.TransactionID, &patternType, &p.Description, &p.Confidence,
		&p.DetectorModel, &metadata, &p.DetectedAt, &reviewed,
		&reviewedBy, &reviewedAt, &reviewNotes,
	)
	if err != nil {
		return nil, err
	}

	p.Type = domain.PatternType(patternType)
	p.Reviewed = reviewed == 1
	p.ReviewedBy = reviewedBy.String
	p.ReviewNotes = reviewNotes.String
	if reviewedAt.Valid {
		t := reviewedAt.Time
		p.ReviewedAt = &t
	}
	if metadata != "" {
		if err := json.Unmarshal([]byte(metadata), &p.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata for pattern %s: %w", p.ID, err)
		}
	}

	return &p, nil
}

// ListPatternsByTransaction retrieves all patterns referencing a
// transaction.
func (r *SQLRepository) ListPatternsByTransaction(ctx context.Context, txID string) ([]*domain.FraudPattern, error) {
	query := `SELECT ` + patternColumns + ` FROM fraud_patterns WHERE transaction_id = ? ORDER BY detected_at DESC`
	return r.listPatterns(ctx, query, txID)
}

// ListPatternsByReviewed retrieves patterns by review status.
func (r *SQLRepository) ListPatternsByReviewed(ctx context.Context, reviewed bool) ([]*domain.FraudPattern, error) {
	query := `SELECT ` + patternColumns + ` FROM fraud_patterns WHERE reviewed = ? ORDER BY detected_at DESC`
	return r.listPatterns(ctx, query, boolToInt(reviewed))
}

// ListPatternsByConfidence retrieves patterns at or above a confidence
// threshold.
func (r *SQLRepository) ListPatternsByConfidence(ctx context.Context, minConfidence float64) ([]*domain.FraudPattern, error) {
	query := `SELECT ` + patternColumns + ` FROM fraud_patterns WHERE confidence >= ? ORDER BY confidence DESC`
	return r.listPatterns(ctx, query, minConfidence)
}

// ListPatternsByDateRange retrieves patterns detected within [from, to].
func (r *SQLRepository) ListPatternsByDateRange(ctx context.Context, from, to time.Time) ([]*domain.FraudPattern, error) {
	query := `SELECT ` + patternColumns + ` FROM fraud_patterns WHERE detected_at >= ? AND detected_at <= ? ORDER BY detected_at DESC`
	return r.listPatterns(ctx, query, from, to)
}

func (r *SQLRepository) listPatterns(ctx context.Context, query string, args ...any) ([]*domain.FraudPattern, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var patterns []*domain.FraudPattern
	for rows.Next() {
		p, err := scanPattern(rows)
		if err != nil {
			return nil, err
		}
		patterns = append(patterns, p)
	}

	return patterns, rows.Err()
}

// PatternStatistics summarizes stored patterns for reporting.
func (r *SQLRepository) PatternStatistics(ctx context.Context) (*domain.PatternStatistics, error) {
	query := `SELECT pattern_type, confidence, reviewed FROM fraud_patterns`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := &domain.PatternStatistics{
		BySeverity: make(map[string]int64),
		ByType:     make(map[string]int64),
	}

	for rows.Next() {
		var patternType string
		var confidence float64
		var reviewed int

		if err := rows.Scan(&patternType, &confidence, &reviewed); err != nil {
			return nil, err
		}

		stats.Total++
		if reviewed == 1 {
			stats.Reviewed++
		} else {
			stats.Unreviewed++
		}
		stats.BySeverity[domain.SeverityBand(confidence)]++
		stats.ByType[patternType]++
	}

	return stats, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
