package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.

const schemaTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
    id TEXT PRIMARY KEY,
    reference TEXT NOT NULL UNIQUE,
    user_id TEXT NOT NULL,
    type TEXT NOT NULL,
    amount REAL NOT NULL,
    description TEXT,
    status TEXT NOT NULL,
    fraud_score REAL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transactions_user ON transactions(user_id);
CREATE INDEX IF NOT EXISTS idx_transactions_status ON transactions(status);
CREATE INDEX IF NOT EXISTS idx_transactions_created ON transactions(created_at);
`

const schemaPatterns = `
CREATE TABLE IF NOT EXISTS fraud_patterns (
    id TEXT PRIMARY KEY,
    transaction_id TEXT NOT NULL,
    pattern_type TEXT NOT NULL,
    description TEXT NOT NULL,
    confidence REAL NOT NULL,
    detector_model TEXT NOT NULL,
    metadata TEXT NOT NULL,
    detected_at TIMESTAMP NOT NULL,
    reviewed INTEGER NOT NULL DEFAULT 0,
    reviewed_by TEXT,
    reviewed_at TIMESTAMP,
    review_notes TEXT
);

CREATE INDEX IF NOT EXISTS idx_patterns_transaction ON fraud_patterns(transaction_id);
CREATE INDEX IF NOT EXISTS idx_patterns_reviewed ON fraud_patterns(reviewed);
CREATE INDEX IF NOT EXISTS idx_patterns_confidence ON fraud_patterns(confidence);
CREATE INDEX IF NOT EXISTS idx_patterns_detected ON fraud_patterns(detected_at);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaTransactions,
		schemaPatterns,
	}
}
