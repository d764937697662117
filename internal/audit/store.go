package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

// Store provides SQLite-based decision log storage.
type Store struct {
	db     *sql.DB
	dbPath string
}

// StoreConfig holds configuration for the audit store.
type StoreConfig struct {
	DBPath string // Path to SQLite file, ":memory:" for in-memory
}

// NewStore opens (and if needed initializes) the audit database.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.DBPath == "" {
		cfg.DBPath = "audit.db"
	}

	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	store := &Store{db: db, dbPath: cfg.DBPath}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS decision_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		request_id TEXT NOT NULL,
		policy_id TEXT NOT NULL,
		timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		latency_ms REAL,

		-- Request info
		action TEXT NOT NULL,
		user TEXT,
		resource_type TEXT,

		-- Decision
		decision TEXT NOT NULL,
		confidence REAL NOT NULL,
		risk_score REAL NOT NULL,
		explanation TEXT,
		applied_rules TEXT,
		cache_hit INTEGER NOT NULL DEFAULT 0,
		trail TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_decision_timestamp ON decision_log(timestamp);
	CREATE INDEX IF NOT EXISTS idx_decision_policy_id ON decision_log(policy_id);
	CREATE INDEX IF NOT EXISTS idx_decision_user ON decision_log(user);
	CREATE INDEX IF NOT EXISTS idx_decision_decision ON decision_log(decision);
	CREATE INDEX IF NOT EXISTS idx_decision_action ON decision_log(action);
	`

	_, err := s.db.Exec(schema)
	return err
}

const insertColumns = `request_id, policy_id, timestamp, latency_ms,
		action, user, resource_type,
		decision, confidence, risk_score, explanation, applied_rules, cache_hit, trail`

// Insert adds a single decision record.
func (s *Store) Insert(ctx context.Context, record *Record) error {
	query := "INSERT INTO decision_log (" + insertColumns + ") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"

	_, err := s.db.ExecContext(ctx, query,
		record.RequestID, record.PolicyID, record.Timestamp, record.LatencyMs,
		record.Action, record.User, record.ResourceType,
		record.Decision, record.Confidence, record.RiskScore,
		record.Explanation, record.AppliedRules, record.CacheHit, record.Trail,
	)
	return err
}

// InsertBatch inserts multiple records in a single transaction.
func (s *Store) InsertBatch(ctx context.Context, records []*Record) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO decision_log ("+insertColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, record := range records {
		_, err := stmt.ExecContext(ctx,
			record.RequestID, record.PolicyID, record.Timestamp, record.LatencyMs,
			record.Action, record.User, record.ResourceType,
			record.Decision, record.Confidence, record.RiskScore,
			record.Explanation, record.AppliedRules, record.CacheHit, record.Trail,
		)
		if err != nil {
			return fmt.Errorf("failed to insert record: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// allowedOrderByColumns whitelists ORDER BY targets so the OrderBy field
// cannot inject SQL.
var allowedOrderByColumns = map[string]bool{
	"id":         true,
	"timestamp":  true,
	"policy_id":  true,
	"user":       true,
	"action":     true,
	"decision":   true,
	"latency_ms": true,
	"risk_score": true,
}

// Query retrieves decision records based on options.
func (s *Store) Query(ctx context.Context, opts QueryOptions) ([]*Record, error) {
	var conditions []string
	var args []interface{}

	if opts.StartTime != nil {
		conditions = append(conditions, "timestamp >= ?")
		args = append(args, *opts.StartTime)
	}
	if opts.EndTime != nil {
		conditions = append(conditions, "timestamp <= ?")
		args = append(args, *opts.EndTime)
	}
	if opts.PolicyID != "" {
		conditions = append(conditions, "policy_id = ?")
		args = append(args, opts.PolicyID)
	}
	if opts.User != "" {
		conditions = append(conditions, "user = ?")
		args = append(args, opts.User)
	}
	if opts.Action != "" {
		conditions = append(conditions, "action = ?")
		args = append(args, opts.Action)
	}
	if opts.Decision != "" {
		conditions = append(conditions, "decision = ?")
		args = append(args, opts.Decision)
	}

	query := "SELECT id, " + insertColumns + " FROM decision_log"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	orderBy := "timestamp"
	if opts.OrderBy != "" {
		if !allowedOrderByColumns[opts.OrderBy] {
			return nil, fmt.Errorf("invalid order by column: %s", opts.OrderBy)
		}
		orderBy = opts.OrderBy
	}
	order := "ASC"
	if opts.OrderDesc {
		order = "DESC"
	}
	query += fmt.Sprintf(" ORDER BY %s %s", orderBy, order)

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", opts.Limit)
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		r := &Record{}
		err := rows.Scan(
			&r.ID, &r.RequestID, &r.PolicyID, &r.Timestamp, &r.LatencyMs,
			&r.Action, &r.User, &r.ResourceType,
			&r.Decision, &r.Confidence, &r.RiskScore,
			&r.Explanation, &r.AppliedRules, &r.CacheHit, &r.Trail,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		records = append(records, r)
	}

	return records, rows.Err()
}

// GetStats returns aggregate decision statistics.
func (s *Store) GetStats(ctx context.Context, since *time.Time) (*Stats, error) {
	query := `
	SELECT
		COUNT(*) as total,
		COALESCE(SUM(CASE WHEN decision = 'allow' THEN 1 ELSE 0 END), 0) as allowed,
		COALESCE(SUM(CASE WHEN decision = 'deny' THEN 1 ELSE 0 END), 0) as denied,
		COUNT(DISTINCT policy_id) as unique_policies,
		COUNT(DISTINCT user) as unique_users,
		COALESCE(SUM(CASE WHEN cache_hit = 1 THEN 1 ELSE 0 END), 0) as cache_hits,
		AVG(latency_ms) as avg_latency,
		AVG(risk_score) as avg_risk
	FROM decision_log
	`

	var args []interface{}
	if since != nil {
		query += " WHERE timestamp >= ?"
		args = append(args, *since)
	}

	var stats Stats
	var avgLatency, avgRisk sql.NullFloat64

	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&stats.TotalDecisions,
		&stats.Allowed,
		&stats.Denied,
		&stats.UniquePolicies,
		&stats.UniqueUsers,
		&stats.CacheHits,
		&avgLatency,
		&avgRisk,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}

	if avgLatency.Valid {
		stats.AvgLatencyMs = avgLatency.Float64
	}
	if avgRisk.Valid {
		stats.AvgRiskScore = avgRisk.Float64
	}
	return &stats, nil
}

// Prune removes records older than the specified duration.
func (s *Store) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)

	result, err := s.db.ExecContext(ctx,
		"DELETE FROM decision_log WHERE timestamp < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune: %w", err)
	}
	return result.RowsAffected()
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	log.Info().Str("path", s.dbPath).Msg("Closing audit store")
	return s.db.Close()
}
