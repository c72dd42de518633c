// Package history keeps a local log of Send outcomes in SQLite.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"cowechat/internal/domain"

	_ "modernc.org/sqlite"
)

// SQLiteStore records deliveries in a single table.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("cannot create history directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("cannot open history database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db, logger: logger}
	if err := runMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("history migration failed: %w", err)
	}
	return store, nil
}

// Record implements notify.Recorder.
func (s *SQLiteStore) Record(ctx context.Context, d domain.Delivery) error {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO deliveries (id, kind, to_user, to_party, to_tag, attempts, status, detail, msg_id, latency_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, string(d.Kind), d.ToUser, d.ToParty, d.ToTag, d.Attempts, string(d.Status), d.Detail,
		d.MsgID, d.Latency.Milliseconds(), d.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("record delivery %s: %w", d.ID, err)
	}
	return nil
}

// Filter narrows List. Zero values match everything.
type Filter struct {
	Status domain.DeliveryStatus
	Since  time.Time
	Limit  int
}

// List returns deliveries newest first.
func (s *SQLiteStore) List(ctx context.Context, f Filter) ([]domain.Delivery, error) {
	if f.Limit <= 0 {
		f.Limit = 20
	}
	query := `SELECT id, kind, to_user, to_party, to_tag, attempts, status, detail, msg_id, latency_ms, created_at
		 FROM deliveries WHERE created_at >= ?`
	args := []any{f.Since.UTC()}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, f.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Delivery
	for rows.Next() {
		var d domain.Delivery
		var kind, status string
		var toUser, toParty, toTag, detail, msgID sql.NullString
		var latencyMS sql.NullInt64
		if err := rows.Scan(&d.ID, &kind, &toUser, &toParty, &toTag,
			&d.Attempts, &status, &detail, &msgID, &latencyMS, &d.CreatedAt); err != nil {
			return nil, err
		}
		d.Kind = domain.MessageKind(kind)
		d.Status = domain.DeliveryStatus(status)
		d.ToUser = toUser.String
		d.ToParty = toParty.String
		d.ToTag = toTag.String
		d.Detail = detail.String
		d.MsgID = msgID.String
		d.Latency = time.Duration(latencyMS.Int64) * time.Millisecond
		out = append(out, d)
	}
	return out, rows.Err()
}

// Prune deletes deliveries older than the cutoff and reports how many.
func (s *SQLiteStore) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM deliveries WHERE created_at < ?`, olderThan.UTC())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune deliveries: %w", err)
	}
	if n > 0 {
		s.logger.Info("pruned delivery history", "rows", n)
	}
	return n, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
