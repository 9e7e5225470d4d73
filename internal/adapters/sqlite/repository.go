// Package sqlite persists the append-only trade ledger.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/berkekorucu/tradebot/internal/domain"
	"github.com/berkekorucu/tradebot/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Repository implements ports.TradeRepository using SQLite.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository opens (or creates) the ledger database and verifies the schema.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/tradebot.db"
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// WAL mode for better concurrency
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// SQLite handles concurrency internally; the Go driver benefits from a
	// single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	repo := &Repository{db: db, logger: cfg.Logger}
	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "Trade ledger database ready", map[string]interface{}{"path": dbPath})

	return repo, nil
}

func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS trade_ledger (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		kind TEXT NOT NULL,
		price REAL NOT NULL,
		quantity REAL NOT NULL,
		leverage INTEGER NOT NULL,
		pnl REAL NOT NULL DEFAULT 0,
		event_time TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_trade_ledger_symbol_time ON trade_ledger (symbol, event_time);
	CREATE INDEX IF NOT EXISTS idx_trade_ledger_time ON trade_ledger (event_time);
	`
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing trade ledger database")
		return r.db.Close()
	}
	return nil
}

// CreateTrade saves a new ledger entry and returns its assigned ID.
func (r *Repository) CreateTrade(ctx context.Context, rec *domain.TradeRecord) (int64, error) {
	const query = `
	INSERT INTO trade_ledger (symbol, side, kind, price, quantity, leverage, pnl, event_time)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := r.db.ExecContext(ctx, query,
		rec.Symbol, string(rec.Side), string(rec.Kind), rec.Price, rec.Quantity, rec.Leverage, rec.PNL, rec.Time.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to insert ledger entry for symbol %s: %w", rec.Symbol, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for ledger entry %s: %w", rec.Symbol, err)
	}
	rec.ID = id
	r.logger.Debug(ctx, "Ledger entry created", map[string]interface{}{"tradeID": id, "symbol": rec.Symbol, "kind": rec.Kind})
	return id, nil
}

const selectColumns = `id, symbol, side, kind, price, quantity, leverage, pnl, event_time`

// FindRecent retrieves the most recent entries across all symbols.
func (r *Repository) FindRecent(ctx context.Context, limit int) ([]*domain.TradeRecord, error) {
	query := `SELECT ` + selectColumns + ` FROM trade_ledger ORDER BY event_time DESC, id DESC LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent ledger entries: %w", err)
	}
	defer rows.Close()
	return collectRecords(rows)
}

// FindBySymbol retrieves the most recent entries for one symbol.
func (r *Repository) FindBySymbol(ctx context.Context, symbol string, limit int) ([]*domain.TradeRecord, error) {
	query := `SELECT ` + selectColumns + ` FROM trade_ledger WHERE symbol = ? ORDER BY event_time DESC, id DESC LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger entries for symbol %s: %w", symbol, err)
	}
	defer rows.Close()
	return collectRecords(rows)
}

// CountCloseEventsOn counts close-type events on the given UTC calendar day.
func (r *Repository) CountCloseEventsOn(ctx context.Context, day time.Time) (int, error) {
	start, end := dayBounds(day)
	const query = `
	SELECT COUNT(*) FROM trade_ledger
	WHERE kind IN ('CLOSE', 'PARTIAL_CLOSE', 'MANUAL_CLOSE') AND event_time >= ? AND event_time < ?`
	var count int
	if err := r.db.QueryRowContext(ctx, query, start, end).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count close events for %s: %w", start.Format("2006-01-02"), err)
	}
	return count, nil
}

// DailyStats aggregates close-type events for the given UTC calendar day.
func (r *Repository) DailyStats(ctx context.Context, day time.Time) (*domain.DailyStats, error) {
	start, end := dayBounds(day)
	const query = `
	SELECT COALESCE(SUM(pnl), 0), COUNT(*),
	       COALESCE(SUM(CASE WHEN pnl > 0 THEN 1 ELSE 0 END), 0),
	       COALESCE(SUM(CASE WHEN pnl < 0 THEN 1 ELSE 0 END), 0)
	FROM trade_ledger
	WHERE kind IN ('CLOSE', 'PARTIAL_CLOSE', 'MANUAL_CLOSE') AND event_time >= ? AND event_time < ?`

	stats := &domain.DailyStats{Day: start}
	err := r.db.QueryRowContext(ctx, query, start, end).Scan(
		&stats.TotalPNL, &stats.TradeCount, &stats.WinCount, &stats.LossCount)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate daily stats for %s: %w", start.Format("2006-01-02"), err)
	}
	return stats, nil
}

func dayBounds(day time.Time) (time.Time, time.Time) {
	d := day.UTC()
	start := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
	return start, start.Add(24 * time.Hour)
}

// scanner is compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(s scanner) (*domain.TradeRecord, error) {
	rec := &domain.TradeRecord{}
	var side, kind string
	err := s.Scan(&rec.ID, &rec.Symbol, &side, &kind, &rec.Price, &rec.Quantity, &rec.Leverage, &rec.PNL, &rec.Time)
	if err != nil {
		return nil, err
	}
	rec.Side = domain.OrderSide(side)
	rec.Kind = domain.TradeEventKind(kind)
	return rec, nil
}

func collectRecords(rows *sql.Rows) ([]*domain.TradeRecord, error) {
	records := make([]*domain.TradeRecord, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ledger rows: %w", err)
	}
	return records, nil
}
