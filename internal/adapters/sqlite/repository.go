package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"kdjBot/internal/domain"
	"kdjBot/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Repository implements ports.StateRepository and ports.TradeRepository using SQLite.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

var (
	_ ports.StateRepository = (*Repository)(nil)
	_ ports.TradeRepository = (*Repository)(nil)
)

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/kdjbot.db"
	}

	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
			cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
			return nil, err
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		err = fmt.Errorf("%w: open '%s': %v", ports.ErrDBConnection, dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("%w: ping '%s': %v", ports.ErrDBConnection, dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// One connection: also keeps a :memory: database alive across queries.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	repo := &Repository{db: db, logger: cfg.Logger}
	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "SQLite database ready", map[string]interface{}{"path": dbPath})
	return repo, nil
}

func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS instrument_states (
		symbol TEXT PRIMARY KEY,
		buy_threshold REAL NOT NULL,
		sell_threshold REAL NOT NULL,
		previous_momentum REAL NULL,
		high_water_mark REAL NULL,
		entry_price REAL NULL,
		entry_time TIMESTAMP NULL,
		quantity REAL NOT NULL DEFAULT 0,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS trades (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL,
		entry_price REAL NOT NULL,
		exit_price REAL NOT NULL,
		quantity REAL NOT NULL,
		pnl REAL NOT NULL,
		entry_time TIMESTAMP NOT NULL,
		exit_time TIMESTAMP NOT NULL,
		close_reason TEXT NULL,
		order_id TEXT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_trades_symbol_exit_time ON trades (symbol, exit_time);
	`
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite database connection")
		return r.db.Close()
	}
	return nil
}

// --- StateRepository Implementation ---

// SaveState upserts the instrument state.
func (r *Repository) SaveState(ctx context.Context, st *domain.InstrumentState) error {
	if st == nil || st.Symbol == "" {
		return fmt.Errorf("%w: state without symbol", ports.ErrInvalidRequest)
	}
	const query = `
	INSERT INTO instrument_states (symbol, buy_threshold, sell_threshold, previous_momentum,
	                               high_water_mark, entry_price, entry_time, quantity, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(symbol) DO UPDATE SET
		buy_threshold = excluded.buy_threshold,
		sell_threshold = excluded.sell_threshold,
		previous_momentum = excluded.previous_momentum,
		high_water_mark = excluded.high_water_mark,
		entry_price = excluded.entry_price,
		entry_time = excluded.entry_time,
		quantity = excluded.quantity,
		updated_at = excluded.updated_at`

	var entryTime sql.NullTime
	if !st.EntryTime.IsZero() {
		entryTime = sql.NullTime{Time: st.EntryTime.UTC(), Valid: true}
	}
	_, err := r.db.ExecContext(ctx, query,
		st.Symbol, st.BuyThreshold, st.SellThreshold,
		nullFloat(st.PreviousMomentum), nullFloat(st.HighWaterMark), nullFloat(st.EntryPrice),
		entryTime, st.Quantity, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("%w: save state for %s: %v", ports.ErrUpdateFailed, st.Symbol, err)
	}
	return nil
}

// LoadState returns the stored state for symbol, or ports.ErrNotFound.
func (r *Repository) LoadState(ctx context.Context, symbol string) (*domain.InstrumentState, error) {
	const query = `
	SELECT symbol, buy_threshold, sell_threshold, previous_momentum, high_water_mark,
	       entry_price, entry_time, quantity
	FROM instrument_states WHERE symbol = ?`

	st, err := scanState(r.db.QueryRowContext(ctx, query, symbol))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("state for %s: %w", symbol, ports.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load state for %s: %v", ports.ErrQueryFailed, symbol, err)
	}
	return st, nil
}

// --- TradeRepository Implementation ---

// CreateTrade saves a new trade record and returns its assigned ID.
func (r *Repository) CreateTrade(ctx context.Context, trade *domain.Trade) (int64, error) {
	const query = `
	INSERT INTO trades (symbol, entry_price, exit_price, quantity, pnl,
	                    entry_time, exit_time, close_reason, order_id)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	var orderID sql.NullString
	if trade.OrderID != "" {
		orderID = sql.NullString{String: trade.OrderID, Valid: true}
	}
	result, err := r.db.ExecContext(ctx, query,
		trade.Symbol, trade.EntryPrice, trade.ExitPrice, trade.Quantity, trade.PNL,
		trade.EntryTime.UTC(), trade.ExitTime.UTC(), string(trade.CloseReason), orderID)
	if err != nil {
		return 0, fmt.Errorf("failed to insert trade for symbol %s: %w", trade.Symbol, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for trade %s: %w", trade.Symbol, err)
	}
	trade.ID = id
	r.logger.Debug(ctx, "Trade journaled", map[string]interface{}{"tradeID": id, "symbol": trade.Symbol, "pnl": trade.PNL})
	return id, nil
}

// FindBySymbol retrieves the most recent trades for a given symbol, up to a limit.
// A limit <= 0 returns every trade.
func (r *Repository) FindBySymbol(ctx context.Context, symbol string, limit int) ([]*domain.Trade, error) {
	if limit <= 0 {
		limit = -1
	}
	const query = `
	SELECT id, symbol, entry_price, exit_price, quantity, pnl,
	       entry_time, exit_time, close_reason, order_id
	FROM trades
	WHERE symbol = ? ORDER BY exit_time DESC, id DESC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades for symbol %s: %w", symbol, err)
	}
	defer rows.Close()

	trades := make([]*domain.Trade, 0)
	for rows.Next() {
		trade, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade during FindBySymbol: %w", err)
		}
		trades = append(trades, trade)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trade rows: %w", err)
	}
	return trades, nil
}

// GetTotalProfit sums PNL over every journaled trade.
func (r *Repository) GetTotalProfit(ctx context.Context) (float64, error) {
	const query = `SELECT COALESCE(SUM(pnl), 0) FROM trades`
	var total float64
	if err := r.db.QueryRowContext(ctx, query).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to calculate total profit: %w", err)
	}
	return total, nil
}

// --- Helper Scan Functions ---

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func scanState(s scanner) (*domain.InstrumentState, error) {
	st := &domain.InstrumentState{}
	var prev, hwm, entry sql.NullFloat64
	var entryTime sql.NullTime
	err := s.Scan(&st.Symbol, &st.BuyThreshold, &st.SellThreshold, &prev, &hwm, &entry, &entryTime, &st.Quantity)
	if err != nil {
		return nil, err
	}
	st.PreviousMomentum = floatPtr(prev)
	st.HighWaterMark = floatPtr(hwm)
	st.EntryPrice = floatPtr(entry)
	if entryTime.Valid {
		st.EntryTime = entryTime.Time
	}
	return st, nil
}

func scanTrade(s scanner) (*domain.Trade, error) {
	th := &domain.Trade{}
	var closeReason, orderID sql.NullString
	err := s.Scan(
		&th.ID, &th.Symbol, &th.EntryPrice, &th.ExitPrice, &th.Quantity, &th.PNL,
		&th.EntryTime, &th.ExitTime, &closeReason, &orderID)
	if err != nil {
		return nil, err
	}
	if closeReason.Valid && closeReason.String != "" {
		th.CloseReason = domain.CloseReason(closeReason.String)
	} else {
		th.CloseReason = domain.CloseReasonUnknown
	}
	th.OrderID = orderID.String
	return th, nil
}
