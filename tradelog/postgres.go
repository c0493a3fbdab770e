package tradelog

import (
	"database/sql"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
)

const pgSchema = `
CREATE TABLE IF NOT EXISTS trades (
	id SERIAL PRIMARY KEY,
	ts TIMESTAMPTZ NOT NULL,
	trade_date DATE NOT NULL,
	pair TEXT NOT NULL,
	exchange TEXT NOT NULL,
	side TEXT NOT NULL,
	signal_price NUMERIC(24,12) NOT NULL,
	filled_price NUMERIC(24,12) NOT NULL,
	quantity NUMERIC(24,12) NOT NULL,
	order_id TEXT,
	position_type TEXT NOT NULL,
	spread_pct NUMERIC(12,6),
	pnl_pct NUMERIC(12,6),
	slippage_pct NUMERIC(12,6),
	notes TEXT,
	signal_delay_ms BIGINT DEFAULT 0,
	place_duration_ms BIGINT DEFAULT 0,
	exec_duration_ms BIGINT DEFAULT 0,
	attempts INT DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_trades_pair_date ON trades (pair, trade_date);`

const pgInsert = `INSERT INTO trades
	(ts, trade_date, pair, exchange, side, signal_price, filled_price, quantity,
	 order_id, position_type, spread_pct, pnl_pct, slippage_pct, notes,
	 signal_delay_ms, place_duration_ms, exec_duration_ms, attempts)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`

// PostgresSink appends trade records to a shared Postgres database, for
// fleet deployments where several pairs report into one place.
type PostgresSink struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewPostgresSink connects to connStr and ensures the trades table exists.
func NewPostgresSink(connStr string, logger zerolog.Logger) (*PostgresSink, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(pgSchema); err != nil {
		db.Close()
		return nil, err
	}
	return &PostgresSink{
		db:  db,
		log: logger.With().Str("component", "tradelog").Logger(),
	}, nil
}

// newPostgresSinkFromDB wires an existing *sql.DB, used by tests with
// sqlmock.
func newPostgresSinkFromDB(db *sql.DB) *PostgresSink {
	return &PostgresSink{db: db, log: zerolog.Nop()}
}

func (s *PostgresSink) LogTrade(r Record) {
	_, err := s.db.Exec(pgInsert,
		r.Timestamp,
		r.Timestamp.Format("2006-01-02"),
		r.Pair,
		r.Exchange,
		r.Side,
		r.SignalPrice.String(),
		r.FilledPrice.String(),
		r.Quantity.String(),
		r.OrderID,
		r.PositionType,
		r.SpreadPct.String(),
		r.PnLPct.String(),
		r.SlippagePct().String(),
		r.Notes,
		r.SignalDelayMs,
		r.PlaceDurationMs,
		r.ExecDurationMs,
		r.Attempts,
	)
	if err != nil {
		s.log.Error().Err(err).
			Str("pair", r.Pair).
			Str("order_id", r.OrderID).
			Msg("trade log write failed")
	}
}

func (s *PostgresSink) Close() error { return s.db.Close() }
