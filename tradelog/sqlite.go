package tradelog

import (
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// tradeRow is the gorm model backing SQLiteSink. Prices are stored as
// strings so the decimal values round-trip exactly.
type tradeRow struct {
	ID           uint      `gorm:"primaryKey"`
	Timestamp    time.Time `gorm:"index"`
	Date         string    `gorm:"index:idx_pair_date"`
	Pair         string    `gorm:"index:idx_pair_date"`
	Exchange     string
	Side         string
	SignalPrice  string
	FilledPrice  string
	Quantity     string
	OrderID      string
	PositionType string
	SpreadPct    string
	PnLPct       string
	SlippagePct  string
	Notes        string

	SignalDelayMs   int64
	PlaceDurationMs int64
	ExecDurationMs  int64
	Attempts        int
}

func (tradeRow) TableName() string { return "trades" }

// SQLiteSink appends trade records to a local sqlite file. The default sink
// for single-host runs; rows are append-only, never updated.
type SQLiteSink struct {
	db  *gorm.DB
	log zerolog.Logger
}

// NewSQLiteSink opens (creating if needed) the sqlite database at path and
// migrates the trades table.
func NewSQLiteSink(path string, logger zerolog.Logger) (*SQLiteSink, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&tradeRow{}); err != nil {
		return nil, err
	}
	return &SQLiteSink{
		db:  db,
		log: logger.With().Str("component", "tradelog").Logger(),
	}, nil
}

func (s *SQLiteSink) LogTrade(r Record) {
	res := s.db.Create(&tradeRow{
		Timestamp:       r.Timestamp,
		Date:            r.Timestamp.Format("2006-01-02"),
		Pair:            r.Pair,
		Exchange:        r.Exchange,
		Side:            r.Side,
		SignalPrice:     r.SignalPrice.String(),
		FilledPrice:     r.FilledPrice.String(),
		Quantity:        r.Quantity.String(),
		OrderID:         r.OrderID,
		PositionType:    r.PositionType,
		SpreadPct:       r.SpreadPct.String(),
		PnLPct:          r.PnLPct.String(),
		SlippagePct:     r.SlippagePct().String(),
		Notes:           r.Notes,
		SignalDelayMs:   r.SignalDelayMs,
		PlaceDurationMs: r.PlaceDurationMs,
		ExecDurationMs:  r.ExecDurationMs,
		Attempts:        r.Attempts,
	})
	if res.Error != nil {
		s.log.Error().Err(res.Error).
			Str("pair", r.Pair).
			Str("order_id", r.OrderID).
			Msg("trade log write failed")
	}
}

func (s *SQLiteSink) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
