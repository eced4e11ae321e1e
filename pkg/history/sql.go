package history

import (
	"context"
	"fmt"
	"time"

	"github.com/ethpandaops/balancoor/pkg/config"
	"github.com/ethpandaops/balancoor/pkg/model"
	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// ExecutionRecord is one persisted Record. Seq keeps the chronological
// order of records within a test.
type ExecutionRecord struct {
	ID              uint   `gorm:"primaryKey"`
	TestID          string `gorm:"not null;uniqueIndex:idx_er_test_seq"`
	Seq             int    `gorm:"not null;uniqueIndex:idx_er_test_seq"`
	TimestampNs     int64
	DurationSeconds float64
	Outcome         string
	Server          string `gorm:"index"`
}

type sqlBackend struct {
	log logrus.FieldLogger
	cfg *config.HistoryConfig
	db  *gorm.DB
}

// Ensure interface compliance.
var _ Backend = (*sqlBackend)(nil)

// NewSQLBackend stores history in SQLite or PostgreSQL depending on
// cfg.Backend.
func NewSQLBackend(log logrus.FieldLogger, cfg *config.HistoryConfig) Backend {
	return &sqlBackend{
		log: log.WithField("component", "history-sql"),
		cfg: cfg,
	}
}

func (b *sqlBackend) Name() string {
	if b.cfg.Backend == config.HistoryBackendPostgres {
		return fmt.Sprintf("postgres:%s/%s", b.cfg.Postgres.Host, b.cfg.Postgres.Database)
	}

	return "sqlite:" + b.cfg.SQLite.Path
}

// Start opens the database connection and runs migrations.
func (b *sqlBackend) Start(ctx context.Context) error {
	var dialector gorm.Dialector

	switch b.cfg.Backend {
	case config.HistoryBackendSQLite:
		dialector = sqlite.Open(b.cfg.SQLite.Path)
	case config.HistoryBackendPostgres:
		dsn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			b.cfg.Postgres.Host,
			b.cfg.Postgres.Port,
			b.cfg.Postgres.User,
			b.cfg.Postgres.Password,
			b.cfg.Postgres.Database,
			b.cfg.Postgres.SSLMode,
		)
		dialector = postgres.Open(dsn)
	default:
		return fmt.Errorf("unsupported database driver: %s", b.cfg.Backend)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Discard})
	if err != nil {
		return fmt.Errorf("opening history database: %w", err)
	}

	b.db = db

	if err := b.db.WithContext(ctx).AutoMigrate(&ExecutionRecord{}); err != nil {
		return fmt.Errorf("running history migrations: %w", err)
	}

	b.log.WithField("driver", b.cfg.Backend).Info("History database connected")

	return nil
}

// Stop closes the underlying database connection.
func (b *sqlBackend) Stop() error {
	if b.db == nil {
		return nil
	}

	sqlDB, err := b.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	return sqlDB.Close()
}

// Load reads every record ordered by test and sequence.
func (b *sqlBackend) Load(ctx context.Context) (Document, error) {
	var rows []ExecutionRecord
	if err := b.db.WithContext(ctx).
		Order("test_id ASC, seq ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing execution records: %w", err)
	}

	doc := make(Document)

	for i := range rows {
		row := &rows[i]
		doc[row.TestID] = append(doc[row.TestID], Record{
			Timestamp: time.Unix(0, row.TimestampNs).UTC(),
			Duration:  row.DurationSeconds,
			Outcome:   model.Outcome(row.Outcome),
			Server:    row.Server,
		})
	}

	return doc, nil
}

// Persist inserts the records not stored yet in a single transaction.
// Rows are keyed by test and sequence number, existing rows are never
// updated or deleted.
func (b *sqlBackend) Persist(ctx context.Context, doc Document) error {
	rows := make([]*ExecutionRecord, 0, len(doc))

	for testID, records := range doc {
		for seq := range records {
			rec := &records[seq]
			rows = append(rows, &ExecutionRecord{
				TestID:          testID,
				Seq:             seq,
				TimestampNs:     rec.Timestamp.UnixNano(),
				DurationSeconds: rec.Duration,
				Outcome:         string(rec.Outcome),
				Server:          rec.Server,
			})
		}
	}

	const batchSize = 100

	return b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := 0; i < len(rows); i += batchSize {
			end := min(i+batchSize, len(rows))
			batch := rows[i:end]

			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).
				CreateInBatches(batch, len(batch)).Error; err != nil {
				return fmt.Errorf("inserting execution records: %w", err)
			}
		}

		return nil
	})
}
