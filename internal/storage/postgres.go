package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/mselser95/venuecoord/internal/arbitrage"
	"github.com/mselser95/venuecoord/pkg/types"
	"go.uber.org/zap"
)

// PostgresStorage implements Storage using PostgreSQL.
type PostgresStorage struct {
	db     *sql.DB
	logger *zap.Logger
}

// PostgresConfig holds PostgreSQL configuration.
type PostgresConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Database string
	SSLMode  string
	Logger   *zap.Logger
}

const schema = `
	CREATE TABLE IF NOT EXISTS arbitrage_opportunities (
		id               TEXT PRIMARY KEY,
		pair             TEXT NOT NULL,
		buy_exchange     TEXT NOT NULL,
		sell_exchange    TEXT NOT NULL,
		buy_price        DOUBLE PRECISION NOT NULL,
		sell_price       DOUBLE PRECISION NOT NULL,
		profit_percent   DOUBLE PRECISION NOT NULL,
		estimated_profit DOUBLE PRECISION NOT NULL,
		detected_at      TIMESTAMPTZ NOT NULL
	);
	CREATE TABLE IF NOT EXISTS arbitrage_executions (
		id                  TEXT PRIMARY KEY,
		opportunity_id      TEXT NOT NULL,
		pair                TEXT NOT NULL,
		buy_exchange        TEXT NOT NULL,
		sell_exchange       TEXT NOT NULL,
		buy_price           DOUBLE PRECISION NOT NULL,
		sell_price          DOUBLE PRECISION NOT NULL,
		profit_percent      DOUBLE PRECISION NOT NULL,
		buy_execution_id    TEXT NOT NULL,
		sell_execution_id   TEXT NOT NULL,
		executed_at         TIMESTAMPTZ NOT NULL
	);
`

// NewPostgresStorage creates a new PostgreSQL storage and ensures its tables exist.
func NewPostgresStorage(cfg *PostgresConfig) (*PostgresStorage, error) {
	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Test connection
	err = db.Ping()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	p := &PostgresStorage{
		db:     db,
		logger: cfg.Logger,
	}

	err = p.EnsureSchema(context.Background())
	if err != nil {
		db.Close()
		return nil, err
	}

	cfg.Logger.Info("postgres-storage-connected",
		zap.String("host", cfg.Host),
		zap.String("database", cfg.Database))

	return p, nil
}

// EnsureSchema creates the opportunity and execution tables if missing.
func (p *PostgresStorage) EnsureSchema(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// StoreOpportunity stores an arbitrage opportunity in PostgreSQL.
func (p *PostgresStorage) StoreOpportunity(ctx context.Context, opp *arbitrage.Opportunity) error {
	query := `
		INSERT INTO arbitrage_opportunities (
			id, pair, buy_exchange, sell_exchange, buy_price, sell_price,
			profit_percent, estimated_profit, detected_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9
		)
		ON CONFLICT (id) DO NOTHING
	`

	_, err := p.db.ExecContext(ctx, query,
		opp.ID,
		opp.Pair,
		opp.BuyExchange,
		opp.SellExchange,
		opp.BuyPrice,
		opp.SellPrice,
		opp.ProfitPercent,
		opp.EstimatedProfit,
		opp.DetectedAt,
	)
	if err != nil {
		return fmt.Errorf("insert opportunity: %w", err)
	}

	p.logger.Debug("opportunity-stored",
		zap.String("opportunity-id", opp.ID),
		zap.String("pair", opp.Pair))

	return nil
}

// StoreExecution stores an executed arbitrage in PostgreSQL.
func (p *PostgresStorage) StoreExecution(ctx context.Context, exec *types.ArbitrageExecution) error {
	query := `
		INSERT INTO arbitrage_executions (
			id, opportunity_id, pair, buy_exchange, sell_exchange, buy_price,
			sell_price, profit_percent, buy_execution_id, sell_execution_id, executed_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
		)
	`

	_, err := p.db.ExecContext(ctx, query,
		exec.ID,
		exec.OpportunityID,
		exec.Pair,
		exec.BuyExchange,
		exec.SellExchange,
		exec.BuyPrice,
		exec.SellPrice,
		exec.ProfitPercent,
		exec.BuyLeg.ID,
		exec.SellLeg.ID,
		exec.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}

	p.logger.Debug("execution-stored",
		zap.String("execution-id", exec.ID),
		zap.String("opportunity-id", exec.OpportunityID))

	return nil
}

// Close closes the database connection.
func (p *PostgresStorage) Close() error {
	p.logger.Info("closing-postgres-storage")
	return p.db.Close()
}
