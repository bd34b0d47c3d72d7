package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/nelssec/assetsync/internal/models"
)

type Store struct {
	db *sqlx.DB
}

type Config struct {
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
}

func New(cfg Config) (*Store, error) {
	db, err := sqlx.Connect("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(time.Hour)

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) DB() *sqlx.DB {
	return s.db
}

func (s *Store) CreateIntegration(ctx context.Context, integration *models.Integration) error {
	query := `
		INSERT INTO integrations (
			id, provider, account_id, display_name, credentials_ref,
			regions, services, sync_cadence, status, status_message, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	integration.ID = uuid.New()
	integration.CreatedAt = time.Now()
	integration.UpdatedAt = time.Now()
	if integration.Status == "" {
		integration.Status = models.IntegrationPending
	}
	if integration.SyncCadence == "" {
		integration.SyncCadence = models.CadenceDaily
	}

	_, err := s.db.ExecContext(ctx, query,
		integration.ID,
		integration.Provider,
		integration.AccountID,
		integration.DisplayName,
		integration.CredentialsRef,
		integration.Regions,
		integration.Services,
		integration.SyncCadence,
		integration.Status,
		integration.StatusMessage,
		integration.CreatedAt,
		integration.UpdatedAt,
	)
	return err
}

func (s *Store) GetIntegration(ctx context.Context, id uuid.UUID) (*models.Integration, error) {
	var integration models.Integration
	query := `SELECT * FROM integrations WHERE id = $1`
	err := s.db.GetContext(ctx, &integration, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &integration, err
}

func (s *Store) GetIntegrationByAccount(ctx context.Context, provider models.Provider, accountID string) (*models.Integration, error) {
	var integration models.Integration
	query := `SELECT * FROM integrations WHERE provider = $1 AND account_id = $2`
	err := s.db.GetContext(ctx, &integration, query, provider, accountID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &integration, err
}

func (s *Store) ListIntegrations(ctx context.Context, status *models.IntegrationStatus) ([]models.Integration, error) {
	query := `SELECT * FROM integrations WHERE 1=1`
	args := make([]interface{}, 0)

	if status != nil {
		query += " AND status = $1"
		args = append(args, *status)
	}

	query += " ORDER BY created_at DESC"

	var integrations []models.Integration
	err := s.db.SelectContext(ctx, &integrations, query, args...)
	return integrations, err
}

func (s *Store) UpdateIntegrationStatus(ctx context.Context, id uuid.UUID, status models.IntegrationStatus, message string) error {
	query := `UPDATE integrations SET status = $1, status_message = $2, updated_at = $3 WHERE id = $4`
	_, err := s.db.ExecContext(ctx, query, status, message, time.Now(), id)
	return err
}

func (s *Store) UpdateIntegrationCadence(ctx context.Context, id uuid.UUID, cadence models.SyncCadence) error {
	query := `UPDATE integrations SET sync_cadence = $1, updated_at = $2 WHERE id = $3`
	_, err := s.db.ExecContext(ctx, query, cadence, time.Now(), id)
	return err
}

// UpdateIntegrationLastSync writes the last-sync summary at the end of a run.
func (s *Store) UpdateIntegrationLastSync(ctx context.Context, id uuid.UUID, status string, counts models.JSONB) error {
	query := `
		UPDATE integrations
		SET last_sync_at = $1, last_sync_status = $2, last_sync_counts = $3, updated_at = $1
		WHERE id = $4
	`
	_, err := s.db.ExecContext(ctx, query, time.Now(), status, counts, id)
	return err
}

func (s *Store) DeleteIntegration(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM integrations WHERE id = $1`
	_, err := s.db.ExecContext(ctx, query, id)
	return err
}
