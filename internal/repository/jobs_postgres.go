package repository

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/iago/pdf-processor-back/internal/domain"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as database/sql driver
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// PostgresJobsRepository stores job records in a table with an explicit
// expires_at column. Expired rows are invisible to reads and removed by PurgeExpired.
type PostgresJobsRepository struct {
	db  *sql.DB
	now func() time.Time
}

// OpenPostgres opens a pgx-backed *sql.DB and verifies connectivity.
func OpenPostgres(ctx context.Context, databaseURL string) (*sql.DB, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, errors.New("DATABASE_URL is empty")
	}
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// RunMigrations applies the embedded SQL migrations via goose.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrationFiles)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.UpContext(ctx, db, "migrations")
}

func NewPostgresJobsRepository(db *sql.DB) *PostgresJobsRepository {
	return &PostgresJobsRepository{db: db, now: time.Now}
}

func (r *PostgresJobsRepository) CreateJob(ctx context.Context, job *domain.Job, ttl time.Duration) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO job_records (id, status, parser, payload, created_at, updated_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		job.ID,
		string(job.Status),
		string(job.Parser),
		payload,
		job.CreatedAt,
		job.UpdatedAt,
		r.now().UTC().Add(ttl),
	)
	if err != nil {
		return fmt.Errorf("%w: insert job: %v", domain.ErrStoreUnavailable, err)
	}
	return nil
}

func (r *PostgresJobsRepository) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	var payload []byte
	err := r.db.QueryRowContext(ctx, `
		SELECT payload FROM job_records
		WHERE id = $1 AND expires_at > $2
	`, jobID, r.now().UTC()).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: query job: %v", domain.ErrStoreUnavailable, err)
	}
	return decodeJob(payload)
}

// UpdateJob locks the row with SELECT ... FOR UPDATE so concurrent claims serialize.
func (r *PostgresJobsRepository) UpdateJob(ctx context.Context, jobID string, mutate Mutator) (*domain.Job, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: begin: %v", domain.ErrStoreUnavailable, err)
	}
	defer func() { _ = tx.Rollback() }()

	var payload []byte
	err = tx.QueryRowContext(ctx, `
		SELECT payload FROM job_records
		WHERE id = $1 AND expires_at > $2
		FOR UPDATE
	`, jobID, r.now().UTC()).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: lock job: %v", domain.ErrStoreUnavailable, err)
	}

	job, err := decodeJob(payload)
	if err != nil {
		return nil, err
	}
	if err := mutate(job); err != nil {
		return nil, err
	}
	encoded, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("encode job: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE job_records
		SET status = $2, payload = $3, updated_at = $4
		WHERE id = $1
	`, job.ID, string(job.Status), encoded, job.UpdatedAt); err != nil {
		return nil, fmt.Errorf("%w: update job: %v", domain.ErrStoreUnavailable, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit: %v", domain.ErrStoreUnavailable, err)
	}
	return job, nil
}

func (r *PostgresJobsRepository) DeleteJob(ctx context.Context, jobID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM job_records WHERE id = $1`, jobID); err != nil {
		return fmt.Errorf("%w: delete job: %v", domain.ErrStoreUnavailable, err)
	}
	return nil
}

// PurgeExpired deletes rows whose TTL has elapsed and returns how many were removed.
func (r *PostgresJobsRepository) PurgeExpired(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM job_records WHERE expires_at <= $1`, r.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("%w: purge expired: %v", domain.ErrStoreUnavailable, err)
	}
	return result.RowsAffected()
}

func (r *PostgresJobsRepository) Ping(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return nil
}

func (r *PostgresJobsRepository) Close() error {
	return r.db.Close()
}
