package credential

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"hireloop/internal/auth/models"
	"hireloop/internal/platform/database"
	"hireloop/internal/sentinel"
)

// PostgresStore persists credentials in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed credential store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const credentialColumns = `id, email, secret_hash, hash_version, status, created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, c *models.Credential) error {
	if c == nil {
		return fmt.Errorf("credential is required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credentials (`+credentialColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		c.ID, c.Email, c.SecretHash, c.HashVersion, string(c.Status), c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("credential for email: %w", sentinel.ErrAlreadyExists)
		}
		return wrapErr("create credential", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, email string) (*models.Credential, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+credentialColumns+` FROM credentials WHERE email = $1`, email)
	c, err := scanCredential(row)
	if err != nil {
		return nil, wrapErr("find credential by email", err)
	}
	return c, nil
}

func (s *PostgresStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Credential, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+credentialColumns+` FROM credentials WHERE id = $1`, id)
	c, err := scanCredential(row)
	if err != nil {
		return nil, wrapErr("find credential by id", err)
	}
	return c, nil
}

func (s *PostgresStore) UpdateSecret(ctx context.Context, id uuid.UUID, hash string, version int16, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE credentials SET secret_hash = $2, hash_version = $3, updated_at = $4
		WHERE id = $1`,
		id, hash, version, at,
	)
	return affectedOne("update credential secret", res, err)
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, id uuid.UUID, status models.AccountStatus, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE credentials SET status = $2, updated_at = $3
		WHERE id = $1`,
		id, string(status), at,
	)
	return affectedOne("update credential status", res, err)
}

// Ping checks database reachability for readiness probes.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return wrapErr("ping credential store", err)
	}
	return nil
}

func scanCredential(row *sql.Row) (*models.Credential, error) {
	var (
		c      models.Credential
		status string
	)
	if err := row.Scan(&c.ID, &c.Email, &c.SecretHash, &c.HashVersion, &status, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.Status = models.AccountStatus(status)
	return &c, nil
}

func affectedOne(op string, res sql.Result, err error) error {
	if err != nil {
		return wrapErr(op, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return wrapErr(op, err)
	}
	if rows == 0 {
		return fmt.Errorf("credential not found: %w", sentinel.ErrNotFound)
	}
	return nil
}

// wrapErr maps driver failures onto the store's sentinel contract.
func wrapErr(op string, err error) error {
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("credential not found: %w", sentinel.ErrNotFound)
	case database.IsUnavailable(err):
		return fmt.Errorf("%s: %w: %w", op, sentinel.ErrUnavailable, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
