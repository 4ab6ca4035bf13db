package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"claimtrail.org/internal/auth"
	"claimtrail.org/internal/ids"
)

const pgErrUniqueViolation = "23505"

// Store implements the security core's persistence interfaces over
// PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ auth.Store = (*Store)(nil)

// Open connects to PostgreSQL using the pgx stdlib driver.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// New wraps an existing connection, for tests.
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Principals(context.Context) auth.PrincipalStore { return &principalStore{db: s.db} }
func (s *Store) Sessions(context.Context) auth.SessionStore     { return &sessionStore{db: s.db} }
func (s *Store) APIKeys(context.Context) auth.APIKeyStore       { return &apiKeyStore{db: s.db} }

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

// Principal store ----------------------------------------------------------

type principalStore struct{ db *sql.DB }

func (s *principalStore) Create(ctx context.Context, p *auth.Principal) error {
	if p.ID == "" {
		p.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx, `
		insert into principals(id, username, password_hash, role, active, mfa_enabled, mfa_secret, failed_logins, locked_until)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, p.ID, p.Username, p.PasswordHash, p.Role, p.Active, p.MFAEnabled, p.MFASecret, p.FailedLogins, p.LockedUntil)
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
		return auth.ErrInvalidInput
	}
	return err
}

const principalColumns = `id, username, password_hash, role, active, mfa_enabled, coalesce(mfa_secret,''), failed_logins, locked_until, created_at, updated_at`

func scanPrincipal(row *sql.Row) (*auth.Principal, error) {
	var (
		p           auth.Principal
		lockedUntil sql.NullTime
	)
	err := row.Scan(&p.ID, &p.Username, &p.PasswordHash, &p.Role, &p.Active,
		&p.MFAEnabled, &p.MFASecret, &p.FailedLogins, &lockedUntil, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if lockedUntil.Valid {
		t := lockedUntil.Time
		p.LockedUntil = &t
	}
	return &p, nil
}

func (s *principalStore) Find(ctx context.Context, id string) (*auth.Principal, error) {
	return scanPrincipal(s.db.QueryRowContext(ctx,
		`select `+principalColumns+` from principals where id=$1`, id))
}

func (s *principalStore) FindByUsername(ctx context.Context, username string) (*auth.Principal, error) {
	return scanPrincipal(s.db.QueryRowContext(ctx,
		`select `+principalColumns+` from principals where username=$1`, username))
}

func (s *principalStore) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	return s.exec(ctx, `update principals set password_hash=$2, updated_at=now() where id=$1`, id, passwordHash)
}

func (s *principalStore) UpdateLoginState(ctx context.Context, id string, failedLogins int, lockedUntil *time.Time) error {
	return s.exec(ctx, `update principals set failed_logins=$2, locked_until=$3, updated_at=now() where id=$1`,
		id, failedLogins, lockedUntil)
}

func (s *principalStore) SetMFASecret(ctx context.Context, id, secret string) error {
	return s.exec(ctx, `update principals set mfa_secret=$2, updated_at=now() where id=$1`, id, secret)
}

func (s *principalStore) SetMFAEnabled(ctx context.Context, id string, enabled bool) error {
	return s.exec(ctx, `update principals set mfa_enabled=$2, updated_at=now() where id=$1`, id, enabled)
}

func (s *principalStore) SetActive(ctx context.Context, id string, active bool) error {
	return s.exec(ctx, `update principals set active=$2, updated_at=now() where id=$1`, id, active)
}

func (s *principalStore) ReplaceRecoveryCodes(ctx context.Context, principalID string, codeHashes []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `delete from recovery_codes where principal_id=$1`, principalID); err != nil {
		return err
	}
	for _, hash := range codeHashes {
		if _, err := tx.ExecContext(ctx,
			`insert into recovery_codes(principal_id, code_hash, used) values ($1,$2,false)`,
			principalID, hash); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *principalStore) RecoveryCodes(ctx context.Context, principalID string) ([]auth.RecoveryCode, error) {
	rows, err := s.db.QueryContext(ctx,
		`select principal_id, code_hash, used from recovery_codes where principal_id=$1`, principalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var codes []auth.RecoveryCode
	for rows.Next() {
		var rc auth.RecoveryCode
		if err := rows.Scan(&rc.PrincipalID, &rc.CodeHash, &rc.Used); err != nil {
			return nil, err
		}
		codes = append(codes, rc)
	}
	return codes, rows.Err()
}

func (s *principalStore) ConsumeRecoveryCode(ctx context.Context, principalID, codeHash string) error {
	res, err := s.db.ExecContext(ctx,
		`update recovery_codes set used=true where principal_id=$1 and code_hash=$2 and used=false`,
		principalID, codeHash)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func (s *principalStore) exec(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return auth.ErrNotFound
	}
	return nil
}
