package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"claimtrail.org/internal/auth"
)

type apiKeyStore struct{ db *sql.DB }

func (s *apiKeyStore) Create(ctx context.Context, k *auth.APIKey) error {
	perms, err := json.Marshal(k.Permissions)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into api_keys(id, key_id, secret_hash, principal_id, name, permissions, active, expires_at, created_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, k.ID, k.KeyID, k.SecretHash, k.PrincipalID, k.Name, perms, k.Active, k.ExpiresAt, k.CreatedAt)
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
		return auth.ErrInvalidInput
	}
	return err
}

func (s *apiKeyStore) FindByKeyID(ctx context.Context, keyID string) (*auth.APIKey, error) {
	var (
		k          auth.APIKey
		perms      []byte
		expiresAt  sql.NullTime
		lastUsedAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		select id, key_id, secret_hash, principal_id, name, permissions, active, expires_at, last_used_at, created_at
		from api_keys where key_id=$1
	`, keyID).Scan(&k.ID, &k.KeyID, &k.SecretHash, &k.PrincipalID, &k.Name,
		&perms, &k.Active, &expiresAt, &lastUsedAt, &k.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(perms) > 0 {
		if err := json.Unmarshal(perms, &k.Permissions); err != nil {
			return nil, err
		}
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		k.ExpiresAt = &t
	}
	if lastUsedAt.Valid {
		t := lastUsedAt.Time
		k.LastUsedAt = &t
	}
	return &k, nil
}

func (s *apiKeyStore) SetActive(ctx context.Context, id string, active bool) error {
	res, err := s.db.ExecContext(ctx, `update api_keys set active=$2 where id=$1`, id, active)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func (s *apiKeyStore) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `update api_keys set last_used_at=$2 where id=$1`, id, at)
	return err
}
