package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"claimtrail.org/internal/auth"
)

type sessionStore struct{ db *sql.DB }

func (s *sessionStore) Create(ctx context.Context, sess *auth.Session) error {
	_, err := s.db.ExecContext(ctx, `
		insert into sessions(id, principal_id, ip, user_agent, created_at, expires_at, revoked)
		values ($1,$2,$3,$4,$5,$6,false)
	`, sess.ID, sess.PrincipalID, sess.IP, sess.UserAgent, sess.CreatedAt, sess.ExpiresAt)
	return err
}

func (s *sessionStore) Find(ctx context.Context, id string) (*auth.Session, error) {
	var sess auth.Session
	err := s.db.QueryRowContext(ctx, `
		select id, principal_id, ip, user_agent, created_at, expires_at, revoked
		from sessions where id=$1
	`, id).Scan(&sess.ID, &sess.PrincipalID, &sess.IP, &sess.UserAgent,
		&sess.CreatedAt, &sess.ExpiresAt, &sess.Revoked)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *sessionStore) Revoke(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `update sessions set revoked=true where id=$1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func (s *sessionStore) RevokeByPrincipal(ctx context.Context, principalID string) error {
	_, err := s.db.ExecContext(ctx,
		`update sessions set revoked=true where principal_id=$1 and revoked=false`, principalID)
	return err
}

func (s *sessionStore) ExtendExpiry(ctx context.Context, id string, expiresAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`update sessions set expires_at=$2 where id=$1 and revoked=false`, id, expiresAt)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return auth.ErrNotFound
	}
	return nil
}
