package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"authgate.dev/internal/auth"
)

func (s *Store) CreateAuthorizationCode(ctx context.Context, code *auth.AuthorizationCode) error {
	_, err := s.db.ExecContext(ctx, `
		insert into auth_codes (id, code, client_id, tenant_id, user_id, redirect_uri,
			scope, nonce, code_challenge, code_challenge_method, expires_at, ip, user_agent)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, code.ID, code.Code, code.ClientID, code.TenantID, code.UserID, code.RedirectURI,
		code.Scope, nullIfEmpty(code.Nonce), code.CodeChallenge, code.CodeChallengeMethod,
		code.ExpiresAt, nullIfEmpty(code.IP), nullIfEmpty(code.UserAgent))
	return mapWriteError(err)
}

func (s *Store) AuthorizationCodeByCode(ctx context.Context, code string) (*auth.AuthorizationCode, error) {
	var (
		c        auth.AuthorizationCode
		nonce    sql.NullString
		consumed sql.NullTime
		ip       sql.NullString
		ua       sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		select id, code, client_id, tenant_id, user_id, redirect_uri, scope, nonce,
			code_challenge, code_challenge_method, expires_at, consumed_at, ip, user_agent, created_at
		from auth_codes
		where code = $1
	`, code).Scan(&c.ID, &c.Code, &c.ClientID, &c.TenantID, &c.UserID, &c.RedirectURI,
		&c.Scope, &nonce, &c.CodeChallenge, &c.CodeChallengeMethod, &c.ExpiresAt,
		&consumed, &ip, &ua, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.Nonce = nonce.String
	c.IP = ip.String
	c.UserAgent = ua.String
	if consumed.Valid {
		t := consumed.Time
		c.ConsumedAt = &t
	}
	return &c, nil
}

// ConsumeAuthorizationCode is the single linearization point of the code
// grant: the conditional update lets exactly one caller win.
func (s *Store) ConsumeAuthorizationCode(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		update auth_codes
		set consumed_at = $2
		where id = $1 and consumed_at is null
	`, id, at)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (s *Store) CreateSession(ctx context.Context, sess *auth.Session) error {
	_, err := s.db.ExecContext(ctx, `
		insert into sessions (id, tenant_id, user_id, client_id, refresh_token_hash,
			user_agent, ip, expires_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
	`, sess.ID, sess.TenantID, sess.UserID, sess.ClientID, sess.RefreshTokenHash,
		nullIfEmpty(sess.UserAgent), nullIfEmpty(sess.IP), sess.ExpiresAt)
	return mapWriteError(err)
}

func (s *Store) SessionByRefreshHash(ctx context.Context, hash string, now time.Time) (*auth.Session, error) {
	var (
		sess    auth.Session
		ua      sql.NullString
		ip      sql.NullString
		revoked sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		select id, tenant_id, user_id, client_id, refresh_token_hash, user_agent, ip,
			expires_at, revoked_at, created_at
		from sessions
		where refresh_token_hash = $1
		  and revoked_at is null
		  and expires_at > $2
	`, hash, now).Scan(&sess.ID, &sess.TenantID, &sess.UserID, &sess.ClientID,
		&sess.RefreshTokenHash, &ua, &ip, &sess.ExpiresAt, &revoked, &sess.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	sess.UserAgent = ua.String
	sess.IP = ip.String
	if revoked.Valid {
		t := revoked.Time
		sess.RevokedAt = &t
	}
	return &sess, nil
}

func (s *Store) RotateSession(ctx context.Context, id, newHash string, expiresAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		update sessions
		set refresh_token_hash = $2, expires_at = $3, revoked_at = null
		where id = $1
	`, id, newHash, expiresAt)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func (s *Store) RevokeSession(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		update sessions
		set revoked_at = coalesce(revoked_at, $2)
		where id = $1
	`, id, at)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return auth.ErrNotFound
	}
	return nil
}
