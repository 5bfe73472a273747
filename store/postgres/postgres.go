// Package postgres is the durable store.Store on PostgreSQL through the pgx
// database/sql driver.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/trustcore/audit"
	"github.com/MrEthical07/trustcore/store"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

const uniqueViolation = "23505"

type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// Open connects with the pgx driver and tuned pool defaults.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// New wraps an existing handle.
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

const identityColumns = `id, username, email, password_hash, first_name, last_name, role,
	mfa_enabled, mfa_secret, mfa_last_step, mfa_enroll_step, active, last_login,
	failed_login_attempts, lock_until, created_at, updated_at, version`

func (s *Store) FindByEmail(ctx context.Context, email string) (*store.Identity, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+identityColumns+` from identities where lower(email) = lower($1)`,
		strings.TrimSpace(email))
	return scanIdentity(row)
}

func (s *Store) FindByID(ctx context.Context, id string) (*store.Identity, error) {
	row := s.db.QueryRowContext(ctx, `select `+identityColumns+` from identities where id = $1`, id)
	return scanIdentity(row)
}

func (s *Store) CreateIdentity(ctx context.Context, i *store.Identity) error {
	if i.Version == 0 {
		i.Version = 1
	}
	_, err := s.db.ExecContext(ctx, `
		insert into identities (`+identityColumns+`)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`,
		i.ID, i.Username, i.Email, i.PasswordHash, i.FirstName, i.LastName, string(i.Role),
		i.MFAEnabled, i.MFASecret, i.MFALastStep, i.MFAEnrollStep, i.Active, nullTime(i.LastLogin), i.FailedLoginAttempts,
		nullTime(i.LockUntil), i.CreatedAt, i.UpdatedAt, i.Version,
	)
	return mapWriteErr(err)
}

// UpdateIdentity writes every mutable column when the stored version still
// equals i.Version, then bumps it.
func (s *Store) UpdateIdentity(ctx context.Context, i *store.Identity) error {
	res, err := s.db.ExecContext(ctx, `
		update identities set
			email = $3, password_hash = $4, first_name = $5, last_name = $6, role = $7,
			mfa_enabled = $8, mfa_secret = $9, mfa_last_step = $10, mfa_enroll_step = $11,
			active = $12, last_login = $13, failed_login_attempts = $14, lock_until = $15,
			updated_at = $16, version = version + 1
		where id = $1 and version = $2`,
		i.ID, i.Version, i.Email, i.PasswordHash, i.FirstName, i.LastName, string(i.Role),
		i.MFAEnabled, i.MFASecret, i.MFALastStep, i.MFAEnrollStep, i.Active,
		nullTime(i.LastLogin), i.FailedLoginAttempts, nullTime(i.LockUntil), i.UpdatedAt,
	)
	if err != nil {
		return mapWriteErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		i.Version++
		return nil
	}

	var exists int
	err = s.db.QueryRowContext(ctx, `select 1 from identities where id = $1`, i.ID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	if err != nil {
		return err
	}
	return store.ErrConflict
}

func (s *Store) ListIdentities(ctx context.Context, q store.IdentityQuery) ([]*store.Identity, int, error) {
	q = q.Normalized()

	var (
		where []string
		args  []any
	)
	if q.Role != "" {
		args = append(args, string(q.Role))
		where = append(where, fmt.Sprintf("role = $%d", len(args)))
	}
	if q.Active != nil {
		args = append(args, *q.Active)
		where = append(where, fmt.Sprintf("active = $%d", len(args)))
	}
	filter := ""
	if len(where) > 0 {
		filter = " where " + strings.Join(where, " and ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `select count(*) from identities`+filter, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, q.Limit, q.Offset)
	rows, err := s.db.QueryContext(ctx,
		`select `+identityColumns+` from identities`+filter+
			fmt.Sprintf(" order by created_at desc, id limit $%d offset $%d", len(args)-1, len(args)),
		args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := []*store.Identity{}
	for rows.Next() {
		i, err := scanIdentity(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, i)
	}
	return out, total, rows.Err()
}

func (s *Store) CreateSession(ctx context.Context, sess *store.Session) error {
	_, err := s.db.ExecContext(ctx, `
		insert into sessions (id, identity_id, token_hash, ip, user_agent, expires_at, revoked, created_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8)`,
		sess.ID, sess.IdentityID, sess.TokenHash, sess.Origin.IP, sess.Origin.UserAgent,
		sess.ExpiresAt, sess.Revoked, sess.CreatedAt,
	)
	return mapWriteErr(err)
}

func (s *Store) FindSessionByTokenHash(ctx context.Context, tokenHash string) (*store.Session, error) {
	var sess store.Session
	err := s.db.QueryRowContext(ctx, `
		select id, identity_id, token_hash, ip, user_agent, expires_at, revoked, created_at
		from sessions where token_hash = $1`, tokenHash,
	).Scan(&sess.ID, &sess.IdentityID, &sess.TokenHash, &sess.Origin.IP, &sess.Origin.UserAgent,
		&sess.ExpiresAt, &sess.Revoked, &sess.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *Store) RevokeSession(ctx context.Context, identityID, tokenHash string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`update sessions set revoked = true where token_hash = $1 and identity_id = $2 and not revoked`,
		tokenHash, identityID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (s *Store) RevokeIdentitySessions(ctx context.Context, identityID, keepTokenHash string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`update sessions set revoked = true where identity_id = $1 and token_hash <> $2 and not revoked`,
		identityID, keepTokenHash)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *Store) DeleteExpiredSessions(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `delete from sessions where expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *Store) AppendAuditEvent(ctx context.Context, ev audit.Event) error {
	var details any
	if len(ev.Details) > 0 {
		raw, err := json.Marshal(ev.Details)
		if err != nil {
			return fmt.Errorf("postgres: encode audit details: %w", err)
		}
		details = raw
	}
	var risk sql.NullInt32
	if ev.RiskScore != nil {
		risk = sql.NullInt32{Int32: int32(*ev.RiskScore), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		insert into audit_events (id, identity_id, action, resource, ip, user_agent, status, details, risk_score, created_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		ev.ID, nullString(ev.IdentityID), string(ev.Action), ev.Resource, ev.Origin.IP, ev.Origin.UserAgent,
		string(ev.Status), details, risk, ev.Timestamp,
	)
	return mapWriteErr(err)
}

func (s *Store) QueryAuditEvents(ctx context.Context, q audit.Query) ([]audit.Event, error) {
	q = q.Normalized()

	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if q.IdentityID != "" {
		add("identity_id = $%d", q.IdentityID)
	}
	if q.Action != "" {
		add("action = $%d", string(q.Action))
	}
	if q.Status != "" {
		add("status = $%d", string(q.Status))
	}
	if !q.Since.IsZero() {
		add("created_at >= $%d", q.Since)
	}
	if !q.Until.IsZero() {
		add("created_at < $%d", q.Until)
	}

	query := `select id, identity_id, action, resource, ip, user_agent, status, details, risk_score, created_at from audit_events`
	if len(where) > 0 {
		query += " where " + strings.Join(where, " and ")
	}
	args = append(args, q.Limit)
	query += fmt.Sprintf(" order by created_at desc limit $%d", len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []audit.Event
	for rows.Next() {
		var (
			ev       audit.Event
			identity sql.NullString
			action   string
			status   string
			details  []byte
			risk     sql.NullInt32
		)
		if err := rows.Scan(&ev.ID, &identity, &action, &ev.Resource, &ev.Origin.IP, &ev.Origin.UserAgent,
			&status, &details, &risk, &ev.Timestamp); err != nil {
			return nil, err
		}
		ev.IdentityID = identity.String
		ev.Action = audit.Action(action)
		ev.Status = audit.Status(status)
		if len(details) > 0 {
			if err := json.Unmarshal(details, &ev.Details); err != nil {
				return nil, fmt.Errorf("postgres: decode audit details: %w", err)
			}
		}
		if risk.Valid {
			score := int(risk.Int32)
			ev.RiskScore = &score
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIdentity(row rowScanner) (*store.Identity, error) {
	var (
		i         store.Identity
		role      string
		lastLogin sql.NullTime
		lockUntil sql.NullTime
	)
	err := row.Scan(&i.ID, &i.Username, &i.Email, &i.PasswordHash, &i.FirstName, &i.LastName, &role,
		&i.MFAEnabled, &i.MFASecret, &i.MFALastStep, &i.MFAEnrollStep, &i.Active, &lastLogin, &i.FailedLoginAttempts,
		&lockUntil, &i.CreatedAt, &i.UpdatedAt, &i.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	i.Role = store.Role(role)
	if lastLogin.Valid {
		t := lastLogin.Time
		i.LastLogin = &t
	}
	if lockUntil.Valid {
		t := lockUntil.Time
		i.LockUntil = &t
	}
	return &i, nil
}

func mapWriteErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return store.ErrDuplicate
	}
	return err
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
