// Package postgres is an [authcore.UserStore] backed by PostgreSQL through
// pgx. Refresh digests and backup code digests live in array columns and
// every digest operation is a single conditional UPDATE, which gives the
// per-user atomicity the engine relies on.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/MrEthical07/authcore"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

const userColumns = `id, email, password_hash, provider, active, email_verified, refresh_digests,
	totp_secret, totp_enabled, totp_setup_pending, backup_code_digests, totp_last_counter, created_at`

// Store implements authcore.UserStore on a pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

var _ authcore.UserStore = (*Store)(nil)

// New wraps an existing pool. The caller owns the pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Open connects to databaseURL and pings it.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (*authcore.UserRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM authcore_users WHERE lower(email) = lower($1)`,
		strings.TrimSpace(email))
	return scanUser(row, "find user by email")
}

func (s *Store) FindUserByID(ctx context.Context, id string) (*authcore.UserRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM authcore_users WHERE id = $1`, id)
	return scanUser(row, "find user by id")
}

func (s *Store) InsertUser(ctx context.Context, nu authcore.NewUser) (string, error) {
	id := uuid.NewString()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO authcore_users (id, email, password_hash, provider, active, email_verified)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		id, strings.TrimSpace(nu.Email), nu.PasswordHash, nu.Provider, nu.Active, nu.EmailVerified)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return "", authcore.ErrDuplicateEmail
		}
		return "", fmt.Errorf("postgres: insert user: %w", err)
	}
	return id, nil
}

func (s *Store) UpdateUser(ctx context.Context, id string, patch authcore.UserPatch) error {
	sets := make([]string, 0, 6)
	args := []any{id}
	set := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, column+" = $"+strconv.Itoa(len(args)))
	}

	if patch.PasswordHash != nil {
		set("password_hash", *patch.PasswordHash)
	}
	if patch.EmailVerified != nil {
		set("email_verified", *patch.EmailVerified)
	}
	if tf := patch.TwoFactor; tf != nil {
		set("totp_secret", tf.SecretBase32)
		set("totp_enabled", tf.Enabled)
		set("totp_setup_pending", tf.SetupPending)
		set("backup_code_digests", nonNil(tf.BackupCodeDigests))
	}
	if len(sets) == 0 {
		return s.exists(ctx, id)
	}

	query := `UPDATE authcore_users SET ` + strings.Join(sets, ", ") + `, updated_at = now() WHERE id = $1`
	return s.execOne(ctx, "update user", query, args...)
}

// AddRefreshDigest locks the row for the read-trim-write. The array is kept
// oldest first, so eviction trims the front.
func (s *Store) AddRefreshDigest(ctx context.Context, id, digest string, limit int) ([]string, error) {
	var evicted []string
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var digests []string
		err := tx.QueryRow(ctx,
			`SELECT refresh_digests FROM authcore_users WHERE id = $1 FOR UPDATE`, id).Scan(&digests)
		if errors.Is(err, pgx.ErrNoRows) {
			return authcore.ErrUserNotFound
		}
		if err != nil {
			return err
		}
		if !slices.Contains(digests, digest) {
			digests = append(digests, digest)
		}
		if over := len(digests) - limit; limit > 0 && over > 0 {
			evicted = slices.Clone(digests[:over])
			digests = digests[over:]
		}
		_, err = tx.Exec(ctx, `UPDATE authcore_users SET refresh_digests = $2 WHERE id = $1`, id, nonNil(digests))
		return err
	})
	if errors.Is(err, authcore.ErrUserNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: add refresh digest: %w", err)
	}
	return evicted, nil
}

// ReplaceRefreshDigest relies on the row lock taken by UPDATE: a second
// concurrent swap of the same digest re-evaluates the WHERE clause after
// the first commits and matches nothing. The new digest moves to the end
// of the array.
func (s *Store) ReplaceRefreshDigest(ctx context.Context, id, oldDigest, newDigest string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE authcore_users SET refresh_digests = array_append(array_remove(refresh_digests, $2), $3)
		 WHERE id = $1 AND $2 = ANY(refresh_digests)`,
		id, oldDigest, newDigest)
	if err != nil {
		return false, fmt.Errorf("postgres: replace refresh digest: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	return false, s.exists(ctx, id)
}

func (s *Store) RemoveRefreshDigest(ctx context.Context, id, digest string) error {
	return s.execOne(ctx, "remove refresh digest",
		`UPDATE authcore_users SET refresh_digests = array_remove(refresh_digests, $2) WHERE id = $1`,
		id, digest)
}

func (s *Store) ClearRefreshDigests(ctx context.Context, id string) error {
	return s.execOne(ctx, "clear refresh digests",
		`UPDATE authcore_users SET refresh_digests = '{}' WHERE id = $1`, id)
}

func (s *Store) ConsumeBackupCode(ctx context.Context, id, digest string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE authcore_users SET backup_code_digests = array_remove(backup_code_digests, $2)
		 WHERE id = $1 AND $2 = ANY(backup_code_digests)`,
		id, digest)
	if err != nil {
		return false, fmt.Errorf("postgres: consume backup code: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	return false, s.exists(ctx, id)
}

func (s *Store) AdvanceTOTPCounter(ctx context.Context, id string, counter int64) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE authcore_users SET totp_last_counter = $2 WHERE id = $1 AND totp_last_counter < $2`,
		id, counter)
	if err != nil {
		return false, fmt.Errorf("postgres: advance totp counter: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	return false, s.exists(ctx, id)
}

// execOne runs an UPDATE that must touch exactly the row of one user.
func (s *Store) execOne(ctx context.Context, op, query string, args ...any) error {
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("postgres: %s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return authcore.ErrUserNotFound
	}
	return nil
}

func (s *Store) exists(ctx context.Context, id string) error {
	var found bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM authcore_users WHERE id = $1)`, id).Scan(&found)
	if err != nil {
		return fmt.Errorf("postgres: user exists: %w", err)
	}
	if !found {
		return authcore.ErrUserNotFound
	}
	return nil
}

func scanUser(row pgx.Row, op string) (*authcore.UserRecord, error) {
	var u authcore.UserRecord
	err := row.Scan(
		&u.ID, &u.Email, &u.PasswordHash, &u.Provider, &u.Active, &u.EmailVerified, &u.RefreshDigests,
		&u.TwoFactor.SecretBase32, &u.TwoFactor.Enabled, &u.TwoFactor.SetupPending,
		&u.TwoFactor.BackupCodeDigests, &u.TwoFactor.LastUsedCounter, &u.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, authcore.ErrUserNotFound
		}
		return nil, fmt.Errorf("postgres: %s: %w", op, err)
	}
	return &u, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
