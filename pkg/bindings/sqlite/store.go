// Package sqlite provides the SQLite-backed binding store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/tinyland-inc/reactroles/pkg/bindings"
	"github.com/tinyland-inc/reactroles/pkg/bindings/sqlite/migrations"
	"github.com/tinyland-inc/reactroles/pkg/roles"
	"github.com/tinyland-inc/reactroles/pkg/storage/sqlitemigrate"
)

// Store persists binding sets and guild settings in SQLite.
type Store struct {
	sqlDB *sql.DB
}

var _ bindings.Store = (*Store)(nil)

// Open opens (creating if needed) the database at path and applies the
// embedded migrations. Writes use synchronous=FULL so a committed Put
// survives a crash.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(cleanPath), 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	dsn := "file:" + cleanPath +
		"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=synchronous(FULL)&_txlock=immediate"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.Apply(ctx, sqlDB, migrations.FS, "."); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Put inserts the set and all of its bindings in one transaction.
func (s *Store) Put(ctx context.Context, set bindings.BindingSet) error {
	if err := set.Validate(); err != nil {
		return err
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin put: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO binding_sets (message_id, guild_id, channel_id, created_at) VALUES (?, ?, ?, ?)`,
		set.MessageID, set.GuildID, set.ChannelID, time.Now().UTC().UnixMilli(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return bindings.ErrDuplicateMessage
		}
		return fmt.Errorf("insert binding set: %w", err)
	}

	for i, b := range set.Bindings {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO bindings (message_id, position, emoji, emoji_key, role_id) VALUES (?, ?, ?, ?, ?)`,
			set.MessageID, i, b.Emoji, roles.NormalizeEmoji(b.Emoji), b.RoleID,
		); err != nil {
			return fmt.Errorf("insert binding %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit put: %w", err)
	}
	return nil
}

// Get returns the set for messageID.
func (s *Store) Get(ctx context.Context, messageID string) (bindings.BindingSet, error) {
	set := bindings.BindingSet{MessageID: messageID}
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT guild_id, channel_id FROM binding_sets WHERE message_id = ?`, messageID,
	).Scan(&set.GuildID, &set.ChannelID)
	if errors.Is(err, sql.ErrNoRows) {
		return bindings.BindingSet{}, bindings.ErrNotFound
	}
	if err != nil {
		return bindings.BindingSet{}, fmt.Errorf("get binding set: %w", err)
	}

	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT emoji, role_id FROM bindings WHERE message_id = ? ORDER BY position`, messageID,
	)
	if err != nil {
		return bindings.BindingSet{}, fmt.Errorf("get bindings: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var b bindings.Binding
		if err := rows.Scan(&b.Emoji, &b.RoleID); err != nil {
			return bindings.BindingSet{}, fmt.Errorf("scan binding: %w", err)
		}
		set.Bindings = append(set.Bindings, b)
	}
	if err := rows.Err(); err != nil {
		return bindings.BindingSet{}, fmt.Errorf("iterate bindings: %w", err)
	}
	return set, nil
}

// Remove deletes the set; bindings go with it via ON DELETE CASCADE.
func (s *Store) Remove(ctx context.Context, messageID string) error {
	res, err := s.sqlDB.ExecContext(ctx, `DELETE FROM binding_sets WHERE message_id = ?`, messageID)
	if err != nil {
		return fmt.Errorf("remove binding set: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("remove binding set: %w", err)
	}
	if n == 0 {
		return bindings.ErrNotFound
	}
	return nil
}

// FindRole is a single primary-key lookup on (message_id, emoji_key).
func (s *Store) FindRole(ctx context.Context, messageID, emoji string) (string, error) {
	var roleID string
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT role_id FROM bindings WHERE message_id = ? AND emoji_key = ?`,
		messageID, roles.NormalizeEmoji(emoji),
	).Scan(&roleID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", bindings.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("find role: %w", err)
	}
	return roleID, nil
}

// Scan loads every set, then calls fn for each in creation order. Loading
// first lets fn mutate the store.
func (s *Store) Scan(ctx context.Context, fn func(bindings.BindingSet) error) error {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT s.message_id, s.guild_id, s.channel_id, b.emoji, b.role_id
		   FROM binding_sets s
		   JOIN bindings b ON b.message_id = s.message_id
		  ORDER BY s.created_at, s.message_id, b.position`,
	)
	if err != nil {
		return fmt.Errorf("scan binding sets: %w", err)
	}

	var sets []bindings.BindingSet
	for rows.Next() {
		var (
			messageID, guildID, channelID string
			b                             bindings.Binding
		)
		if err := rows.Scan(&messageID, &guildID, &channelID, &b.Emoji, &b.RoleID); err != nil {
			rows.Close()
			return fmt.Errorf("scan binding row: %w", err)
		}
		if n := len(sets); n == 0 || sets[n-1].MessageID != messageID {
			sets = append(sets, bindings.BindingSet{GuildID: guildID, ChannelID: channelID, MessageID: messageID})
		}
		last := &sets[len(sets)-1]
		last.Bindings = append(last.Bindings, b)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return fmt.Errorf("iterate binding sets: %w", err)
	}

	for _, set := range sets {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(set); err != nil {
			return err
		}
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
