package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// AutoRoles returns the role ids granted to new members of guildID.
func (s *Store) AutoRoles(ctx context.Context, guildID string) ([]string, error) {
	var raw string
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT auto_roles FROM guild_settings WHERE guild_id = ?`, guildID,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get auto roles: %w", err)
	}
	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil, fmt.Errorf("decode auto roles for guild %s: %w", guildID, err)
	}
	return ids, nil
}

// SetAutoRoles replaces the guild's auto-role list. An empty list clears it.
func (s *Store) SetAutoRoles(ctx context.Context, guildID string, roleIDs []string) error {
	if len(roleIDs) == 0 {
		if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM guild_settings WHERE guild_id = ?`, guildID); err != nil {
			return fmt.Errorf("clear auto roles: %w", err)
		}
		return nil
	}
	raw, err := json.Marshal(roleIDs)
	if err != nil {
		return fmt.Errorf("encode auto roles: %w", err)
	}
	_, err = s.sqlDB.ExecContext(ctx,
		`INSERT INTO guild_settings (guild_id, auto_roles, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (guild_id) DO UPDATE SET auto_roles = excluded.auto_roles, updated_at = excluded.updated_at`,
		guildID, string(raw), time.Now().UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("save auto roles: %w", err)
	}
	return nil
}
