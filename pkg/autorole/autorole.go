// Package autorole grants a per-guild list of roles to members as they join.
package autorole

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tinyland-inc/reactroles/pkg/logger"
	"github.com/tinyland-inc/reactroles/pkg/metrics"
	"github.com/tinyland-inc/reactroles/pkg/platform"
	"github.com/tinyland-inc/reactroles/pkg/roles"
)

const component = "autorole"

// Settings stores each guild's auto-role list.
type Settings interface {
	AutoRoles(ctx context.Context, guildID string) ([]string, error)
	SetAutoRoles(ctx context.Context, guildID string, roleIDs []string) error
}

// ErrTooMany is returned when a command names more roles than allowed.
var ErrTooMany = errors.New("too many auto roles")

type Service struct {
	settings Settings
	client   platform.Client
	max      int
	metrics  *metrics.Metrics
}

// New returns a service allowing at most max roles per guild.
func New(settings Settings, client platform.Client, max int, m *metrics.Metrics) *Service {
	if max <= 0 {
		max = 25
	}
	return &Service{settings: settings, client: client, max: max, metrics: m}
}

// Command runs "autorole <args>" and returns the reply text. Args are
// whitespace-separated role ids, mentions or names; "clear" empties the
// list and no args shows it. Errors carry a user-readable message.
func (s *Service) Command(ctx context.Context, guildID, args string) (string, error) {
	args = strings.TrimSpace(args)
	switch {
	case args == "":
		return s.describe(ctx, guildID)
	case strings.EqualFold(args, "clear"):
		if err := s.settings.SetAutoRoles(ctx, guildID, nil); err != nil {
			return "", err
		}
		return "Auto roles cleared.", nil
	}

	fields := strings.Fields(args)
	if len(fields) > s.max {
		return "", fmt.Errorf("%w: no more than %d auto roles", ErrTooMany, s.max)
	}

	guildRoles, err := s.client.ListGuildRoles(ctx, guildID)
	if err != nil {
		return "", platform.Wrap("list guild roles", err)
	}
	resolver := roles.NewResolver(guildRoles)
	refs := make([]roles.Reference, 0, len(fields))
	var invalid []error
	for _, field := range fields {
		ref, ok := roles.ParseReference(field)
		if !ok {
			invalid = append(invalid, &roles.Error{Kind: roles.KindUnknownRoleName, Ref: field})
			continue
		}
		refs = append(refs, ref)
	}
	ids, errs := resolver.Resolve(refs)
	if errs = append(invalid, errs...); len(errs) > 0 {
		return "", errors.Join(errs...)
	}

	if err := s.settings.SetAutoRoles(ctx, guildID, ids); err != nil {
		return "", err
	}
	return "Auto roles set: " + mentions(ids), nil
}

func (s *Service) describe(ctx context.Context, guildID string) (string, error) {
	ids, err := s.settings.AutoRoles(ctx, guildID)
	if err != nil {
		return "", err
	}
	if len(ids) == 0 {
		return "No auto roles are set. Usage: autorole <role> [role...] or autorole clear", nil
	}
	return "Current auto roles: " + mentions(ids), nil
}

// MemberJoined grants every auto role to userID. Each failure is logged
// and the remaining roles are still attempted.
func (s *Service) MemberJoined(ctx context.Context, guildID, userID string) error {
	ids, err := s.settings.AutoRoles(ctx, guildID)
	if err != nil {
		return err
	}
	var errs []error
	for _, roleID := range ids {
		if err := s.client.GrantRole(ctx, guildID, userID, roleID); err != nil {
			s.metrics.IncAutoRole("failed")
			logger.WarnCF(component, "Auto role not granted", map[string]any{
				"guild_id": guildID,
				"user_id":  userID,
				"role_id":  roleID,
				"error":    err,
			})
			errs = append(errs, platform.Wrap("grant auto role", err))
			continue
		}
		s.metrics.IncAutoRole("applied")
	}
	return errors.Join(errs...)
}

func mentions(ids []string) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = "<@&" + id + ">"
	}
	return strings.Join(parts, ", ")
}
