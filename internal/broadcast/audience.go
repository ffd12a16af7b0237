package broadcast

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"ton_wallet_bot/internal/domain"
)

// UserDirectory is the read-only view of tracked users needed to expand
// symbolic audiences.
type UserDirectory interface {
	AllChatIDs(ctx context.Context) ([]int64, error)
	ConnectedChatIDs(ctx context.Context) ([]int64, error)
}

// ParseAudienceFlag maps a command flag to an audience kind. "-active" is an
// alias of "-connected".
func ParseAudienceFlag(flag string) (domain.AudienceKind, bool) {
	switch strings.ToLower(strings.TrimSpace(flag)) {
	case "-all":
		return domain.AudienceAll, true
	case "-active", "-connected":
		return domain.AudienceConnected, true
	case "-inactive":
		return domain.AudienceInactive, true
	default:
		return "", false
	}
}

// ParseTargetList parses a comma-separated list of chat IDs. Any malformed or
// empty entry rejects the whole list. Duplicates are dropped, first seen wins.
func ParseTargetList(token string) ([]int64, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("%w: empty list", ErrInvalidTargetList)
	}

	parts := strings.Split(token, ",")
	ids := make([]int64, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil || id == 0 {
			return nil, fmt.Errorf("%w: %q is not a valid id", ErrInvalidTargetList, part)
		}
		ids = append(ids, id)
	}

	return dedupe(ids), nil
}

// Resolver expands an audience into concrete chat IDs at call time.
type Resolver struct {
	directory UserDirectory
}

// NewResolver constructs a Resolver over the user directory.
func NewResolver(directory UserDirectory) *Resolver {
	return &Resolver{directory: directory}
}

// Resolve returns the de-duplicated recipients of the audience. An empty
// tracking store yields an empty list.
func (r *Resolver) Resolve(ctx context.Context, audience domain.Audience) ([]int64, error) {
	if audience.Kind == domain.AudienceExplicit {
		return dedupe(audience.ChatIDs), nil
	}

	if r == nil || r.directory == nil {
		return nil, errors.New("audience resolver is not initialized")
	}

	switch audience.Kind {
	case domain.AudienceAll:
		all, err := r.directory.AllChatIDs(ctx)
		if err != nil {
			return nil, fmt.Errorf("list all users: %w", err)
		}
		return dedupe(all), nil
	case domain.AudienceConnected:
		connected, err := r.directory.ConnectedChatIDs(ctx)
		if err != nil {
			return nil, fmt.Errorf("list connected users: %w", err)
		}
		return dedupe(connected), nil
	case domain.AudienceInactive:
		all, err := r.directory.AllChatIDs(ctx)
		if err != nil {
			return nil, fmt.Errorf("list all users: %w", err)
		}
		connected, err := r.directory.ConnectedChatIDs(ctx)
		if err != nil {
			return nil, fmt.Errorf("list connected users: %w", err)
		}
		return difference(all, connected), nil
	default:
		return nil, fmt.Errorf("unknown audience %q", audience.Kind)
	}
}

func dedupe(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func difference(all, exclude []int64) []int64 {
	skip := make(map[int64]struct{}, len(exclude))
	for _, id := range exclude {
		skip[id] = struct{}{}
	}

	out := make([]int64, 0, len(all))
	for _, id := range dedupe(all) {
		if _, ok := skip[id]; ok {
			continue
		}
		out = append(out, id)
	}
	return out
}
