package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/coscribe/coscribe/pkg/cache"
	"github.com/coscribe/coscribe/pkg/log"
	"github.com/coscribe/coscribe/pkg/metrics"
	"github.com/coscribe/coscribe/pkg/types"
)

// Registry is the authoritative cluster-wide mapping of document to live
// sessions. Sessions live in per-document hashes keyed by principal id;
// the hash TTL is refreshed on every mutation and an empty hash is
// deleted. The registry never touches instance-local socket state.
type Registry struct {
	store  *cache.Store
	ttl    time.Duration
	logger zerolog.Logger
}

// New creates a registry with the given session TTL.
func New(store *cache.Store, ttl time.Duration) *Registry {
	return &Registry{
		store:  store,
		ttl:    ttl,
		logger: log.WithComponent("presence"),
	}
}

// AddSession creates or overwrites the session for (documentID,
// principalID). A join from a principal that already holds a session
// supersedes it: last writer wins on socket id.
func (r *Registry) AddSession(ctx context.Context, documentID string, principal *types.Principal, socketID string, cursor json.RawMessage) error {
	session := &types.Session{
		PrincipalID: principal.ID,
		DisplayName: principal.DisplayName,
		SocketID:    socketID,
		LastActive:  types.NowMs(),
		Cursor:      cursor,
	}
	return r.writeSession(ctx, documentID, session)
}

// RemoveSession deletes the principal's session, but only when the stored
// record still belongs to socketID: a superseded socket's leave or
// disconnect must not delete the newer, live session. Returns whether a
// session was removed. An absent session is a no-op. The hash is deleted
// once it becomes empty.
func (r *Registry) RemoveSession(ctx context.Context, documentID, principalID, socketID string) (bool, error) {
	cctx, cancel := r.store.Context(ctx)
	defer cancel()
	client := r.store.Client()
	key := cache.SessionKey(documentID)

	raw, err := client.HGet(cctx, key, principalID).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read session: %w", err)
	}

	var stored types.Session
	if err := json.Unmarshal([]byte(raw), &stored); err == nil && stored.SocketID != socketID {
		// Owned by a newer socket now; the caller was superseded.
		return false, nil
	}

	if err := client.HDel(cctx, key, principalID).Err(); err != nil {
		return false, fmt.Errorf("failed to remove session: %w", err)
	}

	n, err := client.HLen(cctx, key).Result()
	if err != nil {
		return true, fmt.Errorf("failed to count sessions: %w", err)
	}
	if n == 0 {
		if err := client.Del(cctx, key).Err(); err != nil {
			return true, fmt.Errorf("failed to delete empty session hash: %w", err)
		}
		return true, nil
	}
	return true, client.Expire(cctx, key, r.ttl).Err()
}

// Touch refreshes the session's last-active timestamp and the hash TTL.
func (r *Registry) Touch(ctx context.Context, documentID, principalID string) error {
	return r.mutateSession(ctx, documentID, principalID, func(s *types.Session) {
		s.LastActive = types.NowMs()
	})
}

// UpdateCursor replaces the session's cursor blob and refreshes activity.
func (r *Registry) UpdateCursor(ctx context.Context, documentID, principalID string, cursor json.RawMessage) error {
	return r.mutateSession(ctx, documentID, principalID, func(s *types.Session) {
		s.LastActive = types.NowMs()
		s.Cursor = cursor
	})
}

// ListSessions returns all sessions in the document.
func (r *Registry) ListSessions(ctx context.Context, documentID string) ([]*types.Session, error) {
	cctx, cancel := r.store.Context(ctx)
	defer cancel()

	fields, err := r.store.Client().HGetAll(cctx, cache.SessionKey(documentID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	sessions := make([]*types.Session, 0, len(fields))
	for principalID, raw := range fields {
		var s types.Session
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			r.logger.Warn().Err(err).
				Str("document_id", documentID).
				Str("principal_id", principalID).
				Msg("dropping undecodable session record")
			continue
		}
		sessions = append(sessions, &s)
	}
	return sessions, nil
}

// CountSessions returns the number of sessions in the document.
func (r *Registry) CountSessions(ctx context.Context, documentID string) (int, error) {
	cctx, cancel := r.store.Context(ctx)
	defer cancel()

	n, err := r.store.Client().HLen(cctx, cache.SessionKey(documentID)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count sessions: %w", err)
	}
	return int(n), nil
}

// ListActiveDocuments returns the ids of all documents with a session hash.
func (r *Registry) ListActiveDocuments(ctx context.Context) ([]string, error) {
	cctx, cancel := r.store.Context(ctx)
	defer cancel()
	client := r.store.Client()

	var docs []string
	iter := client.Scan(cctx, 0, cache.SessionPrefix+"*", 100).Iterator()
	for iter.Next(cctx) {
		docs = append(docs, strings.TrimPrefix(iter.Val(), cache.SessionPrefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan session keys: %w", err)
	}
	return docs, nil
}

// SweepStale removes sessions whose last activity is older than the TTL
// and deletes hashes that become empty. Returns the number of sessions
// removed. Covers sockets on crashed instances that never sent a leave.
func (r *Registry) SweepStale(ctx context.Context) (int, error) {
	docs, err := r.ListActiveDocuments(ctx)
	if err != nil {
		return 0, err
	}

	threshold := types.NowMs() - r.ttl.Milliseconds()
	removed := 0

	for _, documentID := range docs {
		sessions, err := r.ListSessions(ctx, documentID)
		if err != nil {
			return removed, err
		}
		for _, s := range sessions {
			if s.LastActive >= threshold {
				continue
			}
			gone, err := r.RemoveSession(ctx, documentID, s.PrincipalID, s.SocketID)
			if err != nil {
				return removed, err
			}
			if !gone {
				continue
			}
			removed++
			r.logger.Debug().
				Str("document_id", documentID).
				Str("principal_id", s.PrincipalID).
				Msg("swept stale session")
		}
	}

	if removed > 0 {
		metrics.SessionsSweptTotal.Add(float64(removed))
	}
	return removed, nil
}

func (r *Registry) writeSession(ctx context.Context, documentID string, session *types.Session) error {
	raw, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	cctx, cancel := r.store.Context(ctx)
	defer cancel()
	client := r.store.Client()
	key := cache.SessionKey(documentID)

	if err := client.HSet(cctx, key, session.PrincipalID, raw).Err(); err != nil {
		return fmt.Errorf("failed to write session: %w", err)
	}
	return client.Expire(cctx, key, r.ttl).Err()
}

func (r *Registry) mutateSession(ctx context.Context, documentID, principalID string, mutate func(*types.Session)) error {
	cctx, cancel := r.store.Context(ctx)
	defer cancel()
	client := r.store.Client()
	key := cache.SessionKey(documentID)

	raw, err := client.HGet(cctx, key, principalID).Result()
	if err == redis.Nil {
		// Absent session: nothing to refresh. The caller's socket may have
		// been superseded; its next disconnect cleanup is a no-op too.
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read session: %w", err)
	}

	var s types.Session
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return fmt.Errorf("failed to decode session: %w", err)
	}
	mutate(&s)

	updated, err := json.Marshal(&s)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := client.HSet(cctx, key, principalID, updated).Err(); err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	return client.Expire(cctx, key, r.ttl).Err()
}
