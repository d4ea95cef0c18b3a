package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/postboard/internal/cache"
	"github.com/charlesng35/postboard/pkg/crypto"
	"github.com/charlesng35/postboard/pkg/logger"
	"github.com/charlesng35/postboard/pkg/metrics"
)

// DefaultSessionTTL is the fallback sliding lifetime of a session.
const DefaultSessionTTL = 24 * time.Hour

const (
	sessionKeyPrefix      = "auth:session:"
	userSessionsKeyPrefix = "auth:user_sessions:"
	sessionIDBytes        = 32
)

// SessionRecord is the server-held state behind a bearer token. It exists in the store
// exactly as long as the session is active.
type SessionRecord struct {
	SessionID    string    `json:"sessionId"`
	UserID       string    `json:"userId"`
	Email        string    `json:"email"`
	LoginTime    time.Time `json:"loginTime"`
	LastActivity time.Time `json:"lastActivity"`
	IPAddress    string    `json:"ipAddress,omitempty"`
	UserAgent    string    `json:"userAgent,omitempty"`
	IsCurrent    bool      `json:"isCurrent"`
}

// SessionSubject identifies the user a session is issued for.
type SessionSubject struct {
	UserID string
	Email  string
}

// SessionMetadata captures contextual information about the client.
type SessionMetadata struct {
	IPAddress string
	UserAgent string
}

// SessionStoreConfig describes tunable behaviour for the SessionStore.
type SessionStoreConfig struct {
	TTL   time.Duration
	Clock func() time.Time
}

// SessionStore keeps session records and the per-user session index in the fast store.
// The index is a secondary structure: it may briefly reference sessions that have
// already expired, and such entries are pruned whenever the index is read.
type SessionStore struct {
	store cache.Store
	ttl   time.Duration
	now   func() time.Time
	log   *zap.Logger
}

// NewSessionStore constructs a session store backed by the provided fast store.
func NewSessionStore(store cache.Store, cfg SessionStoreConfig) (*SessionStore, error) {
	if store == nil {
		return nil, errors.New("session store: store is required")
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}

	clock := time.Now
	if cfg.Clock != nil {
		clock = cfg.Clock
	}

	return &SessionStore{
		store: store,
		ttl:   ttl,
		now:   clock,
		log:   logger.WithModule("sessions"),
	}, nil
}

// TTL reports the sliding session lifetime.
func (s *SessionStore) TTL() time.Duration {
	return s.ttl
}

// Create issues a new session for the subject and registers it in the user's index.
func (s *SessionStore) Create(ctx context.Context, subject SessionSubject, meta SessionMetadata) (*SessionRecord, error) {
	if strings.TrimSpace(subject.UserID) == "" {
		return nil, errors.New("session store: user id is required")
	}

	id, err := crypto.GenerateToken(sessionIDBytes)
	if err != nil {
		return nil, fmt.Errorf("session store: generate id: %w", err)
	}

	now := s.now()
	record := &SessionRecord{
		SessionID:    id,
		UserID:       subject.UserID,
		Email:        strings.ToLower(strings.TrimSpace(subject.Email)),
		LoginTime:    now,
		LastActivity: now,
		IPAddress:    strings.TrimSpace(meta.IPAddress),
		UserAgent:    strings.TrimSpace(meta.UserAgent),
	}

	if err := s.save(ctx, record); err != nil {
		return nil, err
	}

	// The record and the index are separate writes; a reader may briefly see one without the other.
	indexKey := userSessionsKey(subject.UserID)
	if err := s.store.SetAdd(ctx, indexKey, id); err != nil {
		return nil, infrastructure("index session", err)
	}
	if err := s.store.Expire(ctx, indexKey, s.ttl); err != nil {
		return nil, infrastructure("refresh session index", err)
	}

	metrics.SessionEvents.WithLabelValues("created").Inc()
	return record, nil
}

// Verify returns the live session for id and slides its expiry forward. It returns
// (nil, nil) when the session is absent or idle for longer than the session TTL.
func (s *SessionStore) Verify(ctx context.Context, sessionID string) (*SessionRecord, error) {
	record, err := s.Get(ctx, sessionID)
	if err != nil || record == nil {
		return nil, err
	}

	now := s.now()
	if record.LastActivity.Add(s.ttl).Before(now) {
		s.discard(ctx, record)
		metrics.SessionEvents.WithLabelValues("expired").Inc()
		return nil, nil
	}

	record.LastActivity = now
	if err := s.save(ctx, record); err != nil {
		return nil, err
	}
	if err := s.store.Expire(ctx, userSessionsKey(record.UserID), s.ttl); err != nil {
		return nil, infrastructure("refresh session index", err)
	}

	return record, nil
}

// Get is a read-only lookup. A missing session is (nil, nil).
func (s *SessionStore) Get(ctx context.Context, sessionID string) (*SessionRecord, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, nil
	}

	raw, found, err := s.store.Get(ctx, sessionKey(sessionID))
	if err != nil {
		return nil, infrastructure("load session", err)
	}
	if !found {
		return nil, nil
	}

	var record SessionRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		// An undecodable record cannot authenticate anyone; drop it.
		s.log.Warn("discarding corrupt session record", zap.Error(err))
		_ = s.store.Delete(ctx, sessionKey(sessionID))
		return nil, nil
	}
	record.IsCurrent = false
	return &record, nil
}

// Revoke deletes the session and removes it from the user's index. It reports whether
// a session owned by userID existed.
func (s *SessionStore) Revoke(ctx context.Context, sessionID, userID string) (bool, error) {
	record, err := s.Get(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if record != nil && record.UserID != userID {
		return false, nil
	}

	if err := s.store.Delete(ctx, sessionKey(sessionID)); err != nil {
		return false, infrastructure("delete session", err)
	}
	if err := s.store.SetRemove(ctx, userSessionsKey(userID), sessionID); err != nil {
		return false, infrastructure("unindex session", err)
	}

	if record != nil {
		metrics.SessionEvents.WithLabelValues("revoked").Inc()
	}
	return record != nil, nil
}

// RevokeAllExcept deletes every session of the user other than current and returns how
// many live sessions were revoked. Stale index entries are pruned along the way.
func (s *SessionStore) RevokeAllExcept(ctx context.Context, currentSessionID, userID string) (int, error) {
	ids, err := s.store.SetMembers(ctx, userSessionsKey(userID))
	if err != nil {
		return 0, infrastructure("list sessions", err)
	}

	var (
		revoked int
		removed []string
	)
	for _, id := range ids {
		if id == currentSessionID {
			continue
		}
		record, err := s.Get(ctx, id)
		if err != nil {
			return revoked, err
		}
		removed = append(removed, id)
		if record == nil {
			continue
		}
		if err := s.store.Delete(ctx, sessionKey(id)); err != nil {
			return revoked, infrastructure("delete session", err)
		}
		revoked++
	}

	if err := s.store.SetRemove(ctx, userSessionsKey(userID), removed...); err != nil {
		return revoked, infrastructure("unindex sessions", err)
	}

	if revoked > 0 {
		metrics.SessionEvents.WithLabelValues("revoked").Add(float64(revoked))
	}
	return revoked, nil
}

// RevokeAll deletes every session of the user, including the index itself.
func (s *SessionStore) RevokeAll(ctx context.Context, userID string) (int, error) {
	revoked, err := s.RevokeAllExcept(ctx, "", userID)
	if err != nil {
		return revoked, err
	}
	if err := s.store.Delete(ctx, userSessionsKey(userID)); err != nil {
		return revoked, infrastructure("delete session index", err)
	}
	return revoked, nil
}

// ListActive returns the user's live sessions, newest login first, flagging the current one.
func (s *SessionStore) ListActive(ctx context.Context, userID, currentSessionID string) ([]SessionRecord, error) {
	ids, err := s.store.SetMembers(ctx, userSessionsKey(userID))
	if err != nil {
		return nil, infrastructure("list sessions", err)
	}

	sessions := make([]SessionRecord, 0, len(ids))
	var stale []string
	for _, id := range ids {
		record, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if record == nil || record.UserID != userID {
			stale = append(stale, id)
			continue
		}
		record.IsCurrent = currentSessionID != "" && id == currentSessionID
		sessions = append(sessions, *record)
	}

	if len(stale) > 0 {
		if err := s.store.SetRemove(ctx, userSessionsKey(userID), stale...); err != nil {
			s.log.Warn("prune session index failed", zap.String("user_id", userID), zap.Error(err))
		}
	}

	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].LoginTime.After(sessions[j].LoginTime)
	})
	return sessions, nil
}

// PruneIndexes walks every user's session index and drops entries whose record is gone.
// It returns the number of entries removed.
func (s *SessionStore) PruneIndexes(ctx context.Context) (int, error) {
	keys, err := s.store.Keys(ctx, userSessionsKeyPrefix+"*")
	if err != nil {
		return 0, infrastructure("list session indexes", err)
	}

	pruned := 0
	for _, key := range keys {
		userID := strings.TrimPrefix(key, userSessionsKeyPrefix)
		ids, err := s.store.SetMembers(ctx, key)
		if err != nil {
			return pruned, infrastructure("list sessions", err)
		}
		var stale []string
		for _, id := range ids {
			record, err := s.Get(ctx, id)
			if err != nil {
				return pruned, err
			}
			if record == nil || record.UserID != userID {
				stale = append(stale, id)
			}
		}
		if len(stale) == 0 {
			continue
		}
		if err := s.store.SetRemove(ctx, key, stale...); err != nil {
			return pruned, infrastructure("prune session index", err)
		}
		pruned += len(stale)
	}
	return pruned, nil
}

func (s *SessionStore) save(ctx context.Context, record *SessionRecord) error {
	stored := *record
	stored.IsCurrent = false
	payload, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("session store: encode: %w", err)
	}
	if err := s.store.Set(ctx, sessionKey(record.SessionID), payload, s.ttl); err != nil {
		return infrastructure("save session", err)
	}
	return nil
}

// discard removes an idle session; failures only delay the cleanup.
func (s *SessionStore) discard(ctx context.Context, record *SessionRecord) {
	if err := s.store.Delete(ctx, sessionKey(record.SessionID)); err != nil {
		s.log.Warn("delete idle session failed", zap.Error(err))
	}
	if err := s.store.SetRemove(ctx, userSessionsKey(record.UserID), record.SessionID); err != nil {
		s.log.Warn("unindex idle session failed", zap.Error(err))
	}
}

func sessionKey(sessionID string) string {
	return sessionKeyPrefix + sessionID
}

func userSessionsKey(userID string) string {
	return userSessionsKeyPrefix + userID
}
