// Package memory is an in-process store.Store. It honours the same
// conditional-update contract as the durable stores and is safe for
// concurrent use.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/MrEthical07/trustcore/audit"
	"github.com/MrEthical07/trustcore/store"
)

// Store keeps every record behind one RWMutex.
type Store struct {
	mu sync.RWMutex

	identities map[string]*store.Identity
	byEmail    map[string]string
	byUsername map[string]string

	sessions map[string]*store.Session

	events []audit.Event

	failAudit error
}

var _ store.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		identities: make(map[string]*store.Identity),
		byEmail:    make(map[string]string),
		byUsername: make(map[string]string),
		sessions:   make(map[string]*store.Session),
	}
}

// FailAuditWith makes every audit append and query return err; nil restores
// normal behaviour. Used to exercise degraded paths.
func (s *Store) FailAuditWith(err error) {
	s.mu.Lock()
	s.failAudit = err
	s.mu.Unlock()
}

func emailKey(email string) string { return strings.ToLower(strings.TrimSpace(email)) }

func usernameKey(username string) string { return strings.ToLower(username) }

func (s *Store) FindByEmail(_ context.Context, email string) (*store.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[emailKey(email)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return s.identities[id].Clone(), nil
}

func (s *Store) FindByID(_ context.Context, id string) (*store.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.identities[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return rec.Clone(), nil
}

func (s *Store) CreateIdentity(_ context.Context, identity *store.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.identities[identity.ID]; ok {
		return store.ErrDuplicate
	}
	if _, ok := s.byEmail[emailKey(identity.Email)]; ok {
		return store.ErrDuplicate
	}
	if _, ok := s.byUsername[usernameKey(identity.Username)]; ok {
		return store.ErrDuplicate
	}

	rec := identity.Clone()
	if rec.Version == 0 {
		rec.Version = 1
	}
	s.identities[rec.ID] = rec
	s.byEmail[emailKey(rec.Email)] = rec.ID
	s.byUsername[usernameKey(rec.Username)] = rec.ID
	identity.Version = rec.Version
	return nil
}

func (s *Store) UpdateIdentity(_ context.Context, identity *store.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.identities[identity.ID]
	if !ok {
		return store.ErrNotFound
	}
	if current.Version != identity.Version {
		return store.ErrConflict
	}
	if emailKey(current.Email) != emailKey(identity.Email) {
		if _, taken := s.byEmail[emailKey(identity.Email)]; taken {
			return store.ErrDuplicate
		}
		delete(s.byEmail, emailKey(current.Email))
		s.byEmail[emailKey(identity.Email)] = identity.ID
	}

	rec := identity.Clone()
	rec.Version = current.Version + 1
	s.identities[rec.ID] = rec
	identity.Version = rec.Version
	return nil
}

func (s *Store) ListIdentities(_ context.Context, q store.IdentityQuery) ([]*store.Identity, int, error) {
	q = q.Normalized()

	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*store.Identity
	for _, rec := range s.identities {
		if q.Matches(rec) {
			matched = append(matched, rec)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID < matched[j].ID
	})

	total := len(matched)
	if q.Offset >= total {
		return []*store.Identity{}, total, nil
	}
	page := matched[q.Offset:min(q.Offset+q.Limit, total)]
	out := make([]*store.Identity, len(page))
	for i, rec := range page {
		out[i] = rec.Clone()
	}
	return out, total, nil
}

func (s *Store) CreateSession(_ context.Context, sess *store.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sess.TokenHash]; ok {
		return store.ErrDuplicate
	}
	s.sessions[sess.TokenHash] = sess.Clone()
	return nil
}

func (s *Store) FindSessionByTokenHash(_ context.Context, tokenHash string) (*store.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[tokenHash]
	if !ok {
		return nil, store.ErrNotFound
	}
	return sess.Clone(), nil
}

func (s *Store) RevokeSession(_ context.Context, identityID, tokenHash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[tokenHash]
	if !ok || sess.IdentityID != identityID || sess.Revoked {
		return false, nil
	}
	sess.Revoked = true
	return true, nil
}

func (s *Store) RevokeIdentitySessions(_ context.Context, identityID, keepTokenHash string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for hash, sess := range s.sessions {
		if sess.IdentityID != identityID || sess.Revoked || hash == keepTokenHash {
			continue
		}
		sess.Revoked = true
		n++
	}
	return n, nil
}

func (s *Store) DeleteExpiredSessions(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for hash, sess := range s.sessions {
		if !now.Before(sess.ExpiresAt) {
			delete(s.sessions, hash)
			n++
		}
	}
	return n, nil
}

func (s *Store) AppendAuditEvent(_ context.Context, event audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failAudit != nil {
		return s.failAudit
	}
	event.Details = cloneDetails(event.Details)
	s.events = append(s.events, event)
	return nil
}

func (s *Store) QueryAuditEvents(_ context.Context, q audit.Query) ([]audit.Event, error) {
	q = q.Normalized()

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.failAudit != nil {
		return nil, s.failAudit
	}
	out := make([]audit.Event, 0, min(q.Limit, len(s.events)))
	for _, ev := range s.events {
		if q.Matches(ev) {
			ev.Details = cloneDetails(ev.Details)
			out = append(out, ev)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// Sessions returns a snapshot of every stored session. Test helper.
func (s *Store) Sessions() []*store.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*store.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess.Clone())
	}
	return out
}

func cloneDetails(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
