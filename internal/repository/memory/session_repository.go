package memory

import (
	"errors"
	"time"

	"csv-analyst-be/pkg/store"

	"github.com/patrickmn/go-cache"
)

var ErrSessionGone = errors.New("session deleted or expired")

type SessionRepository struct {
	cache *cache.Cache
}

// NewSessionRepository keeps sessions for ttl after their last Save and
// purges expired ones every cleanup interval.
func NewSessionRepository(ttl, cleanup time.Duration) *SessionRepository {
	return &SessionRepository{
		cache: cache.New(ttl, cleanup),
	}
}

// Save stores the session and restarts its expiry.
func (r *SessionRepository) Save(session *store.Session) {
	r.cache.Set(session.ID, session, cache.DefaultExpiration)
}

// Touch restarts the expiry of a stored session. Unlike Save it never
// re-inserts a session that was deleted or has expired.
func (r *SessionRepository) Touch(session *store.Session) error {
	if err := r.cache.Replace(session.ID, session, cache.DefaultExpiration); err != nil {
		return ErrSessionGone
	}
	return nil
}

func (r *SessionRepository) Get(sessionID string) (*store.Session, bool) {
	if x, found := r.cache.Get(sessionID); found {
		return x.(*store.Session), true
	}
	return nil, false
}

func (r *SessionRepository) Delete(sessionID string) {
	r.cache.Delete(sessionID)
}

func (r *SessionRepository) Count() int {
	return r.cache.ItemCount()
}
