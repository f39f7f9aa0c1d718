package engine

import (
	"sync"

	lru "github.com/hashicorp/golang-lru"

	"github.com/Varun-Patkar/RebirthRealm/internal/interfaces"
	"github.com/Varun-Patkar/RebirthRealm/internal/models"
)

// Session is the interactive position of one reader within a saga.
type Session struct {
	SagaID        string                `json:"sagaId"`
	CurrentNodeID string                `json:"currentNodeId,omitempty"`
	State         interfaces.StoryState `json:"state"`
}

// sessionCache keeps recently used sessions. An evicted session is rebuilt from
// the store on next access.
type sessionCache struct {
	mu    sync.Mutex
	cache *lru.Cache
}

func newSessionCache(size int) (*sessionCache, error) {
	if size <= 0 {
		size = 1024
	}
	cache, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &sessionCache{cache: cache}, nil
}

func sessionKey(scope models.Scope) string {
	return scope.SagaID + "/" + scope.UserID
}

// get returns a copy of the cached session.
func (c *sessionCache) get(scope models.Scope) (Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.cache.Get(sessionKey(scope))
	if !ok {
		return Session{}, false
	}
	return *v.(*Session), true
}

// update applies fn to the session, creating it when missing.
func (c *sessionCache) update(scope models.Scope, fn func(s *Session)) Session {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := sessionKey(scope)
	var s *Session
	if v, ok := c.cache.Get(key); ok {
		s = v.(*Session)
	} else {
		s = &Session{SagaID: scope.SagaID, State: interfaces.StateIdle}
		c.cache.Add(key, s)
	}
	fn(s)
	return *s
}

func (c *sessionCache) remove(scope models.Scope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Remove(sessionKey(scope))
}
