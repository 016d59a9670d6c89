package imageproc

import (
	"context"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
)

// sessionTTL bounds how long a decoded image may stay around if a session is never closed.
const sessionTTL = 5 * time.Minute

type sessionKey struct{}

// Session caches decoded source images for the duration of one upload request.
type Session struct {
	cache *cache.Cache
}

func newSession() *Session {
	return &Session{cache: cache.New(sessionTTL, 0)}
}

func (s *Session) Close() {
	s.cache.Flush()
}

func sessionFrom(ctx context.Context) *Session {
	if s, ok := ctx.Value(sessionKey{}).(*Session); ok {
		return s
	}
	return nil
}

func (s *Session) remember(key string, load func() (interface{}, error)) (interface{}, error) {
	if s == nil {
		return load()
	}
	if v, ok := s.cache.Get(key); ok {
		return v, nil
	}
	v, err := load()
	if err != nil {
		return nil, err
	}
	s.cache.SetDefault(key, v)
	return v, nil
}

// forget drops every cached entry decoded from path.
func (s *Session) forget(path string) {
	if s == nil {
		return
	}
	for key := range s.cache.Items() {
		if strings.HasPrefix(key, path+"|") {
			s.cache.Delete(key)
		}
	}
}

func cacheKey(path, variant string) string {
	return path + "|" + variant
}
