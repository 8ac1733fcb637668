package checkpoint

import (
	"maps"
	"strings"
)

// ReservedPrefix is the key prefix owned by the platform. User properties
// may never start with it, in any letter case.
const ReservedPrefix = "corda."

// ContextStore holds one frame's two disjoint property maps.
type ContextStore struct {
	platform map[string]string
	user     map[string]string
}

func newContextStore(platform, user map[string]string) ContextStore {
	s := ContextStore{
		platform: maps.Clone(platform),
		user:     maps.Clone(user),
	}
	if s.platform == nil {
		s.platform = map[string]string{}
	}
	if s.user == nil {
		s.user = map[string]string{}
	}
	return s
}

// Lookup returns the value bound to key in this frame, checking platform
// properties before user properties.
func (s *ContextStore) Lookup(key string) (string, bool) {
	if v, ok := s.platform[key]; ok {
		return v, true
	}
	v, ok := s.user[key]
	return v, ok
}

// HasPlatform reports whether key is a platform property in this frame.
func (s *ContextStore) HasPlatform(key string) bool {
	_, ok := s.platform[key]
	return ok
}

// PlatformProperties returns a copy of the frame's platform map.
func (s *ContextStore) PlatformProperties() map[string]string {
	return maps.Clone(s.platform)
}

// UserProperties returns a copy of the frame's user map.
func (s *ContextStore) UserProperties() map[string]string {
	return maps.Clone(s.user)
}

func hasReservedPrefix(key string) bool {
	return len(key) >= len(ReservedPrefix) && strings.EqualFold(key[:len(ReservedPrefix)], ReservedPrefix)
}
