package acl

import (
	"strings"
	"sync"
)

// Rule grants or denies publish/subscribe access to every topic under
// a prefix (matched by exact segment sequence, not MQTT wildcards).
type Rule struct {
	Prefix []string
	Allow  bool
}

// MemoryACL is a credential-map, allow-all-by-default ACL, grounded on
// MemoryBackend.Authenticate's "allow all if Credentials is nil, else
// exact username/password match" rule, extended with a prefix-keyed
// publish/subscribe rule table so retained-replay filtering
// (SPEC_FULL.md §4.2) has something non-trivial to exercise.
type MemoryACL struct {
	mu sync.RWMutex

	// Credentials maps username to password. A nil map allows every
	// client through Connect.
	Credentials map[string]string

	// Rules are evaluated in order; the first matching prefix decides.
	// No match defaults to allow.
	Rules []Rule
}

// NewMemoryACL returns an allow-all MemoryACL.
func NewMemoryACL() *MemoryACL {
	return &MemoryACL{}
}

func (m *MemoryACL) NewUserContext(pool, clientID string) any {
	return clientID
}

func (m *MemoryACL) Connect(req ConnectRequest, userContext any) (ConnectResponse, any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.Credentials == nil {
		return ConnectResponse{}, userContext, nil
	}

	if pw, ok := m.Credentials[req.Username]; ok && pw == string(req.Password) {
		return ConnectResponse{}, userContext, nil
	}

	return ConnectResponse{}, userContext, ErrNotAuthorized
}

func (m *MemoryACL) Reauth(req AuthRequest, userContext any) (AuthResponse, any, error) {
	return AuthResponse{Data: req.Data}, userContext, nil
}

func (m *MemoryACL) IsAllowed(_ Operation, topic []string, _ Message, _ any) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, rule := range m.Rules {
		if hasPrefix(topic, rule.Prefix) {
			return rule.Allow
		}
	}

	return true
}

func hasPrefix(topic, prefix []string) bool {
	if len(prefix) > len(topic) {
		return false
	}
	for i, seg := range prefix {
		if topic[i] != seg {
			return false
		}
	}
	return true
}

// ParsePrefix splits a "/"-joined prefix string into segments, for
// callers building a Rule from configuration.
func ParsePrefix(prefix string) []string {
	if prefix == "" {
		return nil
	}
	return strings.Split(prefix, "/")
}
