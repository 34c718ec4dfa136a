package retain

import (
	"sync"

	"github.com/qingcloudhx/mqttcore/topic"
)

// poolTree pairs a pool's topic.Tree with the mutex that serializes
// writers against it. topic.Tree's writes are only safe from a single
// serialized caller at a time (see tree.go), so this mutex must be held
// across the whole Insert/Delete call, not just the map lookup that
// finds the tree. SearchFilter is called under it as well.
type poolTree struct {
	mu   sync.Mutex
	tree *topic.Tree
}

// MemoryStore is an in-process Store, patterned on MemoryBackend's
// retainedMessages tree in broker/backend.go (Set on StoreRetained,
// Empty on ClearRetained, Search on QueueRetained), rebuilt over
// topic.Tree so it shares the router's RCU matching structure instead
// of a bespoke tools.Tree.
type MemoryStore struct {
	mu    sync.Mutex
	pools map[string]*poolTree
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{pools: make(map[string]*poolTree)}
}

func (s *MemoryStore) pool(pool string) *poolTree {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pools[pool]
	if !ok {
		p = &poolTree{tree: topic.NewTree()}
		s.pools[pool] = p
	}
	return p
}

func (s *MemoryStore) Store(pool string, msg Entry) error {
	p := s.pool(pool)
	p.mu.Lock()
	defer p.mu.Unlock()

	segments := topic.Normalize(msg.Topic)
	id := topic.Key(segments)

	if len(msg.Payload) == 0 {
		p.tree.Delete(segments, id)
		return nil
	}

	p.tree.Insert(segments, id, msg)
	return nil
}

func (s *MemoryStore) Clear(pool string, topicPath []string) error {
	p := s.pool(pool)
	p.mu.Lock()
	defer p.mu.Unlock()

	segments := topic.Normalize(topicPath)
	p.tree.Delete(segments, topic.Key(segments))
	return nil
}

func (s *MemoryStore) Search(pool string, filter []string) ([]Entry, error) {
	p := s.pool(pool)
	p.mu.Lock()
	matches := p.tree.SearchFilter(topic.Normalize(filter))
	p.mu.Unlock()

	entries := make([]Entry, 0, len(matches))
	for _, m := range matches {
		entries = append(entries, m.Value.(Entry))
	}
	return entries, nil
}
