package bridge

import (
	"fmt"

	"github.com/dgraph-io/ristretto"
)

// lastPayloads remembers the last payload published on each topic.
type lastPayloads struct {
	cache *ristretto.Cache
}

func newLastPayloads() (*lastPayloads, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10000,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create ristretto cache: %w", err)
	}
	return &lastPayloads{cache: cache}, nil
}

// same reports whether payload was the last one stored for topic.
func (l *lastPayloads) same(topic string, payload []byte) bool {
	v, ok := l.cache.Get(topic)
	if !ok {
		return false
	}
	last, ok := v.(string)
	return ok && last == string(payload)
}

func (l *lastPayloads) store(topic string, payload []byte) {
	l.cache.Set(topic, string(payload), int64(len(topic)+len(payload)))
	l.cache.Wait()
}

func (l *lastPayloads) forget(topic string) {
	l.cache.Del(topic)
}

func (l *lastPayloads) clear() {
	l.cache.Clear()
}

func (l *lastPayloads) close() {
	l.cache.Close()
}
