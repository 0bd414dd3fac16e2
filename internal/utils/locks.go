package utils

import (
	"hash/fnv"
	"sync"
)

// StripedMutex 按 key 分段加锁：同一 key 串行，不同 key 大概率并行
type StripedMutex struct {
	stripes []sync.Mutex
}

func NewStripedMutex(n int) *StripedMutex {
	if n < 1 {
		n = 1
	}
	return &StripedMutex{stripes: make([]sync.Mutex, n)}
}

func (m *StripedMutex) stripe(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &m.stripes[h.Sum32()%uint32(len(m.stripes))]
}

// Lock 锁住 key 所在分段，返回解锁函数
func (m *StripedMutex) Lock(key string) func() {
	mu := m.stripe(key)
	mu.Lock()
	return mu.Unlock
}
