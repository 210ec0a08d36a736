package broker

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
)

// Memory is an in-process partitioned log with a single consumer group.
// Records are partitioned by key hash. Committed offsets survive sources,
// so a new Source resumes at the last commit and redelivers everything
// fetched but never committed.
type Memory struct {
	mu        sync.Mutex
	topic     string
	parts     [][]Record
	committed []int64
	signal    chan struct{}
	closed    bool
}

func NewMemory(topic string, partitions int) *Memory {
	if partitions <= 0 {
		partitions = 1
	}
	return &Memory{
		topic:     topic,
		parts:     make([][]Record, partitions),
		committed: make([]int64, partitions),
		signal:    make(chan struct{}),
	}
}

func (m *Memory) partition(key string) int32 {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int32(h.Sum32() % uint32(len(m.parts)))
}

func (m *Memory) Publish(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	p := m.partition(rec.Key)
	rec.Topic = m.topic
	rec.Partition = p
	rec.Offset = int64(len(m.parts[p]))
	rec.Attempt = 0
	m.parts[p] = append(m.parts[p], rec)

	close(m.signal)
	m.signal = make(chan struct{})
	return nil
}

// Source opens a consumer positioned at the committed offsets.
func (m *Memory) Source() *MemorySource {
	m.mu.Lock()
	defer m.mu.Unlock()

	pos := make([]int64, len(m.committed))
	copy(pos, m.committed)
	return &MemorySource{m: m, pos: pos, done: make(chan struct{})}
}

// Committed returns the next offset to consume for a partition.
func (m *Memory) Committed(partition int32) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.committed[partition]
}

// Len returns the number of records published to a partition.
func (m *Memory) Len(partition int32) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.parts[partition])
}

// PartitionFor returns the partition a key is assigned to.
func (m *Memory) PartitionFor(key string) int32 {
	return m.partition(key)
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.signal)
	}
	return nil
}

// MemorySource consumes a Memory broker.
type MemorySource struct {
	m    *Memory
	pos  []int64
	next int
	done chan struct{}
	once sync.Once
}

func (s *MemorySource) Fetch(ctx context.Context) (Record, error) {
	for {
		s.m.mu.Lock()
		if s.m.closed {
			s.m.mu.Unlock()
			return Record{}, ErrClosed
		}

		n := len(s.m.parts)
		for i := 0; i < n; i++ {
			p := (s.next + i) % n
			if s.pos[p] < int64(len(s.m.parts[p])) {
				rec := s.m.parts[p][s.pos[p]]
				s.pos[p]++
				s.next = (p + 1) % n
				s.m.mu.Unlock()
				return rec, nil
			}
		}
		signal := s.m.signal
		s.m.mu.Unlock()

		select {
		case <-ctx.Done():
			return Record{}, ctx.Err()
		case <-s.done:
			return Record{}, ErrClosed
		case <-signal:
		}
	}
}

func (s *MemorySource) Commit(ctx context.Context, rec Record) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	if rec.Partition < 0 || int(rec.Partition) >= len(s.m.committed) {
		return fmt.Errorf("unknown partition %d", rec.Partition)
	}
	if next := rec.Offset + 1; next > s.m.committed[rec.Partition] {
		s.m.committed[rec.Partition] = next
	}
	return nil
}

func (s *MemorySource) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}
