package engine

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/suite"

	"groupsync/internal/reconcile/models"
)

type KeyTableSuite struct {
	suite.Suite
	table *keyTable
}

func TestKeyTableSuite(t *testing.T) {
	suite.Run(t, new(KeyTableSuite))
}

func (s *KeyTableSuite) SetupTest() {
	s.table = newKeyTable()
}

func (s *KeyTableSuite) TestEntriesAreReclaimedWhenIdle() {
	key := models.Key{Project: "p1", User: "alice"}

	entry := s.table.acquire(key)
	s.table.mu.Lock()
	s.Len(s.table.entries, 1)
	s.table.mu.Unlock()

	s.table.release(key, entry)
	s.table.mu.Lock()
	s.Empty(s.table.entries)
	s.table.mu.Unlock()
}

func (s *KeyTableSuite) TestSequenceWatermarkSurvivesReclamation() {
	key := models.Key{Project: "p1", User: "alice"}

	entry := s.table.acquire(key)
	s.table.recordSeq(key, 7)
	s.table.release(key, entry)

	entry = s.table.acquire(key)
	defer s.table.release(key, entry)
	s.Equal(uint64(7), s.table.lastSeq(key))
}

func (s *KeyTableSuite) TestWatermarkNeverMovesBackwards() {
	key := models.Key{Project: "p1", User: "alice"}
	s.table.recordSeq(key, 9)
	s.table.recordSeq(key, 4)
	s.Equal(uint64(9), s.table.lastSeq(key))
}

func (s *KeyTableSuite) TestSerializesHoldersOfTheSameKey() {
	key := models.Key{Project: "p1", User: "alice"}
	const holders = 16

	var active, violations atomic.Int32
	var wg sync.WaitGroup
	for range holders {
		wg.Add(1)
		go func() {
			defer wg.Done()
			entry := s.table.acquire(key)
			if active.Add(1) > 1 {
				violations.Add(1)
			}
			active.Add(-1)
			s.table.release(key, entry)
		}()
	}
	wg.Wait()

	s.Zero(violations.Load())
	s.table.mu.Lock()
	s.Empty(s.table.entries)
	s.table.mu.Unlock()
}

func (s *KeyTableSuite) TestDistinctKeysDoNotBlockEachOther() {
	a := models.Key{Project: "p1", User: "alice"}
	b := models.Key{Project: "p1", User: "bob"}

	entryA := s.table.acquire(a)
	done := make(chan struct{})
	go func() {
		entryB := s.table.acquire(b)
		s.table.release(b, entryB)
		close(done)
	}()
	<-done
	s.table.release(a, entryA)
}
