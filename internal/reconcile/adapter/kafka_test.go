package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"groupsync/internal/directory"
	directorymemory "groupsync/internal/directory/memory"
	membershipmemory "groupsync/internal/membership/memory"
	"groupsync/internal/platform/kafka/consumer"
	"groupsync/internal/reconcile/engine"
	"groupsync/internal/reconcile/models"
	"groupsync/pkg/platform/sentinel"
)

// blinkingStore fails the first failures project lookups as unavailable,
// then delegates to the wrapped store.
type blinkingStore struct {
	directory.Store
	failures int
	calls    int
}

func (b *blinkingStore) GetProject(ctx context.Context, id string) (*directory.Project, error) {
	b.calls++
	if b.failures > 0 {
		b.failures--
		return nil, fmt.Errorf("directory replica down: %w", sentinel.ErrUnavailable)
	}
	return b.Store.GetProject(ctx, id)
}

// KafkaRunnerSuite exercises the record handler directly; the poll loop
// around it only moves bytes.
type KafkaRunnerSuite struct {
	suite.Suite
	ctx     context.Context
	dir     *directorymemory.Store
	backend *membershipmemory.Client
}

func TestKafkaRunnerSuite(t *testing.T) {
	suite.Run(t, new(KafkaRunnerSuite))
}

func (s *KafkaRunnerSuite) SetupTest() {
	s.ctx = context.Background()
	s.dir = directorymemory.New()
	s.backend = membershipmemory.New()

	p := directory.Project{ID: "p1", Status: directory.ProjectStatusActive}
	p.Attributes = append(p.Attributes, directory.Attribute{Name: "ldap_group", Value: "lab-a"})
	s.dir.SeedProject(p)
	s.dir.SeedProjectUser(directory.ProjectUser{ProjectID: "p1", UserID: "alice", Status: directory.UserStatusActive})
}

func (s *KafkaRunnerSuite) newRunner(store directory.Store) *KafkaRunner {
	eng, err := engine.New(s.backend, models.PolicyProjectLevel)
	s.Require().NoError(err)
	a, err := New(Config{
		Policy:                 models.PolicyProjectLevel,
		GroupAttributeName:     "ldap_group",
		SignalsEnabled:         true,
		RemoveOnProjectArchive: true,
	}, store, eng)
	s.Require().NoError(err)

	r := NewKafkaRunner(nil, a, nil)
	r.retryInterval = time.Millisecond
	return r
}

func (s *KafkaRunnerSuite) record(n Notification) *consumer.Message {
	payload, err := json.Marshal(n)
	s.Require().NoError(err)
	return &consumer.Message{Topic: "portal.lifecycle.events", Partition: 0, Offset: 42, Value: payload}
}

func (s *KafkaRunnerSuite) TestTransientDispatchFailureIsHeldAndRetried() {
	flaky := &blinkingStore{Store: s.dir, failures: 2}
	r := s.newRunner(flaky)

	err := r.handle(s.ctx, s.record(Notification{
		Kind: models.EventProjectUserActivated, ProjectID: "p1", UserID: "alice",
		PrevStatus: directory.UserStatusPending, NextStatus: directory.UserStatusActive,
	}))
	s.Require().NoError(err, "a directory blip must not cost the record")
	s.Equal(3, flaky.calls)

	ok, err := s.backend.IsMember(s.ctx, "lab-a", "alice")
	s.Require().NoError(err)
	s.True(ok, "the event took effect once the directory came back")
}

func (s *KafkaRunnerSuite) TestMalformedPayloadIsPoisoned() {
	r := s.newRunner(s.dir)

	err := r.handle(s.ctx, &consumer.Message{Topic: "portal.lifecycle.events", Value: []byte("{not json")})
	s.Require().Error(err, "undecodable records are skipped, not held")
}

func (s *KafkaRunnerSuite) TestUnknownProjectIsNotRetried() {
	flaky := &blinkingStore{Store: s.dir}
	r := s.newRunner(flaky)

	err := r.handle(s.ctx, s.record(Notification{
		Kind: models.EventProjectArchived, ProjectID: "ghost",
	}))
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
	s.Equal(1, flaky.calls, "terminal rejections do not retry")
}

func (s *KafkaRunnerSuite) TestCancellationStopsRetrying() {
	flaky := &blinkingStore{Store: s.dir, failures: 1 << 30}
	r := s.newRunner(flaky)

	ctx, cancel := context.WithTimeout(s.ctx, 10*time.Millisecond)
	defer cancel()
	err := r.handle(ctx, s.record(Notification{
		Kind: models.EventProjectUserActivated, ProjectID: "p1", UserID: "alice",
	}))
	s.Require().Error(err, "shutdown releases a held record uncommitted")
}
