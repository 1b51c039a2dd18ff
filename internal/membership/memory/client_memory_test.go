package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"
)

type MemoryClientSuite struct {
	suite.Suite
	client *Client
	ctx    context.Context
}

func TestMemoryClientSuite(t *testing.T) {
	suite.Run(t, new(MemoryClientSuite))
}

func (s *MemoryClientSuite) SetupTest() {
	s.client = New()
	s.ctx = context.Background()
}

func (s *MemoryClientSuite) TestAddIsIdempotent() {
	changed, err := s.client.AddMember(s.ctx, "lab-a", "alice")
	s.Require().NoError(err)
	s.True(changed)

	changed, err = s.client.AddMember(s.ctx, "lab-a", "alice")
	s.Require().NoError(err)
	s.False(changed)

	ok, err := s.client.IsMember(s.ctx, "lab-a", "alice")
	s.Require().NoError(err)
	s.True(ok)
}

func (s *MemoryClientSuite) TestRemoveIsIdempotent() {
	_, err := s.client.AddMember(s.ctx, "lab-a", "alice")
	s.Require().NoError(err)

	changed, err := s.client.RemoveMember(s.ctx, "lab-a", "alice")
	s.Require().NoError(err)
	s.True(changed)

	changed, err = s.client.RemoveMember(s.ctx, "lab-a", "alice")
	s.Require().NoError(err)
	s.False(changed)

	s.Run("removing from an unknown group is a no-op", func() {
		changed, err := s.client.RemoveMember(s.ctx, "no-such-group", "alice")
		s.Require().NoError(err)
		s.False(changed)
	})
}

func (s *MemoryClientSuite) TestListMembers() {
	for _, user := range []string{"alice", "bob"} {
		_, err := s.client.AddMember(s.ctx, "lab-a", user)
		s.Require().NoError(err)
	}

	members, err := s.client.ListMembers(s.ctx, "lab-a")
	s.Require().NoError(err)
	s.ElementsMatch([]string{"alice", "bob"}, members)

	members, err = s.client.ListMembers(s.ctx, "empty")
	s.Require().NoError(err)
	s.Empty(members)
}
