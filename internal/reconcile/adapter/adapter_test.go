package adapter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"groupsync/internal/directory"
	directorymemory "groupsync/internal/directory/memory"
	membershipmemory "groupsync/internal/membership/memory"
	"groupsync/internal/reconcile/engine"
	"groupsync/internal/reconcile/models"
)

// AdapterSuite wires a real engine over the in-memory backend so dispatch
// behavior is observable as final membership state.
type AdapterSuite struct {
	suite.Suite
	ctx     context.Context
	dir     *directorymemory.Store
	backend *membershipmemory.Client
}

func TestAdapterSuite(t *testing.T) {
	suite.Run(t, new(AdapterSuite))
}

func (s *AdapterSuite) SetupTest() {
	s.ctx = context.Background()
	s.dir = directorymemory.New()
	s.backend = membershipmemory.New()
}

func (s *AdapterSuite) newAdapter(cfg Config) *Adapter {
	eng, err := engine.New(s.backend, cfg.Policy)
	s.Require().NoError(err)
	a, err := New(cfg, s.dir, eng)
	s.Require().NoError(err)
	return a
}

func (s *AdapterSuite) projectConfig() Config {
	return Config{
		Policy:                 models.PolicyProjectLevel,
		GroupAttributeName:     "ldap_group",
		SignalsEnabled:         true,
		RemoveOnProjectArchive: true,
	}
}

func (s *AdapterSuite) allocationConfig() Config {
	cfg := s.projectConfig()
	cfg.Policy = models.PolicyAllocationLevel
	return cfg
}

func (s *AdapterSuite) seedProject(id, status string, groups ...string) {
	p := directory.Project{ID: id, Status: status, PIUserID: "pi"}
	for _, g := range groups {
		p.Attributes = append(p.Attributes, directory.Attribute{Name: "ldap_group", Value: g})
	}
	s.dir.SeedProject(p)
}

func (s *AdapterSuite) seedAllocation(id, projectID, status string, groups ...string) {
	a := directory.Allocation{ID: id, ProjectID: projectID, Status: status}
	for _, g := range groups {
		a.Attributes = append(a.Attributes, directory.Attribute{Name: "ldap_group", Value: g})
	}
	s.dir.SeedAllocation(a)
}

func (s *AdapterSuite) member(group, user string) bool {
	ok, err := s.backend.IsMember(s.ctx, group, user)
	s.Require().NoError(err)
	return ok
}

func (s *AdapterSuite) TestConstruction() {
	eng, err := engine.New(s.backend, models.PolicyProjectLevel)
	s.Require().NoError(err)

	_, err = New(Config{Policy: models.PolicyProjectLevel}, s.dir, eng)
	s.Require().Error(err, "group attribute name is mandatory")

	_, err = New(s.projectConfig(), nil, eng)
	s.Require().Error(err)
}

func (s *AdapterSuite) TestProjectUserActivation() {
	s.seedProject("p1", directory.ProjectStatusActive, "lab-a")
	s.dir.SeedProjectUser(directory.ProjectUser{ProjectID: "p1", UserID: "alice", Status: directory.UserStatusActive})
	a := s.newAdapter(s.projectConfig())

	s.Run("adds the user to every project group", func() {
		outcomes, err := a.Dispatch(s.ctx, Notification{
			Kind: models.EventProjectUserActivated, ProjectID: "p1", UserID: "alice",
			PrevStatus: directory.UserStatusPending, NextStatus: directory.UserStatusActive,
		})
		s.Require().NoError(err)
		s.Require().Len(outcomes, 1)
		s.Equal(models.StatusApplied, outcomes[0].Results[0].Status)
		s.True(s.member("lab-a", "alice"))
	})

	s.Run("redelivery reports already satisfied", func() {
		outcomes, err := a.Dispatch(s.ctx, Notification{
			Kind: models.EventProjectUserActivated, ProjectID: "p1", UserID: "alice",
			PrevStatus: directory.UserStatusPending, NextStatus: directory.UserStatusActive,
		})
		s.Require().NoError(err)
		s.Require().Len(outcomes, 1)
		s.Equal(models.StatusAlreadySatisfied, outcomes[0].Results[0].Status)
	})
}

func (s *AdapterSuite) TestDiscardConditions() {
	s.seedProject("p1", directory.ProjectStatusActive, "lab-a")
	s.dir.SeedProjectUser(directory.ProjectUser{ProjectID: "p1", UserID: "alice", Status: directory.UserStatusPending})

	s.Run("signals disabled discards everything", func() {
		cfg := s.projectConfig()
		cfg.SignalsEnabled = false
		a := s.newAdapter(cfg)

		outcomes, err := a.Dispatch(s.ctx, Notification{
			Kind: models.EventProjectUserActivated, ProjectID: "p1", UserID: "alice",
		})
		s.Require().NoError(err)
		s.Nil(outcomes)
	})

	s.Run("non-qualifying transition is discarded", func() {
		a := s.newAdapter(s.projectConfig())
		outcomes, err := a.Dispatch(s.ctx, Notification{
			Kind: models.EventProjectUserActivated, ProjectID: "p1", UserID: "alice",
			PrevStatus: directory.UserStatusActive, NextStatus: directory.UserStatusActive,
		})
		s.Require().NoError(err)
		s.Nil(outcomes)
	})

	s.Run("member record status mismatch is discarded", func() {
		// Record says Pending; an activation signal without transition data
		// must not add the user.
		a := s.newAdapter(s.projectConfig())
		outcomes, err := a.Dispatch(s.ctx, Notification{
			Kind: models.EventProjectUserActivated, ProjectID: "p1", UserID: "alice",
		})
		s.Require().NoError(err)
		s.Nil(outcomes)
		s.False(s.member("lab-a", "alice"))
	})

	s.Run("inactive project blocks additions", func() {
		s.seedProject("p2", directory.ProjectStatusNew, "lab-b")
		s.dir.SeedProjectUser(directory.ProjectUser{ProjectID: "p2", UserID: "alice", Status: directory.UserStatusActive})
		a := s.newAdapter(s.projectConfig())
		outcomes, err := a.Dispatch(s.ctx, Notification{
			Kind: models.EventProjectUserActivated, ProjectID: "p2", UserID: "alice",
		})
		s.Require().NoError(err)
		s.Nil(outcomes)
	})

	s.Run("unknown kind is an error", func() {
		a := s.newAdapter(s.projectConfig())
		_, err := a.Dispatch(s.ctx, Notification{Kind: "project_rename", ProjectID: "p1"})
		s.Require().Error(err)
	})
}

func (s *AdapterSuite) TestOverlapProtectionOnRemoval() {
	// alice is active on two projects sharing the hpc-users group. Removal
	// from p1 must keep hpc-users, which p2 still grants.
	s.seedProject("p1", directory.ProjectStatusActive, "hpc-users", "lab-a")
	s.seedProject("p2", directory.ProjectStatusActive, "hpc-users")
	s.dir.SeedProjectUser(directory.ProjectUser{ProjectID: "p1", UserID: "alice", Status: directory.UserStatusRemoved})
	s.dir.SeedProjectUser(directory.ProjectUser{ProjectID: "p2", UserID: "alice", Status: directory.UserStatusActive})

	s.Require().NoError(errSeed(s.backend.AddMember(s.ctx, "hpc-users", "alice")))
	s.Require().NoError(errSeed(s.backend.AddMember(s.ctx, "lab-a", "alice")))

	a := s.newAdapter(s.projectConfig())
	outcomes, err := a.Dispatch(s.ctx, Notification{
		Kind: models.EventProjectUserRemoved, ProjectID: "p1", UserID: "alice",
		PrevStatus: directory.UserStatusActive, NextStatus: directory.UserStatusRemoved,
	})
	s.Require().NoError(err)
	s.Require().Len(outcomes, 1)

	s.False(s.member("lab-a", "alice"))
	s.True(s.member("hpc-users", "alice"), "group held through p2 must survive")
}

func (s *AdapterSuite) TestAllocationTransitionExpansion() {
	s.seedProject("p1", directory.ProjectStatusActive)
	s.seedAllocation("a1", "p1", directory.AllocationStatusActive, "cluster-x")
	s.dir.SeedAllocationUser(directory.AllocationUser{AllocationID: "a1", UserID: "alice", Status: directory.UserStatusActive})
	s.dir.SeedAllocationUser(directory.AllocationUser{AllocationID: "a1", UserID: "bob", Status: directory.UserStatusActive})
	s.dir.SeedAllocationUser(directory.AllocationUser{AllocationID: "a1", UserID: "carol", Status: directory.UserStatusRemoved})

	a := s.newAdapter(s.allocationConfig())

	s.Run("activation adds every active allocation user", func() {
		outcomes, err := a.Dispatch(s.ctx, Notification{
			Kind: models.EventAllocationActivated, ProjectID: "p1", AllocationID: "a1",
			PrevStatus: directory.AllocationStatusNew, NextStatus: directory.AllocationStatusActive,
		})
		s.Require().NoError(err)
		s.Len(outcomes, 2)
		s.True(s.member("cluster-x", "alice"))
		s.True(s.member("cluster-x", "bob"))
		s.False(s.member("cluster-x", "carol"), "removed users are not expanded")
	})

	s.Run("disable removes them again", func() {
		outcomes, err := a.Dispatch(s.ctx, Notification{
			Kind: models.EventAllocationDisabled, ProjectID: "p1", AllocationID: "a1",
			PrevStatus: directory.AllocationStatusActive, NextStatus: directory.AllocationStatusExpired,
		})
		s.Require().NoError(err)
		s.Len(outcomes, 2)
		s.False(s.member("cluster-x", "alice"))
		s.False(s.member("cluster-x", "bob"))
	})

	s.Run("activation not entering Active is discarded", func() {
		outcomes, err := a.Dispatch(s.ctx, Notification{
			Kind: models.EventAllocationActivated, ProjectID: "p1", AllocationID: "a1",
			PrevStatus: directory.AllocationStatusActive, NextStatus: directory.AllocationStatusActive,
		})
		s.Require().NoError(err)
		s.Nil(outcomes)
	})
}

func (s *AdapterSuite) TestProjectArchiveProjectLevel() {
	s.seedProject("p1", directory.ProjectStatusArchived, "lab-a")
	s.dir.SeedProjectUser(directory.ProjectUser{ProjectID: "p1", UserID: "alice", Status: directory.UserStatusActive})
	s.Require().NoError(errSeed(s.backend.AddMember(s.ctx, "lab-a", "alice")))
	s.Require().NoError(errSeed(s.backend.AddMember(s.ctx, "lab-a", "pi")))

	s.Run("removes members and the PI", func() {
		a := s.newAdapter(s.projectConfig())
		outcomes, err := a.Dispatch(s.ctx, Notification{
			Kind: models.EventProjectArchived, ProjectID: "p1",
		})
		s.Require().NoError(err)
		s.Len(outcomes, 2)
		s.False(s.member("lab-a", "alice"))
		s.False(s.member("lab-a", "pi"))
	})

	s.Run("disabled by config", func() {
		cfg := s.projectConfig()
		cfg.RemoveOnProjectArchive = false
		a := s.newAdapter(cfg)
		outcomes, err := a.Dispatch(s.ctx, Notification{
			Kind: models.EventProjectArchived, ProjectID: "p1",
		})
		s.Require().NoError(err)
		s.Nil(outcomes)
	})
}

func (s *AdapterSuite) TestProjectArchiveAllocationLevel() {
	s.seedProject("p1", directory.ProjectStatusArchived)
	s.seedAllocation("a1", "p1", directory.AllocationStatusActive, "cluster-x")
	s.seedAllocation("a2", "p1", directory.AllocationStatusExpired, "cluster-y")
	s.dir.SeedAllocationUser(directory.AllocationUser{AllocationID: "a1", UserID: "alice", Status: directory.UserStatusActive})
	s.dir.SeedAllocationUser(directory.AllocationUser{AllocationID: "a2", UserID: "alice", Status: directory.UserStatusActive})
	s.Require().NoError(errSeed(s.backend.AddMember(s.ctx, "cluster-x", "alice")))
	s.Require().NoError(errSeed(s.backend.AddMember(s.ctx, "cluster-y", "alice")))

	a := s.newAdapter(s.allocationConfig())
	outcomes, err := a.Dispatch(s.ctx, Notification{
		Kind: models.EventProjectArchived, ProjectID: "p1",
	})
	s.Require().NoError(err)
	s.Len(outcomes, 1, "only allocations still active at archival are swept")
	s.False(s.member("cluster-x", "alice"))
	s.True(s.member("cluster-y", "alice"), "already-expired allocation is out of scope")
}

// errSeed discards the changed flag from seeding calls.
func errSeed(_ bool, err error) error { return err }
