package resolver

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"groupsync/internal/reconcile/models"
)

type ResolverSuite struct {
	suite.Suite
}

func TestResolverSuite(t *testing.T) {
	suite.Run(t, new(ResolverSuite))
}

func (s *ResolverSuite) newEvent(kind models.EventKind) *models.LifecycleEvent {
	return &models.LifecycleEvent{
		ID:        uuid.New(),
		Kind:      kind,
		ProjectID: "p1",
		UserID:    "alice",
	}
}

func (s *ResolverSuite) TestProjectLevelPolicy() {
	s.Run("always uses the project group snapshot", func() {
		event := s.newEvent(models.EventProjectUserActivated)
		event.ProjectGroups = []models.GroupID{"hpc-users", "lab-a"}
		event.AllocationID = "a1"
		event.AllocationGroups = []models.GroupID{"cluster-x"}

		groups := Resolve(event, models.PolicyProjectLevel)
		s.Equal([]models.GroupID{"hpc-users", "lab-a"}, groups)
	})

	s.Run("missing attribute resolves to nothing", func() {
		event := s.newEvent(models.EventProjectUserActivated)
		s.Empty(Resolve(event, models.PolicyProjectLevel))
	})
}

func (s *ResolverSuite) TestAllocationLevelPolicy() {
	s.Run("uses allocation groups when the event names an allocation", func() {
		event := s.newEvent(models.EventAllocationUserActivated)
		event.AllocationID = "a1"
		event.ProjectGroups = []models.GroupID{"lab-a"}
		event.AllocationGroups = []models.GroupID{"cluster-x"}

		groups := Resolve(event, models.PolicyAllocationLevel)
		s.Equal([]models.GroupID{"cluster-x"}, groups)
	})

	s.Run("falls back to project groups for project-scoped events", func() {
		event := s.newEvent(models.EventProjectArchived)
		event.ProjectGroups = []models.GroupID{"lab-a"}

		groups := Resolve(event, models.PolicyAllocationLevel)
		s.Equal([]models.GroupID{"lab-a"}, groups)
	})
}

func (s *ResolverSuite) TestRetainedGroupSubtraction() {
	s.Run("removals keep groups held through other memberships", func() {
		event := s.newEvent(models.EventProjectUserRemoved)
		event.ProjectGroups = []models.GroupID{"hpc-users", "lab-a"}
		event.RetainedGroups = []models.GroupID{"hpc-users"}

		groups := Resolve(event, models.PolicyProjectLevel)
		s.Equal([]models.GroupID{"lab-a"}, groups)
	})

	s.Run("retained groups fully covering the snapshot leave nothing to do", func() {
		event := s.newEvent(models.EventProjectUserRemoved)
		event.ProjectGroups = []models.GroupID{"hpc-users"}
		event.RetainedGroups = []models.GroupID{"hpc-users"}

		s.Empty(Resolve(event, models.PolicyProjectLevel))
	})

	s.Run("additions ignore the retained snapshot", func() {
		event := s.newEvent(models.EventProjectUserActivated)
		event.ProjectGroups = []models.GroupID{"hpc-users"}
		event.RetainedGroups = []models.GroupID{"hpc-users"}

		s.Equal([]models.GroupID{"hpc-users"}, Resolve(event, models.PolicyProjectLevel))
	})
}

func (s *ResolverSuite) TestDeduplication() {
	event := s.newEvent(models.EventProjectUserActivated)
	event.ProjectGroups = []models.GroupID{"lab-a", "lab-a", "lab-b"}

	s.Equal([]models.GroupID{"lab-a", "lab-b"}, Resolve(event, models.PolicyProjectLevel))
}
