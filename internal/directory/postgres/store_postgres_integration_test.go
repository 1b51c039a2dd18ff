//go:build integration

package postgres_test

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/suite"

	"groupsync/internal/directory"
	"groupsync/internal/directory/postgres"
	"groupsync/pkg/platform/sentinel"
	"groupsync/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	ctx   context.Context
	pool  *pgxpool.Pool
	store *postgres.Store
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.ctx = context.Background()
	pg := containers.NewPostgresContainer(s.T())

	pool, err := pgxpool.New(s.ctx, pg.DSN)
	s.Require().NoError(err)
	s.pool = pool

	s.store = postgres.New(pool)
	s.Require().NoError(s.store.EnsureSchema(s.ctx))
}

func (s *PostgresStoreSuite) TearDownSuite() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *PostgresStoreSuite) SetupTest() {
	_, err := s.pool.Exec(s.ctx, `TRUNCATE projects CASCADE`)
	s.Require().NoError(err)
}

func (s *PostgresStoreSuite) seed() {
	for _, q := range []string{
		`INSERT INTO projects (id, title, status, pi_user_id) VALUES
			('p1', 'Genomics', 'Active', 'pi1'),
			('p2', 'Archived Project', 'Archived', 'pi2')`,
		`INSERT INTO project_attributes (project_id, name, value) VALUES
			('p1', 'ldap_group', 'lab-a'),
			('p1', 'ldap_group', 'hpc-users'),
			('p1', 'quota', '100')`,
		`INSERT INTO allocations (id, project_id, resource, status) VALUES
			('a1', 'p1', 'cluster', 'Active'),
			('a2', 'p1', 'storage', 'Expired')`,
		`INSERT INTO allocation_attributes (allocation_id, name, value) VALUES
			('a1', 'ldap_group', 'cluster-x')`,
		`INSERT INTO project_users (project_id, user_id, status) VALUES
			('p1', 'alice', 'Active'),
			('p1', 'bob', 'Removed')`,
		`INSERT INTO allocation_users (allocation_id, user_id, status) VALUES
			('a1', 'alice', 'Active')`,
	} {
		_, err := s.pool.Exec(s.ctx, q)
		s.Require().NoError(err)
	}
}

func (s *PostgresStoreSuite) TestLookups() {
	s.seed()

	s.Run("reads a project with attributes", func() {
		p, err := s.store.GetProject(s.ctx, "p1")
		s.Require().NoError(err)
		s.Equal("Genomics", p.Title)
		s.Equal("pi1", p.PIUserID)
		s.ElementsMatch([]string{"lab-a", "hpc-users"},
			directory.AttributeValues(p.Attributes, "ldap_group"))
	})

	s.Run("missing project yields ErrNotFound", func() {
		_, err := s.store.GetProject(s.ctx, "nope")
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("reads an allocation", func() {
		a, err := s.store.GetAllocation(s.ctx, "a1")
		s.Require().NoError(err)
		s.Equal("p1", a.ProjectID)
		s.Equal(directory.AllocationStatusActive, a.Status)
	})
}

func (s *PostgresStoreSuite) TestGroupAttributeReads() {
	s.seed()

	groups, err := s.store.ProjectGroups(s.ctx, "p1", "ldap_group")
	s.Require().NoError(err)
	s.ElementsMatch([]string{"lab-a", "hpc-users"}, groups)

	groups, err = s.store.AllocationGroups(s.ctx, "a1", "ldap_group")
	s.Require().NoError(err)
	s.Equal([]string{"cluster-x"}, groups)

	s.Run("absent attribute is empty, not an error", func() {
		groups, err := s.store.ProjectGroups(s.ctx, "p2", "ldap_group")
		s.Require().NoError(err)
		s.Empty(groups)
	})
}

func (s *PostgresStoreSuite) TestEnumeration() {
	s.seed()

	s.Run("active allocations only", func() {
		allocations, err := s.store.ActiveAllocations(s.ctx, "p1")
		s.Require().NoError(err)
		s.Require().Len(allocations, 1)
		s.Equal("a1", allocations[0].ID)
	})

	s.Run("project users filtered by status", func() {
		users, err := s.store.ProjectUsers(s.ctx, "p1", directory.UserStatusActive)
		s.Require().NoError(err)
		s.Require().Len(users, 1)
		s.Equal("alice", users[0].UserID)

		all, err := s.store.ProjectUsers(s.ctx, "p1", "")
		s.Require().NoError(err)
		s.Len(all, 2)
	})
}

func (s *PostgresStoreSuite) TestOverlapQueries() {
	s.seed()
	// Second active project sharing a group with p1 through alice.
	_, err := s.pool.Exec(s.ctx, `INSERT INTO projects (id, status) VALUES ('p3', 'Active')`)
	s.Require().NoError(err)
	_, err = s.pool.Exec(s.ctx, `INSERT INTO project_attributes (project_id, name, value) VALUES ('p3', 'ldap_group', 'hpc-users')`)
	s.Require().NoError(err)
	_, err = s.pool.Exec(s.ctx, `INSERT INTO project_users (project_id, user_id, status) VALUES ('p3', 'alice', 'Active')`)
	s.Require().NoError(err)

	groups, err := s.store.OtherProjectGroups(s.ctx, "alice", "ldap_group", "p1")
	s.Require().NoError(err)
	s.Equal([]string{"hpc-users"}, groups)

	groups, err = s.store.OtherProjectGroups(s.ctx, "bob", "ldap_group", "p1")
	s.Require().NoError(err)
	s.Empty(groups, "bob is not active anywhere else")
}

func (s *PostgresStoreSuite) TestStatusWrites() {
	s.seed()

	s.Require().NoError(s.store.SetProjectUserStatus(s.ctx, "p1", "alice", directory.UserStatusPending))
	u, err := s.store.GetProjectUser(s.ctx, "p1", "alice")
	s.Require().NoError(err)
	s.Equal(directory.UserStatusPending, u.Status)

	err = s.store.SetProjectUserStatus(s.ctx, "p1", "nobody", directory.UserStatusError)
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestResyncCollation() {
	s.seed()

	projects, err := s.store.ProjectsWithGroups(s.ctx, "ldap_group")
	s.Require().NoError(err)
	s.Require().Len(projects, 1, "archived p2 carries no groups and is inactive")
	s.Equal("p1", projects[0].ID)
	s.NotEmpty(projects[0].Attributes)

	allocations, err := s.store.AllocationsWithGroups(s.ctx, "ldap_group")
	s.Require().NoError(err)
	s.Require().Len(allocations, 1)
	s.Equal("a1", allocations[0].ID)
}
