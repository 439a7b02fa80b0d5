//go:build test

package leader

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/suite"

	"github.com/staccDOTsol/rebalanc00r/testutil"
)

type ElectorTestSuite struct {
	testutil.RedisTestSuite
}

func TestElectorTestSuite(t *testing.T) {
	suite.Run(t, new(ElectorTestSuite))
}

func (s *ElectorTestSuite) newElector(instance string) *Elector {
	return NewElector(zerolog.Nop(), s.RedisClient, "service-a", instance, Config{
		LeaderTTL:     2 * time.Second,
		HeartbeatRate: 20 * time.Millisecond,
	})
}

func (s *ElectorTestSuite) TestSingleLeaderAcrossReplicas() {
	a := s.newElector("a")
	b := s.newElector("b")

	var elected atomic.Int32
	a.OnElected(func(context.Context) { elected.Add(1) })
	b.OnElected(func(context.Context) { elected.Add(1) })

	s.Require().NoError(a.Start(s.Ctx))
	s.Require().NoError(b.Start(s.Ctx))

	s.Require().Eventually(func() bool {
		return a.IsLeader() || b.IsLeader()
	}, time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)

	s.Require().NotEqual(a.IsLeader(), b.IsLeader(), "exactly one replica leads")
	s.Require().Equal(int32(1), elected.Load())

	leader, standby := a, b
	if b.IsLeader() {
		leader, standby = b, a
	}

	// Closing the leader releases the lock for the standby.
	leader.Close()
	s.Require().Eventually(standby.IsLeader, time.Second, 10*time.Millisecond)
	standby.Close()

	s.RequireKeyNotExists(s.RedisClient.KB().LeaderKey("service-a"))
}

func (s *ElectorTestSuite) TestLosesLeadershipWhenLockStolen() {
	e := s.newElector("a")
	lost := make(chan struct{}, 1)
	e.OnLost(func(context.Context) { lost <- struct{}{} })

	s.Require().NoError(e.Start(s.Ctx))
	s.Require().Eventually(e.IsLeader, time.Second, 10*time.Millisecond)

	s.MiniRedis.Set(s.RedisClient.KB().LeaderKey("service-a"), "someone-else")

	select {
	case <-lost:
	case <-time.After(time.Second):
		s.Fail("leadership loss not observed")
	}
	s.Require().False(e.IsLeader())
	e.Close()
}
