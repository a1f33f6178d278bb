// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package statemap_test

import (
	"context"
	"time"

	"github.com/juju/clock"
	jc "github.com/juju/testing/checkers"
	"go.uber.org/mock/gomock"
	gc "gopkg.in/check.v1"

	awaittesting "github.com/juju/awaitstate/internal/testing"
	"github.com/juju/awaitstate/statemap"
)

type waitSuite struct {
	baseSuite
}

var _ = gc.Suite(&waitSuite{})

func isFinished(_, curr downloadState) bool {
	return curr == finished
}

func never(_, _ downloadState) bool {
	return false
}

func (s *waitSuite) waitUntil(m *statemap.Map[downloadState], key string, predicate statemap.Predicate[downloadState]) *awaittesting.Block[downloadState] {
	return awaittesting.NewBlock(context.Background(), func(ctx context.Context) (downloadState, error) {
		return m.WaitUntil(ctx, key, predicate)
	})
}

func (s *waitSuite) waitUntilTimeout(m *statemap.Map[downloadState], key string, predicate statemap.Predicate[downloadState], d time.Duration) *awaittesting.Block[downloadState] {
	return awaittesting.NewBlock(context.Background(), func(ctx context.Context) (downloadState, error) {
		return m.WaitUntilTimeout(ctx, key, predicate, d)
	})
}

func (s *waitSuite) TestAlreadySatisfiedReturnsImmediately(c *gc.C) {
	m := s.newMap(c)
	m.Put("download", finished)

	state, err := m.WaitUntil(context.Background(), "download", isFinished)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(state, gc.Equals, finished)
}

func (s *waitSuite) TestInitialStateIsSelfTransition(c *gc.C) {
	m := s.newMap(c)
	m.Put("download", started)

	t, err := m.WaitTransition(context.Background(), "download", func(prev, curr downloadState) bool {
		return prev == started && curr == started
	})
	c.Assert(err, jc.ErrorIsNil)
	c.Check(t, gc.Equals, statemap.Transition[downloadState]{
		Previous: started,
		Current:  started,
	})
}

func (s *waitSuite) TestWaitUntilWakesOnSet(c *gc.C) {
	m := s.newMap(c)
	m.Put("download", notStarted)

	block := s.waitUntil(m, "download", isFinished)
	block.AssertBlocked(c)

	c.Assert(m.SetState("download", started), jc.ErrorIsNil)
	block.AssertBlocked(c)

	c.Assert(m.SetState("download", finished), jc.ErrorIsNil)
	state, err := block.AssertUnblocked(c)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(state, gc.Equals, finished)
}

func (s *waitSuite) TestWaitForSpecificTransition(c *gc.C) {
	m := s.newMap(c)
	m.Put("download", notStarted)
	c.Assert(m.SetState("download", started), jc.ErrorIsNil)

	block := awaittesting.NewBlock(context.Background(), func(ctx context.Context) (statemap.Transition[downloadState], error) {
		return m.WaitTransition(ctx, "download", func(prev, curr downloadState) bool {
			return prev == started && curr == finished
		})
	})
	block.AssertBlocked(c)

	c.Assert(m.SetState("download", finished), jc.ErrorIsNil)
	t, err := block.AssertUnblocked(c)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(t, gc.Equals, statemap.Transition[downloadState]{
		Previous:    started,
		Current:     finished,
		HasPrevious: true,
	})
}

func (s *waitSuite) TestManyWaitersOneWrite(c *gc.C) {
	m := s.newMap(c)
	m.Put("download", notStarted)

	var blocks []*awaittesting.Block[downloadState]
	for i := 0; i < 5; i++ {
		blocks = append(blocks, s.waitUntil(m, "download", isFinished))
	}
	for _, block := range blocks {
		block.AssertBlocked(c)
	}

	c.Assert(m.SetState("download", finished), jc.ErrorIsNil)
	for _, block := range blocks {
		state, err := block.AssertUnblocked(c)
		c.Assert(err, jc.ErrorIsNil)
		c.Check(state, gc.Equals, finished)
	}
}

func (s *waitSuite) TestRemoveWakesWaiter(c *gc.C) {
	m := s.newMap(c)
	m.Put("download", notStarted)

	block := s.waitUntil(m, "download", never)
	block.AssertBlocked(c)

	m.Remove("download")
	_, err := block.AssertUnblocked(c)
	c.Check(err, jc.ErrorIs, statemap.ErrKeyNotFound)
}

func (s *waitSuite) TestRemoveWakesTimeoutWaiter(c *gc.C) {
	m := s.newMap(c)
	m.Put("download", notStarted)

	block := s.waitUntilTimeout(m, "download", never, time.Minute)
	block.AssertBlocked(c)

	m.Remove("download")
	_, err := block.AssertUnblocked(c)
	c.Check(err, jc.ErrorIs, statemap.ErrKeyNotFound)
}

func (s *waitSuite) TestRemoveThenPutContinuesWait(c *gc.C) {
	m := s.newMap(c)
	m.Put("download", notStarted)

	// The first check is held open so the key can be replaced between
	// the waiter looking it up and blocking on it.
	checking := make(chan struct{})
	release := make(chan struct{})
	calls := 0
	block := s.waitUntil(m, "download", func(_, curr downloadState) bool {
		calls++
		if calls == 1 {
			close(checking)
			<-release
		}
		return curr == finished
	})
	select {
	case <-checking:
	case <-time.After(awaittesting.LongWait):
		c.Fatalf("predicate never checked")
	}

	m.Remove("download")
	m.Put("download", started)
	close(release)
	block.AssertBlocked(c)

	c.Assert(m.SetState("download", finished), jc.ErrorIsNil)
	state, err := block.AssertUnblocked(c)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(state, gc.Equals, finished)
}

func (s *waitSuite) TestPutDoesNotRedirectWaiter(c *gc.C) {
	m := s.newMap(c)
	m.Put("download", notStarted)

	block := s.waitUntil(m, "download", isFinished)
	block.AssertBlocked(c)

	// The replacement already satisfies the predicate, but the waiter is
	// still bound to the state it started on.
	m.Put("download", finished)
	block.AssertBlocked(c)

	state, err := m.WaitUntil(context.Background(), "download", isFinished)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(state, gc.Equals, finished)

	block.Cancel()
	_, err = block.AssertUnblocked(c)
	c.Check(err, jc.ErrorIs, context.Canceled)
}

func (s *waitSuite) TestUnchangedWriteDoesNotResolve(c *gc.C) {
	m := s.newMap(c)
	m.Put("download", started)

	block := awaittesting.NewBlock(context.Background(), func(ctx context.Context) (statemap.Transition[downloadState], error) {
		return m.WaitTransition(ctx, "download", func(prev, curr downloadState) bool {
			return prev != curr
		})
	})
	block.AssertBlocked(c)

	c.Assert(m.SetState("download", started), jc.ErrorIsNil)
	block.AssertBlocked(c)

	c.Assert(m.SetState("download", finished), jc.ErrorIsNil)
	t, err := block.AssertUnblocked(c)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(t.Previous, gc.Equals, started)
	c.Check(t.Current, gc.Equals, finished)
}

func (s *waitSuite) TestContextCancelled(c *gc.C) {
	m := s.newMap(c)
	m.Put("download", notStarted)

	block := s.waitUntil(m, "download", never)
	block.AssertBlocked(c)

	block.Cancel()
	_, err := block.AssertUnblocked(c)
	c.Check(err, jc.ErrorIs, context.Canceled)

	// The abandoned wait has no effect on the key.
	c.Assert(m.SetState("download", started), jc.ErrorIsNil)
	state, err := m.GetState("download")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(state, gc.Equals, started)
}

func (s *waitSuite) TestTimeoutExpires(c *gc.C) {
	m := s.newMap(c)
	m.Put("download", notStarted)

	block := s.waitUntilTimeout(m, "download", isFinished, time.Second)
	err := s.clock.WaitAdvance(time.Second, awaittesting.LongWait, 1)
	c.Assert(err, jc.ErrorIsNil)

	_, err = block.AssertUnblocked(c)
	c.Check(err, jc.ErrorIs, statemap.ErrTimeoutExpired)
	c.Check(err, gc.ErrorMatches, `waiting for state "download": timeout expired`)
}

func (s *waitSuite) TestTimeoutDoesNotFireEarly(c *gc.C) {
	m := s.newMap(c)
	m.Put("download", notStarted)

	block := s.waitUntilTimeout(m, "download", isFinished, time.Second)
	err := s.clock.WaitAdvance(time.Second/2, awaittesting.LongWait, 1)
	c.Assert(err, jc.ErrorIsNil)
	block.AssertBlocked(c)

	c.Assert(m.SetState("download", finished), jc.ErrorIsNil)
	state, err := block.AssertUnblocked(c)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(state, gc.Equals, finished)
}

func (s *waitSuite) TestTimeoutWithWallClock(c *gc.C) {
	m := statemap.New[int]()
	m.Put("x", 0)

	start := time.Now()
	_, err := m.WaitUntilTimeout(context.Background(), "x", func(_, curr int) bool {
		return curr == 99
	}, 50*time.Millisecond)
	elapsed := time.Since(start)

	c.Check(err, jc.ErrorIs, statemap.ErrTimeoutExpired)
	c.Check(elapsed >= 50*time.Millisecond, jc.IsTrue)
	c.Check(elapsed < awaittesting.LongWait, jc.IsTrue)
}

func (s *waitSuite) TestWaitBoundedByWriter(c *gc.C) {
	m := statemap.New[int]()
	m.Put("x", 0)

	done := make(chan error, 1)
	go func() {
		time.Sleep(awaittesting.ShortWait)
		done <- m.SetState("x", 1)
	}()

	start := time.Now()
	v, err := m.WaitUntil(context.Background(), "x", func(_, curr int) bool {
		return curr == 1
	})
	c.Assert(err, jc.ErrorIsNil)
	c.Check(v, gc.Equals, 1)
	c.Check(time.Since(start) < awaittesting.LongWait, jc.IsTrue)
	c.Assert(<-done, jc.ErrorIsNil)
}

func (s *waitSuite) TestWaitersSeeFinalValueOfBurst(c *gc.C) {
	m := statemap.New[int]()
	m.Put("x", 0)

	var blocks []*awaittesting.Block[int]
	for i := 0; i < 10; i++ {
		blocks = append(blocks, awaittesting.NewBlock(context.Background(), func(ctx context.Context) (int, error) {
			return m.WaitUntil(ctx, "x", func(_, curr int) bool { return curr == 100 })
		}))
	}

	for i := 1; i <= 100; i++ {
		c.Assert(m.SetState("x", i), jc.ErrorIsNil)
	}
	for _, block := range blocks {
		v, err := block.AssertUnblocked(c)
		c.Assert(err, jc.ErrorIsNil)
		c.Check(v, gc.Equals, 100)
	}
}

// timerClock hands out a single supplied timer.
type timerClock struct {
	clock.Clock
	timer clock.Timer
}

func (c timerClock) NewTimer(time.Duration) clock.Timer {
	return c.timer
}

func (s *waitSuite) newMapWithTimer(c *gc.C, timer clock.Timer) *statemap.Map[downloadState] {
	m, err := statemap.NewMap[downloadState](statemap.Config{
		Clock:  timerClock{Clock: s.clock, timer: timer},
		Logger: statemap.DefaultConfig().Logger,
	})
	c.Assert(err, jc.ErrorIsNil)
	return m
}

func (s *waitSuite) TestTimerStoppedWhenSatisfied(c *gc.C) {
	ctrl := gomock.NewController(c)
	defer ctrl.Finish()

	timer := NewMockTimer(ctrl)
	timer.EXPECT().Chan().Return(nil)
	timer.EXPECT().Stop().Return(true)

	m := s.newMapWithTimer(c, timer)
	m.Put("download", finished)

	state, err := m.WaitUntilTimeout(context.Background(), "download", isFinished, time.Minute)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(state, gc.Equals, finished)
}

func (s *waitSuite) TestTimerStoppedWhenExpired(c *gc.C) {
	ctrl := gomock.NewController(c)
	defer ctrl.Finish()

	fired := make(chan time.Time, 1)
	fired <- time.Now()

	timer := NewMockTimer(ctrl)
	timer.EXPECT().Chan().Return((<-chan time.Time)(fired))
	timer.EXPECT().Stop().Return(false)

	m := s.newMapWithTimer(c, timer)
	m.Put("download", notStarted)

	_, err := m.WaitUntilTimeout(context.Background(), "download", isFinished, time.Minute)
	c.Check(err, jc.ErrorIs, statemap.ErrTimeoutExpired)
}
