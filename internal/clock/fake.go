package clock

import (
	"sort"
	"sync"
	"time"
)

// FakeClock はテスト用の決定的なClock。
// 時刻はAdvanceを呼んだときだけ進み、期限を過ぎたタイマーがその場で発火する。
//
// AfterFuncのコールバックはAdvanceを呼んだゴルーチンで期限順に同期実行される。
// コールバック内からAdvanceを呼んではならない。
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
	waiters []*fakeWaiter
}

type fakeWaiter struct {
	deadline time.Time
	callback func()         // AfterFunc用
	channel  chan time.Time // Ticker用
	interval time.Duration
	stopped  bool
	fired    bool
}

// Fake は指定時刻で初期化したFakeClockを返す。
func Fake(initial time.Time) *FakeClock {
	return &FakeClock{current: initial}
}

// Now は現在の疑似時刻を返す。
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// AfterFunc はd経過後にfを呼ぶ待機者を登録する。d <= 0の場合はその場でfを呼ぶ。
func (c *FakeClock) AfterFunc(d time.Duration, f func()) *Timer {
	if d <= 0 {
		f()
		return &Timer{stopFunc: func() bool { return false }}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	w := &fakeWaiter{deadline: c.current.Add(d), callback: f}
	c.waiters = append(c.waiters, w)

	return &Timer{
		stopFunc: func() bool {
			c.mu.Lock()
			defer c.mu.Unlock()
			if w.stopped || w.fired {
				return false
			}
			w.stopped = true
			return true
		},
	}
}

// NewTicker はd間隔でティックを送るTickerを返す。
func (c *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive interval for NewTicker")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan time.Time, 1)
	w := &fakeWaiter{deadline: c.current.Add(d), channel: ch, interval: d}
	c.waiters = append(c.waiters, w)

	return &Ticker{
		C: ch,
		stopFunc: func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			w.stopped = true
		},
	}
}

// Advance は時刻をdだけ進め、期限を迎えた待機者を期限順に発火させる。
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.current.Add(d)

	for {
		next := c.nextDueLocked(target)
		if next == nil {
			break
		}
		c.current = next.deadline

		if next.callback != nil {
			next.fired = true
			cb := next.callback
			c.mu.Unlock()
			cb()
			c.mu.Lock()
			continue
		}

		select {
		case next.channel <- next.deadline:
		default:
		}
		next.deadline = next.deadline.Add(next.interval)
	}

	c.current = target
	c.compactLocked()
	c.mu.Unlock()
}

// PendingTimers は未発火かつ未停止のAfterFunc待機者の数を返す。
func (c *FakeClock) PendingTimers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, w := range c.waiters {
		if w.callback != nil && !w.stopped && !w.fired {
			n++
		}
	}
	return n
}

func (c *FakeClock) nextDueLocked(target time.Time) *fakeWaiter {
	var due []*fakeWaiter
	for _, w := range c.waiters {
		if w.stopped || w.fired || w.deadline.After(target) {
			continue
		}
		due = append(due, w)
	}
	if len(due) == 0 {
		return nil
	}
	sort.SliceStable(due, func(i, j int) bool {
		return due[i].deadline.Before(due[j].deadline)
	})
	return due[0]
}

func (c *FakeClock) compactLocked() {
	kept := c.waiters[:0]
	for _, w := range c.waiters {
		if w.stopped || w.fired {
			continue
		}
		kept = append(kept, w)
	}
	c.waiters = kept
}
