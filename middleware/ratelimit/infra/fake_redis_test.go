package infra

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{t: time.Unix(1_700_000_000, 0)} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// fakeCounterRedis imita INCR/PEXPIRE/PTTL/GET/DEL com a semântica do servidor.
type fakeCounterRedis struct {
	mu    sync.Mutex
	clock *fakeClock
	vals  map[string]int64
	exp   map[string]time.Time
	calls []string
	err   error
}

func newFakeCounterRedis(clock *fakeClock) *fakeCounterRedis {
	return &fakeCounterRedis{clock: clock, vals: map[string]int64{}, exp: map[string]time.Time{}}
}

func (f *fakeCounterRedis) expireLocked(key string) {
	if at, ok := f.exp[key]; ok && !f.clock.Now().Before(at) {
		delete(f.vals, key)
		delete(f.exp, key)
	}
}

func (f *fakeCounterRedis) Incr(_ context.Context, key string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "INCR "+key)
	if f.err != nil {
		return redis.NewIntResult(0, f.err)
	}
	f.expireLocked(key)
	f.vals[key]++
	return redis.NewIntResult(f.vals[key], nil)
}

func (f *fakeCounterRedis) PExpire(_ context.Context, key string, ttl time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "PEXPIRE "+key)
	if f.err != nil {
		return redis.NewBoolResult(false, f.err)
	}
	f.expireLocked(key)
	if _, ok := f.vals[key]; !ok {
		return redis.NewBoolResult(false, nil)
	}
	f.exp[key] = f.clock.Now().Add(ttl)
	return redis.NewBoolResult(true, nil)
}

func (f *fakeCounterRedis) PTTL(_ context.Context, key string) *redis.DurationCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "PTTL "+key)
	if f.err != nil {
		return redis.NewDurationResult(0, f.err)
	}
	f.expireLocked(key)
	if _, ok := f.vals[key]; !ok {
		return redis.NewDurationResult(-2, nil)
	}
	at, ok := f.exp[key]
	if !ok {
		return redis.NewDurationResult(-1, nil)
	}
	return redis.NewDurationResult(at.Sub(f.clock.Now()), nil)
}

func (f *fakeCounterRedis) Get(_ context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "GET "+key)
	if f.err != nil {
		return redis.NewStringResult("", f.err)
	}
	f.expireLocked(key)
	v, ok := f.vals[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(strconv.FormatInt(v, 10), nil)
}

func (f *fakeCounterRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, k := range keys {
		f.calls = append(f.calls, "DEL "+k)
		if _, ok := f.vals[k]; ok {
			n++
		}
		delete(f.vals, k)
		delete(f.exp, k)
	}
	if f.err != nil {
		return redis.NewIntResult(0, f.err)
	}
	return redis.NewIntResult(n, nil)
}
