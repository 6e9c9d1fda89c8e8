package support

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultLeaseTTL  = 45 * time.Second
	leaseRetryDelay  = time.Second
	leaseCallTimeout = 5 * time.Second
)

var (
	leaseSeq atomic.Uint64

	extendLease = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

	dropLease = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
)

var errLeaseLost = errors.New("lease lost")

// Leader elects one process among many sharing a redis key.
type Leader struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

func NewLeader(client *redis.Client, key string, ttl time.Duration) *Leader {
	if ttl <= 0 {
		ttl = DefaultLeaseTTL
	}
	return &Leader{client: client, key: key, ttl: ttl}
}

// Run waits for the lease and calls fn while holding it. fn's context ends
// when the lease is lost or ctx is done. After fn returns the lease is
// dropped and Run competes again, until ctx is done.
func (l *Leader) Run(ctx context.Context, fn func(context.Context)) error {
	if fn == nil {
		return errors.New("support: leader function cannot be nil")
	}
	if l.client == nil {
		return errors.New("support: leader needs a redis client")
	}

	for {
		ls, err := l.acquire(ctx)
		if err != nil {
			return err
		}

		log.Debug("leader lease acquired", "key", l.key)
		fn(ls.ctx)
		ls.release()
		log.Debug("leader lease released", "key", l.key)

		if err := sleepCtx(ctx, leaseRetryDelay); err != nil {
			return err
		}
	}
}

type lease struct {
	leader *Leader
	token  string
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
	done   chan struct{}
}

func (l *Leader) acquire(ctx context.Context) (*lease, error) {
	token := leaseToken()
	for {
		won, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
		switch {
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case err != nil:
			log.Warn("leader lease: setnx failed", "key", l.key, "error", err)
		case won:
			lctx, cancel := context.WithCancel(ctx)
			ls := &lease{leader: l, token: token, ctx: lctx, cancel: cancel, done: make(chan struct{})}
			go ls.keepAlive()
			return ls, nil
		}

		if err := sleepCtx(ctx, leaseRetryDelay); err != nil {
			return nil, err
		}
	}
}

func (ls *lease) keepAlive() {
	every := ls.leader.ttl / 3
	if every < time.Second {
		every = time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ls.done:
			return
		case <-ls.ctx.Done():
			return
		case <-ticker.C:
			if err := ls.extend(); err != nil {
				log.Warn("leader lease: renewal failed", "key", ls.leader.key, "error", err)
				ls.cancel()
				return
			}
		}
	}
}

func (ls *lease) extend() error {
	ctx, cancel := context.WithTimeout(context.Background(), leaseCallTimeout)
	defer cancel()

	n, err := extendLease.Run(ctx, ls.leader.client, []string{ls.leader.key}, ls.token, ls.leader.ttl.Milliseconds()).Int64()
	if err != nil {
		return err
	}
	if n == 0 {
		return errLeaseLost
	}
	return nil
}

func (ls *lease) release() {
	ls.once.Do(func() {
		close(ls.done)
		ls.cancel()

		ctx, cancel := context.WithTimeout(context.Background(), leaseCallTimeout)
		defer cancel()
		err := dropLease.Run(ctx, ls.leader.client, []string{ls.leader.key}, ls.token).Err()
		if err != nil && !errors.Is(err, redis.Nil) {
			log.Warn("leader lease: release failed", "key", ls.leader.key, "error", err)
		}
	})
}

func leaseToken() string {
	host, _ := os.Hostname()
	return fmt.Sprintf("%s-%d-%d-%d", host, os.Getpid(), time.Now().UnixNano(), leaseSeq.Add(1))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
