package maintenance

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"msggrabber/internal/config"
	"msggrabber/internal/database"
	"msggrabber/internal/support"
)

const (
	envPurgeInterval = "PURGE_INTERVAL"
	envPurgeAge      = "PURGE_AGE"

	DefaultPurgeAge = 48 * time.Hour
	purgeTimeout    = 10 * time.Minute
	purgeLockKey    = "msggrabber:leader:purge"
)

// DeleteFunc removes messages stored before cutoff.
type DeleteFunc func(ctx context.Context, cutoff time.Time) (int64, error)

// Purger deletes old messages. Purges for the same age that overlap run
// once and share the result.
type Purger struct {
	group  singleflight.Group
	delete DeleteFunc
	now    func() time.Time
}

func NewPurger() *Purger {
	return NewPurgerWith(database.DeleteMessagesBefore)
}

func NewPurgerWith(del DeleteFunc) *Purger {
	return &Purger{delete: del, now: time.Now}
}

// Purge deletes messages older than age and waits for the result.
func (p *Purger) Purge(ctx context.Context, age time.Duration) (int64, error) {
	key := strconv.FormatInt(int64(age), 10)
	v, err, shared := p.group.Do(key, func() (any, error) {
		start := time.Now()
		n, err := p.delete(ctx, config.Cutoff(p.now(), age))
		if err != nil {
			return n, err
		}
		log.Debug("Purge finished", "age", age, "deleted", n, "duration", time.Since(start))
		return n, nil
	})
	if shared {
		log.Debug("Purge joined a running purge", "age", age)
	}
	n, _ := v.(int64)
	return n, err
}

// PurgeAsync starts a purge that outlives the calling request.
func (p *Purger) PurgeAsync(age time.Duration) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), purgeTimeout)
		defer cancel()
		if _, err := p.Purge(ctx, age); err != nil {
			log.Error("Deferred purge failed", "error", err)
		}
	}()
}

// RoutineSettings controls the periodic purge.
type RoutineSettings struct {
	Interval time.Duration
	Age      time.Duration
}

// ResolveRoutineSettings reads PURGE_INTERVAL and PURGE_AGE. A zero
// interval disables the routine.
func ResolveRoutineSettings() RoutineSettings {
	s := RoutineSettings{
		Interval: support.GetEnvDuration(envPurgeInterval, 0),
		Age:      DefaultPurgeAge,
	}
	if raw := support.GetEnv(envPurgeAge, ""); raw != "" {
		if age, err := config.ParseAge(raw); err == nil {
			s.Age = age
		} else {
			log.Warn("Invalid PURGE_AGE value, using default", "value", raw, "default", DefaultPurgeAge)
		}
	}
	return s
}

// StartPurgeRoutine purges on every interval until ctx is done. With a
// redis client only the process holding the leader lease purges.
func StartPurgeRoutine(ctx context.Context, p *Purger, settings RoutineSettings, client *redis.Client) {
	if settings.Interval <= 0 {
		return
	}

	if client == nil {
		runPurgeLoop(ctx, p, settings)
		return
	}

	leader := support.NewLeader(client, purgeLockKey, support.DefaultLeaseTTL)
	err := leader.Run(ctx, func(leaderCtx context.Context) {
		runPurgeLoop(leaderCtx, p, settings)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Purge routine stopped", "error", err)
	}
}

func runPurgeLoop(ctx context.Context, p *Purger, settings RoutineSettings) {
	ticker := time.NewTicker(settings.Interval)
	defer ticker.Stop()

	purgeOnce(ctx, p, settings.Age)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			purgeOnce(ctx, p, settings.Age)
		}
	}
}

func purgeOnce(ctx context.Context, p *Purger, age time.Duration) {
	if _, err := p.Purge(ctx, age); err != nil && ctx.Err() == nil {
		log.Error("Scheduled purge failed", "error", err)
	}
}
