package analytics

import (
	"context"
	"fmt"
	"log"
	"time"

	"qms/queue-dashboard/internal/models"
	"qms/queue-dashboard/internal/store"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Source is the read side of the store the aggregator needs.
type Source interface {
	GetQueue(ctx context.Context, queueID string) (models.Queue, error)
	ListEvents(ctx context.Context, query store.EventQuery) ([]models.QueueEvent, error)
	ListTokens(ctx context.Context, query store.TokenQuery) ([]models.Token, error)
	EventLogVersion(ctx context.Context, queueID string) (string, error)
}

// noShowLookbackDays bounds how long before the window a no-show token may have
// been created and still be matched to a cancelled event inside it.
const noShowLookbackDays = 7

type Options struct {
	Timeout  time.Duration
	CacheTTL time.Duration
	Location *time.Location
	Now      func() time.Time
}

type Aggregator struct {
	source   Source
	cache    Cache
	timeout  time.Duration
	cacheTTL time.Duration
	location *time.Location
	now      func() time.Time
}

// NewAggregator builds an aggregator; a nil cache disables caching.
func NewAggregator(source Source, cache Cache, options Options) *Aggregator {
	a := &Aggregator{
		source:   source,
		cache:    cache,
		timeout:  options.Timeout,
		cacheTTL: options.CacheTTL,
		location: options.Location,
		now:      options.Now,
	}
	if a.timeout <= 0 {
		a.timeout = 10 * time.Second
	}
	if a.cacheTTL <= 0 {
		a.cacheTTL = 5 * time.Minute
	}
	if a.location == nil {
		a.location = time.UTC
	}
	if a.now == nil {
		a.now = func() time.Time { return time.Now().UTC() }
	}
	return a
}

func (a *Aggregator) Snapshot(ctx context.Context, queueID string, window int) (Snapshot, error) {
	if window == 0 {
		window = DefaultWindow
	}
	if !ValidWindow(window) {
		return Snapshot{}, fmt.Errorf("%w: window must be between 1 and %d days", store.ErrInvalidInput, MaxWindow)
	}
	if _, err := uuid.Parse(queueID); err != nil {
		return Snapshot{}, store.ErrQueueNotFound
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	snapshot, err := a.snapshot(ctx, queueID, window)
	return snapshot, store.Wrap("analytics", err)
}

func (a *Aggregator) snapshot(ctx context.Context, queueID string, window int) (Snapshot, error) {
	if _, err := a.source.GetQueue(ctx, queueID); err != nil {
		return Snapshot{}, err
	}
	now := a.now()

	var key string
	if a.cache != nil {
		version, err := a.source.EventLogVersion(ctx, queueID)
		if err != nil {
			return Snapshot{}, err
		}
		key = cacheKey(queueID, window, startOfDay(now, a.location), version)
		cached, ok, err := a.cache.Get(ctx, key)
		if err != nil {
			log.Printf("analytics cache get error queue=%s: %v", queueID, err)
		} else if ok {
			return cached, nil
		}
	}

	from := LoadStart(window, now, a.location)
	var (
		events []models.QueueEvent
		tokens []models.Token
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		events, err = a.source.ListEvents(gctx, store.EventQuery{QueueID: queueID, From: from})
		return err
	})
	g.Go(func() error {
		var err error
		tokens, err = a.source.ListTokens(gctx, store.TokenQuery{
			QueueID:     queueID,
			Statuses:    []string{models.StatusNoShow},
			CreatedFrom: from.AddDate(0, 0, -noShowLookbackDays),
		})
		return err
	})
	if err := g.Wait(); err != nil {
		return Snapshot{}, err
	}

	snapshot := Compute(Input{
		Events:   events,
		Tokens:   tokens,
		Window:   window,
		Now:      now,
		Location: a.location,
	})
	if a.cache != nil {
		if err := a.cache.Set(ctx, key, snapshot, a.cacheTTL); err != nil {
			log.Printf("analytics cache set error queue=%s: %v", queueID, err)
		}
	}
	return snapshot, nil
}

// The day is part of the key because the buckets move at midnight even when the
// log does not change.
func cacheKey(queueID string, window int, day time.Time, version string) string {
	return fmt.Sprintf("qms:analytics:%s:%d:%s:%s", queueID, window, day.Format("2006-01-02"), version)
}
