// Package cache keeps backend query results keyed by name and refreshes
// them in the background.
package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/c-pro/geche"
	"golang.org/x/sync/singleflight"
)

// Fetcher loads the current value of one key from the backend.
type Fetcher[T any] func(ctx context.Context) (T, error)

// entry is never mutated after it is stored; updates replace it.
type entry[T any] struct {
	value     T
	fetchedAt time.Time
	stale     bool
}

type StoreOptions struct {
	// StaleTime is how long a fetched value counts as fresh. Zero keeps
	// values fresh until they are invalidated.
	StaleTime time.Duration
	Logger    *slog.Logger
}

// Store is a keyed cache of query results. Stale values are served at once
// while a refetch runs in the background; concurrent fetches of one key are
// collapsed into one backend call.
type Store[T any] struct {
	ctx    context.Context
	cancel context.CancelFunc
	opts   StoreOptions
	logger *slog.Logger
	now    func() time.Time

	entries *geche.Locker[string, entry[T]]
	group   singleflight.Group
	wg      sync.WaitGroup

	mu       sync.Mutex
	fetchers map[string]Fetcher[T]
	gens     map[string]uint64
	watched  map[string]int
	subs     map[uint64]func(key string)
	nextSub  uint64
}

func NewStore[T any](ctx context.Context, opts StoreOptions) *Store[T] {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Store[T]{
		ctx:      ctx,
		cancel:   cancel,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
		entries:  geche.NewLocker[string, entry[T]](geche.NewMapCache[string, entry[T]]()),
		fetchers: make(map[string]Fetcher[T]),
		gens:     make(map[string]uint64),
		watched:  make(map[string]int),
		subs:     make(map[uint64]func(string)),
	}
}

// Get returns the cached value for key. A missing value is fetched
// synchronously; a stale one is returned as is and refreshed in the
// background.
func (s *Store[T]) Get(ctx context.Context, key string, fetch Fetcher[T]) (T, error) {
	s.remember(key, fetch)

	if e, ok := s.lookup(key); ok {
		if s.isStale(e) {
			s.refresh(key)
		}
		return e.value, nil
	}

	v, err, _ := s.group.Do(key, func() (any, error) {
		return s.load(ctx, key, fetch)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

// Peek returns the cached value without fetching.
func (s *Store[T]) Peek(key string) (T, bool) {
	e, ok := s.lookup(key)
	return e.value, ok
}

// Watch keeps key fresh by refetching it every interval until ctx ends or
// the returned stop func is called.
func (s *Store[T]) Watch(ctx context.Context, key string, interval time.Duration, fetch Fetcher[T]) (stop func()) {
	s.remember(key, fetch)

	s.mu.Lock()
	s.watched[key]++
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	s.wg.Go(func() {
		defer s.unwatch(key)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		s.refetch(key)
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				s.refetch(key)
			}
		}
	})
	return cancel
}

// Invalidate marks keys stale. Watched keys are refetched in the background,
// the rest on their next Get. Repeated invalidations collapse into the same
// refetch.
func (s *Store[T]) Invalidate(keys ...string) {
	for _, key := range keys {
		s.mu.Lock()
		s.gens[key]++
		watched := s.watched[key] > 0
		s.mu.Unlock()

		tx := s.entries.Lock()
		if e, err := tx.Get(key); err == nil && !e.stale {
			e.stale = true
			tx.Set(key, e)
		}
		tx.Unlock()

		if watched {
			s.refresh(key)
		}
	}
}

// Subscribe calls fn with the key of every replaced entry. Calls come from
// background goroutines.
func (s *Store[T]) Subscribe(fn func(key string)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextSub++
	id := s.nextSub
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// Close stops watchers and waits for background fetches.
func (s *Store[T]) Close() {
	s.cancel()
	s.wg.Wait()
}

func (s *Store[T]) remember(key string, fetch Fetcher[T]) {
	if fetch == nil {
		return
	}
	s.mu.Lock()
	s.fetchers[key] = fetch
	s.mu.Unlock()
}

func (s *Store[T]) unwatch(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watched[key]--; s.watched[key] <= 0 {
		delete(s.watched, key)
	}
}

func (s *Store[T]) lookup(key string) (entry[T], bool) {
	tx := s.entries.RLock()
	defer tx.Unlock()
	e, err := tx.Get(key)
	return e, err == nil
}

func (s *Store[T]) isStale(e entry[T]) bool {
	if e.stale {
		return true
	}
	return s.opts.StaleTime > 0 && s.now().Sub(e.fetchedAt) > s.opts.StaleTime
}

// refresh refetches key on a background goroutine.
func (s *Store[T]) refresh(key string) {
	if s.ctx.Err() != nil {
		return
	}
	s.wg.Go(func() {
		s.refetch(key)
	})
}

func (s *Store[T]) refetch(key string) {
	s.mu.Lock()
	fetch := s.fetchers[key]
	s.mu.Unlock()
	if fetch == nil {
		return
	}

	_, err, _ := s.group.Do(key, func() (any, error) {
		return s.load(s.ctx, key, fetch)
	})
	if err != nil && s.ctx.Err() == nil {
		s.logger.Warn("background refetch failed", "key", key, "error", err)
	}
}

// load fetches key and replaces its entry. An invalidation that lands while
// the fetch is in flight leaves the new entry stale.
func (s *Store[T]) load(ctx context.Context, key string, fetch Fetcher[T]) (T, error) {
	s.mu.Lock()
	gen := s.gens[key]
	s.mu.Unlock()

	v, err := fetch(ctx)
	if err != nil {
		return v, err
	}

	s.mu.Lock()
	invalidated := s.gens[key] != gen
	watched := s.watched[key] > 0
	s.mu.Unlock()

	tx := s.entries.Lock()
	tx.Set(key, entry[T]{value: v, fetchedAt: s.now(), stale: invalidated})
	tx.Unlock()

	s.notify(key)
	if invalidated && watched {
		s.group.Forget(key)
		s.refresh(key)
	}
	return v, nil
}

func (s *Store[T]) notify(key string) {
	s.mu.Lock()
	subs := make([]func(string), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(key)
	}
}
