// Package adapters connects record views to the records service and the
// shared sweep cache.
package adapters

import (
	"context"
	"sync"
	"time"

	"github.com/graph-gophers/dataloader/v7"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/zatekoja/clinicopsdashboard/internal/domain/entities"
	"github.com/zatekoja/clinicopsdashboard/internal/domain/providers"
	apperrors "github.com/zatekoja/clinicopsdashboard/pkg/errors"
)

// PageKey identifies one server page
type PageKey struct {
	Page     int
	PageSize int
}

// CacheRecorder observes sweep cache lookups
type CacheRecorder interface {
	RecordCacheHit(ctx context.Context, cache string)
	RecordCacheMiss(ctx context.Context, cache string)
}

// RecordSourceOptions configures a RecordSource
type RecordSourceOptions struct {
	Kind     string
	Endpoint string
	Fetcher  providers.RecordFetcher
	// Cache is optional; without it every sweep reads the records service.
	Cache    *SweepCache
	CacheTTL time.Duration
	// SweepPageSize is the page size used while sweeping every page.
	SweepPageSize int
	// SweepConcurrency bounds parallel page requests within one batch.
	SweepConcurrency int
	Recorder         CacheRecorder
}

// RecordSource loads pages of one record kind for a single view. Identical
// page requests are deduplicated and memoized until Invalidate.
type RecordSource struct {
	kind        string
	endpoint    string
	fetcher     providers.RecordFetcher
	cache       *SweepCache
	cacheTTL    time.Duration
	sweepSize   int
	concurrency int
	recorder    CacheRecorder
	loader      *dataloader.Loader[PageKey, *entities.RecordPage]

	// mu orders sweep cache writes against Invalidate; epoch counts invalidations.
	mu    sync.Mutex
	epoch uint64
}

// maxSweepRestarts bounds how often LoadAll starts over after an invalidation.
const maxSweepRestarts = 3

// NewRecordSource creates a RecordSource
func NewRecordSource(opts RecordSourceOptions) *RecordSource {
	if opts.SweepPageSize < 1 {
		opts.SweepPageSize = 100
	}
	if opts.SweepConcurrency < 1 {
		opts.SweepConcurrency = 4
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 2 * time.Minute
	}

	s := &RecordSource{
		kind:        opts.Kind,
		endpoint:    opts.Endpoint,
		fetcher:     opts.Fetcher,
		cache:       opts.Cache,
		cacheTTL:    opts.CacheTTL,
		sweepSize:   opts.SweepPageSize,
		concurrency: opts.SweepConcurrency,
		recorder:    opts.Recorder,
	}
	s.loader = dataloader.NewBatchedLoader(s.batchPages,
		dataloader.WithWait[PageKey, *entities.RecordPage](time.Millisecond),
	)
	return s
}

// batchPages fetches every requested page concurrently. Each key gets its own
// result; one failing page does not fail the others.
func (s *RecordSource) batchPages(ctx context.Context, keys []PageKey) []*dataloader.Result[*entities.RecordPage] {
	results := make([]*dataloader.Result[*entities.RecordPage], len(keys))

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, key := range keys {
		g.Go(func() error {
			page, err := s.fetcher.FetchPage(ctx, s.endpoint, key.Page, key.PageSize)
			results[i] = &dataloader.Result[*entities.RecordPage]{Data: page, Error: err}
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// LoadPage returns one server page. A failed page is forgotten so the next
// call fetches it again.
func (s *RecordSource) LoadPage(ctx context.Context, page, pageSize int) (*entities.RecordPage, error) {
	key := PageKey{Page: page, PageSize: pageSize}
	result, err := s.loader.Load(ctx, key)()
	if err != nil {
		s.loader.Clear(ctx, key)
		return nil, err
	}
	return result, nil
}

// LoadAll returns every record of the kind, from the shared cache when a
// fresh sweep is there, otherwise by reading page 1 and then the remaining
// pages as one batch. A sweep overtaken by Invalidate is never cached; it is
// started over so the caller gets records read after the invalidation.
func (s *RecordSource) LoadAll(ctx context.Context) ([]entities.Record, error) {
	for attempt := 0; ; attempt++ {
		epoch := s.currentEpoch()
		records, fromCache, err := s.loadAll(ctx)
		if err != nil {
			return nil, err
		}
		if fromCache || s.storeSweep(ctx, epoch, records) {
			return records, nil
		}
		if attempt == maxSweepRestarts {
			log.Warn().Str("kind", s.kind).Msg("records kept changing during sweep, returning uncached records")
			return records, nil
		}
		log.Debug().Str("kind", s.kind).Msg("sweep overtaken by invalidation, starting over")
	}
}

func (s *RecordSource) loadAll(ctx context.Context) ([]entities.Record, bool, error) {
	if s.cache != nil {
		records, ok, err := s.cache.Get(ctx, SweepKey(s.kind))
		switch {
		case err != nil:
			log.Warn().Err(err).Str("kind", s.kind).Msg("sweep cache read failed")
		case ok:
			s.recordCache(ctx, true)
			return records, true, nil
		default:
			s.recordCache(ctx, false)
		}
	}

	first, err := s.LoadPage(ctx, 1, s.sweepSize)
	if err != nil {
		return nil, false, err
	}

	records := make([]entities.Record, 0, max(first.Total, len(first.Data)))
	records = append(records, first.Data...)

	if first.Pages > 1 {
		keys := make([]PageKey, 0, first.Pages-1)
		for p := 2; p <= first.Pages; p++ {
			keys = append(keys, PageKey{Page: p, PageSize: s.sweepSize})
		}

		pages, errs := s.loader.LoadMany(ctx, keys)()
		for i, err := range errs {
			if err != nil {
				s.loader.Clear(ctx, keys[i])
			}
		}
		for _, err := range errs {
			if err != nil {
				return nil, false, err
			}
		}
		for i, page := range pages {
			if page == nil {
				return nil, false, apperrors.NewMalformedResponseError("records sweep returned no page", nil)
			}
			if page.Page != keys[i].Page {
				log.Debug().Str("kind", s.kind).Int("requested", keys[i].Page).Int("returned", page.Page).Msg("records service returned a different page")
			}
			records = append(records, page.Data...)
		}
	}

	return records, false, nil
}

// storeSweep caches records read since epoch. It reports false, writing
// nothing, when an invalidation happened in the meantime.
func (s *RecordSource) storeSweep(ctx context.Context, epoch uint64, records []entities.Record) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.epoch != epoch {
		return false
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, SweepKey(s.kind), records, s.cacheTTL); err != nil {
			log.Warn().Err(err).Str("kind", s.kind).Msg("sweep cache write failed")
		}
	}
	return true
}

func (s *RecordSource) currentEpoch() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch
}

// Invalidate drops memoized pages and the shared sweep
func (s *RecordSource) Invalidate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.epoch++
	s.loader.ClearAll()
	if s.cache == nil {
		return nil
	}
	return s.cache.Delete(ctx, SweepKey(s.kind))
}

func (s *RecordSource) recordCache(ctx context.Context, hit bool) {
	if s.recorder == nil {
		return
	}
	if hit {
		s.recorder.RecordCacheHit(ctx, "sweep")
		return
	}
	s.recorder.RecordCacheMiss(ctx, "sweep")
}
