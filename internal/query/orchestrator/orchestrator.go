// Package orchestrator owns the search, filter, sort and page state of one
// record view and turns intents into the page to render.
//
// With no settled search text and no active filter the view is in server
// mode: each page is fetched from the records service and its pagination
// metadata is shown as is. Otherwise the view is in client mode: the full
// record set is swept once, then filtered, sorted and sliced locally.
//
// Every recompute bumps a generation counter. A fetch remembers the
// generation that issued it and its result is dropped if the counter has
// moved on, so the last intent always wins regardless of response order.
package orchestrator

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/zatekoja/clinicopsdashboard/internal/domain/entities"
	"github.com/zatekoja/clinicopsdashboard/internal/query/comparator"
	"github.com/zatekoja/clinicopsdashboard/internal/query/debounce"
	"github.com/zatekoja/clinicopsdashboard/internal/query/fields"
	"github.com/zatekoja/clinicopsdashboard/internal/query/pagination"
	"github.com/zatekoja/clinicopsdashboard/internal/query/predicate"
	apperrors "github.com/zatekoja/clinicopsdashboard/pkg/errors"
)

// DefaultDebounce is the quiet period applied to search text
const DefaultDebounce = 300 * time.Millisecond

// Source loads records of one kind.
type Source interface {
	// LoadPage fetches one server page.
	LoadPage(ctx context.Context, page, pageSize int) (*entities.RecordPage, error)
	// LoadAll sweeps every page and returns the full record set.
	LoadAll(ctx context.Context) ([]entities.Record, error)
	// Invalidate drops anything the source has cached.
	Invalidate(ctx context.Context) error
}

// Recorder receives orchestrator measurements.
type Recorder interface {
	RecordStaleDiscard(ctx context.Context, kind string, mode entities.Mode)
}

// Options configures an Orchestrator.
type Options struct {
	Fields     fields.FieldSet
	Source     Source
	PageSize   int
	Debounce   time.Duration
	PageWindow int
	Scheduler  debounce.Scheduler
	Now        func() time.Time
	Logger     *zerolog.Logger
	Recorder   Recorder
}

// Orchestrator is safe for concurrent use. Listeners are called outside the
// internal lock and may call back into the Orchestrator.
type Orchestrator struct {
	fields     fields.FieldSet
	source     Source
	pageWindow int
	now        func() time.Time
	logger     zerolog.Logger
	recorder   Recorder
	debouncer  *debounce.Debouncer[string]

	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.Mutex
	search        entities.SearchState
	searchPending bool
	filters       entities.FilterSpec
	sort          entities.SortSpec
	page          int
	pageSize      int
	mode          entities.Mode

	generation uint64
	inflight   int

	// fullSet is the last completed sweep; nil until one completes.
	fullSet    []entities.Record
	sweepEpoch uint64
	sweeping   bool

	result      entities.QueryResult
	pageNumbers []entities.PageItem
	ignored     []string
	loading     bool
	loaded      bool
	viewErr     *entities.ViewError
	version     uint64
	closed      bool

	changed      chan struct{}
	listeners    map[int]func(entities.ViewState)
	nextListener int
}

// New creates an Orchestrator. Nothing is fetched until Start.
func New(opts Options) *Orchestrator {
	if opts.PageSize < 1 {
		opts.PageSize = pagination.DefaultPageSize
	}
	if opts.PageWindow < 1 {
		opts.PageWindow = pagination.DefaultWindow
	}
	if opts.Debounce < 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = &log.Logger
	}

	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		fields:     opts.Fields,
		source:     opts.Source,
		pageWindow: opts.PageWindow,
		now:        opts.Now,
		logger:     opts.Logger.With().Str("component", "orchestrator").Str("kind", opts.Fields.Kind).Logger(),
		recorder:   opts.Recorder,
		ctx:        ctx,
		cancel:     cancel,
		filters:    entities.FilterSpec{},
		page:       1,
		pageSize:   opts.PageSize,
		mode:       entities.ModeServer,
		changed:    make(chan struct{}),
		listeners:  make(map[int]func(entities.ViewState)),
	}
	o.result = entities.QueryResult{
		VisibleRecords: []entities.Record{},
		Pagination:     entities.PaginationState{Page: 1, PageSize: o.pageSize, Pages: 1},
	}
	o.pageNumbers = pagination.Window(1, 1, o.pageWindow)
	o.debouncer = debounce.New(opts.Debounce, opts.Scheduler, o.onDebounced)
	return o
}

// Start issues the first fetch.
func (o *Orchestrator) Start() {
	o.mutate(func() bool {
		o.recomputeLocked()
		return true
	})
}

// Close cancels pending work and drops listeners. Results of fetches still in
// flight are discarded.
func (o *Orchestrator) Close() {
	o.debouncer.Close()
	o.cancel()

	o.mu.Lock()
	o.closed = true
	o.searchPending = false
	o.listeners = make(map[int]func(entities.ViewState))
	o.broadcastLocked()
	o.mu.Unlock()
}

// SetSearchText records typed text. The query applies once the text has
// been stable for the debounce period.
func (o *Orchestrator) SetSearchText(text string) {
	o.mutate(func() bool {
		o.search.RawQuery = text
		o.searchPending = true
		return true
	})
	o.debouncer.Push(text)
}

func (o *Orchestrator) onDebounced(text string) {
	o.mutate(func() bool {
		o.searchPending = false
		if strings.TrimSpace(text) == strings.TrimSpace(o.search.DebouncedQuery) {
			o.search.DebouncedQuery = text
			return true
		}
		o.search.DebouncedQuery = text
		o.page = 1
		o.recomputeLocked()
		return true
	})
}

// SetFilter sets one filter. An empty value clears it.
func (o *Orchestrator) SetFilter(name string, value entities.FilterValue) {
	o.mutate(func() bool {
		if value.IsEmpty() {
			if _, ok := o.filters[name]; !ok {
				return false
			}
			delete(o.filters, name)
		} else {
			if current, ok := o.filters[name]; ok && current == value {
				return false
			}
			o.filters[name] = value
		}
		o.page = 1
		o.recomputeLocked()
		return true
	})
}

// ClearFilter removes one filter.
func (o *Orchestrator) ClearFilter(name string) {
	o.SetFilter(name, entities.FilterValue{})
}

// ClearAllFilters removes every filter. Search text is kept.
func (o *Orchestrator) ClearAllFilters() {
	o.mutate(func() bool {
		if len(o.filters) == 0 {
			return false
		}
		o.filters = entities.FilterSpec{}
		o.page = 1
		o.recomputeLocked()
		return true
	})
}

// SetSort replaces the sort spec. The current page is kept.
func (o *Orchestrator) SetSort(key string, direction entities.SortDirection) {
	o.mutate(func() bool {
		o.sort = entities.SortSpec{Key: key, Direction: direction}
		if key == "" {
			o.sort.Direction = ""
		}
		o.recomputeLocked()
		return true
	})
}

// ToggleSort flips the direction of the active key or sorts ascending by a new one.
func (o *Orchestrator) ToggleSort(key string) {
	o.mutate(func() bool {
		o.sort = o.sort.Toggle(key)
		o.recomputeLocked()
		return true
	})
}

// GoToPage moves to page, clamped to the known page range.
func (o *Orchestrator) GoToPage(page int) {
	o.mutate(func() bool {
		page = max(1, page)
		if o.loaded {
			page = min(page, o.result.Pagination.Pages)
		}
		o.page = page
		o.recomputeLocked()
		return true
	})
}

// SetPageSize changes the page size and returns to the first page.
func (o *Orchestrator) SetPageSize(size int) {
	o.mutate(func() bool {
		if size < 1 {
			size = pagination.DefaultPageSize
		}
		o.pageSize = size
		o.page = 1
		o.recomputeLocked()
		return true
	})
}

// Refetch drops cached records and re-issues the fetch for the current
// state. Visible records stay until the new fetch succeeds.
func (o *Orchestrator) Refetch(ctx context.Context) {
	if o.source != nil {
		if err := o.source.Invalidate(ctx); err != nil {
			o.logger.Warn().Err(err).Msg("failed to invalidate record source")
		}
	}
	o.mutate(func() bool {
		o.fullSet = nil
		o.sweepEpoch++
		o.sweeping = false
		o.recomputeLocked()
		return true
	})
}

// GetState returns a snapshot of the view.
func (o *Orchestrator) GetState() entities.ViewState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

// Subscribe registers fn for every published state and returns a function
// that removes it. Snapshots published from different goroutines may arrive
// out of order; Version orders them.
func (o *Orchestrator) Subscribe(fn func(entities.ViewState)) func() {
	o.mu.Lock()
	defer o.mu.Unlock()

	id := o.nextListener
	o.nextListener++
	o.listeners[id] = fn

	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		delete(o.listeners, id)
	}
}

// WaitIdle blocks until no search text is waiting to settle and no fetch is
// in flight.
func (o *Orchestrator) WaitIdle(ctx context.Context) error {
	for {
		o.mu.Lock()
		idle := o.closed || (!o.searchPending && o.inflight == 0)
		changed := o.changed
		o.mu.Unlock()

		if idle {
			return nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// mutate runs fn under the lock and publishes a new state when fn reports a change.
func (o *Orchestrator) mutate(fn func() bool) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	if !fn() {
		o.mu.Unlock()
		return
	}
	state, listeners := o.publishLocked()
	o.mu.Unlock()

	notify(state, listeners)
}

func (o *Orchestrator) publishLocked() (entities.ViewState, []func(entities.ViewState)) {
	o.version++
	o.broadcastLocked()

	listeners := make([]func(entities.ViewState), 0, len(o.listeners))
	for _, fn := range o.listeners {
		listeners = append(listeners, fn)
	}
	return o.snapshotLocked(), listeners
}

func (o *Orchestrator) broadcastLocked() {
	close(o.changed)
	o.changed = make(chan struct{})
}

func notify(state entities.ViewState, listeners []func(entities.ViewState)) {
	for _, fn := range listeners {
		fn(state)
	}
}

func (o *Orchestrator) snapshotLocked() entities.ViewState {
	var viewErr *entities.ViewError
	if o.viewErr != nil {
		e := *o.viewErr
		viewErr = &e
	}
	return entities.ViewState{
		Kind:           o.fields.Kind,
		Mode:           o.mode,
		Search:         o.search,
		Filters:        o.filters.Clone(),
		Sort:           o.sort,
		Result:         o.result,
		PageNumbers:    o.pageNumbers,
		Loading:        o.loading,
		Loaded:         o.loaded,
		Error:          viewErr,
		IgnoredFilters: o.ignored,
		Version:        o.version,
	}
}

// modeLocked picks client mode only when search text or a filter actually
// narrows the records; filters holding nothing but ignored values stay server-side.
func (o *Orchestrator) modeLocked() entities.Mode {
	if strings.TrimSpace(o.search.DebouncedQuery) != "" {
		return entities.ModeClient
	}
	if active, _ := predicate.Constrains(o.filters, o.fields.Filtering); active {
		return entities.ModeClient
	}
	return entities.ModeServer
}

// recomputeLocked derives the visible page from the current state, issuing a
// fetch when the records it needs are not at hand.
func (o *Orchestrator) recomputeLocked() {
	o.generation++

	if mode := o.modeLocked(); mode != o.mode {
		o.logger.Debug().Str("from", string(o.mode)).Str("to", string(mode)).Msg("view mode changed")
		o.mode = mode
		o.page = 1
	}

	if o.mode == entities.ModeServer {
		_, errs := predicate.Constrains(o.filters, o.fields.Filtering)
		o.reportIgnoredLocked(errs)
		o.loading = true
		o.inflight++
		go o.fetchPage(o.generation, o.page, o.pageSize, o.sort)
		return
	}

	if o.fullSet != nil {
		o.applyClientLocked()
		o.loading = false
		return
	}

	o.loading = true
	if !o.sweeping {
		o.sweeping = true
		o.inflight++
		go o.sweep(o.sweepEpoch)
	}
}

func (o *Orchestrator) applyClientLocked() {
	pred, errs := predicate.Build(o.search.DebouncedQuery, o.filters, o.fields.Filtering, o.now())

	o.reportIgnoredLocked(errs)

	matched := make([]entities.Record, 0, len(o.fullSet))
	for _, r := range o.fullSet {
		if pred(r) {
			matched = append(matched, r)
		}
	}
	sorted := comparator.Sorted(matched, o.sort, o.fields.Sorting)

	b := pagination.Paginate(len(sorted), o.page, o.pageSize)
	o.page = b.Page
	o.setResultLocked(entities.QueryResult{
		VisibleRecords: pagination.Slice(sorted, b),
		Pagination: entities.PaginationState{
			Page:     b.Page,
			PageSize: o.pageSize,
			Total:    len(sorted),
			Pages:    b.Pages,
		},
	})
}

func (o *Orchestrator) reportIgnoredLocked(errs []error) {
	o.ignored = nil
	for _, err := range errs {
		o.logger.Warn().Err(err).Msg("filter value ignored")
		o.ignored = append(o.ignored, err.Error())
	}
}

func (o *Orchestrator) setResultLocked(result entities.QueryResult) {
	o.result = result
	o.pageNumbers = pagination.Window(result.Pagination.Page, result.Pagination.Pages, o.pageWindow)
	o.loaded = true
	o.viewErr = nil
}

func (o *Orchestrator) fetchPage(generation uint64, page, pageSize int, sort entities.SortSpec) {
	rp, err := o.source.LoadPage(o.ctx, page, pageSize)

	o.mu.Lock()
	o.inflight--
	if o.closed {
		o.broadcastLocked()
		o.mu.Unlock()
		return
	}
	if generation != o.generation {
		o.discardLocked(entities.ModeServer, generation)
		o.mu.Unlock()
		return
	}

	o.loading = false
	if err != nil {
		o.failLocked(err)
	} else {
		records := rp.Data
		if sort.Key != "" {
			records = comparator.Sorted(records, sort, o.fields.Sorting)
		}
		if records == nil {
			records = []entities.Record{}
		}
		pages := max(1, rp.Pages)
		current := min(max(1, rp.Page), pages)
		o.page = current
		o.setResultLocked(entities.QueryResult{
			VisibleRecords: records,
			Pagination: entities.PaginationState{
				Page:     current,
				PageSize: rp.PageSize,
				Total:    rp.Total,
				Pages:    pages,
			},
		})
	}

	state, listeners := o.publishLocked()
	o.mu.Unlock()
	notify(state, listeners)
}

func (o *Orchestrator) sweep(epoch uint64) {
	records, err := o.source.LoadAll(o.ctx)

	o.mu.Lock()
	o.inflight--
	if o.closed {
		o.broadcastLocked()
		o.mu.Unlock()
		return
	}
	if epoch != o.sweepEpoch {
		o.discardLocked(entities.ModeClient, o.generation)
		o.mu.Unlock()
		return
	}

	o.sweeping = false
	if err == nil {
		if records == nil {
			records = []entities.Record{}
		}
		o.fullSet = records
	}

	// The view may have returned to server mode while the sweep ran; the
	// records are kept for the next client-mode recompute.
	if o.mode != entities.ModeClient {
		if err != nil {
			o.logger.Debug().Err(err).Msg("background sweep failed")
		}
		o.broadcastLocked()
		o.mu.Unlock()
		return
	}

	o.loading = false
	if err != nil {
		o.failLocked(err)
	} else {
		o.applyClientLocked()
	}

	state, listeners := o.publishLocked()
	o.mu.Unlock()
	notify(state, listeners)
}

func (o *Orchestrator) discardLocked(mode entities.Mode, generation uint64) {
	o.logger.Debug().
		Str("mode", string(mode)).
		Uint64("generation", generation).
		Uint64("current_generation", o.generation).
		Msg("discarding stale fetch result")
	if o.recorder != nil {
		o.recorder.RecordStaleDiscard(o.ctx, o.fields.Kind, mode)
	}
	o.broadcastLocked()
}

// failLocked sets the error state. Visible records are kept.
func (o *Orchestrator) failLocked(err error) {
	o.viewErr = ToViewError(err)

	switch apperrors.TypeOf(err) {
	case apperrors.ErrorTypeMalformedResponse:
		o.logger.Error().Err(err).Str("mode", string(o.mode)).Msg("malformed records response")
	default:
		o.logger.Warn().Err(err).Str("mode", string(o.mode)).Msg("failed to fetch records")
	}
}

// ToViewError maps a fetch error to its user-facing form. Malformed
// responses get the generic message; fetch failures carry the server's
// message when it sent one.
func ToViewError(err error) *entities.ViewError {
	viewErr := &entities.ViewError{
		Type:      apperrors.ErrorTypeFetchFailed,
		Message:   apperrors.DefaultFetchMessage,
		Retryable: true,
	}

	appErr, ok := apperrors.As(err)
	if !ok {
		return viewErr
	}
	switch appErr.Type {
	case apperrors.ErrorTypeMalformedResponse:
		viewErr.Type = apperrors.ErrorTypeMalformedResponse
	case apperrors.ErrorTypeFetchFailed:
		if appErr.Message != "" {
			viewErr.Message = appErr.Message
		}
	}
	return viewErr
}
