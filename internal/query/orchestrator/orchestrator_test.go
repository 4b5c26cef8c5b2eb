package orchestrator_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zatekoja/clinicopsdashboard/internal/domain/entities"
	"github.com/zatekoja/clinicopsdashboard/internal/query/debounce/debouncetest"
	"github.com/zatekoja/clinicopsdashboard/internal/query/fields"
	"github.com/zatekoja/clinicopsdashboard/internal/query/orchestrator"
	"github.com/zatekoja/clinicopsdashboard/internal/query/pagination"
	apperrors "github.com/zatekoja/clinicopsdashboard/pkg/errors"
)

// staticSource serves pages out of a fixed record list.
type staticSource struct {
	records       []entities.Record
	pageCalls     atomic.Int32
	sweepCalls    atomic.Int32
	invalidations atomic.Int32
}

func (s *staticSource) LoadPage(_ context.Context, page, pageSize int) (*entities.RecordPage, error) {
	s.pageCalls.Add(1)
	b := pagination.Paginate(len(s.records), page, pageSize)
	return &entities.RecordPage{
		Data:     pagination.Slice(s.records, b),
		Page:     b.Page,
		PageSize: pageSize,
		Total:    len(s.records),
		Pages:    b.Pages,
	}, nil
}

func (s *staticSource) LoadAll(context.Context) ([]entities.Record, error) {
	s.sweepCalls.Add(1)
	return append([]entities.Record(nil), s.records...), nil
}

func (s *staticSource) Invalidate(context.Context) error {
	s.invalidations.Add(1)
	return nil
}

type reply struct {
	page    *entities.RecordPage
	records []entities.Record
	err     error
}

type call struct {
	page, pageSize int
	sweep          bool
	reply          chan reply
}

// gatedSource blocks every load until the test replies to it.
type gatedSource struct {
	calls         chan *call
	invalidations atomic.Int32
}

func newGatedSource() *gatedSource {
	return &gatedSource{calls: make(chan *call, 16)}
}

func (s *gatedSource) LoadPage(ctx context.Context, page, pageSize int) (*entities.RecordPage, error) {
	c := &call{page: page, pageSize: pageSize, reply: make(chan reply, 1)}
	s.calls <- c
	select {
	case r := <-c.reply:
		return r.page, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *gatedSource) LoadAll(ctx context.Context) ([]entities.Record, error) {
	c := &call{sweep: true, reply: make(chan reply, 1)}
	s.calls <- c
	select {
	case r := <-c.reply:
		return r.records, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *gatedSource) Invalidate(context.Context) error {
	s.invalidations.Add(1)
	return nil
}

func (s *gatedSource) next(t *testing.T) *call {
	t.Helper()
	select {
	case c := <-s.calls:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a load")
		return nil
	}
}

func (s *gatedSource) assertNoCall(t *testing.T) {
	t.Helper()
	select {
	case c := <-s.calls:
		t.Fatalf("unexpected load: %+v", c)
	case <-time.After(50 * time.Millisecond):
	}
}

type countingRecorder struct {
	mu    sync.Mutex
	modes []entities.Mode
}

func (r *countingRecorder) RecordStaleDiscard(_ context.Context, _ string, mode entities.Mode) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modes = append(r.modes, mode)
}

func (r *countingRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.modes)
}

func patients(n int, surnames map[int]string) []entities.Record {
	out := make([]entities.Record, 0, n)
	for i := 1; i <= n; i++ {
		last := fmt.Sprintf("Doe%02d", i)
		if s, ok := surnames[i]; ok {
			last = s
		}
		gender := "Male"
		if i%2 == 0 {
			gender = "Female"
		}
		out = append(out, entities.Record{
			"id":         fmt.Sprintf("P%02d", i),
			"first_name": "Patient",
			"last_name":  last,
			"gender":     gender,
		})
	}
	return out
}

func ids(records []entities.Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.Str("id")
	}
	return out
}

func waitIdle(t *testing.T, o *orchestrator.Orchestrator) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, o.WaitIdle(ctx))
}

func newOrchestrator(src orchestrator.Source, clock *debouncetest.Scheduler, rec orchestrator.Recorder) *orchestrator.Orchestrator {
	return orchestrator.New(orchestrator.Options{
		Fields:    fields.Patients(),
		Source:    src,
		PageSize:  10,
		Debounce:  300 * time.Millisecond,
		Scheduler: clock,
		Now:       func() time.Time { return time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC) },
		Recorder:  rec,
	})
}

func TestOrchestrator_SearchThenClearRoundTrip(t *testing.T) {
	// Arrange
	src := &staticSource{records: patients(23, map[int]string{3: "Okafor", 7: "Okafor", 12: "Okafor", 20: "Okafor"})}
	clock := debouncetest.New()
	o := newOrchestrator(src, clock, nil)
	defer o.Close()

	// Act
	o.Start()
	waitIdle(t, o)

	// Assert
	state := o.GetState()
	assert.Equal(t, entities.ModeServer, state.Mode)
	assert.Equal(t, []string{"P01", "P02", "P03", "P04", "P05", "P06", "P07", "P08", "P09", "P10"}, ids(state.Result.VisibleRecords))
	assert.Equal(t, entities.PaginationState{Page: 1, PageSize: 10, Total: 23, Pages: 3}, state.Result.Pagination)
	assert.True(t, state.Loaded)

	o.GoToPage(2)
	waitIdle(t, o)
	assert.Equal(t, 2, o.GetState().Result.Pagination.Page)

	// Search settles only after the quiet period
	o.SetSearchText("okafor")
	clock.Advance(299 * time.Millisecond)
	state = o.GetState()
	assert.Equal(t, "okafor", state.Search.RawQuery)
	assert.Empty(t, state.Search.DebouncedQuery)
	assert.Equal(t, entities.ModeServer, state.Mode)

	clock.Advance(time.Millisecond)
	waitIdle(t, o)

	state = o.GetState()
	assert.Equal(t, entities.ModeClient, state.Mode)
	assert.Equal(t, "okafor", state.Search.DebouncedQuery)
	assert.Equal(t, []string{"P03", "P07", "P12", "P20"}, ids(state.Result.VisibleRecords))
	assert.Equal(t, entities.PaginationState{Page: 1, PageSize: 10, Total: 4, Pages: 1}, state.Result.Pagination)

	// Clearing the search returns to server paging
	o.SetSearchText("")
	clock.Advance(300 * time.Millisecond)
	waitIdle(t, o)

	state = o.GetState()
	assert.Equal(t, entities.ModeServer, state.Mode)
	assert.Equal(t, entities.PaginationState{Page: 1, PageSize: 10, Total: 23, Pages: 3}, state.Result.Pagination)
	assert.Len(t, state.Result.VisibleRecords, 10)
	assert.Equal(t, int32(1), src.sweepCalls.Load())
}

func TestOrchestrator_TypingBurstSettlesOnce(t *testing.T) {
	src := &staticSource{records: patients(5, map[int]string{2: "Bello"})}
	clock := debouncetest.New()
	o := newOrchestrator(src, clock, nil)
	defer o.Close()

	o.Start()
	waitIdle(t, o)

	for _, text := range []string{"b", "be", "bel", "bell", "bello"} {
		o.SetSearchText(text)
		clock.Advance(100 * time.Millisecond)
	}
	assert.Empty(t, o.GetState().Search.DebouncedQuery)

	clock.Advance(200 * time.Millisecond)
	waitIdle(t, o)

	state := o.GetState()
	assert.Equal(t, "bello", state.Search.DebouncedQuery)
	assert.Equal(t, []string{"P02"}, ids(state.Result.VisibleRecords))
	assert.Equal(t, int32(1), src.sweepCalls.Load())
}

func TestOrchestrator_ClientModeReusesFullSet(t *testing.T) {
	src := &staticSource{records: patients(23, nil)}
	o := newOrchestrator(src, debouncetest.New(), nil)
	defer o.Close()

	o.Start()
	waitIdle(t, o)

	o.SetFilter("gender", entities.FilterValue{Value: "Female"})
	waitIdle(t, o)

	state := o.GetState()
	assert.Equal(t, entities.ModeClient, state.Mode)
	assert.Equal(t, 11, state.Result.Pagination.Total)
	assert.Equal(t, 2, state.Result.Pagination.Pages)

	o.GoToPage(2)
	o.SetSort("id", entities.SortDesc)
	waitIdle(t, o)

	state = o.GetState()
	assert.Equal(t, 2, state.Result.Pagination.Page)
	assert.Equal(t, []string{"P02"}, ids(state.Result.VisibleRecords))

	o.SetFilter("gender", entities.FilterValue{Value: "Male"})
	waitIdle(t, o)

	state = o.GetState()
	assert.Equal(t, 1, state.Result.Pagination.Page)
	assert.Equal(t, 12, state.Result.Pagination.Total)
	assert.Equal(t, int32(1), src.sweepCalls.Load())

	o.Refetch(context.Background())
	waitIdle(t, o)
	assert.Equal(t, int32(2), src.sweepCalls.Load())
	assert.Equal(t, int32(1), src.invalidations.Load())
}

func TestOrchestrator_ServerPageSortedWhenKeySet(t *testing.T) {
	src := &staticSource{records: patients(3, map[int]string{1: "Zubair", 2: "Adeyemi", 3: "Musa"})}
	o := newOrchestrator(src, debouncetest.New(), nil)
	defer o.Close()

	o.Start()
	waitIdle(t, o)
	assert.Equal(t, []string{"P01", "P02", "P03"}, ids(o.GetState().Result.VisibleRecords))

	o.ToggleSort("name")
	waitIdle(t, o)
	state := o.GetState()
	assert.Equal(t, entities.ModeServer, state.Mode)
	assert.Equal(t, entities.SortSpec{Key: "name", Direction: entities.SortAsc}, state.Sort)
	assert.Equal(t, []string{"P02", "P03", "P01"}, ids(state.Result.VisibleRecords))

	o.ToggleSort("name")
	waitIdle(t, o)
	assert.Equal(t, []string{"P01", "P03", "P02"}, ids(o.GetState().Result.VisibleRecords))
}

func TestOrchestrator_StaleServerPageIsDiscarded(t *testing.T) {
	// Arrange
	src := newGatedSource()
	rec := &countingRecorder{}
	o := newOrchestrator(src, debouncetest.New(), rec)
	defer o.Close()

	o.Start()
	first := src.next(t)
	first.reply <- reply{page: &entities.RecordPage{Data: patients(10, nil), Page: 1, PageSize: 10, Total: 50, Pages: 5}}
	waitIdle(t, o)

	// Act
	o.GoToPage(2)
	slow := src.next(t)
	o.GoToPage(3)
	fast := src.next(t)
	require.Equal(t, 2, slow.page)
	require.Equal(t, 3, fast.page)

	fast.reply <- reply{page: &entities.RecordPage{Data: []entities.Record{{"id": "page3"}}, Page: 3, PageSize: 10, Total: 50, Pages: 5}}
	slow.reply <- reply{page: &entities.RecordPage{Data: []entities.Record{{"id": "page2"}}, Page: 2, PageSize: 10, Total: 50, Pages: 5}}
	waitIdle(t, o)

	// Assert
	state := o.GetState()
	assert.Equal(t, 3, state.Result.Pagination.Page)
	assert.Equal(t, []string{"page3"}, ids(state.Result.VisibleRecords))
	assert.False(t, state.Loading)
	assert.Equal(t, 1, rec.count())
}

func TestOrchestrator_LatestFilterWinsOverInFlightSweep(t *testing.T) {
	src := newGatedSource()
	o := newOrchestrator(src, debouncetest.New(), nil)
	defer o.Close()

	o.Start()
	src.next(t).reply <- reply{page: &entities.RecordPage{Data: []entities.Record{}, Page: 1, PageSize: 10, Pages: 1}}
	waitIdle(t, o)

	o.SetFilter("gender", entities.FilterValue{Value: "Female"})
	sweep := src.next(t)
	require.True(t, sweep.sweep)
	assert.True(t, o.GetState().Loading)

	o.SetFilter("gender", entities.FilterValue{Value: "Male"})
	src.assertNoCall(t)

	sweep.reply <- reply{records: patients(6, nil)}
	waitIdle(t, o)

	state := o.GetState()
	assert.Equal(t, []string{"P01", "P03", "P05"}, ids(state.Result.VisibleRecords))
	assert.Equal(t, entities.FilterSpec{"gender": {Value: "Male"}}, state.Filters)
}

func TestOrchestrator_SweepSupersededByRefetchIsDiscarded(t *testing.T) {
	src := newGatedSource()
	rec := &countingRecorder{}
	o := newOrchestrator(src, debouncetest.New(), rec)
	defer o.Close()

	o.Start()
	src.next(t).reply <- reply{page: &entities.RecordPage{Data: []entities.Record{}, Page: 1, PageSize: 10, Pages: 1}}
	waitIdle(t, o)

	o.SetFilter("gender", entities.FilterValue{Value: "Female"})
	old := src.next(t)

	o.Refetch(context.Background())
	fresh := src.next(t)

	fresh.reply <- reply{records: []entities.Record{{"id": "fresh", "gender": "Female"}}}
	old.reply <- reply{records: []entities.Record{{"id": "old-1", "gender": "Female"}, {"id": "old-2", "gender": "Female"}}}
	waitIdle(t, o)

	assert.Equal(t, []string{"fresh"}, ids(o.GetState().Result.VisibleRecords))
	assert.Equal(t, int32(1), src.invalidations.Load())
	assert.Equal(t, 1, rec.count())
}

func TestOrchestrator_FirstLoadErrorThenRetry(t *testing.T) {
	src := newGatedSource()
	o := newOrchestrator(src, debouncetest.New(), nil)
	defer o.Close()

	o.Start()
	src.next(t).reply <- reply{err: apperrors.NewFetchFailedError("records service is down for maintenance", 503, nil)}
	waitIdle(t, o)

	state := o.GetState()
	require.NotNil(t, state.Error)
	assert.Equal(t, apperrors.ErrorTypeFetchFailed, state.Error.Type)
	assert.Equal(t, "records service is down for maintenance", state.Error.Message)
	assert.True(t, state.Error.Retryable)
	assert.False(t, state.Loaded)
	assert.Empty(t, state.Result.VisibleRecords)

	o.Refetch(context.Background())
	retry := src.next(t)
	assert.Equal(t, 1, retry.page)
	assert.Equal(t, 10, retry.pageSize)
	retry.reply <- reply{page: &entities.RecordPage{Data: patients(2, nil), Page: 1, PageSize: 10, Total: 2, Pages: 1}}
	waitIdle(t, o)

	state = o.GetState()
	assert.Nil(t, state.Error)
	assert.True(t, state.Loaded)
	assert.Len(t, state.Result.VisibleRecords, 2)
}

func TestOrchestrator_ErrorKeepsVisibleRecords(t *testing.T) {
	src := newGatedSource()
	o := newOrchestrator(src, debouncetest.New(), nil)
	defer o.Close()

	o.Start()
	src.next(t).reply <- reply{page: &entities.RecordPage{Data: patients(10, nil), Page: 1, PageSize: 10, Total: 30, Pages: 3}}
	waitIdle(t, o)

	o.GoToPage(2)
	src.next(t).reply <- reply{err: apperrors.NewMalformedResponseError("response missing total", nil)}
	waitIdle(t, o)

	state := o.GetState()
	require.NotNil(t, state.Error)
	assert.Equal(t, apperrors.ErrorTypeMalformedResponse, state.Error.Type)
	assert.Equal(t, "Unable to load records. Please try again.", state.Error.Message)
	assert.Len(t, state.Result.VisibleRecords, 10)
	assert.Equal(t, 1, state.Result.Pagination.Page)
	assert.True(t, state.Loaded)

	// Retry re-issues the failed page
	o.Refetch(context.Background())
	retry := src.next(t)
	assert.Equal(t, 2, retry.page)
	retry.reply <- reply{page: &entities.RecordPage{Data: patients(3, nil), Page: 2, PageSize: 10, Total: 30, Pages: 3}}
	waitIdle(t, o)

	state = o.GetState()
	assert.Nil(t, state.Error)
	assert.Equal(t, 2, state.Result.Pagination.Page)
}

func TestOrchestrator_InvalidAgeBoundIsReportedAndIgnored(t *testing.T) {
	src := &staticSource{records: []entities.Record{
		{"id": "a", "date_of_birth": "1990-01-01"},
		{"id": "b", "date_of_birth": "2010-01-01"},
	}}
	o := newOrchestrator(src, debouncetest.New(), nil)
	defer o.Close()

	o.Start()
	o.SetFilter("age", entities.FilterValue{Min: "abc", Max: "20"})
	waitIdle(t, o)

	state := o.GetState()
	assert.Equal(t, []string{"b"}, ids(state.Result.VisibleRecords))
	require.Len(t, state.IgnoredFilters, 1)
	assert.Contains(t, state.IgnoredFilters[0], "abc")
}

func TestOrchestrator_InvalidOnlyFilterStaysInServerMode(t *testing.T) {
	// Arrange
	src := &staticSource{records: patients(23, nil)}
	o := newOrchestrator(src, debouncetest.New(), nil)
	defer o.Close()
	o.Start()
	waitIdle(t, o)

	// Act
	o.SetFilter("age", entities.FilterValue{Min: "abc", Max: "-4"})
	waitIdle(t, o)

	// Assert
	state := o.GetState()
	assert.Equal(t, entities.ModeServer, state.Mode)
	assert.Equal(t, 23, state.Result.Pagination.Total)
	assert.Len(t, state.IgnoredFilters, 2)
	assert.Zero(t, src.sweepCalls.Load())

	o.SetFilter("age", entities.FilterValue{Min: "abc", Max: "40"})
	waitIdle(t, o)
	assert.Equal(t, entities.ModeClient, o.GetState().Mode)
	assert.Equal(t, int32(1), src.sweepCalls.Load())
}

func TestOrchestrator_SubscribeReceivesVersionedStates(t *testing.T) {
	src := &staticSource{records: patients(3, nil)}
	o := newOrchestrator(src, debouncetest.New(), nil)
	defer o.Close()

	var (
		mu       sync.Mutex
		versions []uint64
	)
	unsubscribe := o.Subscribe(func(s entities.ViewState) {
		mu.Lock()
		defer mu.Unlock()
		versions = append(versions, s.Version)
	})

	o.Start()
	waitIdle(t, o)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(versions) == 2
	}, time.Second, 5*time.Millisecond)

	unsubscribe()
	o.SetPageSize(2)
	waitIdle(t, o)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, versions, 2)
	assert.Less(t, versions[0], versions[1])
	assert.Greater(t, o.GetState().Version, versions[1])
}

func TestOrchestrator_SetPageSizeResetsPage(t *testing.T) {
	src := &staticSource{records: patients(23, nil)}
	o := newOrchestrator(src, debouncetest.New(), nil)
	defer o.Close()

	o.Start()
	waitIdle(t, o)
	o.GoToPage(3)
	waitIdle(t, o)

	o.SetPageSize(5)
	waitIdle(t, o)

	state := o.GetState()
	assert.Equal(t, entities.PaginationState{Page: 1, PageSize: 5, Total: 23, Pages: 5}, state.Result.Pagination)
	assert.Len(t, state.PageNumbers, 5)
}

func TestOrchestrator_GoToPageClampsToKnownPages(t *testing.T) {
	src := newGatedSource()
	o := newOrchestrator(src, debouncetest.New(), nil)
	defer o.Close()

	o.Start()
	src.next(t).reply <- reply{page: &entities.RecordPage{Data: patients(10, nil), Page: 1, PageSize: 10, Total: 45, Pages: 5}}
	waitIdle(t, o)

	o.GoToPage(999)
	c := src.next(t)
	assert.Equal(t, 5, c.page)
	c.reply <- reply{page: &entities.RecordPage{Data: patients(5, nil), Page: 5, PageSize: 10, Total: 45, Pages: 5}}
	waitIdle(t, o)
}

func TestOrchestrator_CloseDropsInFlightResults(t *testing.T) {
	src := newGatedSource()
	o := newOrchestrator(src, debouncetest.New(), nil)

	o.Start()
	pending := src.next(t)
	o.Close()
	pending.reply <- reply{page: &entities.RecordPage{Data: patients(1, nil), Page: 1, PageSize: 10, Total: 1, Pages: 1}}

	waitIdle(t, o)
	assert.False(t, o.GetState().Loaded)
}
