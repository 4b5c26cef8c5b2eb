package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/zatekoja/clinicopsdashboard/internal/domain/entities"
	"github.com/zatekoja/clinicopsdashboard/internal/domain/providers"
	"github.com/zatekoja/clinicopsdashboard/internal/infrastructure/observability"
	"github.com/zatekoja/clinicopsdashboard/internal/query/adapters"
	"github.com/zatekoja/clinicopsdashboard/internal/query/debounce"
	"github.com/zatekoja/clinicopsdashboard/internal/query/fields"
	"github.com/zatekoja/clinicopsdashboard/internal/query/orchestrator"
	apperrors "github.com/zatekoja/clinicopsdashboard/pkg/errors"
)

// ViewServiceConfig holds per-view defaults
type ViewServiceConfig struct {
	// Endpoints maps a record kind to its records service path
	Endpoints        map[string]string
	PageSize         int
	PageWindow       int
	Debounce         time.Duration
	IdleTTL          time.Duration
	CacheTTL         time.Duration
	SweepPageSize    int
	SweepConcurrency int
	// Scheduler drives search debouncing; nil uses the runtime timer.
	Scheduler debounce.Scheduler
	Now       func() time.Time
}

// ViewSession is one open record view
type ViewSession struct {
	ID   string
	Kind string

	orch     *orchestrator.Orchestrator
	mu       sync.Mutex
	lastSeen time.Time
	watchers int
}

// ViewService opens record views, routes intents to them and invalidates
// them when records change upstream.
type ViewService struct {
	fetcher  providers.RecordFetcher
	cache    *adapters.SweepCache
	eventBus providers.EventBus
	metrics  *observability.Metrics
	cfg      ViewServiceConfig

	mu       sync.RWMutex
	sessions map[string]*ViewSession

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewViewService creates a new view service. cache, eventBus and metrics may be nil.
func NewViewService(
	fetcher providers.RecordFetcher,
	cache *adapters.SweepCache,
	eventBus providers.EventBus,
	metrics *observability.Metrics,
	cfg ViewServiceConfig,
) *ViewService {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &ViewService{
		fetcher:  fetcher,
		cache:    cache,
		eventBus: eventBus,
		metrics:  metrics,
		cfg:      cfg,
		sessions: make(map[string]*ViewSession),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start subscribes to invalidation events for every configured kind and
// starts reaping idle sessions
func (s *ViewService) Start() error {
	if s.eventBus != nil {
		for _, kind := range s.kinds() {
			eventChan, err := s.eventBus.Subscribe(s.ctx, providers.GetRecordsChannel(kind))
			if err != nil {
				return fmt.Errorf("failed to subscribe to %s changes: %w", kind, err)
			}
			s.wg.Add(1)
			go s.processEvents(eventChan)
		}
	}

	if s.cfg.IdleTTL > 0 {
		s.wg.Add(1)
		go s.reapLoop()
	}

	log.Info().Strs("kinds", s.kinds()).Msg("view service started")
	return nil
}

// Stop closes every session and stops background work
func (s *ViewService) Stop() {
	s.cancel()
	s.wg.Wait()

	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[string]*ViewSession)
	s.mu.Unlock()

	for _, session := range sessions {
		session.orch.Close()
		s.metrics.AddActiveViews(context.Background(), -1)
	}
	log.Info().Int("closed_sessions", len(sessions)).Msg("view service stopped")
}

// Open creates a view of kind and issues its first fetch
func (s *ViewService) Open(ctx context.Context, kind string) (*ViewSession, error) {
	fieldSet, err := fields.Lookup(kind)
	if err != nil {
		return nil, err
	}
	endpoint, ok := s.cfg.Endpoints[kind]
	if !ok {
		return nil, apperrors.NewNotFoundError("record kind is not configured: " + kind)
	}

	source := adapters.NewRecordSource(adapters.RecordSourceOptions{
		Kind:             kind,
		Endpoint:         endpoint,
		Fetcher:          s.fetcher,
		Cache:            s.cache,
		CacheTTL:         s.cfg.CacheTTL,
		SweepPageSize:    s.cfg.SweepPageSize,
		SweepConcurrency: s.cfg.SweepConcurrency,
		Recorder:         s.metrics,
	})

	session := &ViewSession{
		ID:       uuid.New().String(),
		Kind:     kind,
		lastSeen: s.cfg.Now(),
	}
	logger := log.With().Str("view_id", session.ID).Logger()
	session.orch = orchestrator.New(orchestrator.Options{
		Fields:     fieldSet,
		Source:     source,
		PageSize:   s.cfg.PageSize,
		Debounce:   s.cfg.Debounce,
		PageWindow: s.cfg.PageWindow,
		Scheduler:  s.cfg.Scheduler,
		Now:        s.cfg.Now,
		Logger:     &logger,
		Recorder:   s.metrics,
	})

	s.mu.Lock()
	s.sessions[session.ID] = session
	s.mu.Unlock()
	s.metrics.AddActiveViews(ctx, 1)

	session.orch.Start()
	log.Debug().Str("view_id", session.ID).Str("kind", kind).Msg("view opened")
	return session, nil
}

// Close closes one view
func (s *ViewService) Close(ctx context.Context, id string) error {
	s.mu.Lock()
	session, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()

	if !ok {
		return apperrors.NewNotFoundError("view not found: " + id)
	}
	session.orch.Close()
	s.metrics.AddActiveViews(ctx, -1)
	return nil
}

// Get returns the view's current state
func (s *ViewService) Get(id string) (entities.ViewState, error) {
	session, err := s.session(id)
	if err != nil {
		return entities.ViewState{}, err
	}
	return session.orch.GetState(), nil
}

// WaitIdle blocks until the view has settled
func (s *ViewService) WaitIdle(ctx context.Context, id string) error {
	session, err := s.session(id)
	if err != nil {
		return err
	}
	return session.orch.WaitIdle(ctx)
}

// SetSearch sets the view's search text
func (s *ViewService) SetSearch(id, text string) (entities.ViewState, error) {
	return s.apply(id, func(o *orchestrator.Orchestrator) { o.SetSearchText(text) })
}

// SetFilter sets one filter. Unknown filter names are rejected.
func (s *ViewService) SetFilter(id, name string, value entities.FilterValue) (entities.ViewState, error) {
	session, err := s.session(id)
	if err != nil {
		return entities.ViewState{}, err
	}
	fieldSet, err := fields.Lookup(session.Kind)
	if err != nil {
		return entities.ViewState{}, err
	}
	if !contains(fieldSet.FilterNames(), name) {
		return entities.ViewState{}, apperrors.NewValidationError(
			fmt.Sprintf("unknown filter %q for %s", name, session.Kind))
	}
	if fieldSet.IsRangeFilter(name) && value.Value != "" {
		return entities.ViewState{}, apperrors.NewValidationError(
			fmt.Sprintf("filter %q takes min and max, not value", name))
	}

	session.orch.SetFilter(name, value)
	return session.orch.GetState(), nil
}

// ClearFilter removes one filter
func (s *ViewService) ClearFilter(id, name string) (entities.ViewState, error) {
	return s.apply(id, func(o *orchestrator.Orchestrator) { o.ClearFilter(name) })
}

// ClearAllFilters removes every filter
func (s *ViewService) ClearAllFilters(id string) (entities.ViewState, error) {
	return s.apply(id, func(o *orchestrator.Orchestrator) { o.ClearAllFilters() })
}

// SetSort sets the sort key and direction. Keys without a registered
// extractor sort by creation time.
func (s *ViewService) SetSort(id, key string, direction entities.SortDirection) (entities.ViewState, error) {
	return s.apply(id, func(o *orchestrator.Orchestrator) { o.SetSort(key, direction) })
}

// ToggleSort applies a header click on key
func (s *ViewService) ToggleSort(id, key string) (entities.ViewState, error) {
	return s.apply(id, func(o *orchestrator.Orchestrator) { o.ToggleSort(key) })
}

// GoToPage moves the view to page
func (s *ViewService) GoToPage(id string, page int) (entities.ViewState, error) {
	return s.apply(id, func(o *orchestrator.Orchestrator) { o.GoToPage(page) })
}

// SetPageSize changes the view's page size
func (s *ViewService) SetPageSize(id string, size int) (entities.ViewState, error) {
	return s.apply(id, func(o *orchestrator.Orchestrator) { o.SetPageSize(size) })
}

// Refetch re-issues the view's fetch with unchanged parameters
func (s *ViewService) Refetch(ctx context.Context, id string) (entities.ViewState, error) {
	return s.apply(id, func(o *orchestrator.Orchestrator) { o.Refetch(ctx) })
}

// Watch calls fn with every new state of the view until the returned
// function is called. Watched views are never reaped.
func (s *ViewService) Watch(id string, fn func(entities.ViewState)) (func(), error) {
	session, err := s.session(id)
	if err != nil {
		return nil, err
	}

	session.mu.Lock()
	session.watchers++
	session.mu.Unlock()

	unsubscribe := session.orch.Subscribe(fn)
	var once sync.Once
	return func() {
		once.Do(func() {
			unsubscribe()
			session.mu.Lock()
			session.watchers--
			session.lastSeen = s.cfg.Now()
			session.mu.Unlock()
		})
	}, nil
}

// PublishRecordsChanged announces that kind changed upstream. Without an
// event bus only this instance's views are invalidated.
func (s *ViewService) PublishRecordsChanged(ctx context.Context, kind, reason string) (*entities.RecordsChangedEvent, error) {
	if _, err := fields.Lookup(kind); err != nil {
		return nil, err
	}

	event := &entities.RecordsChangedEvent{
		ID:        uuid.New().String(),
		Kind:      kind,
		Reason:    reason,
		Timestamp: s.cfg.Now(),
	}

	if s.eventBus == nil {
		s.InvalidateKind(ctx, kind)
		return event, nil
	}
	if err := s.eventBus.Publish(ctx, providers.GetRecordsChannel(kind), event); err != nil {
		return nil, apperrors.NewInternalError("failed to publish records change", err)
	}
	return event, nil
}

// InvalidateKind refetches every open view of kind
func (s *ViewService) InvalidateKind(ctx context.Context, kind string) int {
	s.mu.RLock()
	var targets []*ViewSession
	for _, session := range s.sessions {
		if session.Kind == kind {
			targets = append(targets, session)
		}
	}
	s.mu.RUnlock()

	for _, session := range targets {
		session.orch.Refetch(ctx)
	}
	// Views closed since their last sweep still leave the shared copy behind.
	if len(targets) == 0 && s.cache != nil {
		if err := s.cache.Delete(ctx, adapters.SweepKey(kind)); err != nil {
			log.Warn().Err(err).Str("kind", kind).Msg("failed to drop cached sweep")
		}
	}
	return len(targets)
}

// Count returns the number of open views
func (s *ViewService) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// ReapIdle closes views nobody has touched or watched for IdleTTL
func (s *ViewService) ReapIdle(ctx context.Context) int {
	cutoff := s.cfg.Now().Add(-s.cfg.IdleTTL)

	s.mu.Lock()
	var idle []*ViewSession
	for id, session := range s.sessions {
		session.mu.Lock()
		expired := session.watchers == 0 && session.lastSeen.Before(cutoff)
		session.mu.Unlock()
		if expired {
			idle = append(idle, session)
			delete(s.sessions, id)
		}
	}
	s.mu.Unlock()

	for _, session := range idle {
		session.orch.Close()
		s.metrics.AddActiveViews(ctx, -1)
		log.Debug().Str("view_id", session.ID).Msg("reaped idle view")
	}
	return len(idle)
}

func (s *ViewService) reapLoop() {
	defer s.wg.Done()

	interval := s.cfg.IdleTTL / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.ReapIdle(s.ctx)
		}
	}
}

// processEvents processes records events and invalidates views accordingly
func (s *ViewService) processEvents(eventChan <-chan *entities.RecordsChangedEvent) {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case event, ok := <-eventChan:
			if !ok {
				return
			}
			if event == nil {
				continue
			}
			s.handleEvent(event)
		}
	}
}

func (s *ViewService) handleEvent(event *entities.RecordsChangedEvent) {
	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()

	refreshed := s.InvalidateKind(ctx, event.Kind)
	log.Info().
		Str("event_id", event.ID).
		Str("kind", event.Kind).
		Str("reason", event.Reason).
		Int("views", refreshed).
		Msg("records changed, views refetched")
}

func (s *ViewService) session(id string) (*ViewSession, error) {
	s.mu.RLock()
	session, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, apperrors.NewNotFoundError("view not found: " + id)
	}

	session.mu.Lock()
	session.lastSeen = s.cfg.Now()
	session.mu.Unlock()
	return session, nil
}

func (s *ViewService) apply(id string, intent func(*orchestrator.Orchestrator)) (entities.ViewState, error) {
	session, err := s.session(id)
	if err != nil {
		return entities.ViewState{}, err
	}
	intent(session.orch)
	return session.orch.GetState(), nil
}

func (s *ViewService) kinds() []string {
	kinds := make([]string, 0, len(s.cfg.Endpoints))
	for kind := range s.cfg.Endpoints {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

func contains(items []string, item string) bool {
	for _, it := range items {
		if it == item {
			return true
		}
	}
	return false
}
