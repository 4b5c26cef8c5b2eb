package debounce_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zatekoja/clinicopsdashboard/internal/query/debounce"
	"github.com/zatekoja/clinicopsdashboard/internal/query/debounce/debouncetest"
)

type emission struct {
	value string
	at    time.Duration
}

func newRecorder(clock *debouncetest.Scheduler) (*[]emission, func(string)) {
	var out []emission
	return &out, func(v string) {
		out = append(out, emission{value: v, at: clock.Now()})
	}
}

func TestDebouncer_EmitsOnlyLastValueOnce(t *testing.T) {
	clock := debouncetest.New()
	emitted, emit := newRecorder(clock)
	d := debounce.New(300*time.Millisecond, clock, emit)

	for _, v := range []string{"s", "sm", "smi", "smit", "smith"} {
		d.Push(v)
		clock.Advance(100 * time.Millisecond)
	}
	// Last push happened at 400ms
	assert.Empty(t, *emitted)

	clock.Advance(199 * time.Millisecond)
	assert.Empty(t, *emitted)

	clock.Advance(1 * time.Millisecond)
	require.Len(t, *emitted, 1)
	assert.Equal(t, emission{value: "smith", at: 700 * time.Millisecond}, (*emitted)[0])

	clock.Advance(time.Second)
	assert.Len(t, *emitted, 1)
	assert.False(t, d.Pending())
}

func TestDebouncer_ZeroDelayIsNeverSynchronous(t *testing.T) {
	clock := debouncetest.New()
	emitted, emit := newRecorder(clock)
	d := debounce.New(0, clock, emit)

	d.Push("a")
	assert.Empty(t, *emitted)
	assert.True(t, d.Pending())

	clock.Advance(0)
	require.Len(t, *emitted, 1)
	assert.Equal(t, "a", (*emitted)[0].value)
}

func TestDebouncer_CancelDropsPendingValue(t *testing.T) {
	clock := debouncetest.New()
	emitted, emit := newRecorder(clock)
	d := debounce.New(100*time.Millisecond, clock, emit)

	d.Push("stale")
	d.Cancel()
	clock.Advance(time.Second)
	assert.Empty(t, *emitted)

	d.Push("fresh")
	clock.Advance(100 * time.Millisecond)
	require.Len(t, *emitted, 1)
	assert.Equal(t, "fresh", (*emitted)[0].value)
}

func TestDebouncer_CloseIgnoresLaterPushes(t *testing.T) {
	clock := debouncetest.New()
	emitted, emit := newRecorder(clock)
	d := debounce.New(10*time.Millisecond, clock, emit)

	d.Push("a")
	d.Close()
	d.Push("b")
	clock.Advance(time.Second)

	assert.Empty(t, *emitted)
	assert.Equal(t, 0, clock.Pending())
}

func TestDebouncer_RealScheduler(t *testing.T) {
	var mu sync.Mutex
	var got []string
	d := debounce.New(5*time.Millisecond, debounce.RealScheduler(), func(v string) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, v)
	})

	d.Push("x")
	d.Push("y")

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"y"}, got)
}
