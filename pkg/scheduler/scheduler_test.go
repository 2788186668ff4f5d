package scheduler

import (
	"context"
	"errors"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/harun/specmgr/pkg/syncengine"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockSyncer struct {
	mock.Mock
}

func (m *MockSyncer) Status() syncengine.Status {
	args := m.Called()
	return args.Get(0).(syncengine.Status)
}

func (m *MockSyncer) ExecuteBulkSync(ctx context.Context, force bool) (*syncengine.Result, error) {
	args := m.Called(ctx, force)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*syncengine.Result), args.Error(1)
}

type countingSyncer struct {
	calls atomic.Int32
}

func (c *countingSyncer) Status() syncengine.Status { return syncengine.Status{} }

func (c *countingSyncer) ExecuteBulkSync(ctx context.Context, force bool) (*syncengine.Result, error) {
	c.calls.Add(1)
	return &syncengine.Result{Success: true}, nil
}

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stdout).Level(zerolog.Disabled)
}

func TestNew(t *testing.T) {
	_, err := New(nil, Config{})
	assert.Error(t, err)

	s, err := New(&countingSyncer{}, Config{Logger: testLogger()})
	require.NoError(t, err)
	assert.Equal(t, DefaultInterval, s.NextDelay())

	_, err = New(&countingSyncer{}, Config{Cron: "not a cron"})
	assert.Error(t, err)
}

func TestNextDelay_Cron(t *testing.T) {
	s, err := New(&countingSyncer{}, Config{Cron: "*/5 * * * *", Logger: testLogger()})
	require.NoError(t, err)

	s.now = func() time.Time { return time.Date(2026, 1, 1, 10, 2, 0, 0, time.UTC) }
	assert.Equal(t, 3*time.Minute, s.NextDelay())
}

func TestTick_RunsIncrementalPass(t *testing.T) {
	m := new(MockSyncer)
	m.On("Status").Return(syncengine.Status{})
	m.On("ExecuteBulkSync", mock.Anything, false).Return(&syncengine.Result{Success: true, ProcessedFiles: 2}, nil)

	s, err := New(m, Config{Logger: testLogger()})
	require.NoError(t, err)

	s.Tick(context.Background())
	m.AssertExpectations(t)
}

func TestTick_SkipsWhileRunning(t *testing.T) {
	m := new(MockSyncer)
	m.On("Status").Return(syncengine.Status{IsRunning: true})

	s, err := New(m, Config{Logger: testLogger()})
	require.NoError(t, err)

	s.Tick(context.Background())
	m.AssertNotCalled(t, "ExecuteBulkSync", mock.Anything, mock.Anything)
}

func TestTick_ErrorsDoNotPanic(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "in progress", err: syncengine.ErrSyncInProgress},
		{name: "failure", err: errors.New("vector store down")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := new(MockSyncer)
			m.On("Status").Return(syncengine.Status{})
			m.On("ExecuteBulkSync", mock.Anything, false).Return(nil, tt.err)

			s, err := New(m, Config{Logger: testLogger()})
			require.NoError(t, err)

			assert.NotPanics(t, func() { s.Tick(context.Background()) })
			m.AssertExpectations(t)
		})
	}
}

func TestStartStop(t *testing.T) {
	syncer := &countingSyncer{}
	s, err := New(syncer, Config{Interval: 10 * time.Millisecond, Logger: testLogger()})
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()))

	assert.Eventually(t, func() bool {
		return syncer.calls.Load() >= 2
	}, 2*time.Second, 5*time.Millisecond)

	s.Stop()
	after := syncer.calls.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, after, syncer.calls.Load())

	s.Stop()
}

func TestRun_StopsOnCancel(t *testing.T) {
	s, err := New(&countingSyncer{}, Config{Interval: time.Hour, Logger: testLogger()})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
