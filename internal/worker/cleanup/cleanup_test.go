package cleanup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/whispa/internal/clock"
)

// mockDeleter はExpiredSessionDeleterのモック実装。
type mockDeleter struct {
	deleteExpiredFn func(ctx context.Context) (int64, error)
	calls           chan struct{}
}

func (m *mockDeleter) DeleteExpired(ctx context.Context) (int64, error) {
	if m.calls != nil {
		m.calls <- struct{}{}
	}
	if m.deleteExpiredFn != nil {
		return m.deleteExpiredFn(ctx)
	}
	return 0, nil
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

func testClock() *clock.FakeClock {
	return clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
}

func TestCleanupJob_Run_ReturnsDeletedCount(t *testing.T) {
	var buf bytes.Buffer
	deleter := &mockDeleter{
		deleteExpiredFn: func(ctx context.Context) (int64, error) { return 42, nil },
	}
	job := NewCleanupJob(deleter, testClock(), newTestLogger(&buf))

	deleted, err := job.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if deleted != 42 {
		t.Errorf("deleted = %d, want 42", deleted)
	}

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log: %v", err)
	}
	if entry["msg"] != "session cleanup completed" {
		t.Errorf("msg = %v", entry["msg"])
	}
	if entry["deleted_count"] != float64(42) {
		t.Errorf("deleted_count = %v, want 42", entry["deleted_count"])
	}
}

func TestCleanupJob_Run_Error(t *testing.T) {
	var buf bytes.Buffer
	dbErr := errors.New("connection refused")
	deleter := &mockDeleter{
		deleteExpiredFn: func(ctx context.Context) (int64, error) { return 0, dbErr },
	}
	job := NewCleanupJob(deleter, testClock(), newTestLogger(&buf))

	_, err := job.Run(context.Background())
	if !errors.Is(err, dbErr) {
		t.Errorf("error = %v, want wrapped %v", err, dbErr)
	}
	if !strings.Contains(buf.String(), `"level":"ERROR"`) {
		t.Errorf("expected ERROR log, got %s", buf.String())
	}
}

func TestCleanupJob_Run_Idempotent(t *testing.T) {
	var buf bytes.Buffer
	job := NewCleanupJob(&mockDeleter{}, testClock(), newTestLogger(&buf))

	for i := 0; i < 3; i++ {
		if _, err := job.Run(context.Background()); err != nil {
			t.Fatalf("run %d: unexpected error: %v", i+1, err)
		}
	}
}

func TestCleanupJob_Start_RunsImmediatelyAndOnInterval(t *testing.T) {
	var buf bytes.Buffer
	clk := testClock()
	deleter := &mockDeleter{calls: make(chan struct{}, 10)}
	job := NewCleanupJob(deleter, clk, newTestLogger(&buf))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		job.Start(ctx, time.Hour)
		close(done)
	}()

	waitCall := func(label string) {
		t.Helper()
		select {
		case <-deleter.calls:
		case <-time.After(2 * time.Second):
			t.Fatalf("%s: DeleteExpired was not called", label)
		}
	}

	waitCall("起動直後")

	clk.Advance(time.Hour)
	waitCall("1時間後")

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}
