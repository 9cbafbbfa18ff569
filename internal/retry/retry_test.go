package retry

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"
)

var errBusy = errors.New("busy")

func noSleep(context.Context, time.Duration) error { return nil }

func TestPolicy_Delay(t *testing.T) {
	p := Policy{MaxAttempts: 5, InitialDelay: 15 * time.Second, MaxDelay: 60 * time.Second}
	var got []time.Duration
	for attempt := 1; attempt < 5; attempt++ {
		got = append(got, p.Delay(attempt))
	}
	want := []time.Duration{15 * time.Second, 30 * time.Second, 60 * time.Second, 60 * time.Second}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("delays = %v, want %v", got, want)
	}

	var zero Policy
	if d := zero.Delay(2); d != 30*time.Second {
		t.Fatalf("zero Delay(2) = %v, want 30s", d)
	}
}

func TestDo_SucceedsAfterRetry(t *testing.T) {
	calls := 0
	out := Do(context.Background(), Policy{Sleep: noSleep}, func(context.Context, int) error {
		calls++
		if calls < 2 {
			return errBusy
		}
		return nil
	})

	if out.Status != Succeeded || !out.OK() {
		t.Fatalf("Status = %v, want succeeded", out.Status)
	}
	if out.Attempts != 2 || calls != 2 {
		t.Errorf("Attempts = %d calls = %d, want 2", out.Attempts, calls)
	}
	if out.Err != nil {
		t.Errorf("Err = %v, want nil", out.Err)
	}
}

func TestDo_ExhaustsWithNonDecreasingDelays(t *testing.T) {
	var slept []time.Duration
	p := Policy{
		MaxAttempts: 3,
		Sleep: func(_ context.Context, d time.Duration) error {
			slept = append(slept, d)
			return nil
		},
	}
	calls := 0
	out := Do(context.Background(), p, func(context.Context, int) error {
		calls++
		return errBusy
	})

	if out.Status != Exhausted {
		t.Fatalf("Status = %v, want exhausted", out.Status)
	}
	if calls != 3 || out.Attempts != 3 {
		t.Errorf("calls = %d Attempts = %d, want 3", calls, out.Attempts)
	}
	if !errors.Is(out.Err, errBusy) {
		t.Errorf("Err = %v, want errBusy", out.Err)
	}
	if !reflect.DeepEqual(slept, out.Delays) || len(slept) != 2 {
		t.Fatalf("slept = %v, Delays = %v", slept, out.Delays)
	}
	for i := 1; i < len(slept); i++ {
		if slept[i] < slept[i-1] {
			t.Errorf("delay %d (%s) shorter than previous (%s)", i, slept[i], slept[i-1])
		}
	}
}

func TestDo_StopsOnNonRetryable(t *testing.T) {
	fatal := errors.New("bad request")
	calls := 0
	out := Do(context.Background(), Policy{
		Sleep:     noSleep,
		Retryable: func(err error) bool { return errors.Is(err, errBusy) },
	}, func(context.Context, int) error {
		calls++
		return fatal
	})

	if out.Status != Stopped || calls != 1 {
		t.Fatalf("Status = %v calls = %d, want stopped after 1", out.Status, calls)
	}
	if !errors.Is(out.Err, fatal) {
		t.Errorf("Err = %v, want %v", out.Err, fatal)
	}
}

func TestDo_StopsWhenContextEndsDuringSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	out := Do(ctx, Policy{
		Sleep: func(ctx context.Context, _ time.Duration) error {
			cancel()
			return ctx.Err()
		},
	}, func(context.Context, int) error {
		return errBusy
	})

	if out.Status != Stopped {
		t.Fatalf("Status = %v, want stopped", out.Status)
	}
	if !errors.Is(out.Err, context.Canceled) {
		t.Errorf("Err = %v, want context.Canceled", out.Err)
	}
}

func TestSleep_RespectsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Sleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("Sleep() = %v, want context.Canceled", err)
	}
}
