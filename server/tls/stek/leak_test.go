package stek

import (
	"context"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestRotator_Stop_NoGoroutineLeak(t *testing.T) {
	r, err := NewRotator(10*time.Millisecond, 2)
	if err != nil {
		t.Fatalf("NewRotator failed: %v", err)
	}

	r.Start(context.Background())
	time.Sleep(30 * time.Millisecond)
	r.Stop()
}

func TestRotator_ContextCancellation_NoLeak(t *testing.T) {
	r, err := NewRotator(10*time.Millisecond, 2)
	if err != nil {
		t.Fatalf("NewRotator failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.Start(ctx)
	time.Sleep(30 * time.Millisecond)
	cancel()

	// The run goroutine closes stopCh on its way out.
	select {
	case <-r.stopCh:
	case <-time.After(time.Second):
		t.Fatal("rotation goroutine did not exit after context cancellation")
	}
}

func TestRotator_MultipleStops_NoLeak(t *testing.T) {
	r, err := NewRotator(10*time.Millisecond, 2)
	if err != nil {
		t.Fatalf("NewRotator failed: %v", err)
	}

	r.Start(context.Background())
	r.Stop()
	r.Stop()
	r.Stop()
}

func TestRotator_NoStart_NoLeak(t *testing.T) {
	_, err := NewRotator(time.Hour, 2)
	if err != nil {
		t.Fatalf("NewRotator failed: %v", err)
	}
	// Never started; nothing to clean up.
}

func TestRotator_StopBeforeStart_NoLeak(t *testing.T) {
	r, err := NewRotator(time.Hour, 2)
	if err != nil {
		t.Fatalf("NewRotator failed: %v", err)
	}
	r.Stop()
}
