package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kjstillabower/air-quality-proxy/internal/models"
)

func TestRequestCoalescer_Do_ConcurrentRequests(t *testing.T) {
	coalescer := newRequestCoalescer()
	var callCount atomic.Int32
	release := make(chan struct{})

	fn := func(context.Context) (models.Result, error) {
		callCount.Add(1)
		<-release
		return models.Result{Payload: []byte(`{"mode":"current"}`), Mode: models.ModeCurrent}, nil
	}

	const n = 10
	var wg, started sync.WaitGroup
	results := make([]models.Result, n)
	shared := make([]bool, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		started.Add(1)
		go func(idx int) {
			defer wg.Done()
			started.Done()
			results[idx], shared[idx], errs[idx] = coalescer.Do(context.Background(), "current|13.1|80.2|1700000000", fn)
		}(i)
	}
	started.Wait()
	time.Sleep(20 * time.Millisecond) // let every goroutine join the flight
	close(release)
	wg.Wait()

	sharedCount := 0
	for i := range results {
		if errs[i] != nil {
			t.Errorf("Request %d error = %v, want nil", i, errs[i])
		}
		if results[i].Mode != models.ModeCurrent {
			t.Errorf("Request %d mode = %q, want current", i, results[i].Mode)
		}
		if shared[i] {
			sharedCount++
		}
	}

	if got := callCount.Load(); got != 1 {
		t.Errorf("fn call count = %d, want 1 (coalescing failed)", got)
	}
	if sharedCount != n-1 {
		t.Errorf("shared results = %d, want %d", sharedCount, n-1)
	}
}

func TestRequestCoalescer_Do_ErrorPropagation(t *testing.T) {
	coalescer := newRequestCoalescer()
	wantErr := errors.New("api failure")

	_, shared, err := coalescer.Do(context.Background(), "k", func(context.Context) (models.Result, error) {
		return models.Result{}, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Errorf("Do() error = %v, want %v", err, wantErr)
	}
	if shared {
		t.Error("Do() shared = true for the caller that ran fn")
	}
}

// TestRequestCoalescer_Do_WaiterCancellation checks that a caller that gives up does not
// cancel the flight for the caller that started it.
func TestRequestCoalescer_Do_WaiterCancellation(t *testing.T) {
	coalescer := newRequestCoalescer()
	release := make(chan struct{})
	flightErr := make(chan error, 1)

	go func() {
		_, _, err := coalescer.Do(context.Background(), "k", func(ctx context.Context) (models.Result, error) {
			<-release
			return models.Result{Mode: models.ModeHistory}, ctx.Err()
		})
		flightErr <- err
	}()
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, _, err := coalescer.Do(ctx, "k", func(context.Context) (models.Result, error) {
		t.Error("second fn ran while the first flight was in progress")
		return models.Result{}, nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("waiter error = %v, want deadline exceeded", err)
	}

	close(release)
	if err := <-flightErr; err != nil {
		t.Errorf("flight error = %v, want nil", err)
	}
}

// TestRequestCoalescer_Do_LeaderCancellation checks that the flight runs to completion
// when the caller that started it goes away.
func TestRequestCoalescer_Do_LeaderCancellation(t *testing.T) {
	coalescer := newRequestCoalescer()
	done := make(chan error, 1)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		_, _, _ = coalescer.Do(ctx, "k", func(flightCtx context.Context) (models.Result, error) {
			time.Sleep(30 * time.Millisecond)
			done <- flightCtx.Err()
			return models.Result{}, nil
		})
	}()
	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("flight context error = %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("flight never completed")
	}
}
