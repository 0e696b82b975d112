package flow

import (
	"errors"
	"sync"
	"testing"
)

func TestCompletion_TakeOnce(t *testing.T) {
	ch := make(chan Result, 1)
	completion := NewCompletion(ch)

	taken, ok := completion.Take()
	if !ok {
		t.Fatal("first Take() should succeed")
	}
	if taken == nil {
		t.Fatal("first Take() should return the channel")
	}

	// Second take must observe the cleared box
	if _, ok := completion.Take(); ok {
		t.Error("second Take() should fail")
	}

	// The taken channel still delivers the producer's result
	ch <- Result{Code: "auth-code"}
	result := <-taken
	if result.Code != "auth-code" {
		t.Errorf("result code = %q, want %q", result.Code, "auth-code")
	}
}

func TestCompletion_DeliversError(t *testing.T) {
	ch := make(chan Result, 1)
	completion := NewCompletion(ch)

	wantErr := errors.New("flow failed")
	ch <- Result{Err: wantErr}

	taken, ok := completion.Take()
	if !ok {
		t.Fatal("Take() should succeed")
	}
	result := <-taken
	if !errors.Is(result.Err, wantErr) {
		t.Errorf("result error = %v, want %v", result.Err, wantErr)
	}
}

func TestCompletion_ConcurrentTake(t *testing.T) {
	ch := make(chan Result, 1)
	completion := NewCompletion(ch)

	const waiters = 16
	var wg sync.WaitGroup
	successes := make(chan struct{}, waiters)

	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := completion.Take(); ok {
				successes <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(successes)

	count := 0
	for range successes {
		count++
	}
	if count != 1 {
		t.Errorf("exactly one concurrent Take() should succeed, got %d", count)
	}
}
