package systems

import (
	"errors"
	"sync"
	"testing"
)

func TestJobSystemRunsCallbacks(t *testing.T) {
	js, err := NewJobSystem(2, 4)
	if err != nil {
		t.Fatalf("NewJobSystem: %v", err)
	}

	var (
		mu        sync.Mutex
		completed []int
		failed    int
		wg        sync.WaitGroup
	)
	boom := errors.New("boom")
	for i := 0; i < 6; i++ {
		wg.Add(1)
		i := i
		err := js.Submit(JobTask{
			Name:        "test",
			InputParams: i,
			OnStart: func(p interface{}) error {
				if p.(int)%3 == 0 {
					return boom
				}
				return nil
			},
			OnComplete: func() {
				mu.Lock()
				completed = append(completed, i)
				mu.Unlock()
				wg.Done()
			},
			OnFailure: func(err error) {
				if !errors.Is(err, boom) {
					t.Errorf("OnFailure(%v), want boom", err)
				}
				mu.Lock()
				failed++
				mu.Unlock()
				wg.Done()
			},
		})
		if err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	wg.Wait()
	if len(completed) != 4 || failed != 2 {
		t.Fatalf("completed=%d failed=%d, want 4 and 2", len(completed), failed)
	}

	if err := js.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := js.Submit(JobTask{OnStart: func(interface{}) error { return nil }}); !errors.Is(err, ErrJobSystemClosed) {
		t.Fatalf("Submit after Shutdown = %v, want ErrJobSystemClosed", err)
	}
}

func TestNewJobSystemValidates(t *testing.T) {
	if _, err := NewJobSystem(0, 1); !errors.Is(err, ErrNoWorkers) {
		t.Fatalf("NewJobSystem(0) = %v, want ErrNoWorkers", err)
	}
	if _, err := NewJobSystem(1, -1); !errors.Is(err, ErrNegativeChannelSize) {
		t.Fatalf("NewJobSystem(1,-1) = %v, want ErrNegativeChannelSize", err)
	}
}
