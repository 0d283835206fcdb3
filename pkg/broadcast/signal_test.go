package broadcast

import (
	"sync"
	"testing"
)

func TestSubscribeDeliversCurrentValue(t *testing.T) {
	s := New("anonymous")
	sub := s.Subscribe()
	defer sub.Close()

	if got := <-sub.C(); got != "anonymous" {
		t.Fatalf("first value = %q, want anonymous", got)
	}
	s.Set("authenticated")
	if got := <-sub.C(); got != "authenticated" {
		t.Fatalf("second value = %q, want authenticated", got)
	}
}

func TestSlowSubscriberSeesLatestOnly(t *testing.T) {
	s := New(0)
	sub := s.Subscribe()
	defer sub.Close()

	for i := 1; i <= 10; i++ {
		s.Set(i)
	}
	if got := <-sub.C(); got != 10 {
		t.Fatalf("value = %d, want 10", got)
	}
	select {
	case v := <-sub.C():
		t.Fatalf("unexpected extra value %d", v)
	default:
	}
}

func TestUpdateIsAtomic(t *testing.T) {
	s := New(0)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Update(func(v int) int { return v + 1 })
		}()
	}
	wg.Wait()
	if got := s.Get(); got != 50 {
		t.Fatalf("value = %d, want 50", got)
	}
}

func TestCloseEndsSubscriptions(t *testing.T) {
	s := New(1)
	sub := s.Subscribe()
	<-sub.C()
	s.Close()
	if _, ok := <-sub.C(); ok {
		t.Fatalf("expected closed channel")
	}
	s.Set(2)
	if got := s.Get(); got != 1 {
		t.Fatalf("set after close should be dropped, got %d", got)
	}
	late := s.Subscribe()
	if _, ok := <-late.C(); ok {
		t.Fatalf("subscription on closed signal should be closed")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	s := New(1)
	sub := s.Subscribe()
	sub.Close()
	sub.Close()
	s.Set(2)
	for range sub.C() {
	}
}
