package tracker

import (
	"fmt"
	"sync"
	"testing"
)

func TestClientSet_LRU(t *testing.T) {
	s := NewClientSet(2)

	if size, n := s.Add("a"); size != 1 || n != 0 {
		t.Errorf("Add(a) = %d, %d; expected 1, 0", size, n)
	}
	s.Add("b")
	if size, _ := s.Add("a"); size != 2 { // refresh a; b is now least recently seen
		t.Errorf("Add(a) again: size %d, expected 2", size)
	}
	if size, n := s.Add("c"); size != 2 || n != 1 {
		t.Errorf("Add(c) = %d, %d; expected 2, 1", size, n)
	}

	if s.Contains("b") {
		t.Error("b should have been evicted")
	}
	if !s.Contains("a") || !s.Contains("c") {
		t.Error("a and c should remain")
	}
	if s.Len() != 2 {
		t.Errorf("len = %d, expected 2", s.Len())
	}
}

func TestClientSet_DefaultCapacity(t *testing.T) {
	if got := NewClientSet(0).Capacity(); got != DefaultClientCapacity {
		t.Errorf("capacity = %d, expected %d", got, DefaultClientCapacity)
	}
}

func TestClientSet_Concurrent(t *testing.T) {
	s := NewClientSet(100)

	var wg sync.WaitGroup
	for i := 0; i < 500; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.Add(fmt.Sprintf("10.0.0.%d", i))
		}(i)
	}
	wg.Wait()

	if s.Len() != 100 {
		t.Errorf("len = %d, expected bound of 100", s.Len())
	}
}
