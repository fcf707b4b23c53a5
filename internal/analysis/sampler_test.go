package analysis

import (
	"context"
	"errors"
	"testing"
)

func TestForEachVisitsFullWindowInclusive(t *testing.T) {
	d := &fakeDelivery{}
	s := NewSampler(d, 30, 2)

	var offsets []float64
	n, err := s.ForEach(context.Background(), "ext-1", func(smp Sample) error {
		offsets = append(offsets, smp.Offset)
		return nil
	})
	if err != nil {
		t.Fatalf("ForEach: %v", err)
	}
	if n != 16 {
		t.Errorf("delivered = %d, want 16", n)
	}
	if offsets[0] != 0 || offsets[len(offsets)-1] != 30 {
		t.Errorf("offsets span = [%v, %v], want [0, 30]", offsets[0], offsets[len(offsets)-1])
	}
}

func TestForEachSkipsFailedFetches(t *testing.T) {
	d := &fakeDelivery{thumbErrAt: map[float64]bool{2: true}}
	s := NewSampler(d, 4, 2)

	n, err := s.ForEach(context.Background(), "ext-1", func(Sample) error { return nil })
	if err != nil {
		t.Fatalf("ForEach: %v", err)
	}
	if n != 2 {
		t.Errorf("delivered = %d, want 2", n)
	}
}

func TestForEachZeroWhenAllFetchesFail(t *testing.T) {
	d := &fakeDelivery{thumbErrAll: true}
	s := NewSampler(d, 4, 2)

	n, err := s.ForEach(context.Background(), "ext-1", func(Sample) error { return nil })
	if err != nil {
		t.Fatalf("ForEach: %v", err)
	}
	if n != 0 {
		t.Errorf("delivered = %d, want 0", n)
	}
}

func TestForEachFnErrorAborts(t *testing.T) {
	d := &fakeDelivery{}
	s := NewSampler(d, 30, 2)

	boom := errors.New("boom")
	n, err := s.ForEach(context.Background(), "ext-1", func(Sample) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if n != 1 {
		t.Errorf("delivered = %d, want 1", n)
	}
}
