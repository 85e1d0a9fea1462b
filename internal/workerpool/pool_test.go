package workerpool

import (
	"sync"
	"testing"
)

func TestDispatchPartitionsRangeContiguously(t *testing.T) {
	for _, threads := range []int{1, 2, 4, 8} {
		p := New(threads, threads*4)
		defer p.Close()

		d := 17
		y := make([]int32, d)
		sess := p.NewSessionSync()
		p.Dispatch(sess, d, func(i0, dlim int) {
			for i := i0; i < dlim; i++ {
				y[i] = int32(i)
			}
		})
		p.SyncPoint(sess)

		for i := 0; i < d; i++ {
			if y[i] != int32(i) {
				t.Fatalf("threads=%d: y[%d] = %d, want %d", threads, i, y[i], i)
			}
		}
	}
}

// TestOutputIdenticalAcrossThreadCounts checks that a deterministic
// per-row computation produces bit-identical output regardless of how
// many workers the range gets partitioned across.
func TestOutputIdenticalAcrossThreadCounts(t *testing.T) {
	n, d := 32, 50
	w := make([]float32, n*d)
	x := make([]float32, n)
	for i := range w {
		w[i] = float32(i%7) - 3
	}
	for i := range x {
		x[i] = float32(i%5) - 2
	}

	var reference []float32
	for _, threads := range []int{1, 2, 4, 8} {
		p := New(threads, threads*2)
		y := make([]float32, d)
		sess := p.NewSessionSync()
		p.Dispatch(sess, d, func(i0, dlim int) {
			for i := i0; i < dlim; i++ {
				var sum float32
				row := w[i*n : i*n+n]
				for j, xv := range x {
					sum += row[j] * xv
				}
				y[i] = sum
			}
		})
		p.SyncPoint(sess)
		p.Close()

		if reference == nil {
			reference = y
			continue
		}
		for i := range y {
			if y[i] != reference[i] {
				t.Fatalf("threads=%d: y[%d]=%v, want %v (mismatch with T=1 reference)", threads, i, y[i], reference[i])
			}
		}
	}
}

// TestSessionIsolation runs two sessions' bursts concurrently on a shared
// pool and checks neither session's barrier is affected by the other's.
func TestSessionIsolation(t *testing.T) {
	p := New(4, 64)
	defer p.Close()

	var wg sync.WaitGroup
	results := make([][]int32, 2)
	for s := 0; s < 2; s++ {
		wg.Add(1)
		go func(s int) {
			defer wg.Done()
			sess := p.NewSessionSync()
			y := make([]int32, 40)
			for round := 0; round < 10; round++ {
				p.Dispatch(sess, len(y), func(i0, dlim int) {
					for i := i0; i < dlim; i++ {
						y[i] = int32(s*1000 + i)
					}
				})
				p.SyncPoint(sess)
			}
			results[s] = y
		}(s)
	}
	wg.Wait()

	for i := 0; i < 40; i++ {
		if results[0][i] != int32(i) {
			t.Fatalf("session 0: y[%d] = %d, want %d", i, results[0][i], i)
		}
		if results[1][i] != int32(1000+i) {
			t.Fatalf("session 1: y[%d] = %d, want %d", i, results[1][i], 1000+i)
		}
	}
}

func TestDispatchRejectsRingOverflow(t *testing.T) {
	p := New(4, 4) // capacity exactly one dispatch's worth
	defer p.Close()

	sess1 := p.NewSessionSync()
	sess2 := p.NewSessionSync()

	block := make(chan struct{})
	p.Dispatch(sess1, 4, func(i0, dlim int) { <-block })

	defer func() {
		close(block)
		p.SyncPoint(sess1)
		if r := recover(); r == nil {
			t.Fatal("expected panic on ring overflow")
		}
	}()
	p.Dispatch(sess2, 4, func(i0, dlim int) {})
}
