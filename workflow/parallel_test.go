package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func echoTask(name string, delay time.Duration) Task[string, string] {
	return Task[string, string]{
		Name: name,
		Run: func(ctx context.Context, in string) (string, error) {
			time.Sleep(delay)
			return name + ":" + in, nil
		},
	}
}

func TestFanOut_PreservesOrder(t *testing.T) {
	w := NewFanOut("order", []Task[string, string]{
		echoTask("a", 30*time.Millisecond),
		echoTask("b", 0),
		echoTask("c", 10*time.Millisecond),
	})

	results := w.Execute(context.Background(), "x")

	require.Len(t, results, 3)
	for i, want := range []string{"a:x", "b:x", "c:x"} {
		assert.Equal(t, i, results[i].Index)
		assert.Equal(t, want, results[i].Result)
		assert.NoError(t, results[i].Err)
	}
}

func TestFanOut_IsolatesFailuresAndPanics(t *testing.T) {
	boom := errors.New("boom")
	w := NewFanOut("isolation", []Task[string, string]{
		echoTask("a", 0),
		{Name: "b", Run: func(context.Context, string) (string, error) { return "", boom }},
		{Name: "c", Run: func(context.Context, string) (string, error) { panic("kaboom") }},
		{Name: "d"},
		echoTask("e", 0),
	})

	results := w.Execute(context.Background(), "x")

	require.Len(t, results, 5)
	assert.Equal(t, "a:x", results[0].Result)
	assert.ErrorIs(t, results[1].Err, boom)

	var pe *PanicError
	require.ErrorAs(t, results[2].Err, &pe)
	assert.Equal(t, "c", pe.TaskName)
	assert.Equal(t, "kaboom", pe.Value)
	assert.NotEmpty(t, pe.Stack)

	assert.Error(t, results[3].Err)
	assert.Equal(t, "e:x", results[4].Result)
}

func TestFanOut_RunsConcurrently(t *testing.T) {
	var running, peak atomic.Int32
	release := make(chan struct{})
	tasks := make([]Task[int, int], 4)
	for i := range tasks {
		tasks[i] = Task[int, int]{
			Name: fmt.Sprintf("t%d", i),
			Run: func(ctx context.Context, in int) (int, error) {
				n := running.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				<-release
				running.Add(-1)
				return in, nil
			},
		}
	}
	w := NewFanOut("concurrent", tasks)

	done := make(chan []TaskResult[int])
	go func() { done <- w.Execute(context.Background(), 1) }()

	require.Eventually(t, func() bool { return peak.Load() == 4 }, time.Second, time.Millisecond)
	close(release)
	results := <-done
	assert.Len(t, results, 4)
}

func TestFanOut_ConcurrencyLimit(t *testing.T) {
	var running, peak atomic.Int32
	tasks := make([]Task[int, int], 6)
	for i := range tasks {
		tasks[i] = Task[int, int]{
			Name: fmt.Sprintf("t%d", i),
			Run: func(ctx context.Context, in int) (int, error) {
				n := running.Add(1)
				defer running.Add(-1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				return in, nil
			},
		}
	}
	w := NewFanOut("limited", tasks, WithConcurrencyLimit(2))

	results := w.Execute(context.Background(), 1)

	assert.Len(t, results, 6)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestFanOut_Empty(t *testing.T) {
	w := NewFanOut[string, string]("empty", nil)
	assert.Empty(t, w.Execute(context.Background(), "x"))
	assert.Equal(t, 0, w.Len())
	assert.Equal(t, "empty", w.Name())
}

// 任意失败子集下结果数量与顺序保持不变
func TestFanOut_ResultCountProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 16).Draw(t, "n")
		fails := rapid.SliceOfN(rapid.Bool(), n, n).Draw(t, "fails")

		tasks := make([]Task[int, int], n)
		for i := range tasks {
			fail := fails[i]
			tasks[i] = Task[int, int]{
				Name: fmt.Sprintf("t%d", i),
				Run: func(_ context.Context, in int) (int, error) {
					if fail {
						return 0, errors.New("fail")
					}
					return in * 2, nil
				},
			}
		}

		results := NewFanOut("prop", tasks).Execute(context.Background(), 21)
		if len(results) != n {
			t.Fatalf("got %d results, want %d", len(results), n)
		}
		for i, r := range results {
			if r.Index != i || r.TaskName != fmt.Sprintf("t%d", i) {
				t.Fatalf("slot %d holds %s", i, r.TaskName)
			}
			if fails[i] != (r.Err != nil) {
				t.Fatalf("slot %d error mismatch", i)
			}
			if !fails[i] && r.Result != 42 {
				t.Fatalf("slot %d result %d", i, r.Result)
			}
		}
	})
}
