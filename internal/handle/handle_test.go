package handle

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeModel struct {
	closed   int
	closeErr error
}

func (m *fakeModel) Close() error {
	m.closed++
	return m.closeErr
}

type fakeTensor struct{ values []float32 }

func TestCreateIssuesDistinctHandles(t *testing.T) {
	t.Parallel()
	r := New()
	seen := map[Handle]bool{}
	for i := range 100 {
		h := Create(r, &fakeTensor{values: []float32{float32(i)}})
		require.Positive(t, int64(h))
		require.False(t, seen[h], "handle %d issued twice", h)
		seen[h] = true
	}
	assert.Equal(t, 100, r.Len())
}

func TestDestroyLeavesOtherHandlesLive(t *testing.T) {
	t.Parallel()
	r := New()
	a := Create(r, &fakeTensor{values: []float32{1}})
	b := Create(r, &fakeTensor{values: []float32{2}})
	require.NoError(t, Destroy[*fakeTensor](r, a))

	got, err := Borrow[*fakeTensor](r, b)
	require.NoError(t, err)
	assert.Equal(t, []float32{2}, got.values)

	c := Create(r, &fakeTensor{})
	assert.NotEqual(t, a, c, "handles are never reused")
}

func TestUseAfterFree(t *testing.T) {
	t.Parallel()
	r := New()
	h := Create(r, &fakeTensor{})
	require.NoError(t, Destroy[*fakeTensor](r, h))

	_, err := Borrow[*fakeTensor](r, h)
	require.ErrorIs(t, err, ErrUseAfterFree)
	require.ErrorIs(t, err, ErrHandle)

	err = Destroy[*fakeTensor](r, h)
	require.ErrorIs(t, err, ErrUseAfterFree)

	var he *Error
	require.ErrorAs(t, err, &he)
	assert.Equal(t, "destroy", he.Op)
	assert.Equal(t, h, he.Handle)
}

func TestUnknownHandle(t *testing.T) {
	t.Parallel()
	r := New()
	Create(r, &fakeTensor{})
	for _, h := range []Handle{0, -1, 2, 1 << 40} {
		_, err := Borrow[*fakeTensor](r, h)
		require.ErrorIs(t, err, ErrUnknownHandle, "handle %d", h)
		assert.False(t, errors.Is(err, ErrUseAfterFree))
	}
}

func TestTypeMismatch(t *testing.T) {
	t.Parallel()
	r := New()
	m := &fakeModel{}
	mh := Create(r, m)
	th := Create(r, &fakeTensor{})

	_, err := Borrow[*fakeTensor](r, mh)
	require.ErrorIs(t, err, ErrTypeMismatch)
	assert.Contains(t, err.Error(), "*handle.fakeTensor")
	assert.Contains(t, err.Error(), "*handle.fakeModel")

	_, err = Borrow[*fakeModel](r, th)
	require.ErrorIs(t, err, ErrTypeMismatch)

	require.ErrorIs(t, Destroy[*fakeTensor](r, mh), ErrTypeMismatch)
	assert.Zero(t, m.closed)
	got, err := Borrow[*fakeModel](r, mh)
	require.NoError(t, err)
	assert.Same(t, m, got)
}

func TestDestroyClosesValue(t *testing.T) {
	t.Parallel()
	r := New()
	boom := errors.New("boom")
	m := &fakeModel{closeErr: boom}
	h := Create(r, m)

	require.ErrorIs(t, Destroy[*fakeModel](r, h), boom)
	assert.Equal(t, 1, m.closed)
	assert.Zero(t, r.Len())
	require.ErrorIs(t, Destroy[*fakeModel](r, h), ErrUseAfterFree)
	assert.Equal(t, 1, m.closed)
}

func TestKind(t *testing.T) {
	t.Parallel()
	r := New()
	h := Create(r, &fakeModel{})
	kind, err := r.Kind(h)
	require.NoError(t, err)
	assert.Equal(t, "*handle.fakeModel", kind)

	_, err = r.Kind(h + 1)
	require.ErrorIs(t, err, ErrUnknownHandle)
}

func TestConcurrentAccess(t *testing.T) {
	t.Parallel()
	r := New()
	const workers, perWorker = 8, 200

	var mu sync.Mutex
	all := map[Handle]bool{}
	var wg sync.WaitGroup
	for range workers {
		wg.Go(func() {
			for i := range perWorker {
				h := Create(r, &fakeTensor{values: []float32{float32(i)}})
				got, err := Borrow[*fakeTensor](r, h)
				if !assert.NoError(t, err) {
					return
				}
				assert.Equal(t, float32(i), got.values[0])
				if i%2 == 0 {
					assert.NoError(t, Destroy[*fakeTensor](r, h))
				}
				mu.Lock()
				all[h] = true
				mu.Unlock()
			}
		})
	}
	wg.Wait()
	assert.Len(t, all, workers*perWorker)
	assert.Equal(t, workers*perWorker/2, r.Len())
}
