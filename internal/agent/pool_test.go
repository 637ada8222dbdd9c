package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterSpawn(n *atomic.Int64) func() (string, error) {
	return func() (string, error) {
		return fmt.Sprintf("sub-%02d", n.Add(1)), nil
	}
}

func TestPool_AllocateSpawnsShortfall(t *testing.T) {
	var spawned atomic.Int64
	p := NewPool()

	free, err := p.Allocate(2, counterSpawn(&spawned))
	require.NoError(t, err)
	assert.Equal(t, []string{"sub-01", "sub-02"}, free)
	assert.Equal(t, int64(2), spawned.Load())

	free, err = p.Allocate(1, counterSpawn(&spawned))
	require.NoError(t, err)
	assert.Len(t, free, 2, "enough free sub-agents means nothing is spawned")
	assert.Equal(t, int64(2), spawned.Load())

	require.NoError(t, p.SetStatus("sub-01", StatusBusy))
	free, err = p.Allocate(3, counterSpawn(&spawned))
	require.NoError(t, err)
	assert.Equal(t, []string{"sub-02", "sub-03", "sub-04"}, free)
	assert.Equal(t, 4, p.Size())
}

func TestPool_ConcurrentAllocateSpawnsOnce(t *testing.T) {
	var spawned atomic.Int64
	p := NewPool()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.Allocate(1, counterSpawn(&spawned))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), spawned.Load())
	assert.Equal(t, 1, p.Size())
}

func TestPool_AllocateErrors(t *testing.T) {
	p := NewPool()

	_, err := p.Allocate(1, func() (string, error) { return "", errors.New("store down") })
	assert.EqualError(t, err, "store down")
	assert.Zero(t, p.Size())

	_, err = p.Allocate(2, func() (string, error) { return "same", nil })
	assert.ErrorContains(t, err, "already pooled")
}

func TestPool_SetStatus(t *testing.T) {
	var spawned atomic.Int64
	p := NewPool()
	_, err := p.Allocate(2, counterSpawn(&spawned))
	require.NoError(t, err)

	require.NoError(t, p.SetStatus("sub-01", StatusBusy))
	require.NoError(t, p.SetStatus("sub-01", StatusBusy), "repeating a status change is a no-op")
	assert.Equal(t, []string{"sub-02"}, p.Free())
	assert.Equal(t, []string{"sub-01"}, p.Busy())
	assert.True(t, p.IsBusy("sub-01"))

	require.NoError(t, p.SetStatus("sub-01", StatusFree))
	require.NoError(t, p.SetStatus("sub-01", StatusFree))
	assert.Equal(t, []string{"sub-01", "sub-02"}, p.Free())
	assert.Empty(t, p.Busy())

	err = p.SetStatus("ghost", StatusBusy)
	assert.ErrorIs(t, err, ErrUnknownSubAgent)

	err = p.SetStatus("sub-01", "retired")
	assert.ErrorContains(t, err, "unknown sub-agent status")
}

func TestPool_JSON(t *testing.T) {
	var spawned atomic.Int64
	p := NewPool()
	_, err := p.Allocate(3, counterSpawn(&spawned))
	require.NoError(t, err)
	require.NoError(t, p.SetStatus("sub-02", StatusBusy))

	data, err := json.Marshal(p)
	require.NoError(t, err)
	assert.JSONEq(t, `{"free":["sub-01","sub-03"],"busy":["sub-02"]}`, string(data))

	decoded := NewPool()
	require.NoError(t, json.Unmarshal([]byte(`{"free":["b","a"]}`), decoded))
	assert.Equal(t, []string{"a", "b"}, decoded.Free())
	assert.Equal(t, []string{}, decoded.Busy())

	err = json.Unmarshal([]byte(`{"free":["a"],"busy":["a"]}`), NewPool())
	assert.ErrorContains(t, err, "both free and busy")
}
