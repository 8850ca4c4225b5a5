package pipeline

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestSource(t *testing.T, identifiers int) *Source {
	t.Helper()

	src, err := OpenSource(InputSpec{Path: writeCSV(t, identifierRows(identifiers))}, 1)
	require.NoError(t, err)
	t.Cleanup(func() { src.Close() })
	return src
}

// drainQueue splits the queued messages into data batches and sentinels.
func drainQueue(queue chan Message) (batches []Batch, sentinels int) {
	for {
		select {
		case msg := <-queue:
			if msg.Shutdown {
				sentinels++
			} else {
				batches = append(batches, msg.Batch)
			}
		default:
			return batches, sentinels
		}
	}
}

func TestDispatcherPartitionsSourceOrder(t *testing.T) {
	const workers = 3

	queue := make(chan Message, 64)
	d := NewDispatcher(queue, 10, workers, NewToken())

	require.NoError(t, d.Run(openTestSource(t, 25)))

	batches, sentinels := drainQueue(queue)
	require.Len(t, batches, 3)
	assert.Len(t, batches[0], 10)
	assert.Len(t, batches[1], 10)
	assert.Len(t, batches[2], 5)
	assert.Equal(t, workers, sentinels)

	var got Batch
	for _, b := range batches {
		got = append(got, b...)
	}
	for i, id := range got {
		assert.Equal(t, fmt.Sprintf("SEE%04d", i), id)
	}
}

func TestDispatcherExactMultipleHasNoEmptyBatch(t *testing.T) {
	queue := make(chan Message, 64)
	d := NewDispatcher(queue, 10, 2, NewToken())

	require.NoError(t, d.Run(openTestSource(t, 20)))

	batches, sentinels := drainQueue(queue)
	require.Len(t, batches, 2)
	assert.Len(t, batches[0], 10)
	assert.Len(t, batches[1], 10)
	assert.Equal(t, 2, sentinels)
}

func TestDispatcherEmptySourceOnlySentinels(t *testing.T) {
	queue := make(chan Message, 8)
	d := NewDispatcher(queue, 10, 4, NewToken())

	require.NoError(t, d.Run(openTestSource(t, 0)))

	batches, sentinels := drainQueue(queue)
	assert.Empty(t, batches)
	assert.Equal(t, 4, sentinels)
}

func TestDispatcherBlocksOnFullQueue(t *testing.T) {
	// Capacity 2 with no consumer: the dispatcher must park on the third
	// send instead of buffering the whole source.
	queue := make(chan Message, 2)
	token := NewToken()
	d := NewDispatcher(queue, 5, 1, token)
	src := openTestSource(t, 50)

	done := make(chan error, 1)
	go func() {
		done <- d.Run(src)
	}()

	require.Eventually(t, func() bool {
		return len(queue) == 2
	}, time.Second, time.Millisecond)

	select {
	case <-done:
		t.Fatal("dispatcher finished while the queue was full")
	case <-time.After(20 * time.Millisecond):
	}

	// Draining unblocks it: every identifier plus the sentinel arrives.
	var batches []Batch
	sentinels := 0
	for sentinels == 0 {
		msg := <-queue
		if msg.Shutdown {
			sentinels++
		} else {
			batches = append(batches, msg.Batch)
		}
	}
	require.NoError(t, <-done)

	total := 0
	for _, b := range batches {
		total += len(b)
	}
	assert.Equal(t, 50, total)
	assert.Equal(t, 1, sentinels)
}

func TestDispatcherStopSkipsSentinels(t *testing.T) {
	queue := make(chan Message, 64)
	token := NewToken()
	token.Graceful()

	d := NewDispatcher(queue, 10, 3, token)
	require.NoError(t, d.Run(openTestSource(t, 25)))

	batches, sentinels := drainQueue(queue)
	assert.Empty(t, batches)
	assert.Zero(t, sentinels, "a stopped dispatcher must not enqueue sentinels")
}

func TestDispatcherStopUnblocksFullQueue(t *testing.T) {
	queue := make(chan Message, 1)
	token := NewToken()
	d := NewDispatcher(queue, 5, 2, token)
	src := openTestSource(t, 50)

	done := make(chan error, 1)
	go func() {
		done <- d.Run(src)
	}()

	require.Eventually(t, func() bool {
		return len(queue) == 1
	}, time.Second, time.Millisecond)

	token.Graceful()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not observe the stop while blocked")
	}

	_, sentinels := drainQueue(queue)
	assert.Zero(t, sentinels)
}

func TestDispatcherSourceErrorIsFatal(t *testing.T) {
	src, err := OpenSource(InputSpec{Path: writeCSV(t, identifierRows(5))}, 7)
	require.NoError(t, err)
	defer src.Close()

	queue := make(chan Message, 8)
	d := NewDispatcher(queue, 10, 1, NewToken())

	err = d.Run(src)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "column index 7 out of range")

	_, sentinels := drainQueue(queue)
	assert.Zero(t, sentinels, "a failed dispatcher must not enqueue sentinels")
}
