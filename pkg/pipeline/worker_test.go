package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/registrykit/mastr-fetch/pkg/registry"
)

// scriptedFetcher fails the identifiers listed in fail and answers every
// other identifier with a minimal record. hook runs before each fetch.
type scriptedFetcher struct {
	fail  map[string]error
	hook  func(id string)
	calls []string
}

func (f *scriptedFetcher) Fetch(_ context.Context, id string) (registry.Record, error) {
	f.calls = append(f.calls, id)
	if f.hook != nil {
		f.hook(id)
	}
	if err, ok := f.fail[id]; ok {
		return nil, err
	}
	return registry.Record{"Ergebniscode": "OK", "EinheitMastrNummer": id}, nil
}

func newTestSink(t *testing.T) *RecordWriter {
	t.Helper()

	sink, err := NewRecordWriter(filepath.Join(t.TempDir(), "out.csv"), []string{"EinheitMastrNummer"}, false)
	require.NoError(t, err)
	return sink
}

func identifiers(n int) Batch {
	batch := make(Batch, n)
	for i := range batch {
		batch[i] = fmt.Sprintf("SEE%04d", i)
	}
	return batch
}

func serviceFault(id string) error {
	return fmt.Errorf("%w after 3 attempts: %v", registry.ErrRetryExhausted,
		&registry.Error{StatusCode: 503, Fault: registry.FaultService, Message: id})
}

func queueOf(msgs ...Message) chan Message {
	queue := make(chan Message, len(msgs))
	for _, msg := range msgs {
		queue <- msg
	}
	return queue
}

// sinkRows returns the data rows of the worker's closed sink, header
// excluded.
func sinkRows(t *testing.T, sink *RecordWriter) []string {
	t.Helper()

	rows := readCSVFile(t, sink.Path())
	require.NotEmpty(t, rows)

	ids := make([]string, 0, len(rows)-1)
	for _, row := range rows[1:] {
		ids = append(ids, row[0])
	}
	return ids
}

func TestWorkerWritesBatchAndStopsOnSentinel(t *testing.T) {
	fetch := &scriptedFetcher{}
	sink := newTestSink(t)
	queue := queueOf(DataMessage(identifiers(5)), ShutdownMessage())

	w := NewWorker(0, queue, fetch, sink, NewErrorBudget(20), NewToken())
	require.NoError(t, w.Run(context.Background()))

	assert.Equal(t, []string(identifiers(5)), sinkRows(t, sink))
	assert.Len(t, fetch.calls, 5)
}

func TestWorkerSkipsFailedIdentifiers(t *testing.T) {
	fetch := &scriptedFetcher{fail: map[string]error{
		"SEE0001": serviceFault("SEE0001"),
		"SEE0003": serviceFault("SEE0003"),
	}}
	sink := newTestSink(t)
	queue := queueOf(DataMessage(identifiers(5)), ShutdownMessage())

	w := NewWorker(0, queue, fetch, sink, NewErrorBudget(20), NewToken())
	require.NoError(t, w.Run(context.Background()))

	assert.Equal(t, []string{"SEE0000", "SEE0002", "SEE0004"}, sinkRows(t, sink))
}

func TestWorkerDiscardsBatchOverErrorsLimit(t *testing.T) {
	// Limit 2: the third consecutive failure exceeds the budget, so the
	// rest of the batch is discarded without fetching.
	fetch := &scriptedFetcher{fail: map[string]error{
		"SEE0000": serviceFault("SEE0000"),
		"SEE0001": serviceFault("SEE0001"),
		"SEE0002": serviceFault("SEE0002"),
	}}
	sink := newTestSink(t)
	queue := queueOf(DataMessage(identifiers(6)), ShutdownMessage())

	w := NewWorker(0, queue, fetch, sink, NewErrorBudget(2), NewToken())
	require.NoError(t, w.Run(context.Background()))

	assert.Len(t, fetch.calls, 3, "identifiers after the limit must not be fetched")
	assert.Empty(t, sinkRows(t, sink))
}

func TestWorkerBudgetResetsPerBatch(t *testing.T) {
	fetch := &scriptedFetcher{fail: map[string]error{
		"SEE0000": serviceFault("SEE0000"),
		"SEE0001": serviceFault("SEE0001"),
		"SEE0002": serviceFault("SEE0002"),
	}}
	sink := newTestSink(t)
	queue := queueOf(
		DataMessage(Batch{"SEE0000", "SEE0001", "SEE0002", "SEE0005"}),
		DataMessage(Batch{"SEE0006", "SEE0007"}),
		ShutdownMessage(),
	)

	w := NewWorker(0, queue, fetch, sink, NewErrorBudget(2), NewToken())
	require.NoError(t, w.Run(context.Background()))

	// The first batch is truncated after three failures; the second
	// starts with a fresh budget and goes through.
	assert.Equal(t, []string{"SEE0006", "SEE0007"}, sinkRows(t, sink))
}

func TestWorkerSuccessResetsBudget(t *testing.T) {
	// Limit 1 with alternating failures: each success clears the streak,
	// so the batch never hits the limit.
	fetch := &scriptedFetcher{fail: map[string]error{
		"SEE0000": serviceFault("SEE0000"),
		"SEE0002": serviceFault("SEE0002"),
		"SEE0004": serviceFault("SEE0004"),
	}}
	sink := newTestSink(t)
	queue := queueOf(DataMessage(identifiers(6)), ShutdownMessage())

	w := NewWorker(0, queue, fetch, sink, NewErrorBudget(1), NewToken())
	require.NoError(t, w.Run(context.Background()))

	assert.Len(t, fetch.calls, 6)
	assert.Equal(t, []string{"SEE0001", "SEE0003", "SEE0005"}, sinkRows(t, sink))
}

func TestWorkerEmptyBatchIsNotShutdown(t *testing.T) {
	fetch := &scriptedFetcher{}
	sink := newTestSink(t)
	queue := queueOf(DataMessage(nil), DataMessage(identifiers(2)), ShutdownMessage())

	w := NewWorker(0, queue, fetch, sink, NewErrorBudget(20), NewToken())
	require.NoError(t, w.Run(context.Background()))

	assert.Equal(t, []string{"SEE0000", "SEE0001"}, sinkRows(t, sink))
}

func TestWorkerGracefulStopFinishesCurrentIdentifier(t *testing.T) {
	token := NewToken()
	fetch := &scriptedFetcher{hook: func(id string) {
		if id == "SEE0002" {
			token.Graceful()
		}
	}}
	sink := newTestSink(t)
	queue := queueOf(DataMessage(identifiers(10)))

	w := NewWorker(0, queue, fetch, sink, NewErrorBudget(20), token)
	require.NoError(t, w.Run(context.Background()))

	// The in-flight identifier is completed and written; the rest of the
	// batch is abandoned.
	assert.Len(t, fetch.calls, 3)
	assert.Equal(t, []string{"SEE0000", "SEE0001", "SEE0002"}, sinkRows(t, sink))
}

func TestWorkerForcedStopAbandonsInFlightFetch(t *testing.T) {
	token := NewToken()
	fetch := &scriptedFetcher{fail: map[string]error{
		"SEE0001": fmt.Errorf("%w: %v", registry.ErrContextCancelled, context.Canceled),
	}, hook: func(id string) {
		if id == "SEE0001" {
			token.Force()
		}
	}}
	sink := newTestSink(t)
	queue := queueOf(DataMessage(identifiers(10)))

	w := NewWorker(0, queue, fetch, sink, NewErrorBudget(20), token)
	require.NoError(t, w.Run(context.Background()))

	// The aborted fetch is not a fault and nothing after it runs.
	assert.Len(t, fetch.calls, 2)
	assert.Equal(t, []string{"SEE0000"}, sinkRows(t, sink))
}

func TestWorkerIdleStopWithoutSentinel(t *testing.T) {
	token := NewToken()
	sink := newTestSink(t)
	queue := make(chan Message)

	w := NewWorker(0, queue, &scriptedFetcher{}, sink, NewErrorBudget(20), token)

	done := make(chan error, 1)
	go func() {
		done <- w.Run(context.Background())
	}()

	token.Graceful()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("idle worker did not observe the stop request")
	}
}
