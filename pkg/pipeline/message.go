package pipeline

// Batch is an ordered, bounded group of identifiers dispatched as one
// unit of work. The final batch from a source may be shorter than the
// configured batch size.
type Batch []string

// Message is one element on the work queue: either a data batch or the
// shutdown sentinel. The sentinel is a distinct variant so that an
// empty batch can never be mistaken for "no more batches at all".
type Message struct {
	Batch    Batch
	Shutdown bool
}

// DataMessage wraps a batch for the queue.
func DataMessage(b Batch) Message {
	return Message{Batch: b}
}

// ShutdownMessage returns the sentinel telling one worker to stop.
// The dispatcher enqueues exactly one per worker.
func ShutdownMessage() Message {
	return Message{Shutdown: true}
}
