package dag

import (
	"sync"

	"github.com/modality-org/modality-core/common"
	"github.com/modality-org/modality-core/cryptoutil"
)

// DefaultBatchSize and DefaultMaxBatchBytes mirror
// original_source/rust/modal-validator/src/shoal_validator.rs's
// NarwhalConfig defaults (1000 txs / 512KB).
const (
	DefaultBatchSize     = 1000
	DefaultMaxBatchBytes = 512 * 1024
)

// Transaction is an opaque payload batched by a Worker (spec.md §4.5.1).
type Transaction []byte

// Batch is a sealed group of transactions plus its content digest.
type Batch struct {
	Digest       common.Hash
	Transactions []Transaction
}

// Worker accumulates transactions for one validator until a batching
// threshold is reached. add_transaction is non-blocking; form_batch
// seals whatever has accumulated so far (spec.md §4.5.1).
type Worker struct {
	mu            sync.Mutex
	batchSize     int
	maxBatchBytes int
	pending       []Transaction
	pendingBytes  int
}

// NewWorker builds a Worker with the given batching thresholds. A zero
// threshold falls back to the package defaults.
func NewWorker(batchSize, maxBatchBytes int) *Worker {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if maxBatchBytes <= 0 {
		maxBatchBytes = DefaultMaxBatchBytes
	}
	return &Worker{batchSize: batchSize, maxBatchBytes: maxBatchBytes}
}

// AddTransaction appends tx to the pending batch. It never blocks.
func (w *Worker) AddTransaction(tx Transaction) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending = append(w.pending, tx)
	w.pendingBytes += len(tx)
}

// Ready reports whether the pending batch has crossed a batching
// threshold and should be sealed.
func (w *Worker) Ready() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending) >= w.batchSize || w.pendingBytes >= w.maxBatchBytes
}

// FormBatch seals the pending transactions into a Batch and resets the
// worker's accumulator, regardless of whether Ready() would return true
// — callers decide when to cut a batch.
func (w *Worker) FormBatch() (Batch, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	txs := w.pending
	w.pending = nil
	w.pendingBytes = 0

	raw, err := cryptoutil.Canonical(txs)
	if err != nil {
		return Batch{}, err
	}
	digest := cryptoutil.TaggedHash("dag.batch", raw)
	return Batch{Digest: digest, Transactions: txs}, nil
}

// PendingCount returns how many transactions are currently accumulated.
func (w *Worker) PendingCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}
