package dag

// OrderingEngine turns a commit-ordered certificate sequence into a flat
// transaction sequence: certificates in commit order, and within each
// certificate its batch's transactions in their original order (spec.md
// §4.5.6).
type OrderingEngine struct {
	batches map[string]Batch
}

// NewOrderingEngine builds an OrderingEngine. Batches must be registered
// via RegisterBatch before the certificate referencing them is ordered.
func NewOrderingEngine() *OrderingEngine {
	return &OrderingEngine{batches: make(map[string]Batch)}
}

// RegisterBatch makes a sealed batch available for later ordering by
// its digest.
func (o *OrderingEngine) RegisterBatch(b Batch) {
	o.batches[b.Digest.Hex()] = b
}

// OrderCertificates flattens committed certificates into a deterministic
// transaction sequence. A certificate whose batch was never registered
// contributes no transactions (it is still present in the commit order,
// just empty of payload on this node until the batch arrives via sync).
func (o *OrderingEngine) OrderCertificates(committed []*Certificate) []Transaction {
	var out []Transaction
	for _, cert := range committed {
		batch, ok := o.batches[cert.Header.BatchDigest.Hex()]
		if !ok {
			continue
		}
		out = append(out, batch.Transactions...)
	}
	return out
}
