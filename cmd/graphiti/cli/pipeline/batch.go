// Package pipeline turns captured items into graph episodes: batching,
// the mandatory security gate, LLM summarization with a concatenation
// fallback, and episode emission.
package pipeline

// DefaultBatchSize is how many items accumulate before a summarization
// call is triggered.
const DefaultBatchSize = 10

// BatchAccumulator collects items until a full batch is ready.
type BatchAccumulator struct {
	size  int
	items []string
}

// NewBatchAccumulator returns an accumulator that releases batches of
// size items.
func NewBatchAccumulator(size int) *BatchAccumulator {
	if size <= 0 {
		size = DefaultBatchSize
	}
	return &BatchAccumulator{size: size}
}

// Add appends an item. When the batch fills, it returns every item fed
// since the last release, in order, and resets; otherwise nil.
func (b *BatchAccumulator) Add(item string) []string {
	b.items = append(b.items, item)
	if len(b.items) < b.size {
		return nil
	}
	batch := b.items
	b.items = nil
	return batch
}

// Flush releases any partial batch.
func (b *BatchAccumulator) Flush() []string {
	batch := b.items
	b.items = nil
	return batch
}

// Len returns the number of items currently held.
func (b *BatchAccumulator) Len() int {
	return len(b.items)
}
