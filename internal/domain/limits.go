package domain

// Store ceilings. Every batching loop in the engine is sized by these.
const (
	// MaxInQueryValues caps the values in one equality-in lookup.
	MaxInQueryValues = 30
	// MaxBatchWrites caps the operations in one atomic batched write.
	MaxBatchWrites = 500
	// MaxBulkVerifyEmails caps a single bulk verification request.
	MaxBulkVerifyEmails = 1000
	// MaxBatchRecipients caps the contacts in one send queue entry.
	MaxBatchRecipients = 50
)

// Chunk splits items into consecutive slices of at most size elements.
// The last slice may be shorter. A non-positive size yields one chunk.
func Chunk[T any](items []T, size int) [][]T {
	if len(items) == 0 {
		return nil
	}
	if size <= 0 {
		size = len(items)
	}
	out := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		out = append(out, items[start:end])
	}
	return out
}
