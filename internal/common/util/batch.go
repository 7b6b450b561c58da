package util

import "math"

// Batch splits elements into consecutive batches of batchSize; the last batch holds the remainder.
func Batch[T any](elements []T, batchSize int) [][]T {
	total := len(elements)

	n := int(math.Floor(float64(total) / float64(batchSize)))
	lastBatchSize := total % batchSize
	totalBatches := n
	if lastBatchSize != 0 {
		totalBatches++
	}

	batches := make([][]T, totalBatches, totalBatches)

	for i := 0; i < n; i++ {
		batches[i] = elements[i*batchSize : (i+1)*batchSize]
	}

	if lastBatchSize != 0 {
		batches[n] = elements[n*batchSize : n*batchSize+lastBatchSize]
	}

	return batches
}
