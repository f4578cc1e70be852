// Package params precomputes the per-request parameter values of a batch.
//
// The buffer is built once before timing starts and reused unchanged for
// every batch, so the measured path contains no formatting or allocation.
package params

import (
	"fmt"
	"strconv"
)

// Buffer holds the text-encoded parameter for each request index of a batch.
// It is sized at construction and never resized or mutated afterwards.
type Buffer struct {
	values [][]byte
}

// Distinct is the number of different values Value produces.
const Distinct = 10

// Value is the parameter for request index i within any batch.
func Value(i int) int {
	return (i % Distinct) + 1
}

// New builds a buffer for batchSize requests.
func New(batchSize int) (*Buffer, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("params: batch size must be positive, got %d", batchSize)
	}

	// One backing array holds every value: at most two bytes per request.
	backing := make([]byte, 0, batchSize*2)
	values := make([][]byte, batchSize)
	for i := 0; i < batchSize; i++ {
		start := len(backing)
		backing = strconv.AppendInt(backing, int64(Value(i)), 10)
		values[i] = backing[start:len(backing):len(backing)]
	}
	return &Buffer{values: values}, nil
}

// Len is the batch size the buffer was built for.
func (b *Buffer) Len() int {
	return len(b.values)
}

// At returns the encoded parameter for request index i. Callers must not
// modify the returned slice.
func (b *Buffer) At(i int) []byte {
	if i < 0 || i >= len(b.values) {
		panic(fmt.Sprintf("params: index %d out of range [0,%d)", i, len(b.values)))
	}
	return b.values[i]
}
