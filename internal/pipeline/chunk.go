package pipeline

import "fmt"

// Chunk splits ids into consecutive slices of at most size elements. An
// empty input yields no chunks; a non-positive size is a programming error.
func Chunk(ids []int64, size int) ([][]int64, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	chunks := make([][]int64, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		chunks = append(chunks, ids[start:end])
	}
	return chunks, nil
}
