package pipeline

import "testing"

func TestChunk(t *testing.T) {
	tests := []struct {
		name     string
		ids      []int64
		size     int
		wantLens []int
	}{
		{"empty", nil, 10, nil},
		{"exact multiple", []int64{1, 2, 3, 4}, 2, []int{2, 2}},
		{"remainder", []int64{1, 2, 3, 4, 5}, 2, []int{2, 2, 1}},
		{"single oversized chunk", []int64{1, 2}, 10, []int{2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Chunk(tt.ids, tt.size)
			if err != nil {
				t.Fatalf("Chunk: %v", err)
			}
			if len(got) != len(tt.wantLens) {
				t.Fatalf("got %d chunks, want %d", len(got), len(tt.wantLens))
			}
			for i, c := range got {
				if len(c) != tt.wantLens[i] {
					t.Errorf("chunk %d has len %d, want %d", i, len(c), tt.wantLens[i])
				}
			}
		})
	}
}

func TestChunkRejectsNonPositiveSize(t *testing.T) {
	if _, err := Chunk([]int64{1}, 0); err == nil {
		t.Error("size 0 must error")
	}
	if _, err := Chunk([]int64{1}, -1); err == nil {
		t.Error("negative size must error")
	}
}

func TestChunkPreservesOrder(t *testing.T) {
	chunks, err := Chunk([]int64{10, 20, 30}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if chunks[0][0] != 10 || chunks[0][1] != 20 || chunks[1][0] != 30 {
		t.Errorf("order not preserved: %v", chunks)
	}
}
