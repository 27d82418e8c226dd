package ring

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuffer(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		capacity int
		input    []int
		want     []int
	}{
		{
			name:     "未写满",
			capacity: 4,
			input:    []int{1, 2},
			want:     []int{1, 2},
		},
		{
			name:     "刚好写满",
			capacity: 3,
			input:    []int{1, 2, 3},
			want:     []int{1, 2, 3},
		},
		{
			name:     "覆盖最旧元素",
			capacity: 3,
			input:    []int{1, 2, 3, 4, 5},
			want:     []int{3, 4, 5},
		},
		{
			name:     "绕环多圈",
			capacity: 2,
			input:    []int{1, 2, 3, 4, 5, 6, 7},
			want:     []int{6, 7},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			b := New[int](tc.capacity)
			for _, v := range tc.input {
				b.Append(v)
			}
			assert.Equal(t, tc.want, b.Snapshot())
			assert.Equal(t, len(tc.want), b.Len())
		})
	}
}

func TestBufferZeroCapacity(t *testing.T) {
	t.Parallel()
	// 容量非法时退化为1，不会panic
	b := New[string](0)
	b.Append("a")
	b.Append("b")
	assert.Equal(t, []string{"b"}, b.Snapshot())
	assert.Equal(t, 1, b.Cap())
}
