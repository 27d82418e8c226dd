package ring

// Buffer 固定容量的环形缓冲，写满之后覆盖最旧的元素。
// 非并发安全，由持有者自己加锁。
type Buffer[T any] struct {
	buf  []T
	head int
	size int
}

func New[T any](capacity int) *Buffer[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Buffer[T]{
		buf: make([]T, capacity),
	}
}

// Append 追加一个元素，满了就挤掉最旧的
func (b *Buffer[T]) Append(v T) {
	if b.size < len(b.buf) {
		b.buf[(b.head+b.size)%len(b.buf)] = v
		b.size++
		return
	}
	b.buf[b.head] = v
	b.head = (b.head + 1) % len(b.buf)
}

// Snapshot 按从旧到新的顺序复制出当前内容
func (b *Buffer[T]) Snapshot() []T {
	res := make([]T, 0, b.size)
	for i := 0; i < b.size; i++ {
		res = append(res, b.buf[(b.head+i)%len(b.buf)])
	}
	return res
}

func (b *Buffer[T]) Len() int {
	return b.size
}

func (b *Buffer[T]) Cap() int {
	return len(b.buf)
}
