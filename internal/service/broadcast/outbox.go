package broadcast

import (
	"context"
	"fmt"
	"sync"

	"gitee.com/flycash/live-interaction/internal/errs"
	"gitee.com/flycash/live-interaction/internal/pkg/metrics"
)

// Outbox 单个会话的有界发件箱。
// 写满时挤掉最旧的帧，并在队头种一个压缩标记提醒消费者重新对齐；
// 标记在被消费之前不会重复种。慢消费者只影响自己。
type Outbox struct {
	mu            sync.Mutex
	buf           []Frame
	capacity      int
	resyncPending bool
	closed        bool

	// ready 有帧可读的提示，容量1
	ready chan struct{}
	done  chan struct{}
}

func newOutbox(capacity int) *Outbox {
	// 至少要放得下一个压缩标记加一帧
	if capacity < 2 {
		capacity = 2
	}
	return &Outbox{
		buf:      make([]Frame, 0, capacity),
		capacity: capacity,
		ready:    make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// push 入队一帧，满了按压缩语义腾位置。发件箱关闭之后是空操作
func (o *Outbox) push(frame Frame) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	if len(o.buf) >= o.capacity {
		// 挤掉最旧的一帧，队头的压缩标记除外
		dropIdx := 0
		if o.resyncPending && o.buf[0].Kind == FrameKindResync {
			dropIdx = 1
		}
		o.buf = append(o.buf[:dropIdx], o.buf[dropIdx+1:]...)
		if !o.resyncPending {
			o.buf = append([]Frame{resyncFrame(frame.ChannelID)}, o.buf...)
			o.resyncPending = true
			metrics.BroadcastCompactionTotal.Inc()
			// 标记自己也占一个位置
			if len(o.buf) >= o.capacity {
				o.buf = append(o.buf[:1], o.buf[2:]...)
			}
		}
	}
	o.buf = append(o.buf, frame)
	o.mu.Unlock()

	select {
	case o.ready <- struct{}{}:
	default:
	}
}

// Receive 取下一帧，没有就阻塞。发件箱关闭返回 errs.ErrSessionNotFound
func (o *Outbox) Receive(ctx context.Context) (Frame, error) {
	for {
		o.mu.Lock()
		if len(o.buf) > 0 {
			frame := o.buf[0]
			o.buf = o.buf[1:]
			if frame.Kind == FrameKindResync {
				o.resyncPending = false
			}
			o.mu.Unlock()
			return frame, nil
		}
		closed := o.closed
		o.mu.Unlock()
		if closed {
			return Frame{}, fmt.Errorf("%w: 发件箱已关闭", errs.ErrSessionNotFound)
		}

		select {
		case <-ctx.Done():
			return Frame{}, ctx.Err()
		case <-o.done:
			// 回到循环把剩余的帧读完
		case <-o.ready:
		}
	}
}

// Len 当前积压帧数
func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.buf)
}

func (o *Outbox) close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	o.mu.Unlock()
	close(o.done)
}
