package object

import (
	"context"
	"io"
	"sync"

	"github.com/0chain/errors"

	"github.com/strandnet/strand/code/go/strand.net/core/common"
)

// seqWriter flushes slab buffers to the destination strictly in slab
// order while slabs complete out of order. Whichever goroutine holds a
// buffer at the flush frontier drains it plus any queued successors, so
// the destination writer is only ever touched under the lock. An early
// slab is held back by the slab window upstream, which bounds how much
// this can buffer.
type seqWriter struct {
	lock    sync.Mutex
	cv      *sync.Cond
	w       io.Writer
	pending map[int][]byte
	next    int
	err     error
}

func newSeqWriter(ctx context.Context, w io.Writer) *seqWriter {
	sw := &seqWriter{
		w:       w,
		pending: make(map[int][]byte),
	}
	sw.cv = sync.NewCond(&sw.lock)
	go func() {
		// Wake blocked writers when the transfer is cancelled.
		<-ctx.Done()
		sw.cv.Broadcast()
	}()
	return sw
}

// push hands over slab index's plaintext and blocks until it has been
// flushed, the writer failed, or ctx is done.
func (sw *seqWriter) push(ctx context.Context, index int, data []byte) error {
	sw.lock.Lock()
	defer sw.lock.Unlock()

	sw.pending[index] = data
	sw.cv.Broadcast()

	for sw.err == nil && sw.next <= index {
		if ctx.Err() != nil {
			delete(sw.pending, index)
			return errors.Throw(common.ErrCancelled, ctx.Err().Error())
		}
		buf, ready := sw.pending[sw.next]
		if !ready {
			sw.cv.Wait()
			continue
		}
		delete(sw.pending, sw.next)
		if _, err := sw.w.Write(buf); err != nil {
			sw.err = errors.Wrap(err, common.ErrIO)
			sw.cv.Broadcast()
			break
		}
		sw.next++
		sw.cv.Broadcast()
	}
	return sw.err
}
