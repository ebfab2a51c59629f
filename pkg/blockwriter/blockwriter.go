/*
Package blockwriter maintains a bounded in-memory queue in front of a writer, so that a producer
of blocks is not held up by every slow write downstream.

Writes are copied into the queue and flushed by a background goroutine. Close flushes whatever
is queued before returning.
*/
package blockwriter

import (
	"io"
	"sync"
)

type block struct {
	data []byte
	next *block
}

var blockPool = sync.Pool{
	New: func() interface{} {
		return new(block)
	},
}

func newBlock() *block {
	newItem := blockPool.Get().(*block)
	// need to reset next value to nil we're pulling out of a pool of potentially
	// old objects
	newItem.next = nil
	return newItem
}

type BlockWriter struct {
	head        *block
	tail        *block
	dataSize    uint64
	maxSize     uint64
	lk          sync.Mutex
	fullWait    *sync.Cond
	contentWait *sync.Cond
	closed      bool
	writeErr    error
	done        chan struct{}
	underlying  io.Writer
	handleError ErrorHandler
}

var _ io.WriteCloser = (*BlockWriter)(nil)

type errorType string

func (e errorType) Error() string {
	return string(e)
}

// ErrorHandler decides whether an error from the underlying writer is fatal. A nil
// ErrorHandler treats every error as fatal.
type ErrorHandler func(error) bool

const ErrClosed errorType = "writer closed"

// NewBlockWriter queues up to maxSize bytes ahead of underlying. A single write larger than
// maxSize is accepted once the queue is empty.
func NewBlockWriter(underlying io.Writer, maxSize uint64, handleError ErrorHandler) *BlockWriter {
	bw := &BlockWriter{
		underlying:  underlying,
		maxSize:     maxSize,
		handleError: handleError,
		done:        make(chan struct{}),
	}
	bw.contentWait = sync.NewCond(&bw.lk)
	bw.fullWait = sync.NewCond(&bw.lk)
	go bw.writeLoop()
	return bw
}

// Close waits for queued data to reach the underlying writer and returns the first fatal
// write error, if any
func (bq *BlockWriter) Close() error {
	bq.lk.Lock()
	bq.closed = true
	bq.lk.Unlock()
	bq.contentWait.Broadcast()
	bq.fullWait.Broadcast()
	<-bq.done

	bq.lk.Lock()
	defer bq.lk.Unlock()
	return bq.writeErr
}

func (bq *BlockWriter) Write(p []byte) (n int, err error) {
	bq.lk.Lock()
	defer bq.lk.Unlock()
	for {
		if bq.writeErr != nil {
			return 0, bq.writeErr
		}
		if bq.closed {
			return 0, ErrClosed
		}
		if len(p) == 0 {
			return 0, nil
		}
		if bq.dataSize == 0 || bq.dataSize+uint64(len(p)) <= bq.maxSize {
			block := newBlock()
			block.data = append([]byte(nil), p...)
			bq.queue(block)
			bq.contentWait.Broadcast()
			return len(p), nil
		}
		bq.fullWait.Wait()
	}
}

func (bq *BlockWriter) writeLoop() {
	defer close(bq.done)
	bq.lk.Lock()
	defer bq.lk.Unlock()
	for {
		if bq.head != nil && bq.writeErr == nil {
			data := bq.consume()
			bq.lk.Unlock()
			_, err := bq.underlying.Write(data)
			bq.lk.Lock()
			if err != nil && (bq.handleError == nil || bq.handleError(err)) {
				bq.writeErr = err
			}
			bq.fullWait.Broadcast()
			continue
		}
		if bq.writeErr != nil {
			// nothing more will be written, drop what is queued
			for bq.head != nil {
				bq.consume()
			}
			bq.fullWait.Broadcast()
		}
		if bq.closed {
			return
		}
		bq.contentWait.Wait()
	}
}

func (bq *BlockWriter) consume() []byte {
	// update our total data size buffered
	bq.dataSize -= uint64(len(bq.head.data))
	// save a reference to head
	consumed := bq.head

	// advance the queue
	bq.head = bq.head.next
	if bq.head == nil {
		bq.tail = nil
	}

	// wipe the block reference - let the memory get freed
	data := consumed.data
	consumed.data = nil
	// put the item back in the pool
	blockPool.Put(consumed)
	return data
}

func (bq *BlockWriter) queue(newItem *block) {
	// update total size buffered
	bq.dataSize += uint64(len(newItem.data))

	// queue the item
	if bq.head == nil {
		bq.tail = newItem
		bq.head = bq.tail
	} else {
		bq.tail.next = newItem
		bq.tail = bq.tail.next
	}
}
