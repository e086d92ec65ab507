// Package async implements a buffering pipeline.ReaderWriter stage that
// hands writes off to a single background worker, so a slow child stage
// (a file on a loaded disk, say) does not stall the producer. Order is
// preserved: the worker applies queued writes to child strictly in the
// order Put received them. The worker goroutine is supervised by a
// golang.org/x/sync/errgroup.Group.
package async

import (
	"context"
	"sync"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/ndechesne/hbackup/pipeline"
)

// QueueDepth is the default number of pending writes buffered before Put
// blocks the producer.
const QueueDepth = 64

type job struct {
	p   []byte
	off int64
}

type asy struct {
	child pipeline.ReaderWriter
	owned bool

	queue chan job
	grp   *errgroup.Group
	ctx   context.Context

	mu      sync.Mutex
	err     error
	offset  int64
	started bool
}

// New wraps child with an asynchronous write buffer of the given depth.
// If owned, Close also closes child after draining the queue.
func New(child pipeline.ReaderWriter, owned bool, depth int) pipeline.ReaderWriter {
	if depth <= 0 {
		depth = QueueDepth
	}
	return &asy{child: child, owned: owned, queue: make(chan job, depth)}
}

func (o *asy) Open() error {
	if err := o.child.Open(); err != nil {
		return err
	}
	grp, ctx := errgroup.WithContext(context.Background())
	o.grp = grp
	o.ctx = ctx
	o.started = true
	grp.Go(o.run)
	return nil
}

func (o *asy) run() error {
	for j := range o.queue {
		if _, err := o.child.Put(j.p); err != nil {
			o.mu.Lock()
			if o.err == nil {
				o.err = err
			}
			o.mu.Unlock()
		}
	}
	return nil
}

func (o *asy) Close() error {
	if !o.started {
		return syscall.EBADF
	}
	close(o.queue)
	_ = o.grp.Wait()
	o.started = false

	o.mu.Lock()
	err := o.err
	o.mu.Unlock()

	if o.owned {
		if cerr := o.child.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

func (o *asy) Read(p []byte) (int, error) { return 0, syscall.EPERM }
func (o *asy) Get(p []byte) (int, error)  { return 0, syscall.EPERM }

// Put copies p and enqueues it for the background worker; it returns as
// soon as the copy is queued, not once child has actually written it.
func (o *asy) Put(p []byte) (int, error) {
	if !o.started {
		return 0, syscall.EBADF
	}
	o.mu.Lock()
	if o.err != nil {
		err := o.err
		o.mu.Unlock()
		return 0, err
	}
	o.mu.Unlock()

	cp := make([]byte, len(p))
	copy(cp, p)
	o.offset += int64(len(cp))
	select {
	case o.queue <- job{p: cp, off: o.offset}:
	case <-o.ctx.Done():
		return 0, syscall.ECANCELED
	}
	return len(p), nil
}

func (o *asy) Offset() int64 {
	return o.offset
}

func (o *asy) Path() string {
	return o.child.Path()
}
