// Package file implements a pipeline.ReaderWriter stage backed by a plain
// file on disk: read-only for sources, write-truncate for destinations.
package file

import (
	"os"
	"syscall"

	"github.com/ndechesne/hbackup/pipeline"
)

type rw struct {
	path   string
	write  bool
	f      *os.File
	offset int64
	closed bool
}

// New returns a pipeline.ReaderWriter that opens path read-only, or
// write-only-truncate (creating the file if necessary) when write is true.
// The stage is closed until Open is called.
func New(path string, write bool) pipeline.ReaderWriter {
	return &rw{path: path, write: write, closed: true}
}

func (o *rw) Open() error {
	var err error
	if o.write {
		o.f, err = os.OpenFile(o.path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	} else {
		o.f, err = os.Open(o.path)
	}
	if err != nil {
		return err
	}
	o.offset = 0
	o.closed = false
	return nil
}

func (o *rw) Close() error {
	if o.closed {
		return nil
	}
	o.closed = true
	if o.f == nil {
		return nil
	}
	return o.f.Close()
}

func (o *rw) Read(p []byte) (int, error) {
	if o.closed {
		return 0, syscall.EBADF
	}
	n, err := o.f.Read(p)
	o.offset += int64(n)
	return n, err
}

func (o *rw) Get(p []byte) (int, error) {
	return pipeline.GetFull(o, p)
}

func (o *rw) Put(p []byte) (int, error) {
	if o.closed {
		return 0, syscall.EBADF
	}
	n, err := o.f.Write(p)
	o.offset += int64(n)
	return n, err
}

func (o *rw) Offset() int64 {
	return o.offset
}

func (o *rw) Path() string {
	return o.path
}
