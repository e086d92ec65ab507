// Package line implements a delimiter-buffered pipeline.ReaderWriter
// stage that splits a raw byte stream into delimited lines, using a
// refill-buffer-then-scan loop over the child Reader.
package line

import (
	"bytes"
	"fmt"
	"io"
	"syscall"

	"github.com/ndechesne/hbackup/pipeline"
)

// Line is a pipeline.ReaderWriter with delimiter-aware framing helpers.
type Line interface {
	pipeline.ReaderWriter

	// GetLine reads and returns the next run of bytes up to (and
	// excluding) delim, refilling from child as needed. ok is false on
	// clean end of stream with no more data.
	GetLine(delim byte) (line []byte, ok bool, err error)

	// PutLine writes data followed by delim.
	PutLine(data []byte, delim byte) (int, error)
}

type ln struct {
	child  pipeline.ReaderWriter
	owned  bool
	buf    []byte
	offset int64
}

// New wraps child with line framing. If owned, Close also closes child.
func New(child pipeline.ReaderWriter, owned bool) Line {
	return &ln{child: child, owned: owned}
}

func (o *ln) Open() error {
	return o.child.Open()
}

func (o *ln) Close() error {
	if o.owned {
		return o.child.Close()
	}
	return nil
}

func (o *ln) Read(p []byte) (int, error) {
	if len(o.buf) > 0 {
		n := copy(p, o.buf)
		o.buf = o.buf[n:]
		o.offset += int64(n)
		return n, nil
	}
	n, err := o.child.Read(p)
	o.offset += int64(n)
	return n, err
}

func (o *ln) Get(p []byte) (int, error) {
	return pipeline.GetFull(o, p)
}

func (o *ln) Put(p []byte) (int, error) {
	n, err := o.child.Put(p)
	o.offset += int64(n)
	return n, err
}

func (o *ln) Offset() int64 {
	return o.offset
}

func (o *ln) Path() string {
	return o.child.Path()
}

func (o *ln) GetLine(delim byte) ([]byte, bool, error) {
	for {
		if idx := bytes.IndexByte(o.buf, delim); idx >= 0 {
			line := make([]byte, idx)
			copy(line, o.buf[:idx])
			o.buf = o.buf[idx+1:]
			o.offset += int64(idx) + 1
			return line, true, nil
		}

		chunk := make([]byte, pipeline.StreamBufferSize)
		n, err := o.child.Read(chunk)
		if n > 0 {
			o.buf = append(o.buf, chunk[:n]...)
			continue
		}
		if err != nil && err != io.EOF {
			return nil, false, fmt.Errorf("line: read: %w", err)
		}
		if len(o.buf) > 0 {
			line := o.buf
			o.buf = nil
			o.offset += int64(len(line))
			return line, true, nil
		}
		return nil, false, nil
	}
}

func (o *ln) PutLine(data []byte, delim byte) (int, error) {
	n, err := o.child.Put(data)
	if err != nil {
		return n, err
	}
	if n != len(data) {
		return n, fmt.Errorf("line: short write: %w", syscall.EIO)
	}
	m, err := o.child.Put([]byte{delim})
	o.offset += int64(n + m)
	if err != nil {
		return n, err
	}
	return n + m, nil
}
