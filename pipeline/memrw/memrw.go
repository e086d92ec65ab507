// Package memrw provides in-memory pipeline.ReaderWriter adapters used by
// tests that need a stage endpoint without touching the filesystem.
package memrw

import (
	"bytes"
	"io"

	"github.com/ndechesne/hbackup/pipeline"
)

type writer struct {
	buf    *bytes.Buffer
	offset int64
}

// NewWriter returns a pipeline.ReaderWriter whose Put appends to buf.
func NewWriter(buf *bytes.Buffer) pipeline.ReaderWriter {
	return &writer{buf: buf}
}

func (o *writer) Open() error  { return nil }
func (o *writer) Close() error { return nil }

func (o *writer) Read(p []byte) (int, error) { return 0, nil }
func (o *writer) Get(p []byte) (int, error)  { return 0, nil }

func (o *writer) Put(p []byte) (int, error) {
	n, err := o.buf.Write(p)
	o.offset += int64(n)
	return n, err
}

func (o *writer) Offset() int64 { return o.offset }
func (o *writer) Path() string  { return "" }

type reader struct {
	data   []byte
	pos    int
	offset int64
}

// NewReader returns a pipeline.ReaderWriter that serves data on Read/Get.
func NewReader(data []byte) pipeline.ReaderWriter {
	return &reader{data: data}
}

func (o *reader) Open() error  { return nil }
func (o *reader) Close() error { return nil }

func (o *reader) Read(p []byte) (int, error) {
	if o.pos >= len(o.data) {
		return 0, io.EOF
	}
	n := copy(p, o.data[o.pos:])
	o.pos += n
	o.offset += int64(n)
	return n, nil
}

func (o *reader) Get(p []byte) (int, error) { return o.Read(p) }
func (o *reader) Put(p []byte) (int, error) { return 0, nil }
func (o *reader) Offset() int64             { return o.offset }
func (o *reader) Path() string              { return "" }
