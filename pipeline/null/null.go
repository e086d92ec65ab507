// Package null implements a discard pipeline.ReaderWriter sink, used when a
// stream must be consumed (to run it through a hasher, say) without keeping
// the bytes.
package null

import "github.com/ndechesne/hbackup/pipeline"

type sink struct {
	offset int64
}

// New returns a pipeline.ReaderWriter that discards everything written to
// it and never has anything to read.
func New() pipeline.ReaderWriter {
	return &sink{}
}

func (o *sink) Open() error  { return nil }
func (o *sink) Close() error { return nil }

func (o *sink) Read(p []byte) (int, error) { return 0, nil }
func (o *sink) Get(p []byte) (int, error)  { return 0, nil }

func (o *sink) Put(p []byte) (int, error) {
	o.offset += int64(len(p))
	return len(p), nil
}

func (o *sink) Offset() int64 { return o.offset }
func (o *sink) Path() string  { return "" }
