// Package zipper implements a gzip (de)compression pipeline.ReaderWriter
// stage, selected by a compression level: -1 decodes, 0..9 encodes.
// Uses compress/gzip directly rather than a third-party codec.
package zipper

import (
	"compress/gzip"
	"fmt"
	"io"
	"syscall"

	"github.com/ndechesne/hbackup/pipeline"
)

// Decode is the sentinel compression level selecting decode mode.
const Decode = -1

type zp struct {
	child  pipeline.ReaderWriter
	owned  bool
	level  int
	offset int64
	gw     *gzip.Writer
	gr     *gzip.Reader
}

// New wraps child with a Zipper stage. level == Decode selects gunzip;
// 0..9 select gzip at that compression level. If owned, Close also closes
// child.
func New(child pipeline.ReaderWriter, owned bool, level int) pipeline.ReaderWriter {
	return &zp{child: child, owned: owned, level: level}
}

func (o *zp) Open() error {
	if err := o.child.Open(); err != nil {
		return err
	}
	if o.level >= 0 {
		gw, err := gzip.NewWriterLevel(childWriter{o.child}, o.level)
		if err != nil {
			return fmt.Errorf("zipper: init encoder: %w", syscall.EUNATCH)
		}
		o.gw = gw
		return nil
	}
	gr, err := gzip.NewReader(childReader{o.child})
	if err != nil {
		return fmt.Errorf("zipper: init decoder: %w", syscall.EUCLEAN)
	}
	o.gr = gr
	return nil
}

func (o *zp) Close() error {
	var err error
	if o.gw != nil {
		if e := o.gw.Close(); e != nil {
			err = fmt.Errorf("zipper: finish encoder: %w", syscall.EUNATCH)
		}
	}
	if o.gr != nil {
		if e := o.gr.Close(); e != nil && err == nil {
			err = fmt.Errorf("zipper: finish decoder: %w", syscall.EUCLEAN)
		}
	}
	if o.owned {
		if e := o.child.Close(); e != nil && err == nil {
			err = e
		}
	}
	return err
}

func (o *zp) Read(p []byte) (int, error) {
	if o.gr == nil {
		return 0, syscall.EBADF
	}
	n, err := o.gr.Read(p)
	o.offset += int64(n)
	if err != nil && err != io.EOF {
		err = fmt.Errorf("zipper: %w: %w", syscall.EUCLEAN, err)
	}
	return n, err
}

func (o *zp) Get(p []byte) (int, error) {
	return pipeline.GetFull(o, p)
}

func (o *zp) Put(p []byte) (int, error) {
	if o.gw == nil {
		return 0, syscall.EBADF
	}
	n, err := o.gw.Write(p)
	o.offset += int64(n)
	return n, err
}

func (o *zp) Offset() int64 {
	return o.offset
}

func (o *zp) Path() string {
	return o.child.Path()
}

// childWriter/childReader adapt a pipeline.ReaderWriter to the plain
// io.Writer/io.Reader interfaces compress/gzip expects.
type childWriter struct{ rw pipeline.ReaderWriter }

func (c childWriter) Write(p []byte) (int, error) { return c.rw.Put(p) }

type childReader struct{ rw pipeline.ReaderWriter }

func (c childReader) Read(p []byte) (int, error) { return c.rw.Read(p) }
