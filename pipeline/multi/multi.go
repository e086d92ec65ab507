// Package multi implements a fan-out pipeline.ReaderWriter stage that
// writes every Put to an ordered list of children, the way a store write
// stages both a raw copy and a gzip-compressed copy of the same source.
// Mirrors an ordered fan-out writer: children are written to in slice
// order, and the first failing child's path is recorded for diagnostics.
package multi

import (
	"fmt"

	"github.com/ndechesne/hbackup/pipeline"
)

// Multi is a pipeline.ReaderWriter that fans writes out to several
// children and remembers which one first failed.
type Multi interface {
	pipeline.ReaderWriter

	// FailedPath returns the path of the first child that failed a
	// write, or the empty string if every write so far has succeeded.
	FailedPath() string
}

type child struct {
	rw    pipeline.ReaderWriter
	owned bool
}

type mlt struct {
	children []child
	offset   int64
	failed   string
}

// New fans writes out to children in order. owned marks which children
// should also be closed by Close.
func New(children []pipeline.ReaderWriter, owned []bool) Multi {
	m := &mlt{children: make([]child, len(children))}
	for i, c := range children {
		o := false
		if i < len(owned) {
			o = owned[i]
		}
		m.children[i] = child{rw: c, owned: o}
	}
	return m
}

func (o *mlt) Open() error {
	for _, c := range o.children {
		if err := c.rw.Open(); err != nil {
			return fmt.Errorf("multi: open %s: %w", c.rw.Path(), err)
		}
	}
	return nil
}

func (o *mlt) Close() error {
	var first error
	for _, c := range o.children {
		if !c.owned {
			continue
		}
		if err := c.rw.Close(); err != nil && first == nil {
			first = err
			o.failed = c.rw.Path()
		}
	}
	return first
}

func (o *mlt) Read(p []byte) (int, error) { return 0, nil }
func (o *mlt) Get(p []byte) (int, error)  { return 0, nil }

// Put writes p to every child in order, stopping at (and recording) the
// first child that fails.
func (o *mlt) Put(p []byte) (int, error) {
	for _, c := range o.children {
		n, err := c.rw.Put(p)
		if err != nil {
			o.failed = c.rw.Path()
			return n, fmt.Errorf("multi: write %s: %w", c.rw.Path(), err)
		}
		if n != len(p) {
			o.failed = c.rw.Path()
			return n, fmt.Errorf("multi: short write to %s", c.rw.Path())
		}
	}
	o.offset += int64(len(p))
	return len(p), nil
}

func (o *mlt) Offset() int64 {
	return o.offset
}

func (o *mlt) Path() string {
	if len(o.children) == 0 {
		return ""
	}
	return o.children[0].rw.Path()
}

func (o *mlt) FailedPath() string {
	return o.failed
}
