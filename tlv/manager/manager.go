// Package manager implements typed tag dispatch on top of package tlv:
// callers register a handful of typed slots keyed by tag, and the
// manager takes care of decoding/encoding each one as DATA frames flow
// through a session.
package manager

import (
	"fmt"
	"strconv"
	"syscall"

	"github.com/ndechesne/hbackup/pipeline"
	"github.com/ndechesne/hbackup/tlv"
)

type slotKind int

const (
	kindVoid slotKind = iota
	kindBool
	kindBlob
	kindBigBlob
	kindInt
	kindString
)

type slot struct {
	tag  uint8
	kind slotKind

	boolVal   *bool
	blob      []byte
	blobLen   *int
	bigBlobFn func(p []byte) error
	intVal    *int64
	strVal    *string
}

// Reception dispatches DATA frames arriving on a session, by tag, to
// whichever typed slot was registered for that tag. Unknown tags yield
// ENOSYS unless a next Reception is chained via Chain.
type Reception struct {
	slots map[uint8]*slot
	next  *Reception
}

// NewReception returns an empty dispatch table.
func NewReception() *Reception {
	return &Reception{slots: make(map[uint8]*slot)}
}

// Chain sets next as the fallback dispatch table for tags this one does
// not recognize.
func (m *Reception) Chain(next *Reception) {
	m.next = next
}

// AddVoid registers tag as a presence-only marker.
func (m *Reception) AddVoid(tag uint8) {
	m.slots[tag] = &slot{tag: tag, kind: kindVoid}
}

// AddBool registers tag as a boolean, true when the frame carries any
// value bytes at all.
func (m *Reception) AddBool(tag uint8, val *bool) {
	m.slots[tag] = &slot{tag: tag, kind: kindBool, boolVal: val}
}

// AddBlob registers tag as a fixed-capacity buffer; n receives how many
// bytes were written into buf.
func (m *Reception) AddBlob(tag uint8, buf []byte, n *int) {
	m.slots[tag] = &slot{tag: tag, kind: kindBlob, blob: buf, blobLen: n}
}

// AddBigBlob registers tag as a streaming sink invoked once per frame,
// for values too large to buffer whole (CRAWL's per-entry triples, say).
func (m *Reception) AddBigBlob(tag uint8, fn func(p []byte) error) {
	m.slots[tag] = &slot{tag: tag, kind: kindBigBlob, bigBlobFn: fn}
}

// AddInt registers tag as an ASCII-decimal integer.
func (m *Reception) AddInt(tag uint8, val *int64) {
	m.slots[tag] = &slot{tag: tag, kind: kindInt, intVal: val}
}

// AddString registers tag as a raw string value.
func (m *Reception) AddString(tag uint8, val *string) {
	m.slots[tag] = &slot{tag: tag, kind: kindString, strVal: val}
}

// Remove drops tag's registration.
func (m *Reception) Remove(tag uint8) {
	delete(m.slots, tag)
}

func (m *Reception) submit(tag uint8, value []byte) error {
	s, ok := m.slots[tag]
	if !ok {
		if m.next != nil {
			return m.next.submit(tag, value)
		}
		return fmt.Errorf("manager: unregistered tag %d: %w", tag, syscall.ENOSYS)
	}
	switch s.kind {
	case kindVoid:
		return nil
	case kindBool:
		*s.boolVal = len(value) > 0
		return nil
	case kindBlob:
		n := copy(s.blob, value)
		*s.blobLen = n
		return nil
	case kindBigBlob:
		return s.bigBlobFn(value)
	case kindInt:
		v, err := strconv.ParseInt(string(value), 10, 64)
		if err != nil {
			return fmt.Errorf("manager: tag %d: %w", tag, syscall.EINVAL)
		}
		*s.intVal = v
		return nil
	case kindString:
		*s.strVal = string(value)
		return nil
	default:
		return fmt.Errorf("manager: tag %d: %w", tag, syscall.ENOSYS)
	}
}

// AbortFunc is invoked when a CHECK frame arrives mid-session; returning
// true aborts the receive loop.
type AbortFunc func() bool

// Receive drives r's session to completion, submitting each DATA frame
// to the registered slots. It returns after the END frame, or earlier if
// abort returns true on a CHECK frame.
func (m *Reception) Receive(r *tlv.Receiver, abort AbortFunc) error {
	f, err := r.Next()
	if err != nil {
		return err
	}
	if f.Type != tlv.TypeStart {
		return fmt.Errorf("manager: expected session start: %w", syscall.EINVAL)
	}
	for {
		f, err := r.Next()
		if err != nil {
			return err
		}
		switch f.Type {
		case tlv.TypeEnd:
			return nil
		case tlv.TypeCheck:
			if abort != nil && abort() {
				return fmt.Errorf("manager: receive aborted: %w", syscall.ECANCELED)
			}
		case tlv.TypeData:
			if err := m.submit(f.Tag, f.Value); err != nil {
				return err
			}
		default:
			return fmt.Errorf("manager: unexpected frame: %w", syscall.EINVAL)
		}
	}
}

// Transmission accumulates typed items and streams them as a single
// session's DATA frames between Send's Start and End.
type Transmission struct {
	items []func(s *tlv.Sender) error
}

// NewTransmission returns an empty item list.
func NewTransmission() *Transmission {
	return &Transmission{}
}

// AddVoid queues a presence-only marker.
func (m *Transmission) AddVoid(tag uint8) {
	m.items = append(m.items, func(s *tlv.Sender) error { return s.Data(tag, nil) })
}

// AddBool queues a boolean, encoded as an empty value when false.
func (m *Transmission) AddBool(tag uint8, val bool) {
	m.items = append(m.items, func(s *tlv.Sender) error {
		if val {
			return s.Data(tag, []byte{'1'})
		}
		return s.Data(tag, nil)
	})
}

// AddBlob queues a fixed byte value.
func (m *Transmission) AddBlob(tag uint8, val []byte) {
	m.items = append(m.items, func(s *tlv.Sender) error { return s.Data(tag, val) })
}

// AddInt queues an ASCII-decimal integer.
func (m *Transmission) AddInt(tag uint8, val int64) {
	m.items = append(m.items, func(s *tlv.Sender) error {
		return s.Data(tag, []byte(strconv.FormatInt(val, 10)))
	})
}

// AddString queues a string value.
func (m *Transmission) AddString(tag uint8, val string) {
	m.items = append(m.items, func(s *tlv.Sender) error { return s.Data(tag, []byte(val)) })
}

// Send writes Start, every queued item in order, then End.
func (m *Transmission) Send(w pipeline.ReaderWriter) error {
	s := tlv.NewSender(w)
	if err := s.Start(); err != nil {
		return err
	}
	for _, item := range m.items {
		if err := item(s); err != nil {
			return err
		}
	}
	return s.End()
}
