// Package server implements the request dispatch loop: it accepts
// sessions on a bound socket, decodes a TLV request, invokes the store,
// and streams a TLV response back. One goroutine handles each accepted
// connection, bounded by a golang.org/x/sync/semaphore weighted pool.
package server

import (
	"context"
	"fmt"
	"net"
	"syscall"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/ndechesne/hbackup/missing"
	"github.com/ndechesne/hbackup/pipeline"
	"github.com/ndechesne/hbackup/protocol"
	"github.com/ndechesne/hbackup/store"
	"github.com/ndechesne/hbackup/tlv"
	"github.com/ndechesne/hbackup/tlv/manager"
)

// connRW is the minimal transport a session runs over: a pipeline.ReaderWriter
// bridging a net.Conn (or any full-duplex stream) into the tlv codec.
type connRW struct {
	conn   net.Conn
	offset int64
}

func newConnRW(conn net.Conn) pipeline.ReaderWriter { return &connRW{conn: conn} }

func (c *connRW) Open() error  { return nil }
func (c *connRW) Close() error { return c.conn.Close() }
func (c *connRW) Read(p []byte) (int, error) {
	n, err := c.conn.Read(p)
	c.offset += int64(n)
	return n, err
}
func (c *connRW) Get(p []byte) (int, error) { return pipeline.GetFull(c, p) }
func (c *connRW) Put(p []byte) (int, error) {
	n, err := c.conn.Write(p)
	c.offset += int64(n)
	return n, err
}
func (c *connRW) Offset() int64 { return c.offset }
func (c *connRW) Path() string  { return c.conn.RemoteAddr().String() }

// Server accepts sessions on a listener and dispatches them to a Store.
type Server struct {
	Listener net.Listener
	Store    *store.Store
	Missing  *missing.List
	Log      *logrus.Entry

	sem *semaphore.Weighted
}

// New returns a Server bound to listener, serving store. maxConcurrent
// bounds the number of sessions handled at once; 0 means unbounded.
func New(listener net.Listener, st *store.Store, m *missing.List, log *logrus.Entry, maxConcurrent int64) *Server {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	var sem *semaphore.Weighted
	if maxConcurrent > 0 {
		sem = semaphore.NewWeighted(maxConcurrent)
	}
	return &Server{Listener: listener, Store: st, Missing: m, Log: log, sem: sem}
}

// Serve accepts connections until ctx is canceled or Accept fails.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.Listener.Close()
	}()

	for {
		conn, err := s.Listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("server: accept: %w", err)
		}
		if s.sem != nil {
			if err := s.sem.Acquire(ctx, 1); err != nil {
				conn.Close()
				continue
			}
		}
		go func() {
			if s.sem != nil {
				defer s.sem.Release(1)
			}
			s.handle(conn)
		}()
	}
}

// Handle runs one session to completion over conn. Serve calls this for
// every accepted connection; it is exported so tests and alternative
// transports (an in-process net.Pipe, say) can drive a session directly.
func (s *Server) Handle(conn net.Conn) {
	s.handle(conn)
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()
	sessionID := uuid.NewString()
	log := s.Log.WithField("session", sessionID)

	rw := newConnRW(conn)
	receiver := tlv.NewReceiver(rw)

	var method int64
	var hash, storePath, targetPath, extension string
	var level int64
	var compCase int64
	var thorough, repair bool

	rx := manager.NewReception()
	rx.AddInt(uint8(protocol.TagMethod), &method)
	rx.AddString(uint8(protocol.TagHash), &hash)
	rx.AddString(uint8(protocol.TagStorePath), &storePath)
	rx.AddString(uint8(protocol.TagPath), &targetPath)
	rx.AddString(uint8(protocol.TagExtension), &extension)
	rx.AddInt(uint8(protocol.TagCompressionLevel), &level)
	rx.AddInt(uint8(protocol.TagCompressionCase), &compCase)
	rx.AddBool(uint8(protocol.TagThorough), &thorough)
	rx.AddBool(uint8(protocol.TagRepair), &repair)

	if err := rx.Receive(receiver, nil); err != nil {
		log.WithError(err).Warn("server: malformed request")
		return
	}

	switch protocol.Method(method) {
	case protocol.MethodName:
		s.dispatchName(rw, log, hash)
	case protocol.MethodRead:
		s.dispatchRead(rw, log, targetPath, hash)
	case protocol.MethodWrite:
		s.dispatchWrite(rw, log, storePath, int(level), store.CompCase(compCase))
	case protocol.MethodRemove:
		s.dispatchRemove(rw, log, hash)
	case protocol.MethodCrawl:
		s.dispatchCrawl(rw, log, thorough, repair)
	case protocol.MethodProgress:
		s.dispatchProgress(rw, log)
	default:
		log.Warnf("server: unknown method %d", method)
		s.sendStatus(rw, int(syscall.ENOSYS), nil)
	}
}

func (s *Server) sendStatus(rw pipeline.ReaderWriter, code int, extra func(tx *manager.Transmission)) {
	tx := manager.NewTransmission()
	tx.AddInt(uint8(protocol.TagStatus), int64(code))
	if extra != nil {
		extra(tx)
	}
	if err := tx.Send(rw); err != nil {
		s.Log.WithError(err).Warn("server: send response")
	}
}

func errnoOf(err error) int {
	if err == nil {
		return 0
	}
	var errno syscall.Errno
	if e, ok := asErrno(err); ok {
		errno = e
	}
	if errno == 0 {
		errno = syscall.EIO
	}
	return int(errno)
}

func asErrno(err error) (syscall.Errno, bool) {
	type unwrapper interface{ Unwrap() error }
	for err != nil {
		if e, ok := err.(syscall.Errno); ok {
			return e, true
		}
		u, ok := err.(unwrapper)
		if !ok {
			return 0, false
		}
		err = u.Unwrap()
	}
	return 0, false
}

// recordMissing logs a detected absence or corruption into the missing
// list, keyed off the errno Store surfaces. The payload size is unknown
// at detection time, so records are appended with size -1, the same
// sentinel the list already uses for legacy entries missing a size field.
func (s *Server) recordMissing(digest string, err error) {
	if s.Missing == nil || err == nil {
		return
	}
	switch errnoOf(err) {
	case int(syscall.ENOENT):
		s.Missing.SetMissing(digest, -1)
	case int(syscall.EUCLEAN):
		s.Missing.SetInconsistent(digest, -1)
	}
}

func (s *Server) dispatchName(rw pipeline.ReaderWriter, log *logrus.Entry, hash string) {
	path, ext, err := s.Store.Name(hash)
	if err != nil {
		log.WithError(err).Debug("server: name failed")
		s.recordMissing(hash, err)
		s.sendStatus(rw, errnoOf(err), nil)
		return
	}
	s.sendStatus(rw, 0, func(tx *manager.Transmission) {
		tx.AddString(uint8(protocol.TagPath), path)
		tx.AddString(uint8(protocol.TagExtension), ext)
	})
}

func (s *Server) dispatchRead(rw pipeline.ReaderWriter, log *logrus.Entry, targetPath, hash string) {
	if err := s.Store.Read(targetPath, hash); err != nil {
		log.WithError(err).Debug("server: read failed")
		s.recordMissing(hash, err)
		s.sendStatus(rw, errnoOf(err), nil)
		return
	}
	s.sendStatus(rw, 0, nil)
}

func (s *Server) dispatchWrite(rw pipeline.ReaderWriter, log *logrus.Entry, sourcePath string, level int, comp store.CompCase) {
	res, err := s.Store.Write(sourcePath, level, comp)
	if err != nil {
		log.WithError(err).Warn("server: write failed")
		s.sendStatus(rw, errnoOf(err), nil)
		return
	}
	s.sendStatus(rw, 0, func(tx *manager.Transmission) {
		tx.AddString(uint8(protocol.TagHash), res.ContentID)
		tx.AddInt(uint8(protocol.TagCompressionLevel), int64(res.Level))
		tx.AddString(uint8(protocol.TagStorePath), res.StoredPath)
	})
}

func (s *Server) dispatchRemove(rw pipeline.ReaderWriter, log *logrus.Entry, hash string) {
	if err := s.Store.Remove(hash); err != nil {
		log.WithError(err).Warn("server: remove failed")
		s.sendStatus(rw, errnoOf(err), nil)
		return
	}
	s.sendStatus(rw, 0, nil)
}

type wireCollector struct {
	sender *tlv.Sender
}

func (c *wireCollector) Add(digest string, dataSize, fileSize int64) error {
	if err := c.sender.Data(uint8(protocol.TagCollectorHash), []byte(digest)); err != nil {
		return err
	}
	if err := c.sender.DataInt(uint8(protocol.TagCollectorData), int32(dataSize)); err != nil {
		return err
	}
	return c.sender.DataInt(uint8(protocol.TagCollectorFile), int32(fileSize))
}

func (s *Server) dispatchCrawl(rw pipeline.ReaderWriter, log *logrus.Entry, thorough, repair bool) {
	sender := tlv.NewSender(rw)
	if err := sender.Start(); err != nil {
		log.WithError(err).Warn("server: crawl start")
		return
	}
	result, err := s.Store.Crawl(thorough, repair, &wireCollector{sender: sender})
	code := errnoOf(err)
	_ = sender.DataInt(uint8(protocol.TagStatus), int32(code))
	_ = sender.DataInt(uint8(protocol.TagCompressionLevel), int32(result.Valid))
	_ = sender.DataInt(uint8(protocol.TagCompressionCase), int32(result.Broken))
	if err := sender.End(); err != nil {
		log.WithError(err).Warn("server: crawl end")
	}
}

// dispatchProgress acknowledges a progress subscription; per the open
// question in the design notes, no structured payload is defined beyond
// the STATUS acknowledgement.
func (s *Server) dispatchProgress(rw pipeline.ReaderWriter, log *logrus.Entry) {
	s.sendStatus(rw, 0, nil)
}
