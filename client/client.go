// Package client implements the thin client library mirroring the
// server's protocol: each method dials a new connection, sends one TLV
// session, and decodes the response.
package client

import (
	"fmt"
	"net"
	"syscall"

	"github.com/ndechesne/hbackup/pipeline"
	"github.com/ndechesne/hbackup/protocol"
	"github.com/ndechesne/hbackup/store"
	"github.com/ndechesne/hbackup/tlv"
	"github.com/ndechesne/hbackup/tlv/manager"
)

// Dialer opens a new transport connection per call; Client.dial holds it
// in place of a fixed net.Dial, an injectable factory so tests can use
// net.Pipe.
type Dialer func() (net.Conn, error)

// Client is a thin synchronous wrapper over the TLV protocol.
type Client struct {
	dial Dialer
}

// Dial returns a Client connecting to network/address on every call via
// net.Dial, mirroring the original data_client.cpp's one-socket-per-call
// shape.
func Dial(network, address string) *Client {
	return &Client{dial: func() (net.Conn, error) { return net.Dial(network, address) }}
}

// New returns a Client using a custom dialer, for tests.
func New(dial Dialer) *Client {
	return &Client{dial: dial}
}

type connRW struct {
	conn   net.Conn
	offset int64
}

func wrap(conn net.Conn) pipeline.ReaderWriter { return &connRW{conn: conn} }

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

func statusError(status int64) error {
	if status == 0 {
		return nil
	}
	return fmt.Errorf("client: server returned status %d: %w", status, syscall.Errno(status))
}

// Name asks the server for digest's stored path and extension.
func (c *Client) Name(digest string) (path, extension string, err error) {
	conn, err := c.dial()
	if err != nil {
		return "", "", fmt.Errorf("client: dial: %w", err)
	}
	defer conn.Close()
	rw := wrap(conn)

	tx := manager.NewTransmission()
	tx.AddInt(uint8(protocol.TagMethod), int64(protocol.MethodName))
	tx.AddString(uint8(protocol.TagHash), digest)
	if err := tx.Send(rw); err != nil {
		return "", "", err
	}

	var status int64
	rx := manager.NewReception()
	rx.AddInt(uint8(protocol.TagStatus), &status)
	rx.AddString(uint8(protocol.TagPath), &path)
	rx.AddString(uint8(protocol.TagExtension), &extension)
	if err := rx.Receive(tlv.NewReceiver(rw), nil); err != nil {
		return "", "", err
	}
	return path, extension, statusError(status)
}

// Read asks the server to stream digest's content into targetPath.
func (c *Client) Read(targetPath, digest string) error {
	conn, err := c.dial()
	if err != nil {
		return fmt.Errorf("client: dial: %w", err)
	}
	defer conn.Close()
	rw := wrap(conn)

	tx := manager.NewTransmission()
	tx.AddInt(uint8(protocol.TagMethod), int64(protocol.MethodRead))
	tx.AddString(uint8(protocol.TagHash), digest)
	tx.AddString(uint8(protocol.TagPath), targetPath)
	if err := tx.Send(rw); err != nil {
		return err
	}

	var status int64
	rx := manager.NewReception()
	rx.AddInt(uint8(protocol.TagStatus), &status)
	if err := rx.Receive(tlv.NewReceiver(rw), nil); err != nil {
		return err
	}
	return statusError(status)
}

// WriteResult mirrors store.WriteResult for the client's caller.
type WriteResult struct {
	ContentID  string
	Level      int
	StoredPath string
}

// Write asks the server to store sourcePath under the given compression
// policy.
func (c *Client) Write(sourcePath string, level int, comp store.CompCase) (WriteResult, error) {
	conn, err := c.dial()
	if err != nil {
		return WriteResult{}, fmt.Errorf("client: dial: %w", err)
	}
	defer conn.Close()
	rw := wrap(conn)

	tx := manager.NewTransmission()
	tx.AddInt(uint8(protocol.TagMethod), int64(protocol.MethodWrite))
	tx.AddString(uint8(protocol.TagStorePath), sourcePath)
	tx.AddInt(uint8(protocol.TagCompressionLevel), int64(level))
	tx.AddInt(uint8(protocol.TagCompressionCase), int64(comp))
	if err := tx.Send(rw); err != nil {
		return WriteResult{}, err
	}

	var status, respLevel int64
	var hash, storePath string
	rx := manager.NewReception()
	rx.AddInt(uint8(protocol.TagStatus), &status)
	rx.AddString(uint8(protocol.TagHash), &hash)
	rx.AddInt(uint8(protocol.TagCompressionLevel), &respLevel)
	rx.AddString(uint8(protocol.TagStorePath), &storePath)
	if err := rx.Receive(tlv.NewReceiver(rw), nil); err != nil {
		return WriteResult{}, err
	}
	if err := statusError(status); err != nil {
		return WriteResult{}, err
	}
	return WriteResult{ContentID: hash, Level: int(respLevel), StoredPath: storePath}, nil
}

// Remove asks the server to delete digest's entry.
func (c *Client) Remove(digest string) error {
	conn, err := c.dial()
	if err != nil {
		return fmt.Errorf("client: dial: %w", err)
	}
	defer conn.Close()
	rw := wrap(conn)

	tx := manager.NewTransmission()
	tx.AddInt(uint8(protocol.TagMethod), int64(protocol.MethodRemove))
	tx.AddString(uint8(protocol.TagHash), digest)
	if err := tx.Send(rw); err != nil {
		return err
	}

	var status int64
	rx := manager.NewReception()
	rx.AddInt(uint8(protocol.TagStatus), &status)
	if err := rx.Receive(tlv.NewReceiver(rw), nil); err != nil {
		return err
	}
	return statusError(status)
}

// CrawlCollector receives one callback per entry a Crawl call reports.
type CrawlCollector interface {
	Add(digest string, dataSize, fileSize int64) error
}

// Crawl asks the server to walk its store, invoking collector for every
// entry it reports and returning the final valid/broken counts.
func (c *Client) Crawl(thorough, repair bool, collector CrawlCollector) (valid, broken int, err error) {
	conn, err := c.dial()
	if err != nil {
		return 0, 0, fmt.Errorf("client: dial: %w", err)
	}
	defer conn.Close()
	rw := wrap(conn)

	tx := manager.NewTransmission()
	tx.AddInt(uint8(protocol.TagMethod), int64(protocol.MethodCrawl))
	tx.AddBool(uint8(protocol.TagThorough), thorough)
	tx.AddBool(uint8(protocol.TagRepair), repair)
	if err := tx.Send(rw); err != nil {
		return 0, 0, err
	}

	receiver := tlv.NewReceiver(rw)
	var status int64
	var pendingHash string
	var pendingData int64
	for {
		f, err := receiver.Next()
		if err != nil {
			return 0, 0, err
		}
		switch f.Type {
		case tlv.TypeEnd:
			return valid, broken, statusError(status)
		case tlv.TypeData:
			switch protocol.Tag(f.Tag) {
			case protocol.TagStatus:
				fmt.Sscanf(string(f.Value), "%d", &status)
			case protocol.TagCollectorHash:
				pendingHash = string(f.Value)
			case protocol.TagCollectorData:
				fmt.Sscanf(string(f.Value), "%d", &pendingData)
			case protocol.TagCollectorFile:
				var fileSize int64
				fmt.Sscanf(string(f.Value), "%d", &fileSize)
				if collector != nil {
					if err := collector.Add(pendingHash, pendingData, fileSize); err != nil {
						return 0, 0, err
					}
				}
			case protocol.TagCompressionLevel:
				var v int64
				fmt.Sscanf(string(f.Value), "%d", &v)
				valid = int(v)
			case protocol.TagCompressionCase:
				var v int64
				fmt.Sscanf(string(f.Value), "%d", &v)
				broken = int(v)
			}
		}
	}
}
