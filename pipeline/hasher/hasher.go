// Package hasher implements a transparent pipeline.ReaderWriter stage that
// feeds every byte it forwards into a streaming cryptographic digest,
// across all three of Read/Get/Put and the four algorithms the store
// needs.
package hasher

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"hash"

	"github.com/ndechesne/hbackup/pipeline"
)

// Algorithm selects the digest computed by a Hasher stage.
type Algorithm int

const (
	MD5 Algorithm = iota
	SHA1
	SHA256
	SHA512
)

// Hasher is a pipeline.ReaderWriter that also exposes the finalized digest
// once Close has been called.
type Hasher interface {
	pipeline.ReaderWriter

	// Digest returns the lowercase hex digest of every byte that passed
	// through Read, Get or Put. Valid only after Close.
	Digest() string
}

type hsh struct {
	child  pipeline.ReaderWriter
	owned  bool
	h      hash.Hash
	digest string
	offset int64
}

// New wraps child with a Hasher stage computing algo over every byte
// forwarded through it. If owned, Close also closes child.
func New(child pipeline.ReaderWriter, owned bool, algo Algorithm) Hasher {
	var h hash.Hash
	switch algo {
	case SHA1:
		h = sha1.New()
	case SHA256:
		h = sha256.New()
	case SHA512:
		h = sha512.New()
	default:
		h = md5.New()
	}
	return &hsh{child: child, owned: owned, h: h}
}

func (o *hsh) Open() error {
	return o.child.Open()
}

func (o *hsh) Close() error {
	o.digest = hex.EncodeToString(o.h.Sum(nil))
	if o.owned {
		return o.child.Close()
	}
	return nil
}

func (o *hsh) Read(p []byte) (int, error) {
	n, err := o.child.Read(p)
	if n > 0 {
		o.h.Write(p[:n])
		o.offset += int64(n)
	}
	return n, err
}

func (o *hsh) Get(p []byte) (int, error) {
	n, err := o.child.Get(p)
	if n > 0 {
		o.h.Write(p[:n])
		o.offset += int64(n)
	}
	return n, err
}

func (o *hsh) Put(p []byte) (int, error) {
	n, err := o.child.Put(p)
	if n > 0 {
		o.h.Write(p[:n])
		o.offset += int64(n)
	}
	return n, err
}

func (o *hsh) Offset() int64 {
	return o.offset
}

func (o *hsh) Path() string {
	return o.child.Path()
}

func (o *hsh) Digest() string {
	return o.digest
}
