// Package store implements the content-addressed data store: the
// digest-to-directory mapping, compression-policy state machine,
// collision handling, and crawl/repair walk. Grounded on the original
// implementation's Data class (lib/src/data.cpp), built on top of the
// pipeline stages in sibling packages the way data.cpp composes its own
// reader/writer chains.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/ndechesne/hbackup/hashtree"
	"github.com/ndechesne/hbackup/pipeline"
	"github.com/ndechesne/hbackup/pipeline/file"
	"github.com/ndechesne/hbackup/pipeline/hasher"
	"github.com/ndechesne/hbackup/pipeline/multi"
	"github.com/ndechesne/hbackup/pipeline/null"
	"github.com/ndechesne/hbackup/pipeline/zipper"
)

// compressionPenalty accounts for deflate header/footer amortization: a
// gz payload only wins over raw when it is smaller than raw by more than
// about 1.6% (gz + gz>>6); see the compression-penalty decision in
// DESIGN.md.
func compressionPenalty(gz int64) int64 {
	return gz + gz>>6
}

// Store is a content-addressed repository rooted at Root.
type Store struct {
	Root    string
	Algo    hasher.Algorithm
	Log     *logrus.Entry
	Metrics *Metrics
	// Index is notified of every digest Write installs and every digest
	// Remove deletes. It is optional: a nil Index is a no-op.
	Index *hashtree.Index
}

// New returns a Store rooted at root. log, metrics, and index may be nil.
func New(root string, algo hasher.Algorithm, log *logrus.Entry, metrics *Metrics, index *hashtree.Index) *Store {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Store{Root: root, Algo: algo, Log: log, Metrics: metrics, Index: index}
}

// Name maps digest to its on-disk payload path and extension ("" for
// raw, ".gz" for compressed). It fails with ENOENT if no payload exists.
func (s *Store) Name(digest string) (path, ext string, err error) {
	dir, index, err := s.locate(digest)
	if err != nil {
		return "", "", err
	}
	if dir == "" {
		return "", "", fmt.Errorf("store: %s: %w", digest, syscall.ENOENT)
	}
	_ = index
	return dataPath(dir)
}

// locate returns the entry directory for digest (index 0 unless digest
// itself carries a "-<n>" suffix), or an empty dir if that entry does not
// exist. It checks that one index only; it does not search other indices.
func (s *Store) locate(digest string) (dir string, index int, err error) {
	base, idx, err := splitContentID(digest)
	if err != nil {
		return "", 0, err
	}
	dir, err = entryDir(s.Root, base, idx)
	if err != nil {
		return "", 0, err
	}
	if _, statErr := os.Stat(dir); statErr != nil {
		return "", 0, nil
	}
	return dir, idx, nil
}

// splitContentID splits "<digest>" or "<digest>-<index>" into its parts.
func splitContentID(id string) (digest string, index int, err error) {
	if i := strings.LastIndexByte(id, '-'); i >= 0 {
		if n, perr := parseIndex(id[i+1:]); perr == nil {
			return id[:i], n, nil
		}
	}
	return id, 0, nil
}

func parseIndex(s string) (int, error) {
	n := 0
	if s == "" {
		return 0, fmt.Errorf("store: empty index")
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("store: bad index %q", s)
		}
		n = n*10 + int(c-'0')
	}
	return n, nil
}

// WriteResult reports the outcome of Write.
type WriteResult struct {
	Status     string // "add", "replace", or "leave"
	Digest     string
	Level      int
	ContentID  string
	StoredPath string
}

// Write streams sourcePath into the store under its content digest,
// applying the compression-case policy described in comp. level is the
// gzip level to use when compression is requested.
func (s *Store) Write(sourcePath string, level int, comp CompCase) (WriteResult, error) {
	stagingDir, err := os.MkdirTemp(filepath.Dir(s.Root), ".hbackup-stage-")
	if err != nil {
		return WriteResult{}, fmt.Errorf("store: stage dir: %w", err)
	}
	defer os.RemoveAll(stagingDir)

	rawPath := filepath.Join(stagingDir, "raw")
	gzPath := filepath.Join(stagingDir, "gz")
	writeRaw := comp == CaseForcedNo || comp == CaseAutoLater || comp == CaseAutoNow
	writeGz := comp == CaseForcedYes || comp == CaseAutoNow

	var children []pipeline.ReaderWriter
	var owned []bool
	if writeRaw {
		children = append(children, file.New(rawPath, true))
		owned = append(owned, true)
	}
	if writeGz {
		children = append(children, zipper.New(file.New(gzPath, true), true, level))
		owned = append(owned, true)
	}
	if len(children) == 0 {
		return WriteResult{}, fmt.Errorf("store: unsupported comp case %v: %w", comp, syscall.EINVAL)
	}

	fanout := multi.New(children, owned)
	h := hasher.New(fanout, true, s.Algo)

	src := file.New(sourcePath, false)
	if err := src.Open(); err != nil {
		return WriteResult{}, fmt.Errorf("store: open source %s: %w", sourcePath, err)
	}
	if err := h.Open(); err != nil {
		src.Close()
		return WriteResult{}, fmt.Errorf("store: open staging: %w", err)
	}

	buf := make([]byte, pipeline.StreamBufferSize)
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := h.Put(buf[:n]); werr != nil {
				src.Close()
				h.Close()
				return WriteResult{}, fmt.Errorf("store: write staging: %w", werr)
			}
		}
		if rerr != nil {
			break
		}
		if n == 0 {
			break
		}
	}
	_ = src.Close()
	if err := h.Close(); err != nil {
		return WriteResult{}, fmt.Errorf("store: finalize staging: %w", err)
	}

	digest := h.Digest()
	effectiveLevel := level
	finalCase := comp
	finalPath := rawPath
	finalExt := ""

	if writeRaw && writeGz {
		rawInfo, _ := os.Stat(rawPath)
		gzInfo, _ := os.Stat(gzPath)
		if compressionPenalty(gzInfo.Size()) < rawInfo.Size() {
			os.Remove(rawPath)
			finalPath, finalExt, finalCase, effectiveLevel = gzPath, ".gz", CaseSizeYes, level
		} else {
			os.Remove(gzPath)
			finalPath, finalExt, finalCase, effectiveLevel = rawPath, "", CaseSizeNo, 0
		}
	} else if writeGz {
		finalPath, finalExt = gzPath, ".gz"
	} else {
		finalPath, finalExt = rawPath, ""
		effectiveLevel = 0
	}

	info, err := os.Stat(finalPath)
	if err != nil {
		return WriteResult{}, fmt.Errorf("store: stat staged payload: %w", err)
	}
	uncompressedSize := info.Size()
	if finalExt == ".gz" {
		uncompressedSize = int64(h.Offset())
	}

	result, err := s.materialize(digest, finalPath, finalExt, metaInfo{Size: uncompressedSize, Case: finalCase}, effectiveLevel)
	if err != nil {
		s.Metrics.observeWrite("error", uncompressedSize)
		return WriteResult{}, err
	}
	if s.Index != nil {
		s.Index.Add(digest)
	}
	s.Metrics.observeWrite(result.Status, uncompressedSize)
	return result, nil
}

// materialize runs the collision search and installs stagedPath as the
// content identified by digest, starting at index 0.
func (s *Store) materialize(digest, stagedPath, ext string, meta metaInfo, level int) (WriteResult, error) {
	for index := 0; ; index++ {
		dir, err := entryDir(s.Root, digest, index)
		if err != nil {
			return WriteResult{}, err
		}
		contentID := fmt.Sprintf("%s-%d", digest, index)

		if _, statErr := os.Stat(dir); os.IsNotExist(statErr) {
			if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
				return WriteResult{}, fmt.Errorf("store: mkdir %s: %w", filepath.Dir(dir), err)
			}
			if err := os.Mkdir(dir, 0o755); err != nil {
				if os.IsExist(err) {
					continue // lost the mkdir race; retry collision search
				}
				return WriteResult{}, fmt.Errorf("store: mkdir %s: %w", dir, err)
			}
			if err := installPayload(stagedPath, dir, ext); err != nil {
				return WriteResult{}, err
			}
			if err := writeMeta(dir, meta); err != nil {
				return WriteResult{}, err
			}
			return WriteResult{Status: "add", Digest: digest, Level: level, ContentID: contentID, StoredPath: filepath.Join(dir, "data"+ext)}, nil
		}

		identical, err := s.sameContent(dir, stagedPath, ext)
		if err != nil {
			return WriteResult{}, err
		}
		if !identical {
			continue
		}

		existingRaw, existingExt, err := dataPath(dir)
		if err != nil {
			return WriteResult{}, err
		}
		existingInfo, err := os.Stat(existingRaw)
		if err != nil {
			return WriteResult{}, err
		}
		stagedInfo, err := os.Stat(stagedPath)
		if err != nil {
			return WriteResult{}, err
		}

		replace := false
		if existingInfo.Size() == 0 && existingExt == ".gz" {
			replace = true
		} else if existingExt == "" && existingInfo.Size() > stagedInfo.Size() {
			replace = true
		}

		if !replace {
			return WriteResult{Status: "leave", Digest: digest, Level: 0, ContentID: contentID, StoredPath: existingRaw}, nil
		}

		if err := os.Remove(existingRaw); err != nil {
			return WriteResult{}, fmt.Errorf("store: remove superseded payload: %w", err)
		}
		if err := installPayload(stagedPath, dir, ext); err != nil {
			return WriteResult{}, err
		}
		if err := writeMeta(dir, meta); err != nil {
			return WriteResult{}, err
		}
		return WriteResult{Status: "replace", Digest: digest, Level: level, ContentID: contentID, StoredPath: filepath.Join(dir, "data"+ext)}, nil
	}
}

func installPayload(stagedPath, dir, ext string) error {
	return os.Rename(stagedPath, filepath.Join(dir, "data"+ext))
}

// sameContent reports whether the entry at dir holds the exact same
// uncompressed bytes as stagedPath (compressed per ext).
func (s *Store) sameContent(dir, stagedPath, ext string) (bool, error) {
	existingPath, existingExt, err := dataPath(dir)
	if err != nil {
		return false, err
	}
	a, err := s.openPayload(existingPath, existingExt)
	if err != nil {
		return false, err
	}
	defer a.Close()
	b, err := s.openPayload(stagedPath, ext)
	if err != nil {
		return false, err
	}
	defer b.Close()
	return streamsEqual(a, b)
}

// openPayload returns a read-only pipeline.ReaderWriter over path,
// transparently gunzipping when ext is ".gz".
func (s *Store) openPayload(path, ext string) (pipeline.ReaderWriter, error) {
	f := file.New(path, false)
	if err := f.Open(); err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	if ext != ".gz" {
		return f, nil
	}
	z := zipper.New(f, true, zipper.Decode)
	if err := z.Open(); err != nil {
		f.Close()
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	return z, nil
}

// streamsEqual compares two readers byte-for-byte, stopping at the
// first difference or either stream's end. It reads through GetFull so
// that chunking differences between the two underlying stages (a raw
// file versus a gzip decoder) never cause a false mismatch.
func streamsEqual(a, b pipeline.ReaderWriter) (bool, error) {
	bufA := make([]byte, pipeline.StreamBufferSize)
	bufB := make([]byte, pipeline.StreamBufferSize)
	for {
		na, errA := pipeline.GetFull(a, bufA)
		nb, errB := pipeline.GetFull(b, bufB)
		if na != nb || !bytesEqual(bufA[:na], bufB[:nb]) {
			return false, nil
		}
		if na == 0 {
			return true, nil
		}
		aDone := errA != nil
		bDone := errB != nil
		if aDone != bDone {
			return false, nil
		}
		if aDone {
			return true, nil
		}
	}
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Read streams digest's content into targetPath, verifying its digest
// and writing to a ".hbackup-part" staging file renamed into place only
// on success.
func (s *Store) Read(targetPath, digest string) error {
	dir, _, err := s.locate(digest)
	if err != nil {
		s.Metrics.observeRead("error")
		return err
	}
	if dir == "" {
		s.Metrics.observeRead("missing")
		return fmt.Errorf("store: %s: %w", digest, syscall.ENOENT)
	}
	if isCorrupted(dir) {
		s.Metrics.observeRead("corrupted")
		return fmt.Errorf("store: %s: marked corrupted: %w", digest, syscall.EUCLEAN)
	}

	payloadPath, ext, err := dataPath(dir)
	if err != nil {
		s.Metrics.observeRead("missing")
		return err
	}
	src, err := s.openPayload(payloadPath, ext)
	if err != nil {
		s.Metrics.observeRead("error")
		return err
	}
	defer src.Close()

	h := hasher.New(src, false, s.Algo)
	if err := h.Open(); err != nil {
		s.Metrics.observeRead("error")
		return err
	}

	partPath := targetPath + ".hbackup-part"
	out := file.New(partPath, true)
	if err := out.Open(); err != nil {
		s.Metrics.observeRead("error")
		return err
	}

	buf := make([]byte, pipeline.StreamBufferSize)
	for {
		n, rerr := h.Read(buf)
		if n > 0 {
			if _, werr := out.Put(buf[:n]); werr != nil {
				out.Close()
				os.Remove(partPath)
				s.Metrics.observeRead("error")
				return fmt.Errorf("store: write %s: %w", partPath, werr)
			}
		}
		if rerr != nil {
			break
		}
		if n == 0 {
			break
		}
	}
	_ = out.Close()
	_ = h.Close()

	prefix, _, _ := splitContentID(digest)
	if !strings.HasPrefix(h.Digest(), prefix) {
		os.Remove(partPath)
		s.Metrics.observeRead("corrupted")
		return fmt.Errorf("store: %s: digest mismatch on read: %w", digest, syscall.EUCLEAN)
	}

	if err := os.Rename(partPath, targetPath); err != nil {
		os.Remove(partPath)
		s.Metrics.observeRead("error")
		return fmt.Errorf("store: rename %s to %s: %w", partPath, targetPath, err)
	}
	s.Metrics.observeRead("ok")
	return nil
}

// Remove deletes the content identified by digest. A non-existent entry
// returns nil and logs a warning rather than an error.
func (s *Store) Remove(digest string) error {
	dir, _, err := s.locate(digest)
	if err != nil {
		s.Metrics.observeRemove("error")
		return err
	}
	if dir == "" {
		s.Log.Warnf("store: remove %s: entry not found", digest)
		s.Metrics.observeRemove("missing")
		return nil
	}
	for _, name := range []string{"data", "data.gz", "meta", "corrupted"} {
		if err := os.Remove(filepath.Join(dir, name)); err != nil && !os.IsNotExist(err) {
			s.Metrics.observeRemove("error")
			return fmt.Errorf("store: remove %s: %w", filepath.Join(dir, name), err)
		}
	}
	if err := os.Remove(dir); err != nil && !os.IsNotExist(err) {
		s.Metrics.observeRemove("error")
		return fmt.Errorf("store: remove dir %s: %w", dir, err)
	}
	if s.Index != nil {
		base, _, _ := splitContentID(digest)
		s.Index.Remove(base)
	}
	s.Metrics.observeRemove("ok")
	return nil
}

// CheckResult reports the outcome of Check.
type CheckResult struct {
	OK               bool
	UncompressedSize int64
	FileSize         int64
}

// Check validates the entry identified by digest. A thorough check
// streams the full payload through a hasher; repair removes entries
// found broken rather than merely marking them corrupted.
func (s *Store) Check(digest string, thorough, repair bool) (CheckResult, error) {
	dir, _, err := s.locate(digest)
	if err != nil {
		return CheckResult{}, err
	}
	if dir == "" {
		return CheckResult{}, fmt.Errorf("store: %s: %w", digest, syscall.ENOENT)
	}
	result, err := s.checkDir(digest, dir, thorough, repair)
	if err != nil {
		s.Metrics.observeCheck("error")
		return result, err
	}
	if result.OK {
		s.Metrics.observeCheck("ok")
	} else {
		s.Metrics.observeCheck("broken")
	}
	return result, nil
}

func (s *Store) checkDir(digest, dir string, thorough, repair bool) (CheckResult, error) {
	if isCorrupted(dir) {
		if repair {
			_ = os.RemoveAll(dir)
		}
		return CheckResult{}, fmt.Errorf("store: %s: marked corrupted: %w", digest, syscall.EUCLEAN)
	}

	payloadPath, ext, err := dataPath(dir)
	if err != nil {
		return CheckResult{}, err
	}
	info, err := os.Stat(payloadPath)
	if err != nil {
		return CheckResult{}, err
	}
	fileSize := info.Size()

	meta, metaErr := readMeta(dir)

	if !thorough {
		if metaErr != nil {
			size := fileSize
			if ext == ".gz" {
				size, err = s.thoroughSize(dir, payloadPath, ext)
				if err != nil {
					return CheckResult{}, err
				}
			}
			_ = writeMeta(dir, metaInfo{Size: size, Case: CaseUnknown})
			return CheckResult{OK: true, UncompressedSize: size, FileSize: fileSize}, nil
		}
		return CheckResult{OK: true, UncompressedSize: meta.Size, FileSize: fileSize}, nil
	}

	prefix, _, _ := splitContentID(digest)
	size, hashOK, err := s.thoroughVerify(dir, payloadPath, ext, prefix)
	if err != nil {
		if repair {
			_ = os.RemoveAll(dir)
			return CheckResult{OK: false}, fmt.Errorf("store: %s: %w", digest, syscall.EUCLEAN)
		}
		_ = markCorrupted(dir)
		return CheckResult{OK: false}, fmt.Errorf("store: %s: %w", digest, syscall.EUCLEAN)
	}
	if !hashOK {
		if repair {
			_ = os.RemoveAll(dir)
			return CheckResult{OK: false}, fmt.Errorf("store: %s: digest mismatch: %w", digest, syscall.EUCLEAN)
		}
		_ = markCorrupted(dir)
		return CheckResult{OK: false}, fmt.Errorf("store: %s: digest mismatch: %w", digest, syscall.EUCLEAN)
	}

	if metaErr != nil || meta.Size != size {
		_ = writeMeta(dir, metaInfo{Size: size, Case: CaseUnknown})
	}
	return CheckResult{OK: true, UncompressedSize: size, FileSize: fileSize}, nil
}

func (s *Store) thoroughSize(dir, payloadPath, ext string) (int64, error) {
	r, err := s.openPayload(payloadPath, ext)
	if err != nil {
		return 0, err
	}
	defer r.Close()
	n, err := discard(r)
	if err != nil {
		return 0, fmt.Errorf("store: %s: %w", dir, syscall.EUCLEAN)
	}
	return n, nil
}

func (s *Store) thoroughVerify(dir, payloadPath, ext, expectedPrefix string) (size int64, ok bool, err error) {
	r, err := s.openPayload(payloadPath, ext)
	if err != nil {
		return 0, false, err
	}
	defer r.Close()
	h := hasher.New(r, false, s.Algo)
	if err := h.Open(); err != nil {
		return 0, false, err
	}
	n, err := discard(h)
	if err != nil {
		return 0, false, err
	}
	if cerr := h.Close(); cerr != nil {
		return 0, false, cerr
	}
	return n, strings.HasPrefix(h.Digest(), expectedPrefix), nil
}

// discard streams rw to a null sink and returns the byte count.
func discard(rw pipeline.ReaderWriter) (int64, error) {
	sink := null.New()
	buf := make([]byte, pipeline.StreamBufferSize)
	var total int64
	for {
		n, err := rw.Read(buf)
		if n > 0 {
			if _, werr := sink.Put(buf[:n]); werr != nil {
				return total, werr
			}
			total += int64(n)
		}
		if err != nil {
			return total, nil
		}
		if n == 0 {
			return total, nil
		}
	}
}

// Collector receives (digest, uncompressed_size, file_size) for each
// entry encountered during Crawl.
type Collector interface {
	Add(digest string, dataSize, fileSize int64) error
}

// CrawlResult reports how many entries a crawl found valid or broken.
type CrawlResult struct {
	Valid  int
	Broken int
}

// Crawl walks the full digest-partitioned tree, checking every entry and
// forwarding valid ones to collector. It upgrades the on-disk layout
// once, on first use, if .upgraded is absent.
func (s *Store) Crawl(thorough, repair bool, collector Collector) (CrawlResult, error) {
	if err := s.upgradeIfNeeded(); err != nil {
		return CrawlResult{}, err
	}

	result := CrawlResult{}
	err := filepath.WalkDir(s.Root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() || path == s.Root {
			return nil
		}
		digest, ok := digestFromPath(s.Root, path)
		if !ok {
			return nil
		}
		r, cerr := s.checkDir(digest, path, thorough, repair)
		if cerr != nil {
			result.Broken++
			return nil
		}
		result.Valid++
		if collector != nil {
			if err := collector.Add(digest, r.UncompressedSize, r.FileSize); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return result, err
	}
	s.Metrics.observeCrawl(result.Valid, result.Broken)
	return result, nil
}

// digestFromPath reassembles the digest (without its "-<index>" suffix)
// from an entry directory's path relative to root, or reports ok=false for directories
// that are not leaf entry directories (the four levels of hex buckets).
func digestFromPath(root, path string) (digest string, ok bool) {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return "", false
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) != levels+1 {
		return "", false
	}
	for _, p := range parts[:levels] {
		if len(p) != 2 {
			return "", false
		}
	}
	remainder := parts[levels]
	i := strings.LastIndexByte(remainder, '-')
	if i < 0 {
		return "", false
	}
	return strings.Join(parts[:levels], "") + remainder[:i], true
}

func (s *Store) upgradeIfNeeded() error {
	marker := upgradeMarker(s.Root)
	if _, err := os.Stat(marker); err == nil {
		return nil
	}
	s.Log.Infof("store: upgrading layout of %s", s.Root)
	if err := upgradeDir(s.Root, 0); err != nil {
		return fmt.Errorf("store: upgrade: %w", err)
	}
	f, err := os.OpenFile(marker, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("store: touch upgrade marker: %w", err)
	}
	return f.Close()
}

// upgradeDir re-buckets a legacy flat layout into the current scheme: a
// directory name longer than the two hex characters a bucket level
// expects is split into a two-char bucket directory holding the
// remainder, then recursed into. Directories already exactly two
// characters long are descended into unchanged. The final bucket level
// (digest-remainder entry directories, not further split) is left alone.
func upgradeDir(dir string, level int) error {
	if level >= levels {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read %s: %w", dir, err)
	}
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		if len(name) == 2 {
			if err := upgradeDir(filepath.Join(dir, name), level+1); err != nil {
				return err
			}
			continue
		}
		if len(name) < 2 {
			continue
		}
		bucketDir := filepath.Join(dir, name[:2])
		if err := os.MkdirAll(bucketDir, 0o755); err != nil {
			return fmt.Errorf("mkdir %s: %w", bucketDir, err)
		}
		oldPath := filepath.Join(dir, name)
		newPath := filepath.Join(bucketDir, name[2:])
		if err := os.Rename(oldPath, newPath); err != nil {
			return fmt.Errorf("rename %s to %s: %w", oldPath, newPath, err)
		}
		if err := upgradeDir(bucketDir, level+1); err != nil {
			return err
		}
	}
	return nil
}
