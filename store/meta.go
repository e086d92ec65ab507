package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// metaInfo is the decoded contents of an entry's meta sidecar file.
type metaInfo struct {
	Size int64
	Case CompCase
}

// readMeta loads dir/meta. Readers tolerate trailing fields and a
// missing comp_case_char (treated as CaseUnknown).
func readMeta(dir string) (metaInfo, error) {
	data, err := os.ReadFile(filepath.Join(dir, "meta"))
	if err != nil {
		return metaInfo{}, err
	}
	line := strings.TrimRight(string(data), "\n")
	fields := strings.Split(line, "\t")

	size, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return metaInfo{}, fmt.Errorf("store: malformed meta size %q: %w", fields[0], err)
	}

	cc := CaseUnknown
	if len(fields) > 1 && len(fields[1]) > 0 {
		cc = ParseCompCase(fields[1][0])
	}
	return metaInfo{Size: size, Case: cc}, nil
}

// writeMeta writes dir/meta, overwriting any previous content.
func writeMeta(dir string, m metaInfo) error {
	line := fmt.Sprintf("%d\t%c\n", m.Size, m.Case.Byte())
	return os.WriteFile(filepath.Join(dir, "meta"), []byte(line), 0o644)
}

func corruptedMarkerPath(dir string) string {
	return filepath.Join(dir, "corrupted")
}

func isCorrupted(dir string) bool {
	_, err := os.Stat(corruptedMarkerPath(dir))
	return err == nil
}

func markCorrupted(dir string) error {
	f, err := os.OpenFile(corruptedMarkerPath(dir), os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	return f.Close()
}
