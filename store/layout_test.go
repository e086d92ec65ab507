package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEntryDirSplitsFourLevels(t *testing.T) {
	dir, err := entryDir("/root", "deadbeefcafef00dba5eba11", 0)
	require.NoError(t, err)
	require.Equal(t, filepath.Join("/root", "de", "ad", "be", "ef", "cafef00dba5eba11-0"), dir)
}

func TestEntryDirRejectsShortDigest(t *testing.T) {
	_, err := entryDir("/root", "dead", 0)
	require.Error(t, err)
}

func TestEntryDirLowercasesDigest(t *testing.T) {
	dir, err := entryDir("/root", "DEADBEEFCAFEF00DBA5EBA11", 2)
	require.NoError(t, err)
	require.Equal(t, filepath.Join("/root", "de", "ad", "be", "ef", "cafef00dba5eba11-2"), dir)
}
