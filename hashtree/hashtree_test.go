package hashtree_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ndechesne/hbackup/hashtree"
)

type entry struct {
	digest string
}

func (e entry) Digest() string { return e.digest }

func TestAddThenFind(t *testing.T) {
	tree := hashtree.New()
	a := entry{"aaaaaaaa"}
	b := entry{"aaaabbbb"}
	c := entry{"ffffffff"}

	_, err := tree.Add(a)
	require.NoError(t, err)
	_, err = tree.Add(b)
	require.NoError(t, err)
	_, err = tree.Add(c)
	require.NoError(t, err)

	require.Equal(t, a, tree.Find("aaaaaaaa"))
	require.Equal(t, b, tree.Find("aaaabbbb"))
	require.Equal(t, c, tree.Find("ffffffff"))
	require.Nil(t, tree.Find("deadbeef"))
}

func TestAddSameDigestReturnsExisting(t *testing.T) {
	tree := hashtree.New()
	a := entry{"abcdef00"}
	got, err := tree.Add(a)
	require.NoError(t, err)
	require.Equal(t, a, got)

	again, err := tree.Add(entry{"abcdef00"})
	require.NoError(t, err)
	require.Equal(t, a, again)
}

func TestRemoveCollapsesEmptyNodes(t *testing.T) {
	tree := hashtree.New()
	a := entry{"aaaa1111"}
	b := entry{"aaaa2222"}
	_, err := tree.Add(a)
	require.NoError(t, err)
	_, err = tree.Add(b)
	require.NoError(t, err)

	require.True(t, tree.Remove("aaaa1111"))
	require.Nil(t, tree.Find("aaaa1111"))
	require.Equal(t, b, tree.Find("aaaa2222"))

	require.True(t, tree.Remove("aaaa2222"))
	require.Nil(t, tree.Find("aaaa2222"))
	require.False(t, tree.Remove("aaaa2222"))
}

func TestIndexAddFindRemove(t *testing.T) {
	index := hashtree.NewIndex()
	require.False(t, index.Find("aabbccdd"))

	index.Add("aabbccdd")
	require.True(t, index.Find("aabbccdd"))

	index.Add("aabbccdd")
	require.True(t, index.Find("aabbccdd"))

	require.True(t, index.Remove("aabbccdd"))
	require.False(t, index.Find("aabbccdd"))
	require.False(t, index.Remove("aabbccdd"))
}

func TestNextTraversesInNibbleOrder(t *testing.T) {
	tree := hashtree.New()
	digests := []string{"ff000000", "00000000", "0a000000", "a0000000"}
	for _, d := range digests {
		_, err := tree.Add(entry{d})
		require.NoError(t, err)
	}

	var order []string
	for e := tree.Next(""); e != nil; {
		order = append(order, e.Digest())
		e = tree.Next(e.Digest())
	}
	require.Equal(t, []string{"00000000", "0a000000", "a0000000", "ff000000"}, order)
}
