package was

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_PairList_AddKeepsDuplicates(t *testing.T) {
	var pl pairList
	pl.add("Accept", "text/html")
	pl.add("accept", "text/plain")
	value, found := pl.getFold("ACCEPT")
	assert.True(t, found)
	assert.Equal(t, "text/html", value)

	it := pl.iterator("accept")
	p, ok := it.Next()
	assert.True(t, ok)
	assert.Equal(t, "text/html", p.Value)
	p, ok = it.Next()
	assert.True(t, ok)
	assert.Equal(t, "text/plain", p.Value)
	_, ok = it.Next()
	assert.False(t, ok)
}

func Test_PairList_SetOverwrites(t *testing.T) {
	var pl pairList
	pl.set("DOCUMENT_ROOT", "/srv/a")
	pl.set("DOCUMENT_ROOT", "/srv/b")
	pl.set("document_root", "/srv/c") // different name, exact match
	value, found := pl.get("DOCUMENT_ROOT")
	assert.True(t, found)
	assert.Equal(t, "/srv/b", value)
	value, found = pl.get("document_root")
	assert.True(t, found)
	assert.Equal(t, "/srv/c", value)
	_, found = pl.get("missing")
	assert.False(t, found)
}

func Test_Iterator_SnapshotAndRewind(t *testing.T) {
	var pl pairList
	pl.add("a", "1")
	it := pl.iterator("")
	pl.add("b", "2") // not visible to the snapshot
	p, ok := it.Next()
	assert.True(t, ok)
	assert.Equal(t, Pair{Name: "a", Value: "1"}, p)
	_, ok = it.Next()
	assert.False(t, ok)
	it.Rewind()
	p, ok = it.Next()
	assert.True(t, ok)
	assert.Equal(t, "a", p.Name)
}

func Test_PairList_Reset(t *testing.T) {
	var pl pairList
	pl.add("a", "1")
	pl.reset()
	_, found := pl.getFold("a")
	assert.False(t, found)
}
