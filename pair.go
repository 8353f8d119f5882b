package was

import "strings"

// Pair is a single name-value element of a header or parameter list.
type Pair struct {
	Name  string
	Value string
}

// pairList is an ordered multimap. Headers keep duplicates and match
// names case-insensitively; parameters overwrite and match exactly.
type pairList struct {
	pairs []Pair
}

func (pl *pairList) reset() {
	pl.pairs = pl.pairs[:0]
}

// add appends a pair, keeping any existing pairs with the same name.
func (pl *pairList) add(name, value string) {
	pl.pairs = append(pl.pairs, Pair{Name: name, Value: value})
}

// set replaces the first pair with the given name, or appends one.
func (pl *pairList) set(name, value string) {
	for i := range pl.pairs {
		if pl.pairs[i].Name == name {
			pl.pairs[i].Value = value
			return
		}
	}
	pl.add(name, value)
}

// getFold returns the first value whose name matches case-insensitively.
func (pl *pairList) getFold(name string) (value string, found bool) {
	for i := range pl.pairs {
		if strings.EqualFold(pl.pairs[i].Name, name) {
			return pl.pairs[i].Value, true
		}
	}
	return
}

// get returns the first value whose name matches exactly.
func (pl *pairList) get(name string) (value string, found bool) {
	for i := range pl.pairs {
		if pl.pairs[i].Name == name {
			return pl.pairs[i].Value, true
		}
	}
	return
}

// iterator returns an Iterator over a snapshot of the pairs whose name
// matches fold-insensitively, or over all pairs if name is empty.
func (pl *pairList) iterator(name string) *Iterator {
	it := &Iterator{}
	for _, p := range pl.pairs {
		if name == "" || strings.EqualFold(p.Name, name) {
			it.pairs = append(it.pairs, p)
		}
	}
	return it
}

// Iterator walks a snapshot of name-value pairs. The snapshot is taken
// when the iterator is created and is unaffected by later changes.
type Iterator struct {
	pairs []Pair
	index int
}

// Next returns the next pair, or ok false when the iterator is exhausted.
func (it *Iterator) Next() (p Pair, ok bool) {
	if ok = it.index < len(it.pairs); ok {
		p = it.pairs[it.index]
		it.index++
	}
	return
}

// Rewind resets the iterator to the first pair.
func (it *Iterator) Rewind() {
	it.index = 0
}
