package spatial

import (
	"math"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/couchcryptid/hazard-alert-service/internal/cow"
	"github.com/couchcryptid/hazard-alert-service/internal/domain"
)

const (
	maxCellCandidates   = 1024
	maxRegionCandidates = 4096
)

// Match is a radius query hit.
type Match[T any] struct {
	Item       T
	Location   domain.Location
	Key        domain.PartitionKey
	DistanceKm float64
}

type entry[T any] struct {
	item T
	loc  domain.Location
	key  domain.PartitionKey
	seq  uint64
}

// Index is an arena of located entries bucketed by partition-key prefix at
// the Region and Cell tiers. Entries are immutable and shared by both tiers.
// Reads work on copy-on-write snapshots and take no locks; writes lock a
// single bucket.
type Index[T any] struct {
	seq     atomic.Uint64
	size    atomic.Int64
	cells   sync.Map // cell geohash -> *cow.List[*entry[T]]
	regions sync.Map // region geohash -> *cow.List[*entry[T]]
}

// NewIndex returns an empty index.
func NewIndex[T any]() *Index[T] {
	return &Index[T]{}
}

// Insert adds item at loc and returns its partition key.
func (ix *Index[T]) Insert(loc domain.Location, item T) domain.PartitionKey {
	key := KeyOfLocation(loc)
	e := &entry[T]{item: item, loc: loc, key: key, seq: ix.seq.Add(1)}
	ix.bucket(&ix.cells, key.Cell).Append(e)
	ix.bucket(&ix.regions, key.Region).Append(e)
	ix.size.Add(1)
	return key
}

// Len returns the number of entries.
func (ix *Index[T]) Len() int {
	return int(ix.size.Load())
}

// WithinRadius returns every entry whose great-circle distance from center is
// at most radiusKm, nearest first. Ties keep insertion order.
func (ix *Index[T]) WithinRadius(center domain.Location, radiusKm float64) []Match[T] {
	if radiusKm < 0 || math.IsNaN(radiusKm) {
		return nil
	}

	var matches []matchSeq[T]
	for _, b := range ix.candidates(center, radiusKm) {
		for _, e := range b.Load() {
			d := domain.DistanceKm(center, e.loc)
			if d <= radiusKm {
				matches = append(matches, matchSeq[T]{
					Match: Match[T]{Item: e.item, Location: e.loc, Key: e.key, DistanceKm: d},
					seq:   e.seq,
				})
			}
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].DistanceKm != matches[j].DistanceKm {
			return matches[i].DistanceKm < matches[j].DistanceKm
		}
		return matches[i].seq < matches[j].seq
	})

	out := make([]Match[T], len(matches))
	for i := range matches {
		out[i] = matches[i].Match
	}
	return out
}

// InPartition returns the entries whose SubCell key starts with prefix, in
// insertion order. An empty prefix selects everything.
func (ix *Index[T]) InPartition(prefix string) []T {
	var buckets []*cow.List[*entry[T]]
	switch {
	case len(prefix) >= CellPrecision:
		if b := ix.lookup(&ix.cells, prefix[:CellPrecision]); b != nil {
			buckets = append(buckets, b)
		}
	case len(prefix) >= RegionPrecision:
		if b := ix.lookup(&ix.regions, prefix[:RegionPrecision]); b != nil {
			buckets = append(buckets, b)
		}
	default:
		buckets = ix.all()
	}

	var hits []*entry[T]
	for _, b := range buckets {
		for _, e := range b.Load() {
			if strings.HasPrefix(e.key.SubCell, prefix) {
				hits = append(hits, e)
			}
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].seq < hits[j].seq })

	out := make([]T, len(hits))
	for i, e := range hits {
		out[i] = e.item
	}
	return out
}

// Prune drops every entry for which keep returns false and reports how many
// were removed. keep must give the same answer for an item on every call.
func (ix *Index[T]) Prune(keep func(T) bool) int {
	pred := func(e *entry[T]) bool { return keep(e.item) }

	removed := 0
	ix.cells.Range(func(_, v any) bool {
		removed += v.(*cow.List[*entry[T]]).Filter(pred)
		return true
	})
	ix.regions.Range(func(_, v any) bool {
		v.(*cow.List[*entry[T]]).Filter(pred)
		return true
	})
	ix.size.Add(-int64(removed))
	return removed
}

// candidates picks the buckets a radius query must scan: cells when the
// query is small enough, regions otherwise, and everything as a last resort.
func (ix *Index[T]) candidates(center domain.Location, radiusKm float64) []*cow.List[*entry[T]] {
	if hashes, ok := coveringCells(center, radiusKm, CellPrecision, maxCellCandidates); ok {
		return ix.lookupAll(&ix.cells, hashes)
	}
	if hashes, ok := coveringCells(center, radiusKm, RegionPrecision, maxRegionCandidates); ok {
		return ix.lookupAll(&ix.regions, hashes)
	}
	return ix.all()
}

func (ix *Index[T]) lookupAll(m *sync.Map, hashes []string) []*cow.List[*entry[T]] {
	out := make([]*cow.List[*entry[T]], 0, len(hashes))
	for _, h := range hashes {
		if b := ix.lookup(m, h); b != nil {
			out = append(out, b)
		}
	}
	return out
}

func (ix *Index[T]) all() []*cow.List[*entry[T]] {
	var out []*cow.List[*entry[T]]
	ix.regions.Range(func(_, v any) bool {
		out = append(out, v.(*cow.List[*entry[T]]))
		return true
	})
	return out
}

func (ix *Index[T]) lookup(m *sync.Map, hash string) *cow.List[*entry[T]] {
	v, ok := m.Load(hash)
	if !ok {
		return nil
	}
	return v.(*cow.List[*entry[T]])
}

func (ix *Index[T]) bucket(m *sync.Map, hash string) *cow.List[*entry[T]] {
	if b := ix.lookup(m, hash); b != nil {
		return b
	}
	v, _ := m.LoadOrStore(hash, &cow.List[*entry[T]]{})
	return v.(*cow.List[*entry[T]])
}

type matchSeq[T any] struct {
	Match[T]
	seq uint64
}
