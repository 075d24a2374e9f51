package segments

import (
	"iter"
	"sort"
)

// Contiguous extents, such as the files of a torrent laid end to end.
type Index struct {
	segments []Extent
}

func NewIndex(lengths []Length) (ret Index) {
	var start Length
	for _, l := range lengths {
		ret.segments = append(ret.segments, Extent{start, l})
		start += l
	}
	return
}

func NewIndexFromSegments(segments []Extent) Index {
	return Index{segments}
}

// Yields the index of every segment overlapping e, with the overlapping part relative to the
// segment's start. Empty segments are never yielded.
func (me Index) LocateIter(e Extent) iter.Seq2[int, Extent] {
	return func(yield func(int, Extent) bool) {
		first := sort.Search(len(me.segments), func(i int) bool {
			return me.segments[i].End() > e.Start
		})
		for i := first; i < len(me.segments); i++ {
			s := me.segments[i]
			if s.Start >= e.End() {
				return
			}
			part, ok := e.intersect(s)
			if !ok {
				continue
			}
			if !yield(i, part) {
				return
			}
		}
	}
}

func (me Index) Index(i int) Extent {
	return me.segments[i]
}

func (me Index) Len() int {
	return len(me.segments)
}
