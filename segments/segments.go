package segments

type Int = int64

type Length = Int

type Extent struct {
	Start, Length Int
}

func (e Extent) End() Int {
	return e.Start + e.Length
}

// Returns the part of e that falls within other, relative to other's start.
func (e Extent) intersect(other Extent) (ret Extent, ok bool) {
	start := max(e.Start, other.Start)
	end := min(e.End(), other.End())
	if end <= start {
		return
	}
	return Extent{start - other.Start, end - start}, true
}
