package pagination

const (
	// DefaultLimit is the standard page size when a limit is not provided.
	DefaultLimit = 20
	// MaxLimit caps how many rows any page can request.
	MaxLimit = 100
)

// Params holds page-number pagination inputs. Pages are 1-based.
type Params struct {
	Page  int
	Limit int
}

// Normalize applies the default page and the limit bounds.
func (p Params) Normalize() Params {
	return Params{Page: NormalizePage(p.Page), Limit: NormalizeLimit(p.Limit)}
}

// Offset is the index of the first row on the page.
func (p Params) Offset() int {
	n := p.Normalize()
	return (n.Page - 1) * n.Limit
}

// Bounds returns the [start, end) slice window of the page over total rows.
func (p Params) Bounds(total int) (start, end int) {
	n := p.Normalize()
	start = min(n.Offset(), total)
	end = min(start+n.Limit, total)
	return start, end
}

// HasNext reports whether rows remain after the page.
func (p Params) HasNext(total int) bool {
	_, end := p.Bounds(total)
	return end < total
}

// NormalizeLimit enforces the configured default and maximum limits.
func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// NormalizePage maps anything below the first page to the first page.
func NormalizePage(page int) int {
	if page <= 0 {
		return 1
	}
	return page
}
