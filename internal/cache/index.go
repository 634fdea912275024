package cache

import (
	"slices"

	h3 "github.com/uber/h3-go/v4"
)

// avgEdgeKm is the average H3 hexagon edge length for resolutions 0 through 15.
var avgEdgeKm = [...]float64{
	1281.256011, 483.0568391, 182.5129565, 68.97922179, 26.07175968, 9.854090990,
	3.724532667, 1.406475763, 0.531414010, 0.200786148, 0.075863783, 0.028663897,
	0.010830188, 0.004092010, 0.001546100, 0.000584169,
}

// searchRing is the grid-disk radius scanned around the query cell. With cells whose
// average edge is at least twice the match radius, two rings cover every point within
// the radius even for the smallest cells of a resolution.
const searchRing = 2

// overflowCell buckets entries whose cell could not be computed. It is not a valid
// H3 index, and its bucket is scanned on every lookup.
const overflowCell h3.Cell = 0

// cellIndex buckets entry keys by H3 cell. Keys grow monotonically, so each bucket is
// sorted by insertion order.
type cellIndex struct {
	res     int
	buckets map[h3.Cell][]uint64
	cellOf  map[uint64]h3.Cell
}

// newCellIndex returns nil when the radius is too large for any resolution.
func newCellIndex(radiusKm float64) *cellIndex {
	res, ok := resolutionFor(radiusKm)
	if !ok {
		return nil
	}
	return &cellIndex{
		res:     res,
		buckets: make(map[h3.Cell][]uint64),
		cellOf:  make(map[uint64]h3.Cell),
	}
}

// resolutionFor picks the finest resolution whose average edge is at least 2*radiusKm.
func resolutionFor(radiusKm float64) (int, bool) {
	for res := len(avgEdgeKm) - 1; res >= 0; res-- {
		if avgEdgeKm[res] >= 2*radiusKm {
			return res, true
		}
	}
	return 0, false
}

func (ix *cellIndex) cellFor(lat, lon float64) (h3.Cell, bool) {
	cell, err := h3.LatLngToCell(h3.NewLatLng(lat, lon), ix.res)
	if err != nil || !cell.IsValid() {
		return overflowCell, false
	}
	return cell, true
}

func (ix *cellIndex) add(key uint64, lat, lon float64) {
	cell, _ := ix.cellFor(lat, lon)
	ix.buckets[cell] = append(ix.buckets[cell], key)
	ix.cellOf[key] = cell
}

func (ix *cellIndex) remove(key uint64) {
	cell, ok := ix.cellOf[key]
	if !ok {
		return
	}
	delete(ix.cellOf, key)
	bucket := ix.buckets[cell]
	if i := slices.Index(bucket, key); i >= 0 {
		bucket = slices.Delete(bucket, i, i+1)
	}
	if len(bucket) == 0 {
		delete(ix.buckets, cell)
		return
	}
	ix.buckets[cell] = bucket
}

// candidates returns the keys that may match a query at (lat, lon), oldest first.
// When the query cell or its disk cannot be computed it falls back to every key.
func (ix *cellIndex) candidates(lat, lon float64) []uint64 {
	origin, ok := ix.cellFor(lat, lon)
	if !ok {
		return ix.all()
	}
	disk, err := h3.GridDisk(origin, searchRing)
	if err != nil {
		return ix.all()
	}

	keys := slices.Clone(ix.buckets[overflowCell])
	for _, cell := range disk {
		keys = append(keys, ix.buckets[cell]...)
	}
	slices.Sort(keys)
	return keys
}

func (ix *cellIndex) all() []uint64 {
	keys := make([]uint64, 0, len(ix.cellOf))
	for k := range ix.cellOf {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
