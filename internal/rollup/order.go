package rollup

import (
	"sort"
	"time"

	"form4recon/internal/models"
)

// Waterfall arranges records for export: filings in non-increasing
// filed-date order, and within a filing each rollup immediately above
// the rows it references (a synthetic member pulls its split source in
// right behind it). Rows not claimed by any rollup follow in input
// order. Every input ID appears exactly once.
func Waterfall(set *models.RecordSet, ids []models.RecordID) []models.RecordID {
	groups, groupOrder := groupByAccession(set, ids)

	sort.SliceStable(groupOrder, func(i, j int) bool {
		a := groupFiledDate(set, groups[groupOrder[i]])
		b := groupFiledDate(set, groups[groupOrder[j]])
		if !a.Equal(b) {
			return a.After(b)
		}
		return groupOrder[i] > groupOrder[j]
	})

	out := make([]models.RecordID, 0, len(ids))
	for _, acc := range groupOrder {
		group := groups[acc]
		inGroup := make(map[models.RecordID]bool, len(group))
		for _, id := range group {
			inGroup[id] = true
		}
		emitted := make(map[models.RecordID]bool, len(group))

		emit := func(id models.RecordID) {
			if inGroup[id] && !emitted[id] {
				emitted[id] = true
				out = append(out, id)
			}
		}

		for _, id := range group {
			r := set.Get(id)
			if r.Origin != models.OriginRollup {
				continue
			}
			emit(id)
			for _, member := range r.SourceIDs {
				emit(member)
				if m := set.Get(member); m != nil && m.Origin == models.OriginSynthetic {
					emit(m.SourceID)
				}
			}
		}
		for _, id := range group {
			emit(id)
		}
	}
	return out
}

func groupFiledDate(set *models.RecordSet, ids []models.RecordID) time.Time {
	var latest time.Time
	for _, id := range ids {
		if d := set.Get(id).FiledDate; d.After(latest) {
			latest = d
		}
	}
	return latest
}
