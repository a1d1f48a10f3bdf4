package reconcile

import (
	"github.com/shopspring/decimal"

	"form4recon/internal/models"
)

// Bucket classifies one comparison outcome.
type Bucket string

const (
	ExactMatch         Bucket = "ExactMatch"
	RollupExplained    Bucket = "RollupExplained"
	GenuineMismatch    Bucket = "GenuineMismatch"
	MissingInOurs      Bucket = "MissingInOurs"
	MissingInReference Bucket = "MissingInReference"
	ExtraInOurs        Bucket = "ExtraInOurs"
)

// AllBuckets in report order. Counts are always reported for every
// bucket, empty or not.
var AllBuckets = []Bucket{
	ExactMatch, RollupExplained, GenuineMismatch,
	MissingInOurs, MissingInReference, ExtraInOurs,
}

// Entry is one classified comparison, carrying both sides' values so an
// investigator can act without re-deriving them.
type Entry struct {
	Bucket          Bucket
	AccessionNumber string
	OurID           models.RecordID // NoRecord when only the reference has the row
	RefIndex        int             // -1 when only our side has the row
	OurShares       *decimal.Decimal
	RefShares       *decimal.Decimal
	OurPrice        *decimal.Decimal
	RefPrice        *decimal.Decimal
	DateMismatch    bool // matched via the date-ignoring fallback key
	Note            string
}

// Ambiguity means more than one differing reference row satisfied the
// fallback key for one of our rows. It is reported for manual
// resolution, never auto-resolved. Candidates that are identical in
// every field do not raise one; any of them serves as the match.
type Ambiguity struct {
	OurID           models.RecordID
	AccessionNumber string
	Candidates      []int
}

// Report is the categorized comparison output. Neither input dataset is
// modified while building it.
type Report struct {
	Entries     map[Bucket][]Entry
	Ambiguities []Ambiguity
	OurCount    int
	RefCount    int
}

// Counts returns the per-bucket totals with every bucket present.
func (r *Report) Counts() map[Bucket]int {
	out := make(map[Bucket]int, len(AllBuckets))
	for _, b := range AllBuckets {
		out[b] = len(r.Entries[b])
	}
	return out
}

// Compare classifies every record of both sets into exactly one bucket
// (fallback ambiguities land in their own section instead). Split
// sources are skipped: their synthetic portions stand in for them.
//
// Matching is keyed on (accession, code, date, shares) first, then on
// (accession, code, shares) because reference extracts may carry a date
// range rather than a point date; a fallback match is a date-mismatch
// note on the entry, not a failure. Price is never used to re-match, so
// a price-only difference is a GenuineMismatch.
func Compare(set *models.RecordSet, ordered []models.RecordID, reference []models.ReferenceRecord) *Report {
	report := &Report{
		Entries:  make(map[Bucket][]Entry, len(AllBuckets)),
		RefCount: len(reference),
	}

	claimed := make([]bool, len(reference))
	refByAccession := make(map[string][]int, len(reference))
	for i, ref := range reference {
		refByAccession[ref.AccessionNumber] = append(refByAccession[ref.AccessionNumber], i)
	}
	ourAccessions := make(map[string]bool)

	var rollups, unmatched []models.RecordID
	for _, id := range ordered {
		r := set.Get(id)
		if r.Origin == models.OriginSource && r.Split {
			continue
		}
		report.OurCount++
		ourAccessions[r.AccessionNumber] = true
		if r.Origin == models.OriginRollup {
			rollups = append(rollups, id)
			continue
		}

		// Duplicate same-day, same-size rows are legitimate on Form 4;
		// indistinguishable candidates are claimed in file order, and
		// ambiguity is reserved for candidates that actually differ.
		primary := candidates(reference, claimed, refByAccession[r.AccessionNumber], r, true)
		if len(primary) == 1 || (len(primary) > 1 && identicalRefs(reference, primary)) {
			report.add(classifyPair(set, id, reference, primary[0], false))
			claimed[primary[0]] = true
			continue
		}

		fallback := candidates(reference, claimed, refByAccession[r.AccessionNumber], r, false)
		switch {
		case len(fallback) == 0:
			unmatched = append(unmatched, id)
		case len(fallback) == 1 || identicalRefs(reference, fallback):
			report.add(classifyPair(set, id, reference, fallback[0], true))
			claimed[fallback[0]] = true
		default:
			report.Ambiguities = append(report.Ambiguities, Ambiguity{
				OurID:           id,
				AccessionNumber: r.AccessionNumber,
				Candidates:      fallback,
			})
		}
	}

	// A reference row that equals one of our rollup sums is the known
	// presentation difference, not a data error.
	for _, id := range rollups {
		r := set.Get(id)
		matched := false
		for _, i := range refByAccession[r.AccessionNumber] {
			if claimed[i] {
				continue
			}
			if reference[i].Shares.Abs().Equal(r.Shares.Abs()) {
				claimed[i] = true
				matched = true
				report.add(Entry{
					Bucket:          RollupExplained,
					AccessionNumber: r.AccessionNumber,
					OurID:           id,
					RefIndex:        i,
					OurShares:       dptr(r.Shares.Abs()),
					RefShares:       dptr(reference[i].Shares),
					RefPrice:        reference[i].PricePerShare,
					Note:            r.AggregateType,
				})
				break
			}
		}
		if !matched {
			report.add(Entry{
				Bucket:          ExtraInOurs,
				AccessionNumber: r.AccessionNumber,
				OurID:           id,
				RefIndex:        -1,
				OurShares:       dptr(r.Shares.Abs()),
				Note:            "aggregate row with no reference counterpart",
			})
		}
	}

	for _, id := range unmatched {
		r := set.Get(id)
		e := Entry{
			AccessionNumber: r.AccessionNumber,
			OurID:           id,
			RefIndex:        -1,
			OurShares:       dptr(r.Shares.Abs()),
			OurPrice:        r.PricePerShare,
		}
		switch {
		case len(refByAccession[r.AccessionNumber]) > 0:
			e.Bucket = GenuineMismatch
			e.Note = "reference reports different values for this filing"
		case r.SecTable == models.TableDerivative && r.AcqDisp == "D":
			// Reference providers conventionally omit derivative
			// disposals, so this gap is expected.
			e.Bucket = ExtraInOurs
			e.Note = "derivative disposal outside reference convention"
		default:
			e.Bucket = MissingInReference
		}
		report.add(e)
	}

	for i := range reference {
		if claimed[i] {
			continue
		}
		e := Entry{
			AccessionNumber: reference[i].AccessionNumber,
			OurID:           models.NoRecord,
			RefIndex:        i,
			RefShares:       dptr(reference[i].Shares),
			RefPrice:        reference[i].PricePerShare,
		}
		if ourAccessions[reference[i].AccessionNumber] {
			e.Bucket = GenuineMismatch
			e.Note = "our data reports different values for this filing"
		} else {
			e.Bucket = MissingInOurs
		}
		report.add(e)
	}

	return report
}

func (r *Report) add(e Entry) {
	r.Entries[e.Bucket] = append(r.Entries[e.Bucket], e)
}

// candidates returns the unclaimed reference rows matching one of our
// records on the primary key, or on the date-ignoring fallback key. An
// empty code on either side matches any code: reference extracts often
// omit transaction codes.
func candidates(reference []models.ReferenceRecord, claimed []bool, idxs []int, r *models.TransactionRecord, withDate bool) []int {
	var out []int
	for _, i := range idxs {
		if claimed[i] {
			continue
		}
		ref := reference[i]
		if ref.TransactionCode != "" && r.TransactionCode != "" && ref.TransactionCode != r.TransactionCode {
			continue
		}
		if !ref.Shares.Abs().Equal(r.Shares.Abs()) {
			continue
		}
		if withDate {
			if ref.DateApprox || ref.TransactionDate.IsZero() || r.TransactionDate.IsZero() {
				continue
			}
			if !ref.TransactionDate.Equal(r.TransactionDate) {
				continue
			}
		}
		out = append(out, i)
	}
	return out
}

func classifyPair(set *models.RecordSet, id models.RecordID, reference []models.ReferenceRecord, refIdx int, dateFallback bool) Entry {
	r := set.Get(id)
	ref := reference[refIdx]
	e := Entry{
		AccessionNumber: r.AccessionNumber,
		OurID:           id,
		RefIndex:        refIdx,
		OurShares:       dptr(r.Shares.Abs()),
		RefShares:       dptr(ref.Shares),
		OurPrice:        r.PricePerShare,
		RefPrice:        ref.PricePerShare,
		DateMismatch:    dateFallback,
	}
	if samePrice(r.PricePerShare, ref.PricePerShare) {
		e.Bucket = ExactMatch
		if dateFallback {
			e.Note = "matched ignoring transaction date"
		}
	} else {
		e.Bucket = GenuineMismatch
		e.Note = "shares match but prices differ"
	}
	return e
}

// identicalRefs reports whether every candidate reference row carries
// the same values, so claiming any one of them is equivalent.
func identicalRefs(reference []models.ReferenceRecord, idxs []int) bool {
	first := reference[idxs[0]]
	for _, i := range idxs[1:] {
		ref := reference[i]
		if ref.TransactionCode != first.TransactionCode ||
			!ref.TransactionDate.Equal(first.TransactionDate) ||
			ref.DateApprox != first.DateApprox ||
			!ref.Shares.Equal(first.Shares) ||
			!equalPrice(ref.PricePerShare, first.PricePerShare) {
			return false
		}
	}
	return true
}

func equalPrice(a, b *decimal.Decimal) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

// samePrice disputes prices only when both sides report one.
func samePrice(a, b *decimal.Decimal) bool {
	if a == nil || b == nil {
		return true
	}
	return a.Equal(*b)
}

func dptr(d decimal.Decimal) *decimal.Decimal { return &d }
