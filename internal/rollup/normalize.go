package rollup

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"form4recon/internal/logger"
	"form4recon/internal/models"
)

// ErrSplitInvariant means a split's portions failed to sum back to the
// original disposal. This is a logic defect and fatal to the run.
var ErrSplitInvariant = errors.New("split portions do not sum to the original disposal")

// Counters holds available shares per security class. It is passed in
// and returned so a run carries no ambient state.
type Counters map[string]decimal.Decimal

// Options configure normalization.
type Options struct {
	// EmitZeroSplits keeps the degenerate zero-share excess rows that a
	// disposal exactly equal to the counter would otherwise suppress.
	EmitZeroSplits bool
}

// Result is the normalized view over the record set.
type Result struct {
	// Ordered lists every surviving record in processing order, sources
	// followed by the Synthetic rows split from them, with the
	// per-class Automatic Disposition rollups at the end.
	Ordered  []models.RecordID
	Counters Counters
	// Splits counts disposals that exceeded their class counter.
	Splits int
}

var knownCodes = map[string]bool{
	"A": true, "C": true, "D": true, "E": true, "F": true, "G": true,
	"H": true, "I": true, "J": true, "K": true, "L": true, "M": true,
	"O": true, "P": true, "S": true, "U": true, "V": true, "W": true,
	"X": true, "Z": true,
}

// Normalize walks the set's Source records in chronological order,
// maintaining an available-share counter per security class. A disposal
// larger than its counter is split into a matched Synthetic portion and
// an excess Synthetic portion, and the excess is accumulated into a
// per-class "Automatic Disposition" rollup. Sources are never edited
// beyond the Split audit flag; all new rows are appended to the set.
// Synthetic and Rollup rows already in the set are not reprocessed, so
// a second pass over normalized output adds nothing.
func Normalize(set *models.RecordSet, counters Counters, opts Options) (*Result, error) {
	if counters == nil {
		counters = make(Counters)
	}

	ids := make([]models.RecordID, 0, set.Len())
	for i := range set.Records {
		r := &set.Records[i]
		if r.Origin != models.OriginSource || r.Split {
			continue
		}
		ids = append(ids, r.ID)
	}

	// Acquisitions must be seen before the disposals that consume them.
	sort.SliceStable(ids, func(i, j int) bool {
		a, b := set.Get(ids[i]), set.Get(ids[j])
		if !a.TransactionDate.Equal(b.TransactionDate) {
			return a.TransactionDate.Before(b.TransactionDate)
		}
		if a.AccessionNumber != b.AccessionNumber {
			return a.AccessionNumber < b.AccessionNumber
		}
		return ids[i] < ids[j]
	})

	res := &Result{Counters: counters}

	type pendingRollup struct {
		members []models.RecordID
		sum     decimal.Decimal
		value   decimal.Decimal
		proto   models.TransactionRecord
	}
	pending := make(map[string]*pendingRollup)
	var pendingOrder []string

	for _, id := range ids {
		r := set.Get(id)

		key, ok := classKey(r)
		if !ok {
			r.Flag = models.FlagClassificationError
			res.Ordered = append(res.Ordered, id)
			continue
		}

		switch {
		case r.IsAcquisition():
			counters[key] = counters[key].Add(r.Shares.Abs())
			res.Ordered = append(res.Ordered, id)

		case r.IsDisposal():
			available := counters[key]
			shares := r.Shares.Abs()
			if shares.LessThanOrEqual(available) {
				counters[key] = available.Sub(shares)
				res.Ordered = append(res.Ordered, id)
				continue
			}

			matched := available
			excess := shares.Sub(matched)
			if !matched.Add(excess).Equal(shares) {
				return nil, fmt.Errorf("%w: %s + %s != %s (record %d)", ErrSplitInvariant, matched, excess, shares, id)
			}
			counters[key] = decimal.Zero
			res.Splits++
			logger.Debug("disposal exceeds available shares",
				zap.String("accession", r.AccessionNumber),
				zap.String("class", key),
				zap.String("shares", shares.String()),
				zap.String("available", matched.String()))

			// The original stays for audit; the split portions replace
			// it in every total.
			r.Split = true
			res.Ordered = append(res.Ordered, id)

			if matched.IsPositive() || opts.EmitZeroSplits {
				res.Ordered = append(res.Ordered, addSynthetic(set, id, matched))
			}
			if excess.IsPositive() || opts.EmitZeroSplits {
				exID := addSynthetic(set, id, excess)
				res.Ordered = append(res.Ordered, exID)

				p := pending[key]
				if p == nil {
					p = &pendingRollup{proto: *set.Get(exID)}
					pending[key] = p
					pendingOrder = append(pendingOrder, key)
				}
				p.members = append(p.members, exID)
				p.sum = p.sum.Add(excess)
				if r.PricePerShare != nil {
					p.value = p.value.Add(excess.Mul(*r.PricePerShare))
				}
			}

		default:
			if !knownCodes[r.TransactionCode] {
				r.Flag = models.FlagClassificationError
			}
			res.Ordered = append(res.Ordered, id)
		}
	}

	for _, key := range pendingOrder {
		p := pending[key]
		if p.sum.IsZero() && !opts.EmitZeroSplits {
			continue
		}
		rollup := p.proto
		rollup.Origin = models.OriginRollup
		rollup.SourceID = models.NoRecord
		rollup.SourceIDs = append([]models.RecordID(nil), p.members...)
		rollup.Shares = p.sum
		rollup.PricePerShare = nil
		rollup.SharesAfter = nil
		rollup.Footnotes = nil
		rollup.Is10b51 = false
		rollup.IsTax = false
		rollup.TaxType = ""
		rollup.LinkRole = ""
		rollup.PlanAdoptionDate = ""
		rollup.Flag = ""
		rollup.AcqDisp = "D"
		rollup.AggregateType = "Automatic Disposition"
		rollup.Label = "Automatic Disposition"
		if p.value.IsPositive() {
			v := p.value.Round(2)
			rollup.AggregateValue = &v
		}
		rollup.EventID = eventID(rollup.AccessionNumber, "AUTODISP")
		rollup.LinkedTxnCount = len(p.members)
		fillRanges(set, &rollup, p.members)
		res.Ordered = append(res.Ordered, set.Add(rollup))
	}

	if err := set.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSplitInvariant, err)
	}
	return res, nil
}

func addSynthetic(set *models.RecordSet, sourceID models.RecordID, shares decimal.Decimal) models.RecordID {
	syn := *set.Get(sourceID)
	syn.Origin = models.OriginSynthetic
	syn.SourceID = sourceID
	syn.SourceIDs = nil
	syn.Shares = shares
	syn.Split = false
	if syn.PricePerShare != nil {
		p := *syn.PricePerShare
		syn.PricePerShare = &p
	}
	syn.SharesAfter = nil
	return set.Add(syn)
}

// classKey partitions counters by table and security title. The parser
// folds the strike into derivative titles, so distinct grants stay
// distinct here.
func classKey(r *models.TransactionRecord) (string, bool) {
	title := strings.ToUpper(strings.TrimSpace(r.SecurityTitle))
	if title == "" || r.TransactionCode == "" {
		return "", false
	}
	return string(r.SecTable) + "|" + title, true
}

func eventID(accession, kind string) string {
	return strings.ReplaceAll(accession, "-", "") + "-" + kind + "-01"
}
