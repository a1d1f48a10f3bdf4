package rollup

import (
	"github.com/shopspring/decimal"

	"form4recon/internal/config"
	"form4recon/internal/models"
)

// Match statuses for exercise events.
const (
	MatchExact           = "EXACT_MATCH"
	MatchWithinTolerance = "WITHIN_TOLERANCE"
	MatchMismatch        = "MISMATCH"
)

// Exercise estimate methods.
const (
	MethodUnderlyingA = "UNDERLYING_A"
	MethodDerivative  = "DERV_1to1"
	MethodUnknown     = "UNKNOWN"
)

// LinkExerciseEvents groups each filing's exercises with the common-stock
// sales they funded and emits one "Exercise - Sale" or "Exercise - Hold"
// rollup per filing that contains an exercise. Sales are linked greedily
// in filing order until the exercise estimate is consumed; a sale larger
// than the remainder stays unlinked (over-disposals are already handled
// by Normalize, which owns all splitting). Linked rows get the event ID;
// linked 10b5-1 sales get the derivative label upgrade.
//
// The returned order is the input order with each rollup appended at the
// end of its filing's run of records.
func LinkExerciseEvents(set *models.RecordSet, ordered []models.RecordID) []models.RecordID {
	groups, groupOrder := groupByAccession(set, ordered)

	out := make([]models.RecordID, 0, len(ordered)+len(groupOrder))
	for _, acc := range groupOrder {
		ids := groups[acc]
		out = append(out, ids...)
		if rollupID, ok := linkOne(set, ids); ok {
			out = append(out, rollupID)
		}
	}
	return out
}

func groupByAccession(set *models.RecordSet, ordered []models.RecordID) (map[string][]models.RecordID, []string) {
	groups := make(map[string][]models.RecordID)
	var order []string
	for _, id := range ordered {
		acc := set.Get(id).AccessionNumber
		if _, ok := groups[acc]; !ok {
			order = append(order, acc)
		}
		groups[acc] = append(groups[acc], id)
	}
	return groups, order
}

func linkOne(set *models.RecordSet, ids []models.RecordID) (models.RecordID, bool) {
	var exercises, sales []models.RecordID
	hasTax := false
	for _, id := range ids {
		r := set.Get(id)
		if r.Origin == models.OriginRollup || r.Split {
			continue
		}
		switch r.LinkRole {
		case models.RoleExercise:
			exercises = append(exercises, id)
		case models.RoleSaleCommon:
			sales = append(sales, id)
		case models.RoleTaxSaleIssuer, models.RoleTaxSaleOpen:
			hasTax = true
		}
	}
	if len(exercises) == 0 {
		return models.NoRecord, false
	}

	estimate, method := exerciseEstimate(set, ids, exercises)

	// Greedy link in filing order. Whole sales only.
	remaining := estimate
	var linked []models.RecordID
	linkedSum := decimal.Zero
	saleValue := decimal.Zero
	for _, id := range sales {
		if !remaining.IsPositive() {
			break
		}
		r := set.Get(id)
		shares := r.Shares.Abs()
		if shares.IsZero() || shares.GreaterThan(remaining) {
			continue
		}
		linked = append(linked, id)
		linkedSum = linkedSum.Add(shares)
		if r.PricePerShare != nil {
			saleValue = saleValue.Add(shares.Mul(*r.PricePerShare))
		}
		remaining = remaining.Sub(shares)
	}

	status, delta, tolUsed := matchStatus(estimate, linkedSum)

	first := set.Get(exercises[0])
	rollup := models.TransactionRecord{
		AccessionNumber: first.AccessionNumber,
		FiledDate:       first.FiledDate,
		FilingURL:       first.FilingURL,
		IssuerCik:       first.IssuerCik,
		IssuerName:      first.IssuerName,
		IssuerSymbol:    first.IssuerSymbol,
		OwnerCik:        first.OwnerCik,
		OwnerName:       first.OwnerName,
		OfficerTitle:    first.OfficerTitle,
		SecurityTitle:   "Class A Common Stock",
		SecTable:        models.TableNonDerivative,
		AcqDisp:         "D",
		Origin:          models.OriginRollup,
		SourceID:        models.NoRecord,
		EventID:         eventID(first.AccessionNumber, "EXERCISE"),
		ExerciseMethod:  method,
		HasTaxRows:      hasTax,
		MatchStatus:     status,
		ToleranceUsed:   tolUsed,
	}
	est := estimate
	rollup.ExerciseEst = &est
	d := delta
	rollup.MatchDelta = &d
	sold := linkedSum
	rollup.SoldNonTaxSum = &sold

	if len(linked) > 0 {
		rollup.AggregateType = "Exercise - Sale"
		rollup.Shares = linkedSum
		rollup.SourceIDs = append([]models.RecordID(nil), linked...)
		if saleValue.IsPositive() {
			v := saleValue.Round(2)
			rollup.AggregateValue = &v
		}
	} else {
		rollup.AggregateType = "Exercise - Hold"
		rollup.Shares = sumShares(set, exercises)
		rollup.AcqDisp = "A"
		rollup.SourceIDs = append([]models.RecordID(nil), exercises...)
	}
	rollup.Label = rollup.AggregateType
	rollup.LinkedTxnCount = len(exercises) + len(linked)
	fillRanges(set, &rollup, append(append([]models.RecordID(nil), exercises...), linked...))

	for _, id := range exercises {
		set.Get(id).EventID = rollup.EventID
	}
	for _, id := range linked {
		r := set.Get(id)
		r.EventID = rollup.EventID
		if r.Is10b51 && r.Label == "10b5-1 Planned Sale" {
			r.Label = "10b5-1 Planned Sale (Derivative)"
		}
	}

	return set.Add(rollup), true
}

// exerciseEstimate prefers the sum of Table 1 acquisition rows tagged as
// exercises (the shares actually delivered); when the filing reports
// none, it falls back to a one-to-one reading of the derivative rows.
func exerciseEstimate(set *models.RecordSet, ids []models.RecordID, exercises []models.RecordID) (decimal.Decimal, string) {
	underlyingA := decimal.Zero
	for _, id := range ids {
		r := set.Get(id)
		if r.Origin == models.OriginRollup || r.Split {
			continue
		}
		if r.SecTable == models.TableNonDerivative && r.AcqDisp == "A" && r.LinkRole == models.RoleExercise {
			underlyingA = underlyingA.Add(r.Shares.Abs())
		}
	}
	if underlyingA.IsPositive() {
		return underlyingA, MethodUnderlyingA
	}
	derv := sumShares(set, exercises)
	if derv.IsPositive() {
		return derv, MethodDerivative
	}
	return decimal.Zero, MethodUnknown
}

func matchStatus(estimate, sold decimal.Decimal) (string, decimal.Decimal, bool) {
	delta := sold.Sub(estimate)
	if delta.IsZero() {
		return MatchExact, delta, false
	}
	maxTotal := decimal.Max(estimate.Abs(), sold.Abs())
	threshold := decimal.Zero
	if maxTotal.IsPositive() {
		threshold = decimal.Max(
			decimal.NewFromFloat(config.ToleranceShares),
			decimal.NewFromFloat(config.TolerancePercent).Mul(maxTotal),
		)
	}
	if delta.Abs().LessThanOrEqual(threshold) {
		return MatchWithinTolerance, delta, true
	}
	return MatchMismatch, delta, false
}

func sumShares(set *models.RecordSet, ids []models.RecordID) decimal.Decimal {
	sum := decimal.Zero
	for _, id := range ids {
		sum = sum.Add(set.Get(id).Shares.Abs())
	}
	return sum
}

func fillRanges(set *models.RecordSet, rollup *models.TransactionRecord, ids []models.RecordID) {
	for _, id := range ids {
		r := set.Get(id)
		if !r.TransactionDate.IsZero() {
			if rollup.TradeDateStart.IsZero() || r.TransactionDate.Before(rollup.TradeDateStart) {
				rollup.TradeDateStart = r.TransactionDate
			}
			if r.TransactionDate.After(rollup.TradeDateEnd) {
				rollup.TradeDateEnd = r.TransactionDate
			}
		}
		if r.PricePerShare != nil {
			p := *r.PricePerShare
			if rollup.PriceRangeMin == nil || p.LessThan(*rollup.PriceRangeMin) {
				v := p
				rollup.PriceRangeMin = &v
			}
			if rollup.PriceRangeMax == nil || p.GreaterThan(*rollup.PriceRangeMax) {
				v := p
				rollup.PriceRangeMax = &v
			}
		}
	}
}
