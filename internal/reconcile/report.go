package reconcile

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var bucketTitles = map[Bucket]string{
	ExactMatch:         "EXACT MATCHES",
	RollupExplained:    "ROLLUP-EXPLAINED (Not a problem)",
	GenuineMismatch:    "GENUINE MISMATCHES (Investigate)",
	MissingInOurs:      "MISSING IN OURS (Investigate)",
	MissingInReference: "MISSING IN REFERENCE (Investigate)",
	ExtraInOurs:        "EXTRA IN OURS (Expected)",
}

// Render produces the human-readable comparison report. Every bucket
// count is listed even when zero; detail sections are emitted only for
// non-empty buckets, plus a distinct section for fallback ambiguities.
func (r *Report) Render(insiderName string) string {
	var b strings.Builder
	rule := strings.Repeat("=", 70)

	fmt.Fprintf(&b, "%s\n", rule)
	fmt.Fprintf(&b, "COMPARISON REPORT: %s\n", insiderName)
	fmt.Fprintf(&b, "%s\n\n", rule)

	fmt.Fprintf(&b, "Our records:       %d\n", r.OurCount)
	fmt.Fprintf(&b, "Reference records: %d\n\n", r.RefCount)

	counts := r.Counts()
	fmt.Fprintf(&b, "BUCKET BREAKDOWN\n")
	fmt.Fprintf(&b, "%s\n", strings.Repeat("-", 70))
	for _, bucket := range AllBuckets {
		fmt.Fprintf(&b, "  %-20s %d\n", string(bucket)+":", counts[bucket])
	}
	fmt.Fprintf(&b, "  %-20s %d\n\n", "MatchAmbiguity:", len(r.Ambiguities))

	investigate := counts[GenuineMismatch] + counts[MissingInOurs] + counts[MissingInReference]
	if investigate == 0 && len(r.Ambiguities) == 0 {
		fmt.Fprintf(&b, "Nothing to investigate: all differences are explained.\n")
	} else {
		fmt.Fprintf(&b, "%d entries need review before sign-off.\n", investigate+len(r.Ambiguities))
	}

	for _, bucket := range AllBuckets {
		if bucket == ExactMatch {
			continue
		}
		entries := r.Entries[bucket]
		if len(entries) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n%s (%d)\n%s\n", bucketTitles[bucket], len(entries), strings.Repeat("-", 70))
		for _, e := range entries {
			b.WriteString(formatEntry(e))
		}
	}

	if len(r.Ambiguities) > 0 {
		fmt.Fprintf(&b, "\nMATCH AMBIGUITIES (Resolve manually) (%d)\n%s\n", len(r.Ambiguities), strings.Repeat("-", 70))
		for _, a := range r.Ambiguities {
			fmt.Fprintf(&b, "  %s: record %d matches %d reference rows on the fallback key\n",
				a.AccessionNumber, a.OurID, len(a.Candidates))
		}
	}

	return b.String()
}

func formatEntry(e Entry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "  %s\n", e.AccessionNumber)
	if e.OurShares != nil {
		fmt.Fprintf(&b, "    ours:      %s shares%s\n", e.OurShares.String(), priceSuffix(e.OurPrice))
	}
	if e.RefShares != nil {
		fmt.Fprintf(&b, "    reference: %s shares%s\n", e.RefShares.String(), priceSuffix(e.RefPrice))
	}
	if e.DateMismatch {
		fmt.Fprintf(&b, "    note: transaction dates differ\n")
	}
	if e.Note != "" {
		fmt.Fprintf(&b, "    note: %s\n", e.Note)
	}
	return b.String()
}

func priceSuffix(p *decimal.Decimal) string {
	if p == nil {
		return ""
	}
	return " @ $" + p.StringFixed(2)
}
