package form4

import (
	"regexp"
	"strings"

	"form4recon/internal/models"
)

var (
	rule10b51Re = regexp.MustCompile(`(?i)10b5-?1`)

	taxRe = regexp.MustCompile(`(?i)(withhold|withholding|withheld|tax(es)?|sell-?\s?to-?\s?cover|net\s+share\s+settle(ment)?|to\s+satisfy\s+(applicable\s+)?tax)`)

	issuerRe = regexp.MustCompile(`(?i)(to\s+the\s+issuer|to\s+issuer|surrendered\s+to\s+(the\s+)?(issuer|company)|withheld\s+by\s+(the\s+)?issuer|tendered\s+to\s+(the\s+)?(issuer|company))`)

	adoptionRe = regexp.MustCompile(`(?i)(adopt(ed|ion)?|entered\s+into)`)

	dateISORe = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`)
	dateMDYRe = regexp.MustCompile(`(?i)\b(?:Jan(?:uary)?|Feb(?:ruary)?|Mar(?:ch)?|Apr(?:il)?|May|Jun(?:e)?|Jul(?:y)?|Aug(?:ust)?|Sep(?:t(?:ember)?)?|Oct(?:ober)?|Nov(?:ember)?|Dec(?:ember)?)\s+\d{1,2},\s*\d{4}\b`)
)

// Tax type values carried on records.
const (
	TaxIssuer     = "issuer"
	TaxOpenMarket = "open-market"
)

// Classify returns the human-readable label for a transaction.
// Tax labels take precedence over 10b5-1 plan labels, which take
// precedence over the per-code defaults.
func Classify(code string, is10b51 bool, taxType string) string {
	c := strings.ToUpper(strings.TrimSpace(code))

	switch taxType {
	case TaxIssuer:
		return "Tax - Sale to Issuer"
	case TaxOpenMarket:
		return "Tax - Open Market"
	}

	switch c {
	case "S":
		if is10b51 {
			return "10b5-1 Planned Sale"
		}
		return "Sale"
	case "P", "A":
		if is10b51 {
			return "10b5-1 Planned Buy"
		}
		if c == "A" {
			return "Acquisition"
		}
		return "Purchase"
	case "M":
		return "Option Exercise"
	case "C":
		return "Conversion"
	case "G":
		return "Gift"
	case "D":
		return "Disposition to Issuer"
	case "F":
		return "Tax Withholding"
	case "I", "E", "H", "J", "K", "L", "O", "U", "V", "W", "X", "Z":
		return "Other"
	}
	return "Unknown"
}

// LinkRole returns the role used by the exercise-event linker.
func LinkRole(code, taxType string) models.LinkRole {
	switch strings.ToUpper(strings.TrimSpace(code)) {
	case "M", "C", "X", "O":
		return models.RoleExercise
	case "S":
		switch taxType {
		case TaxIssuer:
			return models.RoleTaxSaleIssuer
		case TaxOpenMarket:
			return models.RoleTaxSaleOpen
		}
		return models.RoleSaleCommon
	case "F", "D":
		return models.RoleTaxSaleIssuer
	}
	return models.RoleOther
}

// Detect10b51 reports whether any footnote references a Rule 10b5-1 plan.
func Detect10b51(footnotes []string) bool {
	for _, fn := range footnotes {
		if rule10b51Re.MatchString(fn) {
			return true
		}
	}
	return false
}

// DetectTaxType classifies a transaction's tax nature. Codes F and D
// are always withholding to the issuer. A priced S with tax language
// but no issuer language in its footnotes is an open-market
// sell-to-cover; tax plus issuer language means surrender to issuer.
func DetectTaxType(code string, footnotes []string, pricePresent bool) string {
	c := strings.ToUpper(strings.TrimSpace(code))
	if c == "F" || c == "D" {
		return TaxIssuer
	}
	text := strings.Join(footnotes, " ")
	hasTax := taxRe.MatchString(text)
	hasIssuer := issuerRe.MatchString(text)
	if c == "S" && hasTax && pricePresent && !hasIssuer {
		return TaxOpenMarket
	}
	if hasTax && hasIssuer {
		return TaxIssuer
	}
	return ""
}

// ExtractAdoptionDate pulls a plan adoption date out of footnotes that
// mention adoption. ISO dates win over spelled-out dates.
func ExtractAdoptionDate(footnotes []string) string {
	for _, fn := range footnotes {
		if !adoptionRe.MatchString(fn) {
			continue
		}
		if m := dateISORe.FindString(fn); m != "" {
			return m
		}
		if m := dateMDYRe.FindString(fn); m != "" {
			return m
		}
	}
	return ""
}
