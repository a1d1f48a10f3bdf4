package form4

import (
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"form4recon/internal/logger"
	"form4recon/internal/models"
)

// Filing is one raw ownership document plus the metadata that lives
// outside the XML (the acquisition layer supplies both).
type Filing struct {
	AccessionNumber string
	FiledDate       time.Time
	FormType        string
	XML             []byte
}

type footnoteRef struct {
	ID string `xml:"id,attr"`
}

// valueElem covers the Form 4 pattern of wrapping every datum in a
// <value> child with optional <footnoteId> siblings.
type valueElem struct {
	Value     string        `xml:"value"`
	Footnotes []footnoteRef `xml:"footnoteId"`
}

type transactionXML struct {
	SecurityTitle   valueElem `xml:"securityTitle"`
	TransactionDate valueElem `xml:"transactionDate"`
	Coding          struct {
		Code      string        `xml:"transactionCode"`
		Footnotes []footnoteRef `xml:"footnoteId"`
	} `xml:"transactionCoding"`
	Amounts struct {
		Shares     valueElem `xml:"transactionShares"`
		Price      valueElem `xml:"transactionPricePerShare"`
		AcqDisp    valueElem `xml:"transactionAcquiredDisposedCode"`
		DerivCount valueElem `xml:"numberOfDerivativeSecuritiesAcquiredOrDisposed"`
	} `xml:"transactionAmounts"`
	ExercisePrice valueElem `xml:"conversionOrExercisePrice"`
	ExerciseDate  valueElem `xml:"exerciseDate"`
	Underlying    struct {
		Title  valueElem `xml:"underlyingSecurityTitle"`
		Shares valueElem `xml:"underlyingSecurityShares"`
	} `xml:"underlyingSecurity"`
	Post struct {
		SharesAfter valueElem `xml:"sharesOwnedFollowingTransaction"`
	} `xml:"postTransactionAmounts"`
	Nature struct {
		DirectIndirect valueElem `xml:"directOrIndirectOwnership"`
	} `xml:"ownershipNature"`
}

type ownershipDocument struct {
	XMLName xml.Name `xml:"ownershipDocument"`
	// Document-level Rule 10b5-1 checkbox (2023 amendments).
	Aff10b5One string `xml:"aff10b5One"`
	Issuer     struct {
		Cik    string `xml:"issuerCik"`
		Name   string `xml:"issuerName"`
		Symbol string `xml:"issuerTradingSymbol"`
	} `xml:"issuer"`
	Owners []struct {
		ID struct {
			Cik  string `xml:"rptOwnerCik"`
			Name string `xml:"rptOwnerName"`
		} `xml:"reportingOwnerId"`
		Relationship struct {
			OfficerTitle string `xml:"officerTitle"`
		} `xml:"reportingOwnerRelationship"`
	} `xml:"reportingOwner"`
	NonDerivative struct {
		Transactions []transactionXML `xml:"nonDerivativeTransaction"`
	} `xml:"nonDerivativeTable"`
	Derivative struct {
		Transactions []transactionXML `xml:"derivativeTransaction"`
	} `xml:"derivativeTable"`
	Footnotes struct {
		Items []struct {
			ID   string `xml:"id,attr"`
			Text string `xml:",chardata"`
		} `xml:"footnote"`
	} `xml:"footnotes"`
}

// ParseFiling turns one ownership document into Source records, one per
// transaction in either table. Rows are never dropped: unparsable
// numerics become zero values and a count mismatch between the raw XML
// and the decoded rows produces a flagged warning record instead of a
// silent gap.
func ParseFiling(f Filing) ([]models.TransactionRecord, error) {
	var doc ownershipDocument
	if err := xml.Unmarshal(f.XML, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", f.AccessionNumber, err)
	}

	footnotes := make(map[string]string, len(doc.Footnotes.Items))
	for _, fn := range doc.Footnotes.Items {
		footnotes[fn.ID] = strings.TrimSpace(fn.Text)
	}

	var ownerCik, ownerName, officerTitle string
	if len(doc.Owners) > 0 {
		ownerCik = strings.TrimSpace(doc.Owners[0].ID.Cik)
		ownerName = strings.TrimSpace(doc.Owners[0].ID.Name)
		officerTitle = strings.TrimSpace(doc.Owners[0].Relationship.OfficerTitle)
	}

	base := models.TransactionRecord{
		AccessionNumber: f.AccessionNumber,
		FiledDate:       f.FiledDate,
		FilingURL:       FilingURL(doc.Issuer.Cik, f.AccessionNumber),
		IssuerCik:       strings.TrimSpace(doc.Issuer.Cik),
		IssuerName:      strings.TrimSpace(doc.Issuer.Name),
		IssuerSymbol:    strings.TrimSpace(doc.Issuer.Symbol),
		OwnerCik:        ownerCik,
		OwnerName:       ownerName,
		OfficerTitle:    officerTitle,
		Origin:          models.OriginSource,
	}

	docPlan := parseBoolFlag(doc.Aff10b5One)
	var records []models.TransactionRecord
	for _, tx := range doc.NonDerivative.Transactions {
		records = append(records, parseTransaction(tx, base, models.TableNonDerivative, footnotes, docPlan))
	}
	for _, tx := range doc.Derivative.Transactions {
		records = append(records, parseTransaction(tx, base, models.TableDerivative, footnotes, docPlan))
	}

	// The decoder silently skips malformed transaction elements; a raw
	// tag count that disagrees with the emitted rows gets a warning row
	// so the gap shows up in the export.
	rawCount := strings.Count(string(f.XML), "<nonDerivativeTransaction>") +
		strings.Count(string(f.XML), "<derivativeTransaction>")
	if rawCount != len(records) {
		logger.Warn("transaction count mismatch",
			zap.String("accession", f.AccessionNumber),
			zap.Int("xml", rawCount),
			zap.Int("parsed", len(records)))
		warn := base
		warn.Flag = models.FlagParseWarning
		warn.Label = fmt.Sprintf("Parsed %d of %d transactions", len(records), rawCount)
		records = append(records, warn)
	}

	return records, nil
}

func parseTransaction(tx transactionXML, base models.TransactionRecord, table models.SECTable, footnotes map[string]string, docPlan bool) models.TransactionRecord {
	r := base
	r.SecTable = table
	r.SecurityTitle = strings.TrimSpace(tx.SecurityTitle.Value)
	r.TransactionCode = strings.ToUpper(strings.TrimSpace(tx.Coding.Code))
	r.AcqDisp = strings.ToUpper(strings.TrimSpace(tx.Amounts.AcqDisp.Value))
	r.Ownership = models.OwnershipType(strings.ToUpper(strings.TrimSpace(tx.Nature.DirectIndirect.Value)))

	if d, ok := parseDate(tx.TransactionDate.Value); ok {
		r.TransactionDate = d
	}

	// Share fallbacks: transactionShares, then the derivative
	// underlying count, then the derivative acquired/disposed count.
	shares, ok := parseDecimal(tx.Amounts.Shares.Value)
	if !ok || shares.IsZero() {
		if u, uok := parseDecimal(tx.Underlying.Shares.Value); uok && !u.IsZero() {
			shares, ok = u, true
		}
	}
	if !ok || shares.IsZero() {
		if n, nok := parseDecimal(tx.Amounts.DerivCount.Value); nok && !n.IsZero() {
			shares = n
		}
	}
	r.Shares = shares.Abs()

	if p, pok := parseDecimal(tx.Amounts.Price.Value); pok {
		r.PricePerShare = &p
	}
	if sa, sok := parseDecimal(tx.Post.SharesAfter.Value); sok {
		r.SharesAfter = &sa
	}

	r.Footnotes = collectFootnotes(tx, footnotes)

	pricePresent := r.PricePerShare != nil && r.PricePerShare.IsPositive()
	r.Is10b51 = docPlan || Detect10b51(r.Footnotes)
	r.TaxType = DetectTaxType(r.TransactionCode, r.Footnotes, pricePresent)
	r.IsTax = r.TaxType != ""
	r.Label = Classify(r.TransactionCode, r.Is10b51, r.TaxType)
	r.LinkRole = LinkRole(r.TransactionCode, r.TaxType)
	if r.Is10b51 {
		r.PlanAdoptionDate = ExtractAdoptionDate(r.Footnotes)
	}

	// Derivative class keys distinguish option grants by strike.
	if table == models.TableDerivative {
		if xp, xok := parseDecimal(tx.ExercisePrice.Value); xok && !xp.IsZero() {
			title := r.SecurityTitle
			r.SecurityTitle = fmt.Sprintf("%s @ %s", title, xp.String())
		}
	}

	return r
}

// collectFootnotes resolves a transaction's footnote references to
// their text in reference order, without duplicates.
func collectFootnotes(tx transactionXML, index map[string]string) []string {
	var ids []string
	ids = append(ids, refIDs(tx.Coding.Footnotes)...)
	ids = append(ids, refIDs(tx.Amounts.Shares.Footnotes)...)
	ids = append(ids, refIDs(tx.Amounts.Price.Footnotes)...)
	ids = append(ids, refIDs(tx.ExerciseDate.Footnotes)...)
	ids = append(ids, refIDs(tx.TransactionDate.Footnotes)...)
	ids = append(ids, refIDs(tx.SecurityTitle.Footnotes)...)

	seen := make(map[string]bool, len(ids))
	var out []string
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		if text, ok := index[id]; ok && text != "" {
			out = append(out, text)
		}
	}
	return out
}

func refIDs(refs []footnoteRef) []string {
	out := make([]string, 0, len(refs))
	for _, r := range refs {
		out = append(out, r.ID)
	}
	return out
}

// FilingURL builds the EDGAR index URL for a filing.
func FilingURL(issuerCik, accession string) string {
	cik := strings.TrimLeft(strings.TrimSpace(issuerCik), "0")
	if cik == "" {
		cik = "0"
	}
	noDashes := padAccession(accession)
	withDashes := noDashes[:10] + "-" + noDashes[10:12] + "-" + noDashes[12:]
	return fmt.Sprintf("https://www.sec.gov/Archives/edgar/data/%s/%s/%s-index.htm", cik, noDashes, withDashes)
}

func padAccession(accession string) string {
	acc := strings.ReplaceAll(strings.TrimSpace(accession), "-", "")
	for len(acc) < 18 {
		acc = "0" + acc
	}
	return acc
}

func parseBoolFlag(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true":
		return true
	}
	return false
}

func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if len(s) > 10 {
		s = s[:10]
	}
	for _, layout := range []string{"2006-01-02", "01/02/2006"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func parseDecimal(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
	if s == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}
