package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"form4recon/internal/models"
)

// columns is the fixed CSV layout. The reader below keys on the header
// names, so reordering is safe; renaming is not.
var columns = []string{
	"rowType",
	"eventId",
	"linkRole",

	"aggregateType",
	"aggregateValue",
	"priceRangeMin",
	"priceRangeMax",
	"tradeDateStart",
	"tradeDateEnd",
	"exerciseSharesEst",
	"exerciseSharesMethod",
	"soldNonTaxSum",
	"matchDelta",
	"matchStatus",
	"toleranceUsed",
	"hasTaxRows",
	"linkedTxnCount",

	"issuerCik",
	"issuerName",
	"issuerTradingSymbol",
	"rptOwnerCik",
	"rptOwnerName",
	"officerTitle",

	"transactionDate",
	"securityTitle",
	"transactionCode",
	"transactionShares",
	"signedShares",
	"transactionPricePerShare",
	"transactionValue",
	"transactionAcquiredDisposedCode",
	"sharesOwnedFollowingTransaction",
	"directOrIndirectOwnership",

	"label",
	"is10b5_1",
	"isTax",
	"taxType",
	"planAdoptionDate",
	"secTable",
	"splitSource",
	"flag",

	"accessionNumber",
	"filedDate",
	"filingUrl",
	"footnote",
}

// Write emits the records in the given order (callers pass waterfall
// order). Split sources are written with splitSource=true so readers
// can exclude them from totals without losing the audit trail.
func Write(w io.Writer, set *models.RecordSet, ordered []models.RecordID) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(columns); err != nil {
		return fmt.Errorf("export: %w", err)
	}
	for _, id := range ordered {
		r := set.Get(id)
		if r == nil {
			return fmt.Errorf("export: unknown record %d", id)
		}
		if err := cw.Write(row(r)); err != nil {
			return fmt.Errorf("export: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteFile writes the CSV to a path.
func WriteFile(path string, set *models.RecordSet, ordered []models.RecordID) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	defer f.Close()
	return Write(f, set, ordered)
}

func row(r *models.TransactionRecord) []string {
	return []string{
		string(r.Origin),
		r.EventID,
		string(r.LinkRole),

		r.AggregateType,
		dec(r.AggregateValue),
		dec(r.PriceRangeMin),
		dec(r.PriceRangeMax),
		date(r.TradeDateStart),
		date(r.TradeDateEnd),
		dec(r.ExerciseEst),
		r.ExerciseMethod,
		dec(r.SoldNonTaxSum),
		dec(r.MatchDelta),
		r.MatchStatus,
		boolStr(r.ToleranceUsed),
		boolStr(r.HasTaxRows),
		intStr(r.LinkedTxnCount),

		r.IssuerCik,
		r.IssuerName,
		r.IssuerSymbol,
		r.OwnerCik,
		r.OwnerName,
		r.OfficerTitle,

		date(r.TransactionDate),
		r.SecurityTitle,
		r.TransactionCode,
		r.Shares.String(),
		r.SignedShares().String(),
		dec(r.PricePerShare),
		dec(r.Value()),
		r.AcqDisp,
		dec(r.SharesAfter),
		string(r.Ownership),

		r.Label,
		boolStr(r.Is10b51),
		boolStr(r.IsTax),
		r.TaxType,
		r.PlanAdoptionDate,
		string(r.SecTable),
		boolStr(r.Split),
		r.Flag,

		r.AccessionNumber,
		date(r.FiledDate),
		r.FilingURL,
		strings.Join(r.Footnotes, " | "),
	}
}

// Read loads a previously exported CSV back into a record set, in file
// order. Only the fields the comparison needs are reconstructed.
func Read(rd io.Reader) (*models.RecordSet, []models.RecordID, error) {
	cr := csv.NewReader(rd)
	cr.FieldsPerRecord = -1
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("export: read: %w", err)
	}
	if len(rows) == 0 {
		return &models.RecordSet{}, nil, nil
	}
	col := make(map[string]int, len(rows[0]))
	for i, h := range rows[0] {
		col[strings.TrimPrefix(h, "\ufeff")] = i
	}
	get := func(row []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(row) {
			return ""
		}
		return row[i]
	}

	set := &models.RecordSet{}
	var ordered []models.RecordID
	for _, row := range rows[1:] {
		r := models.TransactionRecord{
			Origin:          models.Origin(get(row, "rowType")),
			EventID:         get(row, "eventId"),
			AggregateType:   get(row, "aggregateType"),
			AccessionNumber: get(row, "accessionNumber"),
			SecurityTitle:   get(row, "securityTitle"),
			TransactionCode: get(row, "transactionCode"),
			AcqDisp:         get(row, "transactionAcquiredDisposedCode"),
			SecTable:        models.SECTable(get(row, "secTable")),
			Label:           get(row, "label"),
			Flag:            get(row, "flag"),
			Split:           get(row, "splitSource") == "true",
			SourceID:        models.NoRecord,
		}
		if d, err := time.Parse("2006-01-02", get(row, "transactionDate")); err == nil {
			r.TransactionDate = d
		}
		if d, err := time.Parse("2006-01-02", get(row, "filedDate")); err == nil {
			r.FiledDate = d
		}
		if s, err := decimal.NewFromString(get(row, "transactionShares")); err == nil {
			r.Shares = s.Abs()
		}
		if p, err := decimal.NewFromString(get(row, "transactionPricePerShare")); err == nil {
			r.PricePerShare = &p
		}
		ordered = append(ordered, set.Add(r))
	}
	return set, ordered, nil
}

// ReadFile loads an exported CSV from a path.
func ReadFile(path string) (*models.RecordSet, []models.RecordID, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("export: %w", err)
	}
	defer f.Close()
	return Read(f)
}

// Filename derives the default output name from the first record:
// {Company}_{Insider}_{DD.MM.YY}.csv.
func Filename(set *models.RecordSet, ordered []models.RecordID, now time.Time) string {
	if len(ordered) == 0 {
		return "output.csv"
	}
	r := set.Get(ordered[0])
	company := compact(r.IssuerName)
	insider := compact(r.OwnerName)
	if company == "" {
		company = "Unknown"
	}
	if insider == "" {
		insider = "Unknown"
	}
	return fmt.Sprintf("%s_%s_%s.csv", company, insider, now.Format("02.01.06"))
}

func compact(s string) string {
	s = strings.ReplaceAll(s, ",", "")
	s = strings.ReplaceAll(s, ".", "")
	return strings.ReplaceAll(s, " ", "")
}

func dec(d *decimal.Decimal) string {
	if d == nil {
		return ""
	}
	return d.String()
}

func date(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02")
}

func boolStr(b bool) string { return strconv.FormatBool(b) }

func intStr(i int) string {
	if i == 0 {
		return ""
	}
	return strconv.Itoa(i)
}
