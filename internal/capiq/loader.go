package capiq

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"form4recon/internal/logger"
	"form4recon/internal/models"
)

// headerScanLimit bounds the search for the header row: CAPIQ exports
// carry around 50 rows of report metadata above the table.
const headerScanLimit = 100

var accessionHeaders = []string{"accession number", "accession", "accession no."}

// Load reads a CAPIQ insider-transactions workbook into reference
// records. The header row is located by scanning for "Holder Name";
// the accession column is required because all matching is keyed on it.
func Load(path string) ([]models.ReferenceRecord, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("capiq: open %s: %w", path, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("capiq: %s has no sheets", path)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("capiq: read %s: %w", path, err)
	}

	headerIdx := -1
	for i := 0; i < len(rows) && i < headerScanLimit; i++ {
		for _, cell := range rows[i] {
			if strings.TrimSpace(cell) == "Holder Name" {
				headerIdx = i
				break
			}
		}
		if headerIdx >= 0 {
			break
		}
	}
	if headerIdx < 0 {
		return nil, fmt.Errorf("capiq: could not find 'Holder Name' header in %s", path)
	}

	cols := make(map[string]int)
	for i, h := range rows[headerIdx] {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}

	accCol := -1
	for _, name := range accessionHeaders {
		if i, ok := cols[name]; ok {
			accCol = i
			break
		}
	}
	if accCol < 0 {
		return nil, fmt.Errorf("capiq: no accession column in %s (headers: %s)", path, strings.Join(rows[headerIdx], ", "))
	}

	holderCol := cols["holder name"]
	dateCol, hasDate := cols["trade date range"]
	sharesCol, hasShares := cols["transacted shares"]
	if !hasShares {
		return nil, fmt.Errorf("capiq: no 'Transacted Shares' column in %s", path)
	}
	filedCol, hasFiled := cols["filed date"]
	codeCol, hasCode := cols["sec transaction code"]
	priceCol, hasPrice := cols["price range ($)"]

	var records []models.ReferenceRecord
	for _, row := range rows[headerIdx+1:] {
		acc := cell(row, accCol)
		sharesRaw := cell(row, sharesCol)
		if acc == "" && sharesRaw == "" {
			continue
		}
		shares, err := parseShares(sharesRaw)
		if err != nil {
			logger.Warn("skipping unparsable share value", zap.String("value", sharesRaw), zap.String("accession", acc))
			continue
		}

		ref := models.ReferenceRecord{
			AccessionNumber: acc,
			HolderName:      cell(row, holderCol),
			Shares:          shares,
		}
		if hasDate {
			ref.TransactionDate, ref.DateApprox = parseDateRange(cell(row, dateCol))
		}
		if hasFiled {
			if d, ok := parseDate(cell(row, filedCol)); ok {
				ref.FiledDate = d
			}
		}
		if hasCode {
			ref.TransactionCode = strings.ToUpper(cell(row, codeCol))
		}
		if hasPrice {
			if p, approx, ok := parsePriceRange(cell(row, priceCol)); ok && !approx {
				ref.PricePerShare = &p
			}
		}
		records = append(records, ref)
	}
	return records, nil
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// parseShares handles the CAPIQ conventions: thousands separators and
// parenthesized negatives.
func parseShares(s string) (decimal.Decimal, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return decimal.Zero, nil
	}
	neg := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		neg = true
		s = s[1 : len(s)-1]
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, err
	}
	if neg {
		d = d.Neg()
	}
	return d, nil
}

// parseDateRange parses "start - end" ranges to their start date and
// flags them approximate so matching falls back to the date-ignoring key.
func parseDateRange(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if parts := strings.Split(s, " - "); len(parts) == 2 {
		if d, ok := parseDate(parts[0]); ok {
			return d, true
		}
		return time.Time{}, true
	}
	if d, ok := parseDate(s); ok {
		return d, false
	}
	return time.Time{}, false
}

func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{
		"2006-01-02 15:04:05",
		"2006-01-02",
		"01/02/2006",
		"1/2/2006",
		"01-02-06",
		"Jan 2, 2006",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// parsePriceRange returns the price when the cell is a single value; a
// "low - high" range has no point price to compare against.
func parsePriceRange(s string) (decimal.Decimal, bool, bool) {
	s = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "$"))
	if s == "" {
		return decimal.Zero, false, false
	}
	if strings.Contains(s, " - ") {
		return decimal.Zero, true, true
	}
	d, err := decimal.NewFromString(strings.ReplaceAll(s, ",", ""))
	if err != nil {
		return decimal.Zero, false, false
	}
	return d, false, true
}
