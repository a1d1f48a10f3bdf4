package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// SECTable identifies which Form 4 table a transaction came from.
type SECTable string

const (
	TableNonDerivative SECTable = "Table 1"
	TableDerivative    SECTable = "Table 2"
)

// Origin tags how a record entered the set.
type Origin string

const (
	// OriginSource rows are parsed directly from a filing and never mutated.
	OriginSource Origin = "SOURCE"
	// OriginSynthetic rows are produced by splitting a Source disposal.
	OriginSynthetic Origin = "SYNTHETIC"
	// OriginRollup rows aggregate one or more Synthetic/Source rows.
	OriginRollup Origin = "ROLLUP"
)

type OwnershipType string

const (
	OwnershipDirect   OwnershipType = "D"
	OwnershipIndirect OwnershipType = "I"
)

// LinkRole drives exercise-event grouping.
type LinkRole string

const (
	RoleExercise      LinkRole = "exercise"
	RoleSaleCommon    LinkRole = "sale-common"
	RoleTaxSaleIssuer LinkRole = "tax-sale-issuer"
	RoleTaxSaleOpen   LinkRole = "tax-sale-open"
	RoleOther         LinkRole = "other"
)

// Record flags surfaced in exports and reports rather than dropped.
const (
	FlagClassificationError = "ClassificationError"
	FlagParseWarning        = "ParseWarning"
)

// RecordID is an index into a RecordSet. Records reference each other by
// ID rather than by pointer so the set stays a flat, copyable arena.
type RecordID int

const NoRecord RecordID = -1

// TransactionRecord is one row of insider activity: a parsed filing row,
// a synthetic split portion, or a rollup aggregate.
type TransactionRecord struct {
	ID RecordID

	// Filing identity.
	AccessionNumber string
	FiledDate       time.Time
	FilingURL       string
	IssuerCik       string
	IssuerName      string
	IssuerSymbol    string
	OwnerCik        string
	OwnerName       string
	OfficerTitle    string

	// Transaction detail.
	SecurityTitle   string
	TransactionDate time.Time // zero means not reported
	TransactionCode string
	AcqDisp         string // "A" or "D"
	Shares          decimal.Decimal
	PricePerShare   *decimal.Decimal
	SharesAfter     *decimal.Decimal
	Ownership       OwnershipType
	Footnotes       []string
	SecTable        SECTable

	// Calculated on parse.
	Is10b51          bool
	IsTax            bool
	TaxType          string // "issuer", "open-market" or empty
	Label            string
	LinkRole         LinkRole
	PlanAdoptionDate string

	// Provenance.
	Origin    Origin
	SourceID  RecordID   // Synthetic: the Source it was derived from
	SourceIDs []RecordID // Rollup: ordered members
	EventID   string
	// Split marks a Source whose shares were re-emitted as Synthetic
	// portions; it stays in the set for audit but is excluded from totals.
	Split bool
	Flag  string

	// Rollup aggregate fields.
	AggregateType  string
	AggregateValue *decimal.Decimal
	TradeDateStart time.Time
	TradeDateEnd   time.Time
	PriceRangeMin  *decimal.Decimal
	PriceRangeMax  *decimal.Decimal
	ExerciseEst    *decimal.Decimal
	ExerciseMethod string
	SoldNonTaxSum  *decimal.Decimal
	MatchDelta     *decimal.Decimal
	MatchStatus    string
	ToleranceUsed  bool
	HasTaxRows     bool
	LinkedTxnCount int
}

// SignedShares returns shares signed by the acquired/disposed code,
// falling back to the transaction code when the A/D flag is missing.
func (r *TransactionRecord) SignedShares() decimal.Decimal {
	abs := r.Shares.Abs()
	switch r.AcqDisp {
	case "D":
		return abs.Neg()
	case "A":
		return abs
	}
	switch r.TransactionCode {
	case "S", "F", "G":
		return abs.Neg()
	}
	return abs
}

// Value returns abs(shares) * price rounded to cents, or nil when the
// price is unknown.
func (r *TransactionRecord) Value() *decimal.Decimal {
	if r.PricePerShare == nil {
		return nil
	}
	v := r.Shares.Abs().Mul(*r.PricePerShare).Round(2)
	return &v
}

// IsAcquisition reports whether the transaction code adds to the
// available-share counter for its security class.
func (r *TransactionRecord) IsAcquisition() bool {
	switch r.TransactionCode {
	case "A", "M", "P":
		return true
	}
	return false
}

// IsDisposal reports whether the transaction code draws down the
// available-share counter for its security class.
func (r *TransactionRecord) IsDisposal() bool {
	switch r.TransactionCode {
	case "S", "F", "D", "J":
		return true
	}
	return false
}

// RecordSet is the arena all records live in. IDs are stable indices.
type RecordSet struct {
	Records []TransactionRecord
}

// Add assigns the next ID and appends the record, returning its ID.
func (s *RecordSet) Add(r TransactionRecord) RecordID {
	r.ID = RecordID(len(s.Records))
	s.Records = append(s.Records, r)
	return r.ID
}

// Get returns the record for an ID, or nil if out of range.
func (s *RecordSet) Get(id RecordID) *TransactionRecord {
	if id < 0 || int(id) >= len(s.Records) {
		return nil
	}
	return &s.Records[int(id)]
}

// Len returns the number of records in the set.
func (s *RecordSet) Len() int { return len(s.Records) }

// Validate checks the referential and aggregation invariants: every
// Synthetic points at an existing Source, every Rollup's members exist,
// and every Rollup's shares equal the sum of its members' shares.
func (s *RecordSet) Validate() error {
	for i := range s.Records {
		r := &s.Records[i]
		switch r.Origin {
		case OriginSynthetic:
			src := s.Get(r.SourceID)
			if src == nil {
				return fmt.Errorf("synthetic record %d references missing source %d", r.ID, r.SourceID)
			}
			if src.Origin != OriginSource {
				return fmt.Errorf("synthetic record %d references non-source record %d", r.ID, r.SourceID)
			}
		case OriginRollup:
			sum := decimal.Zero
			for _, id := range r.SourceIDs {
				m := s.Get(id)
				if m == nil {
					return fmt.Errorf("rollup record %d references missing member %d", r.ID, id)
				}
				sum = sum.Add(m.Shares.Abs())
			}
			if !sum.Equal(r.Shares.Abs()) {
				return fmt.Errorf("rollup record %d shares %s != member sum %s", r.ID, r.Shares, sum)
			}
		}
	}
	return nil
}

// ReferenceRecord is one row of the external reference dataset (CAPIQ).
// It is compared against our output, never merged into it.
type ReferenceRecord struct {
	AccessionNumber string
	HolderName      string
	TransactionCode string // often absent in reference extracts
	TransactionDate time.Time
	DateApprox      bool // reported as a date range, not a point date
	FiledDate       time.Time
	Shares          decimal.Decimal // signed
	PricePerShare   *decimal.Decimal
}
