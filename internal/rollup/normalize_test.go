package rollup

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"form4recon/internal/models"
)

func day(d int) time.Time {
	return time.Date(2021, 6, d, 0, 0, 0, 0, time.UTC)
}

func source(accession, code string, d int, shares int64) models.TransactionRecord {
	r := models.TransactionRecord{
		AccessionNumber: accession,
		FiledDate:       day(d),
		IssuerCik:       "0001512673",
		OwnerCik:        "0001234567",
		SecurityTitle:   "Class A Common Stock",
		SecTable:        models.TableNonDerivative,
		TransactionCode: code,
		TransactionDate: day(d),
		Shares:          decimal.NewFromInt(shares),
		Origin:          models.OriginSource,
		SourceID:        models.NoRecord,
	}
	switch {
	case r.IsAcquisition():
		r.AcqDisp = "A"
	case r.IsDisposal():
		r.AcqDisp = "D"
	}
	return r
}

func recordsByOrigin(set *models.RecordSet, origin models.Origin) []*models.TransactionRecord {
	var out []*models.TransactionRecord
	for i := range set.Records {
		if set.Records[i].Origin == origin {
			out = append(out, &set.Records[i])
		}
	}
	return out
}

func TestNormalizeOverDisposalSplit(t *testing.T) {
	// Acquire 500 on day 1, dispose 700 on day 3: the disposal splits
	// into matched 500 + excess 200, and the excess rolls up.
	set := &models.RecordSet{}
	set.Add(source("0001-21-000001", "M", 1, 500))
	saleID := set.Add(source("0001-21-000001", "S", 3, 700))

	res, err := Normalize(set, nil, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Splits)

	sale := set.Get(saleID)
	assert.True(t, sale.Split, "split source is retained and marked")
	assert.True(t, sale.Shares.Equal(decimal.NewFromInt(700)), "source row untouched")

	synthetics := recordsByOrigin(set, models.OriginSynthetic)
	require.Len(t, synthetics, 2)
	assert.True(t, synthetics[0].Shares.Equal(decimal.NewFromInt(500)))
	assert.True(t, synthetics[1].Shares.Equal(decimal.NewFromInt(200)))
	assert.Equal(t, saleID, synthetics[0].SourceID)
	assert.Equal(t, saleID, synthetics[1].SourceID)

	// Conservation: matched + excess == original.
	total := synthetics[0].Shares.Add(synthetics[1].Shares)
	assert.True(t, total.Equal(sale.Shares))

	rollups := recordsByOrigin(set, models.OriginRollup)
	require.Len(t, rollups, 1)
	assert.Equal(t, "Automatic Disposition", rollups[0].AggregateType)
	assert.True(t, rollups[0].Shares.Equal(decimal.NewFromInt(200)))
	require.Len(t, rollups[0].SourceIDs, 1)
	assert.Equal(t, synthetics[1].ID, rollups[0].SourceIDs[0])

	assert.True(t, res.Counters["Table 1|CLASS A COMMON STOCK"].IsZero())
	require.NoError(t, set.Validate())
}

func TestNormalizeWithinCounterNoSplit(t *testing.T) {
	set := &models.RecordSet{}
	set.Add(source("0001-21-000001", "M", 1, 500))
	set.Add(source("0001-21-000001", "S", 3, 300))

	res, err := Normalize(set, nil, Options{})
	require.NoError(t, err)
	assert.Zero(t, res.Splits)
	assert.Len(t, res.Ordered, 2)
	assert.Empty(t, recordsByOrigin(set, models.OriginSynthetic))
	assert.Empty(t, recordsByOrigin(set, models.OriginRollup))
	assert.True(t, res.Counters["Table 1|CLASS A COMMON STOCK"].Equal(decimal.NewFromInt(200)))
}

func TestNormalizeExactDisposalSuppressesZeroRows(t *testing.T) {
	set := &models.RecordSet{}
	set.Add(source("0001-21-000001", "A", 1, 400))
	set.Add(source("0001-21-000001", "S", 2, 400))

	res, err := Normalize(set, nil, Options{})
	require.NoError(t, err)
	assert.Zero(t, res.Splits)
	assert.Empty(t, recordsByOrigin(set, models.OriginSynthetic))
	assert.Empty(t, recordsByOrigin(set, models.OriginRollup))
	_ = res
}

func TestNormalizeEmitZeroSplits(t *testing.T) {
	// With no prior acquisition the matched portion is zero; the option
	// keeps the degenerate row for the audit trail.
	set := &models.RecordSet{}
	set.Add(source("0001-21-000001", "S", 2, 100))

	_, err := Normalize(set, nil, Options{EmitZeroSplits: true})
	require.NoError(t, err)

	synthetics := recordsByOrigin(set, models.OriginSynthetic)
	require.Len(t, synthetics, 2)
	assert.True(t, synthetics[0].Shares.IsZero())
	assert.True(t, synthetics[1].Shares.Equal(decimal.NewFromInt(100)))
}

func TestNormalizeOrderIsChronological(t *testing.T) {
	// The acquisition is filed later in the input but trades earlier,
	// so the disposal must still see its shares.
	set := &models.RecordSet{}
	set.Add(source("0001-21-000002", "S", 3, 500))
	set.Add(source("0001-21-000001", "M", 1, 500))

	res, err := Normalize(set, nil, Options{})
	require.NoError(t, err)
	assert.Zero(t, res.Splits)
	assert.Empty(t, recordsByOrigin(set, models.OriginSynthetic))
}

func TestNormalizeSeparateClasses(t *testing.T) {
	set := &models.RecordSet{}
	set.Add(source("0001-21-000001", "M", 1, 500))
	other := source("0001-21-000001", "S", 2, 500)
	other.SecurityTitle = "Class B Common Stock"
	set.Add(other)

	res, err := Normalize(set, nil, Options{})
	require.NoError(t, err)
	// The Class B sale cannot consume the Class A counter.
	assert.Equal(t, 1, res.Splits)
	assert.True(t, res.Counters["Table 1|CLASS A COMMON STOCK"].Equal(decimal.NewFromInt(500)))
}

func TestNormalizeCarriedCounters(t *testing.T) {
	set := &models.RecordSet{}
	set.Add(source("0001-21-000001", "S", 2, 300))

	counters := Counters{"Table 1|CLASS A COMMON STOCK": decimal.NewFromInt(1000)}
	res, err := Normalize(set, counters, Options{})
	require.NoError(t, err)
	assert.Zero(t, res.Splits)
	assert.True(t, res.Counters["Table 1|CLASS A COMMON STOCK"].Equal(decimal.NewFromInt(700)))
}

func TestNormalizeClassificationError(t *testing.T) {
	set := &models.RecordSet{}
	bad := source("0001-21-000001", "S", 1, 100)
	bad.SecurityTitle = ""
	id := set.Add(bad)

	unknown := source("0001-21-000001", "Q", 2, 50)
	unknownID := set.Add(unknown)

	res, err := Normalize(set, nil, Options{})
	require.NoError(t, err)
	assert.Equal(t, models.FlagClassificationError, set.Get(id).Flag)
	assert.Equal(t, models.FlagClassificationError, set.Get(unknownID).Flag)
	// Flagged records pass through, never dropped.
	assert.Contains(t, res.Ordered, id)
	assert.Contains(t, res.Ordered, unknownID)
	assert.Empty(t, recordsByOrigin(set, models.OriginSynthetic))
}

func TestNormalizeIdempotent(t *testing.T) {
	set := &models.RecordSet{}
	set.Add(source("0001-21-000001", "M", 1, 500))
	set.Add(source("0001-21-000001", "S", 3, 700))

	_, err := Normalize(set, nil, Options{})
	require.NoError(t, err)
	before := set.Len()

	res, err := Normalize(set, nil, Options{})
	require.NoError(t, err)
	assert.Equal(t, before, set.Len(), "second pass adds nothing")
	assert.Zero(t, res.Splits)
}

func TestNormalizeEmptyInput(t *testing.T) {
	set := &models.RecordSet{}
	res, err := Normalize(set, nil, Options{})
	require.NoError(t, err)
	assert.Empty(t, res.Ordered)
}
