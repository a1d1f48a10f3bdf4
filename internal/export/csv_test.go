package export

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"form4recon/internal/models"
)

func sampleSet() (*models.RecordSet, []models.RecordID) {
	set := &models.RecordSet{}
	price := decimal.RequireFromString("220.50")
	src := models.TransactionRecord{
		AccessionNumber: "0001-21-000001",
		FiledDate:       time.Date(2021, 6, 3, 0, 0, 0, 0, time.UTC),
		IssuerCik:       "0001512673",
		IssuerName:      "Block, Inc.",
		OwnerName:       "DOE JANE",
		SecurityTitle:   "Class A Common Stock",
		SecTable:        models.TableNonDerivative,
		TransactionCode: "S",
		TransactionDate: time.Date(2021, 6, 1, 0, 0, 0, 0, time.UTC),
		AcqDisp:         "D",
		Shares:          decimal.NewFromInt(700),
		PricePerShare:   &price,
		Footnotes:       []string{"first note", "second note"},
		Origin:          models.OriginSource,
		SourceID:        models.NoRecord,
		Split:           true,
	}
	srcID := set.Add(src)

	syn := src
	syn.Origin = models.OriginSynthetic
	syn.SourceID = srcID
	syn.Split = false
	syn.Shares = decimal.NewFromInt(500)
	syn.Footnotes = nil
	synID := set.Add(syn)

	ru := models.TransactionRecord{
		AccessionNumber: "0001-21-000001",
		FiledDate:       src.FiledDate,
		Origin:          models.OriginRollup,
		SourceID:        models.NoRecord,
		SourceIDs:       []models.RecordID{synID},
		Shares:          decimal.NewFromInt(500),
		AcqDisp:         "D",
		AggregateType:   "Automatic Disposition",
		Label:           "Automatic Disposition",
		SecTable:        models.TableNonDerivative,
	}
	ruID := set.Add(ru)
	return set, []models.RecordID{ruID, synID, srcID}
}

func TestWriteAndReadRoundTrip(t *testing.T) {
	set, ordered := sampleSet()
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, set, ordered))

	out := buf.String()
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4, "header plus three records")
	assert.True(t, strings.HasPrefix(lines[1], "ROLLUP,"), "rollup above its sources")

	got, gotOrder, err := Read(&buf)
	require.NoError(t, err)
	require.Len(t, gotOrder, 3)

	ru := got.Get(gotOrder[0])
	assert.Equal(t, models.OriginRollup, ru.Origin)
	assert.Equal(t, "Automatic Disposition", ru.AggregateType)
	assert.True(t, ru.Shares.Equal(decimal.NewFromInt(500)))

	src := got.Get(gotOrder[2])
	assert.Equal(t, models.OriginSource, src.Origin)
	assert.True(t, src.Split, "split marker survives the round trip")
	assert.True(t, src.Shares.Equal(decimal.NewFromInt(700)))
	require.NotNil(t, src.PricePerShare)
	assert.True(t, src.PricePerShare.Equal(decimal.RequireFromString("220.50")))
	assert.Equal(t, time.Date(2021, 6, 1, 0, 0, 0, 0, time.UTC), src.TransactionDate)
}

func TestWriteJoinsFootnotes(t *testing.T) {
	set, ordered := sampleSet()
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, set, ordered))
	assert.Contains(t, buf.String(), "first note | second note")
}

func TestWriteSignedSharesAndValue(t *testing.T) {
	set, ordered := sampleSet()
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, set, ordered))
	// 700 disposed at 220.50.
	assert.Contains(t, buf.String(), "-700")
	assert.Contains(t, buf.String(), "154350")
}

func TestFilename(t *testing.T) {
	set, ordered := sampleSet()
	// First ordered record is the rollup with no names; reorder so the
	// named source leads.
	name := Filename(set, []models.RecordID{ordered[2]}, time.Date(2026, 1, 9, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, "BlockInc_DOEJANE_09.01.26.csv", name)

	assert.Equal(t, "output.csv", Filename(set, nil, time.Now()))
}

func TestReadEmpty(t *testing.T) {
	set, ordered, err := Read(strings.NewReader(""))
	require.NoError(t, err)
	assert.Zero(t, set.Len())
	assert.Empty(t, ordered)
}
