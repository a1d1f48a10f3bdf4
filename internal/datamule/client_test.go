package datamule

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"form4recon/internal/store"
)

const sgmlBody = `<SEC-DOCUMENT>0001209191-21-038188.txt
<SEC-HEADER>
FILED AS OF DATE:		20210603
</SEC-HEADER>
<DOCUMENT>
<TYPE>4
<SEQUENCE>1
<TEXT>
<XML>
<ownershipDocument>
  <issuer><issuerCik>0001512673</issuerCik></issuer>
</ownershipDocument>
</XML>
</TEXT>
</DOCUMENT>
</SEC-DOCUMENT>`

func TestListAccessionsPaginates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "reporting-owner", r.URL.Query().Get("table"))
		require.Equal(t, "1234567", r.URL.Query().Get("rptOwnerCik"))
		switch r.URL.Query().Get("page") {
		case "1":
			fmt.Fprint(w, `{"data":[{"accessionNumber":"0001-21-000001"},{"accessionNumber":"0001-21-000002"}],"pagination":{"totalPages":2}}`)
		case "2":
			// Duplicate from page 1 plus one new.
			fmt.Fprint(w, `{"data":[{"accessionNumber":"0001-21-000002"},{"accessionNumber":"0001-21-000003"}],"pagination":{"totalPages":2}}`)
		default:
			t.Errorf("unexpected page %s", r.URL.Query().Get("page"))
		}
	}))
	defer srv.Close()

	c := &Client{APIKey: "test", APIBase: srv.URL}
	accs, err := c.ListAccessions(context.Background(), "1234567", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"0001-21-000001", "0001-21-000002", "0001-21-000003"}, accs)
}

func TestListAccessionsRequiresKey(t *testing.T) {
	c := &Client{}
	_, err := c.ListAccessions(context.Background(), "1234567", 0)
	assert.Error(t, err)
}

func TestFetchFilingExtractsDocument(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/000120919121038188.sgml", r.URL.Path)
		fmt.Fprint(w, sgmlBody)
	}))
	defer srv.Close()

	c := &Client{APIKey: "test", LibraryBase: srv.URL}
	f, err := c.FetchFiling(context.Background(), "0001209191-21-038188")
	require.NoError(t, err)
	assert.Equal(t, "0001209191-21-038188", f.AccessionNumber)
	assert.Equal(t, "4", f.FormType)
	assert.Equal(t, time.Date(2021, 6, 3, 0, 0, 0, 0, time.UTC), f.FiledDate)
	assert.Contains(t, string(f.XML), "<ownershipDocument>")
	assert.Contains(t, string(f.XML), "</ownershipDocument>")
	assert.NotContains(t, string(f.XML), "SEC-HEADER")
}

func TestFetchFilingUsesCache(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		fmt.Fprint(w, sgmlBody)
	}))
	defer srv.Close()

	cache, err := store.Open(filepath.Join(t.TempDir(), "filings.db"))
	require.NoError(t, err)
	defer cache.Close()

	c := &Client{APIKey: "test", LibraryBase: srv.URL, Cache: cache}
	_, err = c.FetchFiling(context.Background(), "0001209191-21-038188")
	require.NoError(t, err)
	_, err = c.FetchFiling(context.Background(), "0001209191-21-038188")
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load(), "second fetch served from cache")
}

func TestFetchAllRestoresOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, sgmlBody)
	}))
	defer srv.Close()

	c := &Client{APIKey: "test", LibraryBase: srv.URL}
	accs := []string{"0001-21-000003", "0001-21-000001", "0001-21-000002"}
	filings, err := c.FetchAll(context.Background(), accs)
	require.NoError(t, err)
	require.Len(t, filings, 3)
	for i, f := range filings {
		assert.Equal(t, accs[i], f.AccessionNumber)
	}
}

func TestExtractOwnershipDocumentMissing(t *testing.T) {
	_, err := extractOwnershipDocument("0001-21-000001", []byte("<SEC-DOCUMENT>no xml here</SEC-DOCUMENT>"))
	assert.Error(t, err)
}

func TestFormatAccession(t *testing.T) {
	assert.Equal(t, "000120919121038188", formatAccession("0001209191-21-038188"))
	assert.Equal(t, "000000000000000001", formatAccession("1"))
}
