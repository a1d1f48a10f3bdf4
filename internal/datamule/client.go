package datamule

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"form4recon/internal/config"
	"form4recon/internal/form4"
	"form4recon/internal/httpclient"
	"form4recon/internal/logger"
	"form4recon/internal/store"
)

const (
	defaultAPIBase     = "https://api.datamule.xyz"
	defaultLibraryBase = "https://sec-library.datamule.xyz"

	pageSize     = 100
	fetchWorkers = 8
)

var (
	filedDateRe = regexp.MustCompile(`FILED AS OF DATE:\s*(\d{8})`)
	docTypeRe   = regexp.MustCompile(`<TYPE>\s*([0-9]+(?:/A)?)`)
)

// Client talks to the paid Datamule insider-transactions API and its
// SGML filing library. Cache is optional; when set, filings are served
// read-through from it.
type Client struct {
	APIKey      string
	APIBase     string
	LibraryBase string
	Cache       *store.Store
}

func New(cache *store.Store) *Client {
	return &Client{
		APIKey:      config.DatamuleAPIKey,
		APIBase:     defaultAPIBase,
		LibraryBase: defaultLibraryBase,
		Cache:       cache,
	}
}

type listResponse struct {
	Data []struct {
		AccessionNumber string `json:"accessionNumber"`
	} `json:"data"`
	Pagination struct {
		TotalPages int `json:"totalPages"`
	} `json:"pagination"`
}

// ListAccessions pages through the reporting-owner table and returns
// the owner's accession numbers, deduplicated in API order (newest
// first). maxPages <= 0 means all pages.
func (c *Client) ListAccessions(ctx context.Context, ownerCik string, maxPages int) ([]string, error) {
	if c.APIKey == "" {
		return nil, fmt.Errorf("datamule: DATAMULE_API_KEY is not set")
	}

	seen := make(map[string]bool)
	var out []string
	for page := 1; ; page++ {
		params := url.Values{}
		params.Set("table", "reporting-owner")
		params.Set("rptOwnerCik", ownerCik)
		params.Set("page", strconv.Itoa(page))
		params.Set("pageSize", strconv.Itoa(pageSize))
		params.Set("api_key", c.APIKey)

		body, err := httpclient.GetWithRetry(ctx, c.APIBase+"/insider-transactions?"+params.Encode(), "")
		if err != nil {
			return nil, fmt.Errorf("datamule: list page %d: %w", page, err)
		}
		var resp listResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("datamule: list page %d: %w", page, err)
		}
		if len(resp.Data) == 0 {
			break
		}
		for _, r := range resp.Data {
			if r.AccessionNumber != "" && !seen[r.AccessionNumber] {
				seen[r.AccessionNumber] = true
				out = append(out, r.AccessionNumber)
			}
		}
		if page >= resp.Pagination.TotalPages {
			break
		}
		if maxPages > 0 && page >= maxPages {
			break
		}
	}
	logger.Info("listed filings", zap.String("ownerCik", ownerCik), zap.Int("accessions", len(out)))
	return out, nil
}

// FetchFiling downloads one SGML filing and extracts its ownership
// document. Cached copies younger than the configured max age are used
// instead of refetching.
func (c *Client) FetchFiling(ctx context.Context, accession string) (form4.Filing, error) {
	maxAge := time.Duration(config.CacheMaxAgeHours) * time.Hour
	if c.Cache != nil {
		if doc, ok, err := c.Cache.Get(accession, maxAge); err == nil && ok {
			filed, _, _ := c.Cache.FiledDate(accession)
			return form4.Filing{AccessionNumber: accession, FiledDate: filed, XML: doc}, nil
		}
	}

	sgmlURL := fmt.Sprintf("%s/%s.sgml", c.LibraryBase, formatAccession(accession))
	body, err := httpclient.GetWithRetry(ctx, sgmlURL, "")
	if err != nil {
		return form4.Filing{}, fmt.Errorf("datamule: fetch %s: %w", accession, err)
	}

	f, err := extractOwnershipDocument(accession, body)
	if err != nil {
		return form4.Filing{}, err
	}
	if c.Cache != nil {
		if err := c.Cache.Put(accession, f.FiledDate, f.XML); err != nil {
			logger.Warn("cache write failed", zap.String("accession", accession), zap.Error(err))
		}
	}
	return f, nil
}

// FetchAll downloads the given accessions concurrently and returns the
// filings in the input order; the splitter downstream depends on it.
// Filings without an ownership document are skipped with a warning.
func (c *Client) FetchAll(ctx context.Context, accessions []string) ([]form4.Filing, error) {
	results := make([]*form4.Filing, len(accessions))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchWorkers)
	for i, acc := range accessions {
		g.Go(func() error {
			f, err := c.FetchFiling(ctx, acc)
			if err != nil {
				logger.Warn("skipping filing", zap.String("accession", acc), zap.Error(err))
				return nil
			}
			results[i] = &f
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]form4.Filing, 0, len(accessions))
	for _, f := range results {
		if f != nil {
			out = append(out, *f)
		}
	}
	return out, nil
}

// extractOwnershipDocument pulls the <ownershipDocument> XML and the
// filing metadata out of a raw SGML submission.
func extractOwnershipDocument(accession string, sgml []byte) (form4.Filing, error) {
	text := string(sgml)
	start := strings.Index(text, "<ownershipDocument>")
	end := strings.Index(text, "</ownershipDocument>")
	if start < 0 || end < 0 || end < start {
		return form4.Filing{}, fmt.Errorf("datamule: %s has no ownership document", accession)
	}
	f := form4.Filing{
		AccessionNumber: accession,
		XML:             []byte(text[start : end+len("</ownershipDocument>")]),
	}
	if m := filedDateRe.FindStringSubmatch(text); m != nil {
		if d, err := time.Parse("20060102", m[1]); err == nil {
			f.FiledDate = d
		}
	}
	if m := docTypeRe.FindStringSubmatch(text); m != nil {
		f.FormType = m[1]
	}
	return f, nil
}

// formatAccession renders an accession as the 18-digit dashless form
// the SGML library URLs use.
func formatAccession(accession string) string {
	acc := strings.ReplaceAll(strings.TrimSpace(accession), "-", "")
	for len(acc) < 18 {
		acc = "0" + acc
	}
	return acc
}
