package edgar

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
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
	defaultSubmissionsBase = "https://data.sec.gov"
	defaultArchivesBase    = "https://www.sec.gov"

	fetchWorkers = 4
)

// ownershipForms are the insider-ownership form types worth harvesting.
var ownershipForms = map[string]bool{
	"3": true, "3/A": true,
	"4": true, "4/A": true,
	"5": true, "5/A": true,
}

// Client is the free acquisition path: SEC's bulk submissions index
// plus the EDGAR archives. SEC requires an identifying User-Agent on
// every request.
type Client struct {
	SubmissionsBase string
	ArchivesBase    string
	UserAgent       string
	Cache           *store.Store
}

func New(cache *store.Store) *Client {
	return &Client{
		SubmissionsBase: defaultSubmissionsBase,
		ArchivesBase:    defaultArchivesBase,
		UserAgent:       config.SECUserAgent,
		Cache:           cache,
	}
}

// FilingRef identifies one filing in the submissions index.
type FilingRef struct {
	Accession       string
	PrimaryDocument string
	FormType        string
	FiledDate       time.Time
}

// submissionsPage is the columnar layout of data.sec.gov submissions
// JSON: parallel arrays indexed together.
type submissionsPage struct {
	Form            []string `json:"form"`
	AccessionNumber []string `json:"accessionNumber"`
	PrimaryDocument []string `json:"primaryDocument"`
	FilingDate      []string `json:"filingDate"`
}

type submissionsRoot struct {
	Filings struct {
		Recent submissionsPage `json:"recent"`
		Files  []struct {
			Name string `json:"name"`
		} `json:"files"`
	} `json:"filings"`
}

// ListFilings enumerates every Form 3/4/5 filing for a CIK, walking the
// recent page and all older pages, deduplicated and ordered newest
// filed-date first.
func (c *Client) ListFilings(ctx context.Context, cik string) ([]FilingRef, error) {
	cik10 := PadCIK(cik)
	var root submissionsRoot
	if err := c.getJSON(ctx, fmt.Sprintf("%s/submissions/CIK%s.json", c.SubmissionsBase, cik10), &root); err != nil {
		return nil, fmt.Errorf("edgar: submissions for CIK %s: %w", cik10, err)
	}

	refs := harvest(root.Filings.Recent)
	for _, f := range root.Filings.Files {
		url := fmt.Sprintf("%s/submissions/%s", c.SubmissionsBase, f.Name)
		body, err := httpclient.GetWithRetry(ctx, url, c.UserAgent)
		if err != nil {
			logger.Warn("skipping submissions page", zap.String("name", f.Name), zap.Error(err))
			continue
		}
		// Older pages are flat column arrays; some vintages wrap them
		// like the root document.
		var flat submissionsPage
		if err := json.Unmarshal(body, &flat); err == nil && len(flat.Form) > 0 {
			refs = append(refs, harvest(flat)...)
			continue
		}
		var wrapped submissionsRoot
		if err := json.Unmarshal(body, &wrapped); err == nil {
			refs = append(refs, harvest(wrapped.Filings.Recent)...)
		}
	}

	sort.SliceStable(refs, func(i, j int) bool { return refs[i].FiledDate.After(refs[j].FiledDate) })
	seen := make(map[string]bool, len(refs))
	out := refs[:0]
	for _, r := range refs {
		if seen[r.Accession] {
			continue
		}
		seen[r.Accession] = true
		out = append(out, r)
	}
	logger.Info("listed filings", zap.String("cik", cik10), zap.Int("filings", len(out)))
	return out, nil
}

func harvest(page submissionsPage) []FilingRef {
	var refs []FilingRef
	for i, form := range page.Form {
		if !ownershipForms[form] {
			continue
		}
		if i >= len(page.AccessionNumber) {
			break
		}
		ref := FilingRef{Accession: page.AccessionNumber[i], FormType: form}
		if i < len(page.PrimaryDocument) {
			ref.PrimaryDocument = page.PrimaryDocument[i]
		}
		if i < len(page.FilingDate) {
			if d, err := time.Parse("2006-01-02", page.FilingDate[i]); err == nil {
				ref.FiledDate = d
			}
		}
		refs = append(refs, ref)
	}
	return refs
}

// FetchFiling downloads the ownership XML for one filing: the primary
// document first, then every .xml in the filing's index.json until one
// contains an ownership document.
func (c *Client) FetchFiling(ctx context.Context, cik string, ref FilingRef) (form4.Filing, error) {
	maxAge := time.Duration(config.CacheMaxAgeHours) * time.Hour
	if c.Cache != nil {
		if doc, ok, err := c.Cache.Get(ref.Accession, maxAge); err == nil && ok {
			return form4.Filing{AccessionNumber: ref.Accession, FiledDate: ref.FiledDate, FormType: ref.FormType, XML: doc}, nil
		}
	}

	baseDir := fmt.Sprintf("%s/Archives/edgar/data/%s/%s",
		c.ArchivesBase, strings.TrimLeft(PadCIK(cik), "0"), strings.ReplaceAll(ref.Accession, "-", ""))

	if ref.PrimaryDocument != "" {
		if xml, ok := c.tryXML(ctx, baseDir+"/"+ref.PrimaryDocument); ok {
			return c.finish(ref, xml), nil
		}
	}

	var idx struct {
		Directory struct {
			Item []struct {
				Name string `json:"name"`
			} `json:"item"`
		} `json:"directory"`
	}
	if err := c.getJSON(ctx, baseDir+"/index.json", &idx); err != nil {
		return form4.Filing{}, fmt.Errorf("edgar: index for %s: %w", ref.Accession, err)
	}
	for _, item := range idx.Directory.Item {
		if !strings.HasSuffix(strings.ToLower(item.Name), ".xml") {
			continue
		}
		if xml, ok := c.tryXML(ctx, baseDir+"/"+item.Name); ok {
			return c.finish(ref, xml), nil
		}
	}
	return form4.Filing{}, fmt.Errorf("edgar: no ownership XML found for %s", ref.Accession)
}

// FetchAll downloads filings concurrently, preserving input order.
func (c *Client) FetchAll(ctx context.Context, cik string, refs []FilingRef) ([]form4.Filing, error) {
	results := make([]*form4.Filing, len(refs))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchWorkers)
	for i, ref := range refs {
		g.Go(func() error {
			f, err := c.FetchFiling(ctx, cik, ref)
			if err != nil {
				logger.Warn("skipping filing", zap.String("accession", ref.Accession), zap.Error(err))
				return nil
			}
			results[i] = &f
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	out := make([]form4.Filing, 0, len(refs))
	for _, f := range results {
		if f != nil {
			out = append(out, *f)
		}
	}
	return out, nil
}

func (c *Client) tryXML(ctx context.Context, url string) ([]byte, bool) {
	body, err := httpclient.GetWithRetry(ctx, url, c.UserAgent)
	if err != nil {
		return nil, false
	}
	text := strings.TrimSpace(string(body))
	if !strings.HasPrefix(text, "<") || !strings.Contains(text, "<ownershipDocument") {
		return nil, false
	}
	return body, true
}

func (c *Client) finish(ref FilingRef, xml []byte) form4.Filing {
	if c.Cache != nil {
		if err := c.Cache.Put(ref.Accession, ref.FiledDate, xml); err != nil {
			logger.Warn("cache write failed", zap.String("accession", ref.Accession), zap.Error(err))
		}
	}
	return form4.Filing{
		AccessionNumber: ref.Accession,
		FiledDate:       ref.FiledDate,
		FormType:        ref.FormType,
		XML:             xml,
	}
}

func (c *Client) getJSON(ctx context.Context, url string, v interface{}) error {
	body, err := httpclient.GetWithRetry(ctx, url, c.UserAgent)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, v)
}

// PadCIK zero-pads a CIK to the 10 digits the submissions API expects.
func PadCIK(cik string) string {
	cik = strings.TrimSpace(cik)
	for len(cik) < 10 {
		cik = "0" + cik
	}
	return cik
}
