package source

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/ppiankov/lodeclaim/internal/fetch"
	"github.com/ppiankov/lodeclaim/internal/model"
)

// LegacyAdapter scrapes the form-based report system. It loads the report
// form, keeps its hidden state fields, submits the configured query and
// scrapes the result tables.
type LegacyAdapter struct {
	cfg     model.LegacySourceConfig
	fetcher *fetch.Fetcher
}

// NewLegacyAdapter creates an adapter for the configured report form.
func NewLegacyAdapter(cfg model.LegacySourceConfig, fetcher *fetch.Fetcher) *LegacyAdapter {
	return &LegacyAdapter{cfg: cfg, fetcher: fetcher}
}

// ID returns the source id.
func (a *LegacyAdapter) ID() string { return a.cfg.ID }

// Kind returns SourceKindLegacy.
func (a *LegacyAdapter) Kind() model.SourceKind { return model.SourceKindLegacy }

// Endpoint returns the report form URL.
func (a *LegacyAdapter) Endpoint() string { return a.cfg.URL }

// Mode returns the configured legacy mode.
func (a *LegacyAdapter) Mode() string {
	if a.cfg.Mode == "" {
		return model.LegacyModeFallback
	}
	return a.cfg.Mode
}

// reportForm is the submission target discovered on the form page.
type reportForm struct {
	action string
	method string
	values url.Values
}

// Fetch loads the form page, then submits the query.
func (a *LegacyAdapter) Fetch(ctx context.Context) (*Payload, error) {
	page, err := a.fetcher.Do(ctx, fetch.Request{
		SourceID:    a.cfg.ID,
		Method:      http.MethodGet,
		URL:         a.cfg.URL,
		CheckRobots: true,
	})
	if err != nil {
		return nil, err
	}

	form := discoverForm(page.Body, page.FinalURL)
	if form == nil {
		form = &reportForm{action: a.cfg.URL, method: http.MethodPost, values: url.Values{}}
	}
	for k, v := range a.cfg.Form {
		form.values.Set(k, v)
	}

	req := fetch.Request{
		SourceID:    a.cfg.ID,
		Method:      form.method,
		URL:         form.action,
		CheckRobots: true,
	}
	if form.method == http.MethodGet {
		u, err := url.Parse(form.action)
		if err != nil {
			return nil, malformed(a.cfg.ID, fmt.Errorf("form action: %w", err))
		}
		u.RawQuery = form.values.Encode()
		req.URL = u.String()
	} else {
		req.Form = form.values
	}

	resp, err := a.fetcher.Do(ctx, req)
	if err != nil {
		return nil, err
	}

	return &Payload{
		SourceID:    a.cfg.ID,
		Kind:        model.SourceKindLegacy,
		URL:         resp.FinalURL,
		ContentType: resp.ContentType,
		Body:        resp.Body,
		RetrievedAt: resp.RetrievedAt,
		Attempts:    page.Attempts + resp.Attempts,
	}, nil
}

// discoverForm returns the first form on the page with its hidden inputs.
func discoverForm(body []byte, pageURL string) *reportForm {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil
	}

	formNode := findFirst(doc, isElement(atom.Form))
	if formNode == nil {
		return nil
	}

	form := &reportForm{
		action: pageURL,
		method: strings.ToUpper(getAttribute(formNode, "method")),
		values: url.Values{},
	}
	if form.method != http.MethodGet {
		form.method = http.MethodPost
	}
	if action := getAttribute(formNode, "action"); action != "" {
		if base, err := url.Parse(pageURL); err == nil {
			if ref, err := base.Parse(action); err == nil {
				form.action = ref.String()
			}
		}
	}

	for _, input := range findAll(formNode, isElement(atom.Input)) {
		if !strings.EqualFold(getAttribute(input, "type"), "hidden") {
			continue
		}
		if name := getAttribute(input, "name"); name != "" {
			form.values.Set(name, getAttribute(input, "value"))
		}
	}

	return form
}

// Parse scrapes every data table of the result page. The native key is the
// first cell of the row; mapping rules decide which column holds the case number.
func (a *LegacyAdapter) Parse(p *Payload) ([]model.RawRecord, error) {
	doc, err := html.Parse(bytes.NewReader(p.Body))
	if err != nil {
		return nil, malformed(a.cfg.ID, fmt.Errorf("parse html: %w", err))
	}

	rows := tableRecords(doc)
	records := make([]model.RawRecord, 0, len(rows))
	for _, fields := range rows {
		records = append(records, model.RawRecord{
			SourceID:    a.cfg.ID,
			SourceKind:  model.SourceKindLegacy,
			NativeKey:   scalarString(fields["col_0"]),
			Fields:      fields,
			RetrievedAt: p.RetrievedAt,
		})
	}
	return records, nil
}

// FormFields returns the configured form keys in sorted order.
func (a *LegacyAdapter) FormFields() []string {
	keys := make([]string, 0, len(a.cfg.Form))
	for k := range a.cfg.Form {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
