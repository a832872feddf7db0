package tools

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidArguments marks malformed tool invocations.
var ErrInvalidArguments = errors.New("invalid arguments")

var (
	searchDepths = []string{"basic", "advanced"}
	topics       = []string{"general", "news"}
	timeRanges   = []string{"day", "week", "month", "year", "d", "w", "m", "y"}
	formats      = []string{"markdown", "text"}
	categories   = []string{"Careers", "Blog", "Documentation", "About", "Pricing", "Community", "Developers", "Contact", "Media"}

	datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
)

const (
	minSearchResults = 5
	maxSearchResults = 20
)

// SearchArgs defines the arguments for the tavily-search tool.
type SearchArgs struct {
	Query                    string   `json:"query" jsonschema:"Search query"`
	SearchDepth              string   `json:"search_depth,omitempty" jsonschema:"basic or advanced, default basic"`
	Topic                    string   `json:"topic,omitempty" jsonschema:"general or news, default general"`
	Days                     *int     `json:"days,omitempty" jsonschema:"Days back from today to include, news topic only, default 3"`
	TimeRange                string   `json:"time_range,omitempty" jsonschema:"day, week, month, year (or d, w, m, y) back from today"`
	StartDate                string   `json:"start_date,omitempty" jsonschema:"Only results after this date, YYYY-MM-DD"`
	EndDate                  string   `json:"end_date,omitempty" jsonschema:"Only results before this date, YYYY-MM-DD"`
	MaxResults               *int     `json:"max_results,omitempty" jsonschema:"Number of results, 5 to 20, default 10"`
	IncludeImages            bool     `json:"include_images,omitempty" jsonschema:"Include query-related images"`
	IncludeImageDescriptions bool     `json:"include_image_descriptions,omitempty" jsonschema:"Include descriptions for images"`
	IncludeRawContent        bool     `json:"include_raw_content,omitempty" jsonschema:"Include the cleaned HTML content of each result"`
	IncludeDomains           []string `json:"include_domains,omitempty" jsonschema:"Domains to restrict results to"`
	ExcludeDomains           []string `json:"exclude_domains,omitempty" jsonschema:"Domains to exclude from results"`
	Country                  string   `json:"country,omitempty" jsonschema:"Boost results from this country, general topic only"`
	IncludeFavicon           bool     `json:"include_favicon,omitempty" jsonschema:"Include the favicon URL of each result"`
}

// ExtractArgs defines the arguments for the tavily-extract tool.
type ExtractArgs struct {
	URLs           []string `json:"urls" jsonschema:"URLs to extract content from"`
	ExtractDepth   string   `json:"extract_depth,omitempty" jsonschema:"basic or advanced, default basic"`
	IncludeImages  bool     `json:"include_images,omitempty" jsonschema:"Include images found on the pages"`
	Format         string   `json:"format,omitempty" jsonschema:"markdown or text, default markdown"`
	IncludeFavicon bool     `json:"include_favicon,omitempty" jsonschema:"Include the favicon URL of each result"`
}

// CrawlArgs defines the arguments for the tavily-crawl tool.
type CrawlArgs struct {
	URL            string   `json:"url" jsonschema:"Root URL to begin the crawl"`
	MaxDepth       *int     `json:"max_depth,omitempty" jsonschema:"How far from the base URL to explore, default 1"`
	MaxBreadth     *int     `json:"max_breadth,omitempty" jsonschema:"Links to follow per page, default 20"`
	Limit          *int     `json:"limit,omitempty" jsonschema:"Total links to process before stopping, default 50"`
	Instructions   string   `json:"instructions,omitempty" jsonschema:"Natural language instructions for the crawler"`
	SelectPaths    []string `json:"select_paths,omitempty" jsonschema:"Regex patterns selecting URL paths"`
	SelectDomains  []string `json:"select_domains,omitempty" jsonschema:"Regex patterns selecting domains"`
	AllowExternal  bool     `json:"allow_external,omitempty" jsonschema:"Follow links to external domains"`
	Categories     []string `json:"categories,omitempty" jsonschema:"Careers, Blog, Documentation, About, Pricing, Community, Developers, Contact, Media"`
	ExtractDepth   string   `json:"extract_depth,omitempty" jsonschema:"basic or advanced, default basic"`
	Format         string   `json:"format,omitempty" jsonschema:"markdown or text, default markdown"`
	IncludeFavicon bool     `json:"include_favicon,omitempty" jsonschema:"Include the favicon URL of each result"`
}

// MapArgs defines the arguments for the tavily-map tool.
type MapArgs struct {
	URL           string   `json:"url" jsonschema:"Root URL to begin the mapping"`
	MaxDepth      *int     `json:"max_depth,omitempty" jsonschema:"How far from the base URL to explore, default 1"`
	MaxBreadth    *int     `json:"max_breadth,omitempty" jsonschema:"Links to follow per page, default 20"`
	Limit         *int     `json:"limit,omitempty" jsonschema:"Total links to process before stopping, default 50"`
	Instructions  string   `json:"instructions,omitempty" jsonschema:"Natural language instructions for the crawler"`
	SelectPaths   []string `json:"select_paths,omitempty" jsonschema:"Regex patterns selecting URL paths"`
	SelectDomains []string `json:"select_domains,omitempty" jsonschema:"Regex patterns selecting domains"`
	AllowExternal bool     `json:"allow_external,omitempty" jsonschema:"Follow links to external domains"`
	Categories    []string `json:"categories,omitempty" jsonschema:"Careers, Blog, Documentation, About, Pricing, Community, Developers, Contact, Media"`
}

// StatsArgs takes nothing.
type StatsArgs struct{}

// Provider request bodies. Field order is fixed so equal arguments produce equal cache keys.

type searchRequest struct {
	Query                    string   `json:"query"`
	SearchDepth              string   `json:"search_depth"`
	Topic                    string   `json:"topic"`
	Days                     int      `json:"days,omitempty"`
	TimeRange                string   `json:"time_range,omitempty"`
	StartDate                string   `json:"start_date,omitempty"`
	EndDate                  string   `json:"end_date,omitempty"`
	MaxResults               int      `json:"max_results"`
	IncludeImages            bool     `json:"include_images"`
	IncludeImageDescriptions bool     `json:"include_image_descriptions"`
	IncludeRawContent        bool     `json:"include_raw_content"`
	IncludeDomains           []string `json:"include_domains"`
	ExcludeDomains           []string `json:"exclude_domains"`
	Country                  string   `json:"country,omitempty"`
	IncludeFavicon           bool     `json:"include_favicon"`
}

type extractRequest struct {
	URLs           []string `json:"urls"`
	ExtractDepth   string   `json:"extract_depth"`
	IncludeImages  bool     `json:"include_images"`
	Format         string   `json:"format"`
	IncludeFavicon bool     `json:"include_favicon"`
}

type crawlRequest struct {
	URL            string   `json:"url"`
	MaxDepth       int      `json:"max_depth"`
	MaxBreadth     int      `json:"max_breadth"`
	Limit          int      `json:"limit"`
	Instructions   string   `json:"instructions,omitempty"`
	SelectPaths    []string `json:"select_paths"`
	SelectDomains  []string `json:"select_domains"`
	AllowExternal  bool     `json:"allow_external"`
	Categories     []string `json:"categories"`
	ExtractDepth   string   `json:"extract_depth,omitempty"`
	Format         string   `json:"format,omitempty"`
	IncludeFavicon bool     `json:"include_favicon,omitempty"`
}

func (a SearchArgs) request() (searchRequest, error) {
	query := strings.TrimSpace(a.Query)
	if query == "" {
		return searchRequest{}, fmt.Errorf("%w: query is required", ErrInvalidArguments)
	}
	req := searchRequest{
		Query:                    query,
		SearchDepth:              orDefault(a.SearchDepth, "basic"),
		Topic:                    orDefault(a.Topic, "general"),
		TimeRange:                a.TimeRange,
		StartDate:                a.StartDate,
		EndDate:                  a.EndDate,
		MaxResults:               clamp(intOr(a.MaxResults, 10), minSearchResults, maxSearchResults),
		IncludeImages:            a.IncludeImages,
		IncludeImageDescriptions: a.IncludeImageDescriptions,
		IncludeRawContent:        a.IncludeRawContent,
		IncludeDomains:           nonNil(a.IncludeDomains),
		ExcludeDomains:           nonNil(a.ExcludeDomains),
		Country:                  a.Country,
		IncludeFavicon:           a.IncludeFavicon,
	}
	if err := oneOf("search_depth", req.SearchDepth, searchDepths); err != nil {
		return searchRequest{}, err
	}
	if err := oneOf("topic", req.Topic, topics); err != nil {
		return searchRequest{}, err
	}
	if req.TimeRange != "" {
		if err := oneOf("time_range", req.TimeRange, timeRanges); err != nil {
			return searchRequest{}, err
		}
	}
	for name, d := range map[string]string{"start_date": req.StartDate, "end_date": req.EndDate} {
		if d != "" && !datePattern.MatchString(d) {
			return searchRequest{}, fmt.Errorf("%w: %s must be YYYY-MM-DD, got %q", ErrInvalidArguments, name, d)
		}
	}
	if strings.Contains(strings.ToLower(query), "news") {
		req.Topic = "news"
	}
	if req.Topic == "news" {
		req.Days = intOr(a.Days, 3)
		req.Country = ""
	}
	return req, nil
}

func (a ExtractArgs) request() (extractRequest, error) {
	urls := compact(a.URLs)
	if len(urls) == 0 {
		return extractRequest{}, fmt.Errorf("%w: urls is required", ErrInvalidArguments)
	}
	req := extractRequest{
		URLs:           urls,
		ExtractDepth:   orDefault(a.ExtractDepth, "basic"),
		IncludeImages:  a.IncludeImages,
		Format:         orDefault(a.Format, "markdown"),
		IncludeFavicon: a.IncludeFavicon,
	}
	if err := oneOf("extract_depth", req.ExtractDepth, searchDepths); err != nil {
		return extractRequest{}, err
	}
	if err := oneOf("format", req.Format, formats); err != nil {
		return extractRequest{}, err
	}
	return req, nil
}

func (a CrawlArgs) request() (crawlRequest, error) {
	req, err := MapArgs{
		URL:           a.URL,
		MaxDepth:      a.MaxDepth,
		MaxBreadth:    a.MaxBreadth,
		Limit:         a.Limit,
		Instructions:  a.Instructions,
		SelectPaths:   a.SelectPaths,
		SelectDomains: a.SelectDomains,
		AllowExternal: a.AllowExternal,
		Categories:    a.Categories,
	}.request()
	if err != nil {
		return crawlRequest{}, err
	}
	req.ExtractDepth = orDefault(a.ExtractDepth, "basic")
	req.Format = orDefault(a.Format, "markdown")
	req.IncludeFavicon = a.IncludeFavicon
	if err := oneOf("extract_depth", req.ExtractDepth, searchDepths); err != nil {
		return crawlRequest{}, err
	}
	if err := oneOf("format", req.Format, formats); err != nil {
		return crawlRequest{}, err
	}
	return req, nil
}

func (a MapArgs) request() (crawlRequest, error) {
	url := strings.TrimSpace(a.URL)
	if url == "" {
		return crawlRequest{}, fmt.Errorf("%w: url is required", ErrInvalidArguments)
	}
	req := crawlRequest{
		URL:           url,
		MaxDepth:      intOr(a.MaxDepth, 1),
		MaxBreadth:    intOr(a.MaxBreadth, 20),
		Limit:         intOr(a.Limit, 50),
		Instructions:  a.Instructions,
		SelectPaths:   nonNil(a.SelectPaths),
		SelectDomains: nonNil(a.SelectDomains),
		AllowExternal: a.AllowExternal,
		Categories:    nonNil(a.Categories),
	}
	if req.MaxDepth < 1 || req.MaxBreadth < 1 || req.Limit < 1 {
		return crawlRequest{}, fmt.Errorf("%w: max_depth, max_breadth and limit must be at least 1", ErrInvalidArguments)
	}
	for _, c := range req.Categories {
		if err := oneOf("categories", c, categories); err != nil {
			return crawlRequest{}, err
		}
	}
	return req, nil
}

func oneOf(field, v string, allowed []string) error {
	for _, a := range allowed {
		if v == a {
			return nil
		}
	}
	return fmt.Errorf("%w: %s must be one of %s, got %q", ErrInvalidArguments, field, strings.Join(allowed, ", "), v)
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func intOr(v *int, def int) int {
	if v == nil || *v == 0 {
		return def
	}
	return *v
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func compact(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
