package tools

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode"
)

const (
	crawlPreviewChars = 200
	truncatedMarker   = "\n\n[Response truncated]"
)

type searchResult struct {
	Title      string `json:"title"`
	URL        string `json:"url"`
	Content    string `json:"content"`
	RawContent string `json:"raw_content"`
	Favicon    string `json:"favicon"`
}

type image struct {
	URL         string `json:"url"`
	Description string `json:"description"`
}

// UnmarshalJSON accepts either a bare URL string or an object.
func (i *image) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		i.URL = s
		return nil
	}
	type alias image
	return json.Unmarshal(data, (*alias)(i))
}

type searchResponse struct {
	Answer  string         `json:"answer"`
	Results []searchResult `json:"results"`
	Images  []image        `json:"images"`
}

type failedResult struct {
	URL   string `json:"url"`
	Error string `json:"error"`
}

type extractResponse struct {
	Results       []searchResult `json:"results"`
	FailedResults []failedResult `json:"failed_results"`
}

type crawlResponse struct {
	BaseURL string         `json:"base_url"`
	Results []searchResult `json:"results"`
}

type mapResponse struct {
	BaseURL string   `json:"base_url"`
	Results []string `json:"results"`
}

func formatSearch(raw []byte) (string, error) {
	var resp searchResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("decode search response: %w", err)
	}

	var b strings.Builder
	if resp.Answer != "" {
		fmt.Fprintf(&b, "Answer: %s\n", resp.Answer)
	}
	b.WriteString("Detailed Results:")
	writeResults(&b, resp.Results)
	writeImages(&b, resp.Images)
	return b.String(), nil
}

func formatExtract(raw []byte) (string, error) {
	var resp extractResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("decode extract response: %w", err)
	}

	var b strings.Builder
	b.WriteString("Detailed Results:")
	writeResults(&b, resp.Results)
	if len(resp.FailedResults) > 0 {
		b.WriteString("\n\nFailed URLs:")
		for _, f := range resp.FailedResults {
			fmt.Fprintf(&b, "\n%s: %s", f.URL, f.Error)
		}
	}
	return b.String(), nil
}

func formatCrawl(raw []byte) (string, error) {
	var resp crawlResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("decode crawl response: %w", err)
	}

	var b strings.Builder
	b.WriteString("Crawl Results:\n")
	fmt.Fprintf(&b, "Base URL: %s\n", resp.BaseURL)
	b.WriteString("\nCrawled Pages:")
	for i, page := range resp.Results {
		fmt.Fprintf(&b, "\n\n[%d] URL: %s", i+1, page.URL)
		if page.RawContent != "" {
			fmt.Fprintf(&b, "\nContent: %s", preview(page.RawContent, crawlPreviewChars))
		}
		if page.Favicon != "" {
			fmt.Fprintf(&b, "\nFavicon: %s", page.Favicon)
		}
	}
	return b.String(), nil
}

func formatMap(raw []byte) (string, error) {
	var resp mapResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("decode map response: %w", err)
	}

	var b strings.Builder
	b.WriteString("Site Map Results:\n")
	fmt.Fprintf(&b, "Base URL: %s\n", resp.BaseURL)
	b.WriteString("\nMapped Pages:")
	for i, url := range resp.Results {
		fmt.Fprintf(&b, "\n\n[%d] URL: %s", i+1, url)
	}
	return b.String(), nil
}

func writeResults(b *strings.Builder, results []searchResult) {
	for _, r := range results {
		b.WriteString("\n")
		if r.Title != "" {
			fmt.Fprintf(b, "\nTitle: %s", r.Title)
		}
		fmt.Fprintf(b, "\nURL: %s", r.URL)
		if r.Content != "" {
			fmt.Fprintf(b, "\nContent: %s", r.Content)
		}
		if r.RawContent != "" {
			fmt.Fprintf(b, "\nRaw Content: %s", r.RawContent)
		}
		if r.Favicon != "" {
			fmt.Fprintf(b, "\nFavicon: %s", r.Favicon)
		}
	}
}

func writeImages(b *strings.Builder, images []image) {
	if len(images) == 0 {
		return
	}
	b.WriteString("\n\nImages:")
	for i, img := range images {
		fmt.Fprintf(b, "\n\n[%d] URL: %s", i+1, img.URL)
		if img.Description != "" {
			fmt.Fprintf(b, "\n   Description: %s", img.Description)
		}
	}
}

// preview cuts s to n runes and appends an ellipsis when it was longer.
func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// Sanitize removes control and byte-order characters that break JSON-RPC
// framing on some clients, keeping newlines and tabs, and truncates the text
// to maxChars runes (0 disables truncation).
func Sanitize(s string, maxChars int) string {
	clean := strings.Map(func(r rune) rune {
		switch {
		case r == '\n' || r == '\t':
			return r
		case r == '\r':
			return -1
		case unicode.IsControl(r):
			return -1
		case r == '\uFEFF' || r == '\uFFFE' || r == '\uFFFF':
			return -1
		}
		return r
	}, s)

	if maxChars <= 0 {
		return clean
	}
	r := []rune(clean)
	if len(r) <= maxChars {
		return clean
	}
	return string(r[:maxChars]) + truncatedMarker
}
