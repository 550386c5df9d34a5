package jira

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// searchFields is the set of fields requested from the search endpoint.
const searchFields = "summary,creator,labels,priority,created"

const (
	pageSize = 100
	maxPages = 100
)

var ErrNotConfigured = errors.New("jira client not configured")

// ErrTruncated is returned with the issues gathered so far when a search
// hits the page cap.
var ErrTruncated = errors.New("jira search truncated at page limit")

// Client provides HTTP access to a Jira Cloud instance.
type Client struct {
	URL        string
	Username   string
	APIToken   string
	UserAgent  string
	HTTPClient *http.Client
	// MaxPages caps one search; 0 means 100 pages of 100 issues.
	MaxPages int
}

// NewClient creates a Jira client. host may be a bare hostname
// ("acme.atlassian.net") or a full base URL.
func NewClient(host, username, apiToken string) *Client {
	return &Client{
		URL:       BaseURL(host),
		Username:  username,
		APIToken:  apiToken,
		UserAgent: "jiranotify/1.0",
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// BaseURL normalizes a configured host into a scheme-qualified base URL
// without a trailing slash.
func BaseURL(host string) string {
	h := strings.TrimSpace(host)
	if h == "" {
		return ""
	}
	if !strings.HasPrefix(h, "http://") && !strings.HasPrefix(h, "https://") {
		h = "https://" + h
	}
	return strings.TrimRight(h, "/")
}

// BuildJQL returns the watch query for a project/status pair, newest first.
func BuildJQL(project, status string) string {
	return fmt.Sprintf(`project = %s AND status = %s ORDER BY created DESC`, quoteJQL(project), quoteJQL(status))
}

func quoteJQL(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(strings.TrimSpace(s)) + `"`
}

// SearchIssues runs jql against the enhanced search endpoint and returns all
// matching issues in server order, following nextPageToken within this call.
// Past the page cap it returns what it has together with ErrTruncated.
func (c *Client) SearchIssues(ctx context.Context, jql string) ([]Issue, error) {
	limit := c.MaxPages
	if limit <= 0 {
		limit = maxPages
	}
	var all []Issue
	token := ""
	for range limit {
		params := url.Values{
			"jql":        {jql},
			"fields":     {searchFields},
			"maxResults": {strconv.Itoa(pageSize)},
		}
		if token != "" {
			params.Set("nextPageToken", token)
		}
		apiURL := c.URL + "/rest/api/3/search/jql?" + params.Encode()

		body, err := c.doRequest(ctx, http.MethodGet, apiURL)
		if err != nil {
			return nil, fmt.Errorf("search issues: %w", err)
		}

		var res searchPage
		if err := json.Unmarshal(body, &res); err != nil {
			return nil, fmt.Errorf("parse search response: %w", err)
		}
		all = append(all, res.Issues...)

		if res.IsLast || res.NextPageToken == "" || len(res.Issues) == 0 {
			return all, nil
		}
		token = res.NextPageToken
	}
	return all, fmt.Errorf("%w (%d issues in %d pages)", ErrTruncated, len(all), limit)
}

// doRequest executes an authenticated request and returns the response body.
func (c *Client) doRequest(ctx context.Context, method, apiURL string) ([]byte, error) {
	if c.URL == "" || c.APIToken == "" {
		return nil, ErrNotConfigured
	}

	req, err := http.NewRequestWithContext(ctx, method, apiURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.SetBasicAuth(c.Username, c.APIToken)
	req.Header.Set("Accept", "application/json")
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}

	hc := c.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: snippet(body, 300)}
	}
	return body, nil
}

// APIError is returned for non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("jira API returned %d: %s", e.StatusCode, e.Body)
}

// snippet keeps at most n runes of a response body.
func snippet(b []byte, n int) string {
	s := strings.TrimSpace(strings.ToValidUTF8(string(b), "\uFFFD"))
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}

// BrowseURL renders a deep link for an issue. tmpl may contain {host} and
// {key}; an empty tmpl yields the standard /browse/<key> link.
func BrowseURL(host, tmpl, key string) string {
	base := BaseURL(host)
	if strings.TrimSpace(tmpl) == "" {
		return base + "/browse/" + url.PathEscape(key)
	}
	bare := strings.TrimPrefix(strings.TrimPrefix(base, "https://"), "http://")
	return strings.NewReplacer("{host}", bare, "{key}", url.QueryEscape(key)).Replace(tmpl)
}
