// Package wiki fetches the canonical proposal set from the project's
// Confluence wiki. The fetch is always a full refresh; the set is small
// and authoritative.
package wiki

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/TobiSchelling/kipwatch/internal/config"
	"github.com/TobiSchelling/kipwatch/internal/mention"
	"github.com/TobiSchelling/kipwatch/internal/store"
)

// Proposal status values as classified from the wiki page text.
const (
	StatusAccepted        = "accepted"
	StatusUnderDiscussion = "under discussion"
	StatusNotAccepted     = "not accepted"
	StatusUnknown         = "unknown"
)

// The wiki pages state their status in free text; these term lists carry
// the phrasings that actually occur in the corpus of proposal pages.
var (
	acceptedTerms = []string{
		"accepted", "approved", "adopted", "adopt", "implemented", "committed",
		"completed", "merged", "released", "accept", "vote passed",
	}
	underDiscussionTerms = []string{
		"discussion", "discuss", "discusion", "voting", "under vote", "draft",
		"wip", "under review",
	}
	notAcceptedTerms = []string{
		"rejected", "discarded", "superseded", "subsumed", "withdrawn",
		"cancelled", "abandoned", "replaced", "moved to",
	}
)

// Client talks to the Confluence REST API.
type Client struct {
	baseURL  string
	spaceKey string
	mainPage string
	chunk    int
	client   *http.Client
}

// NewClient creates a wiki client from the config.
func NewClient(cfg config.Wiki) *Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	chunk := cfg.Chunk
	if chunk <= 0 {
		chunk = 100
	}
	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		spaceKey: cfg.SpaceKey,
		mainPage: cfg.MainPage,
		chunk:    chunk,
		client:   &http.Client{Timeout: timeout},
	}
}

// FetchProposals returns the current full set of proposals: every child
// page of the main proposal page whose title names a proposal id.
func (c *Client) FetchProposals(ctx context.Context) ([]store.Proposal, error) {
	mainID, err := c.mainPageID(ctx)
	if err != nil {
		return nil, fmt.Errorf("locating main wiki page: %w", err)
	}

	seen := make(map[int]struct{})
	var proposals []store.Proposal

	next := fmt.Sprintf("%s/rest/api/content/%s/child/page?%s", c.baseURL, mainID, url.Values{
		"limit":  {strconv.Itoa(c.chunk)},
		"expand": {"history,body.view"},
	}.Encode())

	for next != "" {
		var page childResponse
		if err := c.getJSON(ctx, next, &page); err != nil {
			return nil, fmt.Errorf("fetching proposal pages: %w", err)
		}

		for _, child := range page.Results {
			match := mention.Pattern.FindStringSubmatch(child.Title)
			if match == nil {
				continue
			}
			id, err := strconv.Atoi(match[1])
			if err != nil {
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}

			proposals = append(proposals, store.Proposal{
				ID:     id,
				Title:  strings.TrimSpace(child.Title),
				Status: statusFromBody(child.Body.View.Value),
				Author: child.History.CreatedBy.DisplayName,
			})
		}

		if page.Links.Next == "" {
			break
		}
		next = c.baseURL + page.Links.Next
	}

	return proposals, nil
}

func (c *Client) mainPageID(ctx context.Context) (string, error) {
	endpoint := c.baseURL + "/rest/api/content?" + url.Values{
		"type":     {"page"},
		"spaceKey": {c.spaceKey},
		"title":    {c.mainPage},
	}.Encode()

	var resp searchResponse
	if err := c.getJSON(ctx, endpoint, &resp); err != nil {
		return "", err
	}
	if len(resp.Results) == 0 {
		return "", fmt.Errorf("no page titled %q in space %s", c.mainPage, c.spaceKey)
	}
	if len(resp.Results) > 1 {
		return "", fmt.Errorf("%d pages titled %q in space %s", len(resp.Results), c.mainPage, c.spaceKey)
	}
	return resp.Results[0].ID, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type searchResponse struct {
	Results []struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	} `json:"results"`
}

type childResponse struct {
	Results []childPage `json:"results"`
	Links   struct {
		Next string `json:"next"`
	} `json:"_links"`
}

type childPage struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	History struct {
		CreatedBy struct {
			DisplayName string `json:"displayName"`
		} `json:"createdBy"`
	} `json:"history"`
	Body struct {
		View struct {
			Value string `json:"value"`
		} `json:"view"`
	} `json:"body"`
}

// statusFromBody classifies the proposal status from the first paragraph
// of the page body that mentions "current state".
func statusFromBody(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return StatusUnknown
	}

	status := StatusUnknown
	doc.Find("p").EachWithBreak(func(_ int, p *goquery.Selection) bool {
		text := strings.ToLower(p.Text())
		if !strings.Contains(text, "current state") {
			return true
		}
		status = classifyState(text)
		return false
	})
	return status
}

func classifyState(text string) string {
	for _, term := range acceptedTerms {
		if strings.Contains(text, term) {
			return StatusAccepted
		}
	}
	for _, term := range underDiscussionTerms {
		if strings.Contains(text, term) {
			return StatusUnderDiscussion
		}
	}
	for _, term := range notAcceptedTerms {
		if strings.Contains(text, term) {
			return StatusNotAccepted
		}
	}
	return StatusUnknown
}
