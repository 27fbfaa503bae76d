package wiki

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/TobiSchelling/kipwatch/internal/config"
)

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(config.Wiki{
		BaseURL:  server.URL,
		SpaceKey: "KAFKA",
		MainPage: "Kafka Improvement Proposals",
		Chunk:    2,
	})
}

func searchPayload() string {
	return `{"results":[{"id":"1001","title":"Kafka Improvement Proposals"}]}`
}

func childPayload(nextPath string, pages ...string) string {
	results := ""
	for i, p := range pages {
		if i > 0 {
			results += ","
		}
		results += p
	}
	links := `{}`
	if nextPath != "" {
		links = fmt.Sprintf(`{"next":%q}`, nextPath)
	}
	return fmt.Sprintf(`{"results":[%s],"_links":%s}`, results, links)
}

func page(title, author, body string) string {
	return fmt.Sprintf(`{"id":"1","title":%q,"history":{"createdBy":{"displayName":%q}},"body":{"view":{"value":%q}}}`,
		title, author, body)
}

func TestFetchProposals(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/rest/api/content", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("title") != "Kafka Improvement Proposals" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, searchPayload())
	})
	mux.HandleFunc("/rest/api/content/1001/child/page", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("start") == "2" {
			fmt.Fprint(w, childPayload("",
				page("KIP-502: Follow-up", "Carol", "<p>Current state: rejected</p>"),
			))
			return
		}
		if got := r.URL.Query().Get("limit"); got != "2" {
			t.Errorf("limit = %q, want 2", got)
		}
		fmt.Fprint(w, childPayload("/rest/api/content/1001/child/page?start=2&limit=2",
			page("KIP-500: Replace the thing", "Alice", "<p>Current state: accepted</p>"),
			page("KIP-501: Improve the thing", "Bob", "<p>Current state: under discussion</p>"),
		))
	})

	client := testClient(t, mux)
	proposals, err := client.FetchProposals(context.Background())
	if err != nil {
		t.Fatalf("FetchProposals: %v", err)
	}

	if len(proposals) != 3 {
		t.Fatalf("got %d proposals, want 3", len(proposals))
	}
	if proposals[0].ID != 500 || proposals[0].Status != StatusAccepted || proposals[0].Author != "Alice" {
		t.Errorf("unexpected first proposal: %+v", proposals[0])
	}
	if proposals[1].Status != StatusUnderDiscussion {
		t.Errorf("proposal 501 status = %q", proposals[1].Status)
	}
	if proposals[2].ID != 502 || proposals[2].Status != StatusNotAccepted {
		t.Errorf("unexpected paginated proposal: %+v", proposals[2])
	}
}

func TestFetchProposalsSkipsNonProposalPages(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/rest/api/content", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, searchPayload())
	})
	mux.HandleFunc("/rest/api/content/1001/child/page", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, childPayload("",
			page("Proposal template", "Alice", "<p>Current state: draft</p>"),
			page("KIP-7: Small fix", "Bob", "<p>Current state: implemented</p>"),
		))
	})

	client := testClient(t, mux)
	proposals, err := client.FetchProposals(context.Background())
	if err != nil {
		t.Fatalf("FetchProposals: %v", err)
	}
	if len(proposals) != 1 || proposals[0].ID != 7 {
		t.Fatalf("got %+v, want only KIP-7", proposals)
	}
}

func TestFetchProposalsMissingMainPage(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/rest/api/content", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"results":[]}`)
	})

	client := testClient(t, mux)
	if _, err := client.FetchProposals(context.Background()); err == nil {
		t.Fatal("expected error for missing main page")
	}
}

func TestFetchProposalsServerError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/rest/api/content", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, searchPayload())
	})
	mux.HandleFunc("/rest/api/content/1001/child/page", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	client := testClient(t, mux)
	if _, err := client.FetchProposals(context.Background()); err == nil {
		t.Fatal("expected error for server failure")
	}
}

func TestStatusFromBody(t *testing.T) {
	cases := []struct {
		name string
		html string
		want string
	}{
		{"accepted", `<p><b>Current state:</b> Adopted</p>`, StatusAccepted},
		{"vote passed", `<p>Current state: vote passed</p>`, StatusAccepted},
		{"discussion", `<p>Current state: Under Discussion</p>`, StatusUnderDiscussion},
		{"rejected", `<p>Current state: Discarded</p>`, StatusNotAccepted},
		{"unknown term", `<p>Current state: something odd</p>`, StatusUnknown},
		{"no state paragraph", `<p>Motivation: speed</p>`, StatusUnknown},
		{"empty body", ``, StatusUnknown},
		{"state after other paragraphs", `<p>intro</p><p>Current state: withdrawn</p>`, StatusNotAccepted},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := statusFromBody(tc.html); got != tc.want {
				t.Errorf("statusFromBody = %q, want %q", got, tc.want)
			}
		})
	}
}
