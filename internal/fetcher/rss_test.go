package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/laborwatch/compliance-cli/internal/model"
	"github.com/laborwatch/compliance-cli/internal/resilience"
	"github.com/laborwatch/compliance-cli/internal/store"
)

const sampleRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>State Legislature Updates</title>
    <item>
      <title>SB 525 minimum wage increase for healthcare workers</title>
      <link>https://legislature.example.gov/sb525</link>
      <description>Raises the minimum wage for covered healthcare employees.</description>
      <pubDate>Mon, 04 Aug 2025 10:00:00 -0700</pubDate>
    </item>
    <item>
      <title>Resolution honoring state bird</title>
      <link>https://legislature.example.gov/res12</link>
      <description>A ceremonial resolution.</description>
      <pubDate>Tue, 05 Aug 2025 10:00:00 -0700</pubDate>
    </item>
  </channel>
</rss>`

const sampleAtom = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>Labor Agency Notices</title>
  <entry>
    <title>Paid sick leave accrual rules updated</title>
    <link rel="alternate" href="https://agency.example.gov/psl-update"/>
    <summary>New accrual caps effective next year.</summary>
    <updated>2025-08-10T09:00:00Z</updated>
  </entry>
</feed>`

func scoreByKeyword(title, _ string) (float64, string) {
	if title == "SB 525 minimum wage increase for healthcare workers" {
		return 0.7, "minimum_wage"
	}
	return 0.0, ""
}

func newRSSFetcher(st store.Store) *RSSFetcher {
	httpF := NewHTTPFetcher(HTTPOptions{
		Timeout: 5 * time.Second,
		Retry:   resilience.RetryConfig{MaxAttempts: 1},
	})
	return NewRSS(httpF, st)
}

func TestFetchFeed_InsertsAndDedupes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(sampleRSS))
	}))
	defer srv.Close()

	st := store.NewMemory()
	feed := model.RSSFeed{ID: "ca_leg", URL: srv.URL}
	st.SeedFeed(feed)
	f := newRSSFetcher(st)

	res, err := f.FetchFeed(context.Background(), feed, scoreByKeyword, 0.3)
	require.NoError(t, err)
	assert.Equal(t, 2, res.ItemsSeen)
	assert.Equal(t, 2, res.ItemsInserted)
	// The ceremonial resolution scores 0 and is closed out immediately.
	assert.Equal(t, int64(1), res.BacklogClosed)

	// Reprocessing identical feed content inserts nothing new.
	res2, err := f.FetchFeed(context.Background(), feed, scoreByKeyword, 0.3)
	require.NoError(t, err)
	assert.Equal(t, 2, res2.ItemsSeen)
	assert.Equal(t, 0, res2.ItemsInserted)
	assert.Equal(t, int64(0), res2.BacklogClosed)
}

func TestFetchFeed_Atom(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(sampleAtom))
	}))
	defer srv.Close()

	st := store.NewMemory()
	feed := model.RSSFeed{ID: "dol_notices", URL: srv.URL}
	st.SeedFeed(feed)
	f := newRSSFetcher(st)

	res, err := f.FetchFeed(context.Background(), feed, func(string, string) (float64, string) {
		return 0.5, "paid_sick_leave"
	}, 0.3)
	require.NoError(t, err)
	assert.Equal(t, 1, res.ItemsSeen)
	assert.Equal(t, 1, res.ItemsInserted)
}

func TestItemHash_Stable(t *testing.T) {
	a := ItemHash("SB 525", "https://example.gov/sb525")
	b := ItemHash("SB 525", "https://example.gov/sb525")
	c := ItemHash("SB 526", "https://example.gov/sb525")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}

func TestParseFeedEntries_RejectsEmpty(t *testing.T) {
	_, err := parseFeedEntries(strings.NewReader("<html><body>not a feed</body></html>"))
	assert.Error(t, err)
}
