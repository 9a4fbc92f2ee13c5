package fetcher

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/xml"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/laborwatch/compliance-cli/internal/model"
	"github.com/laborwatch/compliance-cli/internal/store"
)

// ScoreFunc assigns a relevance score and detected category to a feed item.
// Injected so the fetcher stays decoupled from the scorer.
type ScoreFunc func(title, description string) (float64, string)

// FeedResult summarizes one feed pass for cycle statistics.
type FeedResult struct {
	ItemsSeen     int
	ItemsInserted int
	BacklogClosed int64
}

// RSSFetcher ingests tier-3 legislative feeds, deduplicating items by
// content hash so reprocessing identical feed content inserts nothing.
type RSSFetcher struct {
	http    *HTTPFetcher
	store   store.Store
	nowFunc func() time.Time
}

// NewRSS wires an RSSFetcher.
func NewRSS(httpFetcher *HTTPFetcher, st store.Store) *RSSFetcher {
	return &RSSFetcher{http: httpFetcher, store: st, nowFunc: time.Now}
}

// ItemHash computes the stable dedupe key for a feed entry.
func ItemHash(title, link string) string {
	sum := sha256.Sum256([]byte(title + "|" + link))
	return hex.EncodeToString(sum[:])
}

// FetchFeed downloads and parses one feed, inserting unseen items with
// their relevance score and closing out the low-relevance backlog
// (threshold maxBacklogScore) so the unprocessed queue never regrows.
func (f *RSSFetcher) FetchFeed(ctx context.Context, feed model.RSSFeed, score ScoreFunc, maxBacklogScore float64) (FeedResult, error) {
	var res FeedResult

	data, err := f.http.Get(ctx, feed.URL)
	if err != nil {
		return res, err
	}

	entries, err := parseFeedEntries(bytes.NewReader(data))
	if err != nil {
		return res, err
	}
	res.ItemsSeen = len(entries)

	for _, e := range entries {
		relevance, category := score(e.Title, e.Description)
		item := model.FeedItem{
			ID:               uuid.New().String(),
			FeedID:           feed.ID,
			ItemHash:         ItemHash(e.Title, e.Link),
			Title:            e.Title,
			Link:             e.Link,
			Description:      e.Description,
			PublishedAt:      e.Published,
			RelevanceScore:   relevance,
			DetectedCategory: category,
			CreatedAt:        f.nowFunc().UTC(),
		}
		inserted, err := f.store.InsertFeedItem(ctx, item)
		if err != nil {
			zap.L().Error("rss: insert item failed",
				zap.String("feed", feed.ID),
				zap.String("hash", item.ItemHash),
				zap.Error(err),
			)
			continue
		}
		if inserted {
			res.ItemsInserted++
		}
	}

	closed, err := f.store.MarkFeedBacklogProcessed(ctx, feed.ID, maxBacklogScore)
	if err != nil {
		zap.L().Warn("rss: backlog close failed", zap.String("feed", feed.ID), zap.Error(err))
	}
	res.BacklogClosed = closed

	return res, nil
}

// feedEntry is one parsed item regardless of RSS/Atom dialect.
type feedEntry struct {
	Title       string
	Link        string
	Description string
	Published   *time.Time
}

type rssDoc struct {
	Channel struct {
		Items []struct {
			Title       string `xml:"title"`
			Link        string `xml:"link"`
			Description string `xml:"description"`
			PubDate     string `xml:"pubDate"`
		} `xml:"item"`
	} `xml:"channel"`
}

type atomDoc struct {
	Entries []struct {
		Title   string `xml:"title"`
		Summary string `xml:"summary"`
		Updated string `xml:"updated"`
		Links   []struct {
			Href string `xml:"href,attr"`
			Rel  string `xml:"rel,attr"`
		} `xml:"link"`
	} `xml:"entry"`
}

var feedDateLayouts = []string{time.RFC1123Z, time.RFC1123, time.RFC3339, "2006-01-02"}

// parseFeedEntries decodes RSS 2.0 or Atom, tolerating the legacy charsets
// some state legislature feeds still serve.
func parseFeedEntries(r io.Reader) ([]feedEntry, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, eris.Wrap(err, "rss: read feed")
	}

	if entries, err := decodeRSS(data); err == nil && len(entries) > 0 {
		return entries, nil
	}
	entries, err := decodeAtom(data)
	if err != nil {
		return nil, eris.Wrap(err, "rss: decode feed")
	}
	if len(entries) == 0 {
		return nil, eris.New("rss: feed has no items")
	}
	return entries, nil
}

func newDecoder(data []byte) *xml.Decoder {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
		enc, err := htmlindex.Get(charset)
		if err != nil {
			return nil, eris.Wrapf(err, "rss: unsupported charset %q", charset)
		}
		return enc.NewDecoder().Reader(input), nil
	}
	dec.Strict = false
	return dec
}

func decodeRSS(data []byte) ([]feedEntry, error) {
	var doc rssDoc
	if err := newDecoder(data).Decode(&doc); err != nil {
		return nil, err
	}
	out := make([]feedEntry, 0, len(doc.Channel.Items))
	for _, it := range doc.Channel.Items {
		out = append(out, feedEntry{
			Title:       strings.TrimSpace(it.Title),
			Link:        strings.TrimSpace(it.Link),
			Description: strings.TrimSpace(it.Description),
			Published:   parseFeedDate(it.PubDate),
		})
	}
	return out, nil
}

func decodeAtom(data []byte) ([]feedEntry, error) {
	var doc atomDoc
	if err := newDecoder(data).Decode(&doc); err != nil {
		return nil, err
	}
	out := make([]feedEntry, 0, len(doc.Entries))
	for _, e := range doc.Entries {
		link := ""
		for _, l := range e.Links {
			if l.Rel == "" || l.Rel == "alternate" {
				link = l.Href
				break
			}
		}
		out = append(out, feedEntry{
			Title:       strings.TrimSpace(e.Title),
			Link:        strings.TrimSpace(link),
			Description: strings.TrimSpace(e.Summary),
			Published:   parseFeedDate(e.Updated),
		})
	}
	return out, nil
}

func parseFeedDate(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	for _, layout := range feedDateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t
		}
	}
	return nil
}
