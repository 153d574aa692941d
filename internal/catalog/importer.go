// Package catalog imports dishes from HTML listings.
//
// A listing marks each dish with the "dish" class and describes it through
// data attributes:
//
//	<li class="dish" data-id="pad-thai" data-category="main" data-tags="vegetarian"
//	    data-allergens="peanut,egg" data-cost="2" data-time="2" data-healthy="false"
//	    data-query="pad thai near me">Pad Thai</li>
//
// Dishes with missing tags or bands are sent to the classifier when one is set.
package catalog

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/PuerkitoBio/goquery"

	"dinner-roulette/internal/dish"
	"dinner-roulette/internal/logging"
)

// Importer turns HTML listings into catalog dishes.
type Importer struct {
	classifier *Classifier
	httpClient *http.Client
}

// NewImporter creates a new Importer. classifier may be nil.
func NewImporter(classifier *Classifier) *Importer {
	return &Importer{
		classifier: classifier,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// ImportURL fetches a listing and parses it.
func (i *Importer) ImportURL(ctx context.Context, url string) ([]dish.Dish, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := i.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch URL: status %d", resp.StatusCode)
	}
	return i.ImportHTML(ctx, resp.Body)
}

// ImportHTML parses every .dish element in document order. Invalid dishes are
// skipped; duplicate ids keep the first occurrence.
func (i *Importer) ImportHTML(ctx context.Context, r io.Reader) ([]dish.Dish, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	var parsed []dish.Dish
	doc.Find(".dish").Each(func(_ int, s *goquery.Selection) {
		parsed = append(parsed, parseDish(s))
	})

	seen := make(map[string]bool, len(parsed))
	dishes := []dish.Dish{}
	for _, d := range parsed {
		if i.classifier != nil && NeedsClassification(d) {
			classified, err := i.classifier.Classify(ctx, d)
			if err != nil {
				logging.Warn().Err(err).Str("dish", d.ID).Msg("Classification failed, keeping dish as parsed")
			} else {
				d = classified
			}
		}

		if err := d.Validate(); err != nil {
			logging.Warn().Err(err).Msg("Skipping invalid dish")
			continue
		}
		if seen[d.ID] {
			logging.Warn().Str("dish", d.ID).Msg("Skipping duplicate dish")
			continue
		}
		seen[d.ID] = true
		dishes = append(dishes, d)
	}

	logging.Info().Int("parsed", len(parsed)).Int("imported", len(dishes)).Msg("Catalog import finished")
	return dishes, nil
}

func parseDish(s *goquery.Selection) dish.Dish {
	name := strings.Join(strings.Fields(s.Text()), " ")
	id := strings.TrimSpace(s.AttrOr("data-id", ""))
	if id == "" {
		id = Slug(name)
	}

	return dish.Dish{
		ID:          id,
		Name:        name,
		Category:    dish.Category(strings.ToLower(strings.TrimSpace(s.AttrOr("data-category", "")))),
		Tags:        splitList(s.AttrOr("data-tags", "")),
		Allergens:   splitList(s.AttrOr("data-allergens", "")),
		CostBand:    atoi(s.AttrOr("data-cost", "")),
		TimeBand:    atoi(s.AttrOr("data-time", "")),
		IsHealthy:   parseBool(s.AttrOr("data-healthy", "")),
		SearchQuery: strings.TrimSpace(s.AttrOr("data-query", "")),
	}
}

func splitList(raw string) []string {
	return normalizeList(strings.Split(raw, ","))
}

// normalizeList lower-cases, trims and deduplicates, dropping blanks.
func normalizeList(items []string) []string {
	out := []string{}
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		item = strings.ToLower(strings.TrimSpace(item))
		if item == "" || seen[item] {
			continue
		}
		seen[item] = true
		out = append(out, item)
	}
	return out
}

func atoi(raw string) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0
	}
	return n
}

func parseBool(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "y":
		return true
	}
	return false
}

// Slug derives a dish id from its name.
func Slug(name string) string {
	var sb strings.Builder
	dash := false
	for _, r := range strings.ToLower(name) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			sb.WriteRune(r)
			dash = false
		case !dash && sb.Len() > 0:
			sb.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(sb.String(), "-")
}
