package scraper

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/jgoulah/energybot/pkg/models"
	"github.com/shopspring/decimal"
	"golang.org/x/net/html"
)

const (
	userAgent  = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	acceptHTML = "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8"

	rateAnchor     = "Energy Charge"
	rateMaxSteps   = 20
	rateComponents = 3
)

var ratePattern = regexp.MustCompile(`\$?\s*(0\.\d+)`)

// RateClient fetches the provider's public rate schedule
type RateClient struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

// NewRateClient creates a rate page client
func NewRateClient(ratesURL string, timeout time.Duration, logger *slog.Logger) *RateClient {
	return &RateClient{
		url:    ratesURL,
		client: &http.Client{Timeout: timeout},
		logger: logger.With(slog.String("module", "rates")),
	}
}

// FetchRate downloads the rates page and extracts the current energy charge
func (c *RateClient) FetchRate(ctx context.Context) (models.Rate, error) {
	c.logger.Info("fetching rates", slog.String("url", c.url))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return models.Rate{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", acceptHTML)

	resp, err := c.client.Do(req)
	if err != nil {
		return models.Rate{}, fmt.Errorf("fetching rates page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.Rate{}, fmt.Errorf("rates page returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.Rate{}, fmt.Errorf("reading rates page: %w", err)
	}

	rate, err := ExtractRate(string(body))
	if err != nil {
		return models.Rate{}, err
	}

	c.logger.Info("found rate",
		slog.String("rate", rate.PerKWh().String()),
		slog.String("base", rate.Base.String()),
		slog.String("fca", rate.FuelAdjustment.String()))
	return rate, nil
}

// ExtractRate locates every "Energy Charge" text node and scans up to 20
// following text nodes for dollar amounts below one. The three amounts are
// positional: base rate, fuel cost adjustment and energy charge. Zero amounts
// keep their position, but the energy charge itself must be positive.
//
// Two choices differ from a plain regex scan of the first label. Anchors are
// tried in order until one yields a usable rate, and a "0.D+" match whose
// leading zero follows a digit or '.' is not an amount, so "$10.50" never
// reads as 0.50 and never takes a position.
func ExtractRate(document string) (models.Rate, error) {
	root, err := html.Parse(strings.NewReader(document))
	if err != nil {
		return models.Rate{}, fmt.Errorf("%w: parsing HTML: %v", ErrRateNotFound, err)
	}

	texts := textNodes(root)

	anchors := 0
	for i, text := range texts {
		if !strings.Contains(text, rateAnchor) {
			continue
		}
		anchors++

		prices := collectPrices(texts[i+1:])
		if len(prices) < rateComponents || !prices[2].IsPositive() {
			continue
		}
		return models.Rate{
			Base:           prices[0],
			FuelAdjustment: prices[1],
			EnergyCharge:   prices[2],
		}, nil
	}

	if anchors == 0 {
		return models.Rate{}, fmt.Errorf("%w: no %q label on page", ErrRateNotFound, rateAnchor)
	}
	return models.Rate{}, fmt.Errorf("%w: none of %d %q labels is followed by %d prices ending in a positive charge", ErrRateNotFound, anchors, rateAnchor, rateComponents)
}

// collectPrices walks at most rateMaxSteps text nodes and returns up to
// rateComponents amounts in document order. Whitespace-only nodes count as
// steps.
func collectPrices(following []string) []decimal.Decimal {
	var prices []decimal.Decimal

	for step := 0; step < rateMaxSteps && step < len(following); step++ {
		for _, p := range findPrices(following[step]) {
			prices = append(prices, p)
			if len(prices) == rateComponents {
				return prices
			}
		}
	}

	return prices
}

// findPrices returns every "0.D+" amount in text. An amount whose leading
// zero follows another digit (the tail of "$10.50") is ignored.
func findPrices(text string) []decimal.Decimal {
	var prices []decimal.Decimal

	for _, m := range ratePattern.FindAllStringSubmatchIndex(text, -1) {
		start, end := m[2], m[3]
		if start > 0 {
			prev := text[start-1]
			if (prev >= '0' && prev <= '9') || prev == '.' {
				continue
			}
		}

		value, err := decimal.NewFromString(text[start:end])
		if err != nil {
			continue
		}
		prices = append(prices, value)
	}

	return prices
}

// textNodes returns every text node of the document in document order,
// including the whitespace between elements.
func textNodes(root *html.Node) []string {
	var texts []string

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			texts = append(texts, n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)

	return texts
}
