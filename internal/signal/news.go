package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// NewsAPIFeed queries an external news sentiment API and replaces the
// snapshot-derived sentiment feed when credentials are configured. The
// API key comes from Vault under the "news" provider entry.
type NewsAPIFeed struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewNewsAPIFeed(baseURL, apiKey string) *NewsAPIFeed {
	return &NewsAPIFeed{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (f *NewsAPIFeed) Name() Source { return SourceNewsSentiment }

type newsSentimentResponse struct {
	Asset    string  `json:"asset"`
	Score    float64 `json:"score"` // -1 (bearish) to +1 (bullish)
	Articles int     `json:"articles"`
}

// Fetch maps the API sentiment score to a directional signal using the
// same thresholds as the snapshot sentiment feed.
func (f *NewsAPIFeed) Fetch(ctx context.Context, asset string) ([]Signal, error) {
	endpoint := fmt.Sprintf("%s/v1/sentiment/%s", f.baseURL, url.PathEscape(asset))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-API-Key", f.apiKey)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error fetching news sentiment: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("news API error: %s", string(body))
	}

	var out newsSentimentResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("error parsing news sentiment: %w", err)
	}

	if out.Articles == 0 || math.Abs(out.Score) < 0.3 {
		return nil, nil
	}

	direction := DirectionLong
	if out.Score < 0 {
		direction = DirectionShort
	}
	confidence := math.Min(80, 40+math.Abs(out.Score)*50)

	return []Signal{{
		Source:     SourceNewsSentiment,
		Asset:      asset,
		Direction:  direction,
		Confidence: confidence,
		Reason:     fmt.Sprintf("news score %+.2f across %d articles", out.Score, out.Articles),
		Timestamp:  time.Now(),
	}}, nil
}

// ReplaceFeed swaps out the provider publishing under the same source,
// appending when no built-in provider matches.
func ReplaceFeed(feeds []Provider, replacement Provider) []Provider {
	for i, f := range feeds {
		if f.Name() == replacement.Name() {
			feeds[i] = replacement
			return feeds
		}
	}
	return append(feeds, replacement)
}
