package dayahead

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/kestrelhome/battplan/pricing"
)

// Client fetches day-ahead publications over HTTP and decodes them into
// pricing.Block slices. It implements pricing.Source.
type Client struct {
	HTTPClient    *http.Client
	URLFormat     string // fmt-style format string taking (from, to, SecurityToken); from/to as YYYYMMDDHHmm
	SecurityToken string
	Timeout       time.Duration
}

// NewClient builds a Client with a sensible default HTTP client timeout.
func NewClient(urlFormat, securityToken string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		HTTPClient:    &http.Client{Timeout: timeout},
		URLFormat:     urlFormat,
		SecurityToken: securityToken,
		Timeout:       timeout,
	}
}

// timestampFormat is the compact UTC layout day-ahead publication APIs
// commonly expect for periodStart/periodEnd query parameters.
const timestampFormat = "200601021504"

// FetchBlocks retrieves and decodes the publication document covering
// [from, to) and converts every point into a pricing.Block.
func (c *Client) FetchBlocks(ctx context.Context, from, to time.Time) ([]pricing.Block, error) {
	url := fmt.Sprintf(c.URLFormat, from.UTC().Format(timestampFormat), to.UTC().Format(timestampFormat), c.SecurityToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dayahead: building request: %w", err)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("dayahead: fetching publication: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("dayahead: unexpected status %d", resp.StatusCode)
	}

	doc, err := decode(resp.Body)
	if err != nil {
		return nil, err
	}
	return toBlocks(doc), nil
}

// toBlocks flattens every Point of every TimeSeries/Period into a Block.
func toBlocks(doc *document) []pricing.Block {
	var blocks []pricing.Block
	for _, series := range doc.Series {
		for _, pt := range series.Period.Points {
			start, end, ok := series.Period.rangeForPosition(pt.Position)
			if !ok {
				continue
			}
			blocks = append(blocks, pricing.Block{
				Start:      start,
				End:        end,
				SpotEURMWh: pt.PriceAmount,
			})
		}
	}
	return blocks
}
