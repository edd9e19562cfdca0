// Package gateway implements the coordinator.Gateway contract against the
// real upstream collaborator: an HTTP-exposed brokerage market-data
// gateway. The gateway's own internals (auth, connection pooling against
// the brokerage, symbol-level caching) are out of scope; this client only
// speaks the two calls the coordinator needs.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/optionscan/engine/internal/coordinator"
	"github.com/optionscan/engine/internal/models"
)

// HTTPGateway calls a brokerage market-data gateway over HTTP, the way the
// teacher's data-provider client called out to its own upstream service.
type HTTPGateway struct {
	baseURL string
	client  *http.Client
}

// New builds an HTTPGateway against baseURL with the given per-call
// timeout as the HTTP client's default.
func New(baseURL string, timeout time.Duration) *HTTPGateway {
	return &HTTPGateway{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type fetchContractsRequest struct {
	Symbols []string `json:"symbols"`
}

type fetchContractsResponse struct {
	Contracts []wireContract `json:"contracts"`
}

// wireContract is the gateway's over-the-wire shape; FetchContracts
// translates it into models.Contract so nothing downstream of this
// package depends on the upstream's field names.
type wireContract struct {
	Symbol       string    `json:"symbol"`
	Underlying   string    `json:"underlying"`
	Expiry       time.Time `json:"expiry"`
	Strike       float64   `json:"strike"`
	Right        string    `json:"right"`
	Bid          float64   `json:"bid"`
	Ask          float64   `json:"ask"`
	Last         float64   `json:"last"`
	Volume       int64     `json:"volume"`
	OpenInterest int64     `json:"open_interest"`
	Delta        float64   `json:"delta"`
	Gamma        float64   `json:"gamma"`
	Theta        float64   `json:"theta"`
	Vega         float64   `json:"vega"`
	IV           float64   `json:"iv"`
	IVPercentile float64   `json:"iv_percentile"`
	UnderlyingPx float64   `json:"underlying_price"`
}

// FetchContracts posts the requested symbol batch to the gateway's option
// chain endpoint and returns every contract across all listed
// expiries/strikes for each symbol.
func (g *HTTPGateway) FetchContracts(ctx context.Context, symbols []string) ([]models.Contract, error) {
	body, err := json.Marshal(fetchContractsRequest{Symbols: symbols})
	if err != nil {
		return nil, fmt.Errorf("gateway: encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/contracts", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("gateway: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("gateway: unexpected status %d: %s", resp.StatusCode, string(data))
	}

	var out fetchContractsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("gateway: decoding response: %w", err)
	}

	fetchedAt := time.Now()
	contracts := make([]models.Contract, 0, len(out.Contracts))
	for _, w := range out.Contracts {
		contracts = append(contracts, models.Contract{
			Symbol:          w.Symbol,
			Underlying:      w.Underlying,
			Expiry:          w.Expiry,
			Strike:          w.Strike,
			Right:           models.Right(w.Right),
			Bid:             w.Bid,
			Ask:             w.Ask,
			Last:            w.Last,
			Volume:          w.Volume,
			OpenInterest:    w.OpenInterest,
			Delta:           w.Delta,
			Gamma:           w.Gamma,
			Theta:           w.Theta,
			Vega:            w.Vega,
			IV:              w.IV,
			IVPercentile:    w.IVPercentile,
			UnderlyingPrice: w.UnderlyingPx,
			FetchedAt:       fetchedAt,
		})
	}
	return contracts, nil
}

type healthResponse struct {
	QueueDepth   int     `json:"queue_depth"`
	RTTMillis    float64 `json:"rtt_ms"`
	RecentErrors int     `json:"recent_errors"`
}

// Health polls the gateway's own health endpoint for queue depth, RTT, and
// recent error count.
func (g *HTTPGateway) Health(ctx context.Context) (coordinator.Health, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/v1/health", nil)
	if err != nil {
		return coordinator.Health{}, fmt.Errorf("gateway: building health request: %w", err)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return coordinator.Health{}, fmt.Errorf("gateway: health request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return coordinator.Health{}, fmt.Errorf("gateway: health status %d", resp.StatusCode)
	}

	var h healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return coordinator.Health{}, fmt.Errorf("gateway: decoding health: %w", err)
	}

	return coordinator.Health{
		QueueDepth:   h.QueueDepth,
		RTT:          time.Duration(h.RTTMillis * float64(time.Millisecond)),
		RecentErrors: h.RecentErrors,
	}, nil
}
