package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"nodegate/simcache"
)

// FeeOracle prices the compute-budget priority fee for outgoing transactions
// by querying an external fee oracle endpoint. Responses are cached through
// the simulation cache so bursts of prepare requests share one oracle call.
type FeeOracle struct {
	baseURL  string
	fallback uint64
	client   *http.Client
	cache    *simcache.Cache
	logger   *slog.Logger
}

// NewFeeOracle builds a fee oracle. baseURL may be empty, in which case the
// fallback price is always used.
func NewFeeOracle(baseURL string, fallback uint64, cache *simcache.Cache, logger *slog.Logger) *FeeOracle {
	return &FeeOracle{
		baseURL:  baseURL,
		fallback: fallback,
		client:   &http.Client{Timeout: 5 * time.Second},
		cache:    cache,
		logger:   logger,
	}
}

type feeQuery struct {
	Kind   string `json:"kind"`
	Action string `json:"action"`
}

// PriorityFee returns the micro-lamport compute-unit price to attach to a
// transaction for the given action. Oracle failures degrade to the fallback
// price rather than failing the build.
func (o *FeeOracle) PriorityFee(ctx context.Context, action string) uint64 {
	if o.baseURL == "" {
		return o.fallback
	}
	value, err := o.cache.GetOrExecute(ctx, feeQuery{Kind: "priority-fee", Action: action}, func(ctx context.Context) (any, error) {
		return o.fetch(ctx, action)
	})
	if err != nil {
		o.logger.Warn("fee oracle unavailable, using fallback price", "action", action, "err", err)
		return o.fallback
	}
	return value.(uint64)
}

func (o *FeeOracle) fetch(ctx context.Context, action string) (uint64, error) {
	params := url.Values{}
	params.Add("action", action)
	reqURL := fmt.Sprintf("%s?%s", o.baseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return 0, fmt.Errorf("build fee oracle request: %w", err)
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("call fee oracle: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("fee oracle returned %s", resp.Status)
	}

	var body struct {
		MicroLamports string `json:"microLamports"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("decode fee oracle response: %w", err)
	}
	price, err := strconv.ParseUint(body.MicroLamports, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse fee oracle price: %w", err)
	}
	return price, nil
}
