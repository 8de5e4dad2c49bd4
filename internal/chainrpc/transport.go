package chainrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// transport issues JSON-RPC requests with failover across a primary and
// fallback endpoints, a token-bucket rate limit, retry with exponential
// backoff, and a circuit breaker guarding the whole endpoint set.
type transport struct {
	chain    string
	urls     []string
	client   *http.Client
	limiter  *rate.Limiter
	breaker  *gobreaker.CircuitBreaker
	retries  int
	backoff  float64

	mu      sync.Mutex
	current int

	total     atomic.Uint64
	succeeded atomic.Uint64
	failed    atomic.Uint64
	failovers atomic.Uint64
}

// TransportConfig tunes a chain transport.
type TransportConfig struct {
	Chain       string
	Primary     string
	Fallbacks   []string
	Timeout     time.Duration
	RPS         float64
	Burst       int
	MaxRetries  int
	BackoffBase float64
}

func newTransport(cfg TransportConfig) *transport {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RPS == 0 {
		cfg.RPS = 10
	}
	if cfg.Burst == 0 {
		cfg.Burst = 10
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BackoffBase == 0 {
		cfg.BackoffBase = 2
	}

	settings := gobreaker.Settings{
		Name:     cfg.Chain + "-rpc",
		Interval: 60 * time.Second,
		Timeout:  60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).
				Str("from", from.String()).Str("to", to.String()).
				Msg("RPC circuit state change")
		},
	}

	return &transport{
		chain:   cfg.Chain,
		urls:    append([]string{cfg.Primary}, cfg.Fallbacks...),
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst),
		breaker: gobreaker.NewCircuitBreaker(settings),
		retries: cfg.MaxRetries,
		backoff: cfg.BackoffBase,
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// call performs one JSON-RPC method call, retrying with backoff and
// failing over to the next endpoint after each exhausted attempt.
func (t *transport) call(ctx context.Context, method string, params []any, out any) error {
	t.total.Add(1)

	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	result, err := t.breaker.Execute(func() (any, error) {
		var lastErr error
		for attempt := 0; attempt < t.retries; attempt++ {
			raw, err := t.post(ctx, method, params)
			if err == nil {
				return raw, nil
			}
			lastErr = err
			t.failover()

			if attempt < t.retries-1 {
				wait := time.Duration(math.Pow(t.backoff, float64(attempt))) * time.Second
				log.Debug().Str("chain", t.chain).Str("method", method).
					Dur("backoff", wait).Err(err).Msg("RPC retry")
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(wait):
				}
			}
		}
		return nil, fmt.Errorf("%w: %s", ErrAllEndpointsFailed, lastErr)
	})
	if err != nil {
		t.failed.Add(1)
		return err
	}

	t.succeeded.Add(1)
	raw := result.(json.RawMessage)
	if string(raw) == "null" {
		return ErrBlockNotFound
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}
	return nil
}

func (t *transport) post(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.currentURL(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rpc status %d from %s", resp.StatusCode, t.currentURL())
	}

	var decoded rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode rpc response: %w", err)
	}
	if decoded.Error != nil {
		return nil, decoded.Error
	}
	return decoded.Result, nil
}

func (t *transport) currentURL() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.urls[t.current]
}

func (t *transport) failover() {
	t.mu.Lock()
	defer t.mu.Unlock()
	old := t.urls[t.current]
	t.current = (t.current + 1) % len(t.urls)
	t.failovers.Add(1)
	log.Warn().Str("chain", t.chain).Str("from", old).Str("to", t.urls[t.current]).
		Msg("RPC failover")
}

func (t *transport) stats() Stats {
	return Stats{
		Chain:        t.chain,
		CurrentRPC:   t.currentURL(),
		CircuitState: t.breaker.State().String(),
		Total:        t.total.Load(),
		Succeeded:    t.succeeded.Load(),
		Failed:       t.failed.Load(),
		Failovers:    t.failovers.Load(),
	}
}
