// Command racecheck drives a running ledger server: it measures basic charge
// latency and store latency, then fires concurrent charges at one account
// and reports whether more than one was authorized.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	flag "github.com/spf13/pflag"
)

type chargeResponse struct {
	IsAuthorized     bool  `json:"isAuthorized"`
	RemainingBalance int64 `json:"remainingBalance"`
	Charges          int64 `json:"charges"`
}

type client struct {
	base    string
	http    *http.Client
	account string
	token   string
}

func (c *client) post(path string, body interface{}) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequest(http.MethodPost, c.base+path, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return c.http.Do(req)
}

func (c *client) reset() error {
	resp, err := c.post("/reset", map[string]string{"account": c.account})
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("reset: unexpected status %d", resp.StatusCode)
	}
	return nil
}

func (c *client) charge(amount int64) (chargeResponse, int, error) {
	resp, err := c.post("/charge", map[string]interface{}{"account": c.account, "charges": amount})
	if err != nil {
		return chargeResponse{}, 0, err
	}
	defer resp.Body.Close()
	var out chargeResponse
	if resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return chargeResponse{}, resp.StatusCode, err
		}
	}
	return out, resp.StatusCode, nil
}

func (c *client) storeLatency() (float64, error) {
	resp, err := c.http.Get(c.base + "/measure-redis")
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	var out struct {
		Latency float64 `json:"latency"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, err
	}
	return out.Latency, nil
}

func basicLatency(c *client, n int) error {
	if err := c.reset(); err != nil {
		return err
	}
	start := time.Now()
	for i := 0; i < n; i++ {
		if _, code, err := c.charge(10); err != nil || code != http.StatusOK {
			return fmt.Errorf("charge %d: status=%d err=%v", i+1, code, err)
		}
	}
	log.Info().Int("charges", n).Dur("elapsed", time.Since(start)).Msg("basic latency")
	return nil
}

func raceTest(c *client, concurrency int, amount int64) (int, error) {
	if err := c.reset(); err != nil {
		return 0, err
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(n int) {
			defer wg.Done()
			res, code, err := c.charge(amount)
			l := log.With().Int("request", n+1).Int("status", code).Logger()
			switch {
			case err != nil:
				l.Error().Err(err).Msg("charge request failed")
			case code != http.StatusOK:
				l.Warn().Msg("charge rejected by server")
			case res.IsAuthorized:
				mu.Lock()
				successes++
				mu.Unlock()
				l.Info().Int64("remaining", res.RemainingBalance).Msg("charged successfully")
			default:
				l.Info().Int64("remaining", res.RemainingBalance).Msg("charge declined")
			}
		}(i)
	}
	wg.Wait()
	return successes, nil
}

func main() {
	addr := flag.String("addr", "http://localhost:8080", "ledger base URL")
	account := flag.String("account", "account", "account to exercise")
	concurrency := flag.IntP("concurrency", "c", 10, "simultaneous charge requests in the race test")
	amount := flag.Int64P("amount", "a", 100, "amount per charge in the race test, close to the reset balance")
	token := flag.String("token", "", "bearer token for /reset when the server requires one")
	timeout := flag.Duration("timeout", 10*time.Second, "per-request timeout")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	c := &client{
		base:    strings.TrimRight(*addr, "/"),
		http:    &http.Client{Timeout: *timeout},
		account: *account,
		token:   *token,
	}

	if err := basicLatency(c, 5); err != nil {
		log.Fatal().Err(err).Msg("basic latency test failed")
	}
	if lat, err := c.storeLatency(); err != nil {
		log.Error().Err(err).Msg("store latency unavailable")
	} else {
		log.Info().Float64("latency_ms", lat).Msg("store connection latency")
	}

	successes, err := raceTest(c, *concurrency, *amount)
	if err != nil {
		log.Fatal().Err(err).Msg("race test failed")
	}
	if successes > 1 {
		log.Error().Int("successes", successes).Msg("race condition detected")
		os.Exit(1)
	}
	log.Info().Int("successes", successes).Msg("no race conditions detected")
}
