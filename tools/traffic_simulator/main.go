package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/patrickwarner/adselection/internal/middleware"
	"github.com/patrickwarner/adselection/internal/models"
	"github.com/patrickwarner/adselection/internal/observability"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	server          string
	customers       int
	marketplaceCSV  string
	totalReq        int
	conc            int
	duration        time.Duration
	rate            float64
	stats           bool
	debug           bool
	label           string
	surgeInterval   time.Duration
	surgeDuration   time.Duration
	surgeMultiplier float64
	jitter          float64
	keyValues       string
)

var logger *zap.Logger

var httpClient *http.Client

var (
	marketplaceIDs = []string{"demo"}
	userAgents     = []string{
		// Mobile
		"Mozilla/5.0 (iPhone; CPU iPhone OS 16_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.0 Mobile/15E148 Safari/604.1",
		"Mozilla/5.0 (Linux; Android 12; Pixel 6 Pro) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/114.0.5735.196 Mobile Safari/537.36",
		"Mozilla/5.0 (iPad; CPU OS 15_2 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/15.2 Mobile/15E148 Safari/604.1",

		// Desktop
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 13_3_1) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.1 Safari/605.1.15",
		"Mozilla/5.0 (X11; Ubuntu; Linux x86_64; rv:111.0) Gecko/20100101 Firefox/111.0",

		// Crawler
		"Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)",
	}
	userIPs = []string{
		"192.0.2.1",
		"198.51.100.1",
		"203.0.113.1",
	}
)

const statsInterval = 5 * time.Second

var (
	countSent    uint64
	countServed  uint64
	countNoAd    uint64
	countErrors  uint64
	countUnavail uint64
)

// adRequest is one simulated GET /ad call.
type adRequest struct {
	requestID     string
	customerID    string
	marketplaceID string
	userAgent     string
	ip            string
	keyValues     map[string]string
}

func (a adRequest) url(base string) string {
	q := url.Values{}
	q.Set("customer_id", a.customerID)
	q.Set("marketplace_id", a.marketplaceID)
	for k, v := range a.keyValues {
		q.Set("kv."+k, v)
	}
	return strings.TrimRight(base, "/") + "/ad?" + q.Encode()
}

// pacer spaces requests to hit a target rate, optionally speeding up
// during periodic surge windows and randomising each gap by jitter.
type pacer struct {
	base        time.Duration
	surgeEvery  time.Duration
	surgeFor    time.Duration
	surgeFactor float64
	jitter      float64
}

// newPacer derives the base gap from rate, or spreads total requests over
// runFor when no rate is given. A zero gap means unthrottled.
func newPacer(rate float64, runFor time.Duration, total int) pacer {
	switch {
	case rate > 0:
		return pacer{base: time.Duration(float64(time.Second) / rate)}
	case runFor > 0 && total > 0:
		return pacer{base: runFor / time.Duration(total)}
	}
	return pacer{}
}

// interval returns the gap before the next request. roll is a uniform
// sample in [0,1) used for jitter.
func (p pacer) interval(elapsed time.Duration, roll float64) time.Duration {
	if p.base <= 0 {
		return 0
	}
	gap := float64(p.base)
	if p.surgeEvery > 0 && p.surgeFor > 0 && p.surgeFactor > 0 && elapsed%p.surgeEvery < p.surgeFor {
		gap /= p.surgeFactor
	}
	if p.jitter > 0 {
		gap *= math.Max(0.1, 1+(roll*2-1)*p.jitter)
	}
	return time.Duration(gap)
}

// parseKeyValues parses "a=1,b=2" into a map. Malformed pairs are ignored.
func parseKeyValues(s string) map[string]string {
	if s == "" {
		return nil
	}
	kv := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		parts := strings.SplitN(strings.TrimSpace(pair), "=", 2)
		if len(parts) == 2 && parts[0] != "" {
			kv[parts[0]] = parts[1]
		}
	}
	if len(kv) == 0 {
		return nil
	}
	return kv
}

func main() {
	flag.StringVar(&server, "server", "http://localhost:8787", "ad selection server base URL")
	flag.IntVar(&customers, "customers", 100, "number of unique customers")
	flag.StringVar(&marketplaceCSV, "marketplaces", "demo", "comma-separated marketplace IDs")
	flag.IntVar(&totalReq, "requests", 1000, "total requests to send")
	flag.IntVar(&conc, "concurrency", 20, "concurrent requests")
	flag.DurationVar(&duration, "duration", 0, "how long to run traffic (0 to disable)")
	flag.Float64Var(&rate, "rate", 0, "requests per second (0 for unlimited)")
	flag.BoolVar(&stats, "stats", false, "print aggregated stats periodically")
	flag.BoolVar(&debug, "debug", false, "enable verbose debug logs")
	flag.StringVar(&label, "label", "", "label to identify this run")
	flag.DurationVar(&surgeInterval, "surge-interval", 0, "interval between traffic surges (0 to disable)")
	flag.DurationVar(&surgeDuration, "surge-duration", 0, "duration of each surge window")
	flag.Float64Var(&surgeMultiplier, "surge-multiplier", 2.0, "requests multiplier during surge period")
	flag.Float64Var(&jitter, "jitter", 0.0, "random jitter factor for request spacing")
	flag.StringVar(&keyValues, "key-values", "", "comma-separated key=value pairs (e.g., section=sports,daypart=evening)")
	flag.Parse()

	level := zapcore.InfoLevel
	if debug {
		level = zapcore.DebugLevel
	}
	var err error
	logger, err = observability.InitLoggerWithLevel(level, "traffic-simulator")
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	httpClient = &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			ResponseHeaderTimeout: 10 * time.Second,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   conc,
			MaxConnsPerHost:       50,
			IdleConnTimeout:       90 * time.Second,
		},
	}

	if label == "" {
		label = time.Now().Format(time.RFC3339)
	}

	marketplaceIDs = strings.Split(marketplaceCSV, ",")
	for i := range marketplaceIDs {
		marketplaceIDs[i] = strings.TrimSpace(marketplaceIDs[i])
	}

	parsedKV := parseKeyValues(keyValues)
	if len(parsedKV) > 0 {
		logger.Info("using key-values", zap.Any("kv", parsedKV))
	}

	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	var wg sync.WaitGroup
	sem := make(chan struct{}, conc)
	done := make(chan struct{})

	p := newPacer(rate, duration, totalReq)
	p.surgeEvery, p.surgeFor, p.surgeFactor, p.jitter = surgeInterval, surgeDuration, surgeMultiplier, jitter

	start := time.Now()
	next := start

	if stats {
		go func() {
			ticker := time.NewTicker(statsInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					printStats()
				case <-done:
					printStats()
					return
				}
			}
		}()
	}
	for i := 0; ; i++ {
		if totalReq > 0 && i >= totalReq {
			break
		}
		if duration > 0 && time.Since(start) >= duration {
			break
		}
		if wait := p.interval(time.Since(start), r.Float64()); wait > 0 {
			if now := time.Now(); now.Before(next) {
				time.Sleep(next.Sub(now))
			}
			next = next.Add(wait)
		}

		// r is not safe for concurrent use, so draw everything here
		req := adRequest{
			requestID:     fmt.Sprintf("sim-%s-%d", label, i),
			customerID:    fmt.Sprintf("customer%d", r.Intn(customers)),
			marketplaceID: marketplaceIDs[r.Intn(len(marketplaceIDs))],
			userAgent:     userAgents[r.Intn(len(userAgents))],
			ip:            userIPs[r.Intn(len(userIPs))],
			keyValues:     parsedKV,
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(req adRequest) {
			defer wg.Done()
			defer func() { <-sem }()
			atomic.AddUint64(&countSent, 1)
			send(req)
		}(req)
	}
	wg.Wait()
	close(done)
	if !stats {
		printStats()
	}
}

func send(a adRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.url(server), nil)
	if err != nil {
		atomic.AddUint64(&countErrors, 1)
		logger.Error("request build error", zap.Error(err))
		return
	}
	req.Header.Set("User-Agent", a.userAgent)
	req.Header.Set("X-Forwarded-For", a.ip)
	req.Header.Set(middleware.RequestIDHeader, a.requestID)

	resp, err := httpClient.Do(req)
	if err != nil {
		atomic.AddUint64(&countErrors, 1)
		logger.Error("ad request error", zap.Error(err))
		return
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		atomic.AddUint64(&countErrors, 1)
		logger.Error("read body error", zap.Error(err))
		return
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusServiceUnavailable:
		atomic.AddUint64(&countUnavail, 1)
		return
	default:
		atomic.AddUint64(&countErrors, 1)
		logger.Error("unexpected status", zap.Int("status", resp.StatusCode), zap.String("body", strings.TrimSpace(string(body))))
		return
	}

	var ad models.AdResponse
	if err := json.Unmarshal(body, &ad); err != nil {
		atomic.AddUint64(&countErrors, 1)
		logger.Error("decode error", zap.Error(err), zap.String("body", strings.TrimSpace(string(body))))
		return
	}
	if ad.Content == nil {
		atomic.AddUint64(&countNoAd, 1)
		logger.Debug("no ad", zap.String("request_id", a.requestID))
		return
	}
	atomic.AddUint64(&countServed, 1)
	logger.Debug("served",
		zap.String("request_id", a.requestID),
		zap.String("marketplace_id", a.marketplaceID),
		zap.String("content_id", ad.Content.ContentID))
}

func printStats() {
	sent := atomic.LoadUint64(&countSent)
	served := atomic.LoadUint64(&countServed)
	noAd := atomic.LoadUint64(&countNoAd)
	unavail := atomic.LoadUint64(&countUnavail)
	errs := atomic.LoadUint64(&countErrors)
	var fill float64
	if served+noAd > 0 {
		fill = float64(served) / float64(served+noAd)
	}
	logger.Info("stats", zap.String("run", label), zap.Uint64("sent", sent), zap.Uint64("served", served), zap.Uint64("no_ad", noAd), zap.Uint64("unavailable", unavail), zap.Uint64("errors", errs), zap.Float64("fill_rate", fill))
}
