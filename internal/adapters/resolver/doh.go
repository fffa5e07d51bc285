// Package resolver resolves MX records over DNS-over-HTTPS (JSON API).
package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/stoik/email-risk/internal/domain"
	"github.com/stoik/email-risk/internal/domain/mailbox"
	"github.com/stoik/email-risk/internal/metrics"
)

const (
	DefaultEndpoint    = "https://cloudflare-dns.com/dns-query"
	DefaultTimeout     = 500 * time.Millisecond
	DefaultCacheTTL    = 15 * time.Minute
	DefaultConcurrency = 8

	maxCacheEntries  = 50000
	maxResponseBytes = 1 << 20
)

// Options configures a DoH resolver. Zero values take defaults.
type Options struct {
	Endpoint    string
	Timeout     time.Duration
	CacheTTL    time.Duration
	Concurrency int     // ResolveMany parallelism
	QPS         float64 // upstream queries per second, 0 = unlimited
	HTTPClient  *http.Client
	Clock       func() time.Time
	Logger      *slog.Logger
}

type cacheEntry struct {
	result    domain.MXResult
	expiresAt time.Time
}

// DoHResolver implements ports.MXResolver
type DoHResolver struct {
	opts    Options
	client  *http.Client
	limiter *rate.Limiter
	group   singleflight.Group

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

// New creates a resolver
func New(opts Options) *DoHResolver {
	if opts.Endpoint == "" {
		opts.Endpoint = DefaultEndpoint
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = DefaultCacheTTL
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{
			Transport: &http.Transport{
				ForceAttemptHTTP2:   true,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: opts.Concurrency + 10,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}

	r := &DoHResolver{
		opts:   opts,
		client: client,
		cache:  make(map[string]cacheEntry),
	}
	if opts.QPS > 0 {
		burst := int(opts.QPS * 2)
		if burst < 1 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(opts.QPS), burst)
	}
	return r
}

// Resolve returns the MX records of domainName. It never fails; lookup
// problems are reported through MXResult.Failed.
func (r *DoHResolver) Resolve(ctx context.Context, domainName string) domain.MXResult {
	name := normalize(domainName)
	if name == "" {
		return failed(domainName, "empty domain")
	}

	if res, ok := r.cached(name); ok {
		metrics.MXLookupsTotal.WithLabelValues("hit").Inc()
		return res
	}

	ch := r.group.DoChan(name, func() (any, error) {
		if res, ok := r.cached(name); ok {
			return res, nil
		}
		// Pacing runs outside the lookup deadline; its failures are not cached
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return r.fail(name, "rate limited", err), nil
			}
		}
		res := r.lookup(ctx, name)
		r.store(name, res)
		return res, nil
	})

	select {
	case out := <-ch:
		return out.Val.(domain.MXResult)
	case <-ctx.Done():
		return failed(name, "canceled")
	}
}

// ResolveMany resolves domains concurrently, bounded by the configured
// concurrency. Duplicate domains are resolved once.
func (r *DoHResolver) ResolveMany(ctx context.Context, domains []string) map[string]domain.MXResult {
	out := make(map[string]domain.MXResult, len(domains))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Concurrency)

	seen := make(map[string]struct{}, len(domains))
	for _, d := range domains {
		name := normalize(d)
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}

		g.Go(func() error {
			res := r.Resolve(gctx, name)
			mu.Lock()
			out[name] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// dohResponse is the JSON DNS response format
type dohResponse struct {
	Status int `json:"Status"`
	Answer []struct {
		Name string `json:"name"`
		Type uint16 `json:"type"`
		TTL  int    `json:"TTL"`
		Data string `json:"data"`
	} `json:"Answer"`
}

func (r *DoHResolver) lookup(parent context.Context, name string) domain.MXResult {
	// Shared by every waiter, so only the hard timeout may cancel it
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), r.opts.Timeout)
	defer cancel()

	q := url.Values{}
	q.Set("name", name)
	q.Set("type", dns.TypeToString[dns.TypeMX])
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.opts.Endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return r.fail(name, "bad request", err)
	}
	req.Header.Set("Accept", "application/dns-json")

	resp, err := r.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return r.fail(name, "timeout", err)
		}
		return r.fail(name, "upstream error", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return r.fail(name, fmt.Sprintf("http status %d", resp.StatusCode), nil)
	}

	var body dohResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&body); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return r.fail(name, "timeout", err)
		}
		return r.fail(name, "malformed response", err)
	}

	switch body.Status {
	case dns.RcodeSuccess:
	case dns.RcodeNameError:
		metrics.MXLookupsTotal.WithLabelValues("no_records").Inc()
		return noRecords(name)
	default:
		rcode, ok := dns.RcodeToString[body.Status]
		if !ok {
			rcode = strconv.Itoa(body.Status)
		}
		return r.fail(name, "rcode "+rcode, nil)
	}

	var records []domain.MXRecord
	for _, a := range body.Answer {
		if a.Type != 0 && a.Type != dns.TypeMX {
			continue
		}
		if rec, ok := parseMX(a.Data); ok {
			records = append(records, rec)
		}
	}
	if len(records) == 0 {
		metrics.MXLookupsTotal.WithLabelValues("no_records").Inc()
		return noRecords(name)
	}

	sort.Slice(records, func(i, j int) bool {
		if records[i].Preference != records[j].Preference {
			return records[i].Preference < records[j].Preference
		}
		return records[i].Exchange < records[j].Exchange
	})

	exchanges := make([]string, len(records))
	for i, rec := range records {
		exchanges[i] = rec.Exchange
	}

	metrics.MXLookupsTotal.WithLabelValues("success").Inc()
	return domain.MXResult{
		Domain:      name,
		HasRecords:  true,
		RecordCount: len(records),
		Records:     records,
		Provider:    mailbox.Classify(name, exchanges),
	}
}

// parseMX parses "<preference> <exchange>"
func parseMX(data string) (domain.MXRecord, bool) {
	fields := strings.Fields(data)
	if len(fields) != 2 {
		return domain.MXRecord{}, false
	}
	pref, err := strconv.ParseUint(fields[0], 10, 16)
	if err != nil {
		return domain.MXRecord{}, false
	}
	exchange := strings.ToLower(dns.Fqdn(fields[1]))
	if _, ok := dns.IsDomainName(exchange); !ok {
		return domain.MXRecord{}, false
	}
	return domain.MXRecord{Preference: uint16(pref), Exchange: exchange}, true
}

func (r *DoHResolver) fail(name, reason string, err error) domain.MXResult {
	metrics.MXLookupsTotal.WithLabelValues("failed").Inc()
	if err != nil {
		r.opts.Logger.Warn("mx lookup failed", "domain", name, "reason", reason, "error", err)
	} else {
		r.opts.Logger.Warn("mx lookup failed", "domain", name, "reason", reason)
	}
	return failed(name, reason)
}

func (r *DoHResolver) cached(name string) (domain.MXResult, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.cache[name]
	if !ok || !r.opts.Clock().Before(e.expiresAt) {
		return domain.MXResult{}, false
	}
	return e.result, true
}

func (r *DoHResolver) store(name string, res domain.MXResult) {
	now := r.opts.Clock()
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.cache) >= maxCacheEntries {
		for k, e := range r.cache {
			if !now.Before(e.expiresAt) {
				delete(r.cache, k)
			}
		}
	}
	if len(r.cache) >= maxCacheEntries {
		// Still full of live entries: drop arbitrary ones
		for k := range r.cache {
			delete(r.cache, k)
			if len(r.cache) < maxCacheEntries {
				break
			}
		}
	}
	r.cache[name] = cacheEntry{result: res, expiresAt: now.Add(r.opts.CacheTTL)}
}

func normalize(d string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(d)), ".")
}

func noRecords(name string) domain.MXResult {
	return domain.MXResult{Domain: name, Provider: domain.ProviderNone}
}

func failed(name, reason string) domain.MXResult {
	return domain.MXResult{Domain: name, Provider: domain.ProviderNone, Failed: true, FailureReason: reason}
}
