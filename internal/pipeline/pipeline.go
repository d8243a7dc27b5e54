// Package pipeline drives the end-to-end flow: load sources, parse, resolve
// through the DNS cache, deduplicate, probe latency in two tiers, verify in
// chunks against a spawned forwarding engine, and rank by latency.
//
// Every stage is a full barrier: the next stage starts only after the whole
// batch has finished. Individual candidate failures drop the candidate and
// never abort the batch.
package pipeline

import (
	"context"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/apex/log"
	"golang.org/x/sync/semaphore"

	"github.com/John-Robertt/proxycheck-go/internal/dnscache"
	"github.com/John-Robertt/proxycheck-go/internal/fetch"
	"github.com/John-Robertt/proxycheck-go/internal/model"
	"github.com/John-Robertt/proxycheck-go/internal/parse"
	"github.com/John-Robertt/proxycheck-go/internal/pinger"
	"github.com/John-Robertt/proxycheck-go/internal/resolver"
)

type Options struct {
	Scheme      string
	Filters     []parse.Filter
	StripParams []string

	SourcesFiles []string
	DNSCacheFile string

	CheckURL   string
	XrayBin    string
	ConfigDump string // when non-empty, each chunk's engine config is written here

	PingTimeout    time.Duration
	PingDelay      time.Duration
	PingCount      int
	RequestTimeout time.Duration
	FetchTimeout   time.Duration
	WarmupDelay    time.Duration

	ChunkSize     int
	BaseStartPort int

	DNSConcurrency   int64
	PingConcurrency  int64
	CheckConcurrency int64

	Progress bool
}

func (o Options) withDefaults() Options {
	if o.Scheme == "" {
		o.Scheme = "vless"
	}
	if o.DNSCacheFile == "" {
		o.DNSCacheFile = "resolved.txt"
	}
	if o.CheckURL == "" {
		o.CheckURL = "https://discord.com"
	}
	if o.XrayBin == "" {
		o.XrayBin = "xray"
	}
	if o.PingTimeout == 0 {
		o.PingTimeout = 300 * time.Millisecond
	}
	if o.PingDelay == 0 {
		o.PingDelay = 100 * time.Millisecond
	}
	if o.RequestTimeout == 0 {
		o.RequestTimeout = time.Second
	}
	if o.FetchTimeout == 0 {
		o.FetchTimeout = 10 * time.Second
	}
	if o.WarmupDelay == 0 {
		o.WarmupDelay = time.Second
	}
	if o.ChunkSize == 0 {
		o.ChunkSize = 300
	}
	if o.BaseStartPort == 0 {
		o.BaseStartPort = 10808
	}
	if o.DNSConcurrency == 0 {
		o.DNSConcurrency = 50
	}
	if o.PingConcurrency == 0 {
		o.PingConcurrency = 200
	}
	if o.CheckConcurrency == 0 {
		o.CheckConcurrency = 100
	}
	return o
}

type Pipeline struct {
	opts     Options
	cache    *dnscache.Cache
	resolver *resolver.Resolver
	pinger   *pinger.Pinger
}

func New(opts Options) *Pipeline {
	opts = opts.withDefaults()
	return &Pipeline{
		opts:     opts,
		cache:    dnscache.New(opts.DNSCacheFile),
		resolver: resolver.New(),
		pinger:   pinger.New(opts.PingTimeout),
	}
}

// Run executes the whole pipeline and returns the verified endpoints sorted
// ascending by latency. Only cache I/O failures and an unspawnable engine
// abort the run.
func (p *Pipeline) Run(ctx context.Context) ([]*model.Endpoint, error) {
	text := fetch.Sources(ctx, p.opts.SourcesFiles, fetch.Options{Timeout: p.opts.FetchTimeout})
	lines := strings.Split(text, "\n")
	log.Infof("loaded ~%d proxies", len(lines))

	var cands []*parse.Candidate
	for _, line := range lines {
		if c, ok := parse.Line(line, p.opts.Scheme, p.opts.Filters, p.opts.StripParams); ok {
			cands = append(cands, c)
		}
	}
	log.Infof("selected %d proxies", len(cands))

	if err := p.cache.Load(); err != nil {
		return nil, err
	}
	resolved, err := p.Resolve(ctx, cands)
	if err != nil {
		return nil, err
	}
	log.Infof("resolved %d proxies", len(resolved))

	pinged := resolved
	if p.opts.PingCount > 0 {
		// Pass one: a single probe weeds out dead hosts before the repeat
		// budget is spent.
		pinged = p.Probe(ctx, pinged, 1)
		log.Infof("pinged %d proxies, now getting average ping", len(pinged))

		pinged = p.Probe(ctx, pinged, p.opts.PingCount-1)
		log.Infof("pinged %d proxies with average ping", len(pinged))
	}

	working, err := p.Verify(ctx, pinged)
	if err != nil {
		return nil, err
	}
	log.Infof("found %d working proxies", len(working))

	sortByLatency(working)
	return working, nil
}

// Resolve turns candidates into deduplicated endpoints. Literal addresses
// bypass the cache; domains hit the cache first and fall back to a live
// lookup, which requires an explicit port. The cache is saved once after the
// whole stage completes.
func (p *Pipeline) Resolve(ctx context.Context, cands []*parse.Candidate) ([]*model.Endpoint, error) {
	sem := semaphore.NewWeighted(p.opts.DNSConcurrency)

	var mu sync.Mutex
	seen := make(map[string]struct{})
	var out []*model.Endpoint

	var wg sync.WaitGroup
	for _, c := range cands {
		wg.Add(1)
		go func(c *parse.Candidate) {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				return
			}
			defer sem.Release(1)

			ep, err := p.resolveCandidate(ctx, c)
			if err != nil {
				log.Debugf("dropping %s://%s: %v", c.Protocol, c.Host, err)
				return
			}

			mu.Lock()
			defer mu.Unlock()
			if _, dup := seen[ep.Key()]; dup {
				return
			}
			seen[ep.Key()] = struct{}{}
			out = append(out, ep)
		}(c)
	}
	wg.Wait()

	if err := p.cache.Save(); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Pipeline) resolveCandidate(ctx context.Context, c *parse.Candidate) (*model.Endpoint, error) {
	if c.Host == "" {
		return nil, errNoHost
	}

	host := strings.ToLower(c.Host)
	addr, err := netip.ParseAddr(host)
	if err != nil {
		addr, err = p.resolveDomain(ctx, host, c.Port)
		if err != nil {
			return nil, err
		}
	}
	return model.NewEndpoint(c.Protocol, addr.Unmap(), c.Port, c.User, c.Params), nil
}

func (p *Pipeline) resolveDomain(ctx context.Context, domain string, port uint16) (netip.Addr, error) {
	if addr, ok := p.cache.Get(domain); ok {
		return addr, nil
	}
	// A live lookup is only attempted for candidates carrying an explicit
	// port; scheme-default ports apply after resolution, not here.
	if port == 0 {
		return netip.Addr{}, errPortRequired
	}
	addr, err := p.resolver.LookupAddr(ctx, domain)
	if err != nil {
		return netip.Addr{}, err
	}
	p.cache.Insert(domain, addr)
	return addr, nil
}

// Probe sends count echo probes per endpoint and keeps only endpoints with at
// least one reply under the timeout, overwriting Latency with the mean of the
// successful round trips.
func (p *Pipeline) Probe(ctx context.Context, eps []*model.Endpoint, count int) []*model.Endpoint {
	sem := semaphore.NewWeighted(p.opts.PingConcurrency)
	bar := newProgressBar(p.opts.Progress, len(eps), "probing")

	var mu sync.Mutex
	var out []*model.Endpoint

	var wg sync.WaitGroup
	for _, ep := range eps {
		wg.Add(1)
		go func(ep *model.Endpoint) {
			defer wg.Done()
			defer barAdd(bar)
			if err := sem.Acquire(ctx, 1); err != nil {
				return
			}
			defer sem.Release(1)

			latency, ok := p.probeOne(ctx, ep, count)
			if !ok {
				return
			}
			ep.Latency = latency

			mu.Lock()
			out = append(out, ep)
			mu.Unlock()
		}(ep)
	}
	wg.Wait()
	barFinish(bar)

	return out
}

func (p *Pipeline) probeOne(ctx context.Context, ep *model.Endpoint, count int) (time.Duration, bool) {
	var rtts []float64
	for i := 0; i < count; i++ {
		rtt, err := p.pinger.Ping(ctx, ep.Address)
		if err == nil && rtt < p.opts.PingTimeout {
			rtts = append(rtts, float64(rtt))
		}
		if count > 1 {
			// Spread repeats out so probes do not burst on the wire.
			select {
			case <-time.After(p.opts.PingDelay):
			case <-ctx.Done():
				return 0, false
			}
		}
	}
	if len(rtts) == 0 {
		return 0, false
	}
	return meanDuration(rtts), true
}

var (
	errNoHost       = errString("candidate has no host")
	errPortRequired = errString("port required for DNS lookup")
)

type errString string

func (e errString) Error() string { return string(e) }
