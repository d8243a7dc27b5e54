package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/apex/log"
	"golang.org/x/sync/semaphore"

	"github.com/John-Robertt/proxycheck-go/internal/engine"
	"github.com/John-Robertt/proxycheck-go/internal/model"
	"github.com/John-Robertt/proxycheck-go/internal/xray"
)

// Verify processes endpoints chunk by chunk, one engine instance at a time.
// Chunk k owns the port range starting at BaseStartPort + k*ChunkSize, one
// port per endpoint by position.
func (p *Pipeline) Verify(ctx context.Context, eps []*model.Endpoint) ([]*model.Endpoint, error) {
	var working []*model.Endpoint
	for k, chunk := range chunks(eps, p.opts.ChunkSize) {
		basePort := p.opts.BaseStartPort + k*p.opts.ChunkSize
		verified, err := p.verifyChunk(ctx, chunk, basePort)
		if err != nil {
			return nil, err
		}
		working = append(working, verified...)
	}
	return working, nil
}

// verifyChunk compiles the chunk, runs one engine instance for it, and issues
// one proxied request per endpoint. A translation failure or an engine that
// dies after spawn yields zero verified endpoints for this chunk only; a
// spawn failure is run-fatal and propagates.
func (p *Pipeline) verifyChunk(ctx context.Context, chunk []*model.Endpoint, basePort int) ([]*model.Endpoint, error) {
	config, err := xray.Generate(chunk, basePort)
	if err != nil {
		log.WithError(err).Warnf("skipping chunk at port %d: config generation failed", basePort)
		return nil, nil
	}

	proc, err := engine.Start(ctx, p.opts.XrayBin, config, p.opts.ConfigDump)
	if err != nil {
		return nil, err
	}
	defer proc.Kill()

	select {
	case <-time.After(p.opts.WarmupDelay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if proc.Exited() {
		log.Warnf("engine exited during warm-up")
		log.Warnf("engine output: %s", proc.Output())
	}

	sem := semaphore.NewWeighted(p.opts.CheckConcurrency)
	bar := newProgressBar(p.opts.Progress, len(chunk), "verifying")

	var mu sync.Mutex
	var verified []*model.Endpoint

	var wg sync.WaitGroup
	for i, ep := range chunk {
		wg.Add(1)
		go func(i int, ep *model.Endpoint) {
			defer wg.Done()
			defer barAdd(bar)
			if err := sem.Acquire(ctx, 1); err != nil {
				return
			}
			defer sem.Release(1)

			if !p.checkThroughListener(ctx, basePort+i) {
				return
			}
			mu.Lock()
			verified = append(verified, ep)
			mu.Unlock()
		}(i, ep)
	}
	wg.Wait()
	barFinish(bar)

	return verified, nil
}

// checkThroughListener issues one GET of the check URL through the local
// SOCKS listener on the given port. Verified means a 2xx within the request
// timeout; anything else is a drop, never retried.
func (p *Pipeline) checkThroughListener(ctx context.Context, port int) bool {
	proxyURL, err := url.Parse(fmt.Sprintf("socks5://127.0.0.1:%d", port))
	if err != nil {
		return false
	}
	client := &http.Client{
		Timeout: p.opts.RequestTimeout,
		Transport: &http.Transport{
			Proxy: http.ProxyURL(proxyURL),
		},
	}
	defer client.CloseIdleConnections()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.opts.CheckURL, nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// chunks partitions eps into fixed-size contiguous chunks, preserving order.
func chunks(eps []*model.Endpoint, size int) [][]*model.Endpoint {
	var out [][]*model.Endpoint
	for start := 0; start < len(eps); start += size {
		end := start + size
		if end > len(eps) {
			end = len(eps)
		}
		out = append(out, eps[start:end])
	}
	return out
}
