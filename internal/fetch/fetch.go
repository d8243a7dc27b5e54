// Package fetch loads raw candidate lists from local source files and the
// https:// list URLs those files name.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/apex/log"

	"github.com/John-Robertt/proxycheck-go/internal/model"
)

type Options struct {
	Timeout  time.Duration // default 10s
	MaxBytes int64         // default 32 MiB
	// SourcesDir is the fallback directory tried when a source file is not
	// found under its plain name. Default "sources".
	SourcesDir string
}

type FetchError struct {
	AppError model.AppError
	Cause    error
}

func (e *FetchError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *FetchError) Unwrap() error { return e.Cause }

func (o Options) withDefaults() Options {
	if o.Timeout == 0 {
		o.Timeout = 10 * time.Second
	}
	if o.MaxBytes == 0 {
		o.MaxBytes = 32 * 1024 * 1024
	}
	if o.SourcesDir == "" {
		o.SourcesDir = "sources"
	}
	return o
}

// Sources reads each named source file (plain name first, then under
// SourcesDir). Lines starting with https:// are list URLs fetched
// concurrently; every other non-empty line passes through as candidate text.
// Unreadable files and failed fetches are logged and omitted, never fatal.
func Sources(ctx context.Context, files []string, opt Options) string {
	opt = opt.withDefaults()

	var lines []string
	var listURLs []string
	for _, name := range files {
		data, err := os.ReadFile(name)
		if err != nil {
			data, err = os.ReadFile(filepath.Join(opt.SourcesDir, name))
		}
		if err != nil {
			log.WithError(err).Warnf("skipping source file %s", name)
			continue
		}
		for _, line := range strings.Split(string(data), "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if strings.HasPrefix(line, "https://") {
				listURLs = append(listURLs, line)
			} else {
				lines = append(lines, line)
			}
		}
	}

	texts := fetchAll(ctx, listURLs, opt)
	return strings.Join(append(lines, texts...), "\n")
}

// fetchAll fans out one GET per URL and joins whatever succeeded. There is no
// retry or backoff; a failed list is simply absent from this run.
func fetchAll(ctx context.Context, urls []string, opt Options) []string {
	results := make([]string, len(urls))
	var wg sync.WaitGroup
	for i, rawURL := range urls {
		wg.Add(1)
		go func(i int, rawURL string) {
			defer wg.Done()
			text, err := Text(ctx, rawURL, opt)
			if err != nil {
				log.WithError(err).Warnf("failed to load source %s", rawURL)
				return
			}
			log.Infof("loaded source: %s", rawURL)
			results[i] = text
		}(i, rawURL)
	}
	wg.Wait()

	out := make([]string, 0, len(results))
	for _, text := range results {
		if text != "" {
			out = append(out, text)
		}
	}
	return out
}

// Text fetches one list URL with a per-request timeout and size cap.
func Text(ctx context.Context, rawURL string, opt Options) (string, error) {
	opt = opt.withDefaults()

	u, err := url.Parse(rawURL)
	if err != nil || u == nil || (u.Scheme != "http" && u.Scheme != "https") {
		return "", &FetchError{
			AppError: model.AppError{
				Code:    "INVALID_ARGUMENT",
				Message: "only http/https URLs are allowed",
				Stage:   "fetch_sources",
				URL:     rawURL,
			},
			Cause: err,
		}
	}

	client := &http.Client{
		Timeout:   opt.Timeout,
		Transport: http.DefaultTransport,
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", &FetchError{
			AppError: model.AppError{
				Code:    "INVALID_ARGUMENT",
				Message: "invalid request URL",
				Stage:   "fetch_sources",
				URL:     rawURL,
			},
			Cause: err,
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		// Timeout detection: Go may wrap errors (e.g. *url.Error).
		var ne net.Error
		if (errors.As(err, &ne) && ne.Timeout()) || errors.Is(err, context.DeadlineExceeded) {
			return "", &FetchError{
				AppError: model.AppError{
					Code:    "FETCH_TIMEOUT",
					Message: "fetching source list timed out",
					Stage:   "fetch_sources",
					URL:     rawURL,
				},
				Cause: err,
			}
		}
		return "", &FetchError{
			AppError: model.AppError{
				Code:    "FETCH_FAILED",
				Message: "failed to fetch source list",
				Stage:   "fetch_sources",
				URL:     rawURL,
			},
			Cause: err,
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &FetchError{
			AppError: model.AppError{
				Code:    "FETCH_FAILED",
				Message: fmt.Sprintf("upstream returned non-2xx status: %d", resp.StatusCode),
				Stage:   "fetch_sources",
				URL:     rawURL,
			},
		}
	}

	// Read at most MaxBytes+1 to detect overflow deterministically.
	body, err := io.ReadAll(io.LimitReader(resp.Body, opt.MaxBytes+1))
	if err != nil {
		return "", &FetchError{
			AppError: model.AppError{
				Code:    "FETCH_FAILED",
				Message: "failed to read upstream response",
				Stage:   "fetch_sources",
				URL:     rawURL,
			},
			Cause: err,
		}
	}
	if int64(len(body)) > opt.MaxBytes {
		return "", &FetchError{
			AppError: model.AppError{
				Code:    "TOO_LARGE",
				Message: fmt.Sprintf("source list too large (>%d bytes)", opt.MaxBytes),
				Stage:   "fetch_sources",
				URL:     rawURL,
			},
		}
	}
	if !utf8.Valid(body) {
		return "", &FetchError{
			AppError: model.AppError{
				Code:    "FETCH_INVALID_UTF8",
				Message: "source list is not valid UTF-8 text",
				Stage:   "fetch_sources",
				URL:     rawURL,
			},
		}
	}

	return string(body), nil
}
