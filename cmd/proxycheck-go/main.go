// Command proxycheck-go checks proxy endpoint liveness: it parses proxy URIs
// from source lists, resolves and deduplicates them, probes latency with ICMP
// echoes, verifies each survivor through a spawned xray instance, and writes
// a ranked result file.
package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/apex/log"
	"github.com/apex/log/handlers/cli"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/John-Robertt/proxycheck-go/internal/parse"
	"github.com/John-Robertt/proxycheck-go/internal/pipeline"
)

type flags struct {
	scheme          string
	whitelistParams string
	removeParams    string
	outFile         string
	sourcesFiles    string
	dnsCacheFile    string
	checkURL        string
	label           string
	xrayBin         string
	configDump      string

	pingTimeoutMs    int
	pingDelayMs      int
	pingCount        int
	requestTimeoutMs int
	chunkSize        int
	baseStartPort    int

	maxConcurrentPings  int64
	maxConcurrentChecks int64
	maxConcurrentDNS    int64

	configFile string
	verbose    bool
	noProgress bool
}

// fileConfig mirrors the flag surface; values apply only to flags left at
// their defaults on the command line.
type fileConfig struct {
	Scheme          *string `yaml:"scheme"`
	WhitelistParams *string `yaml:"whitelist-params"`
	RemoveParams    *string `yaml:"remove-params"`
	OutFile         *string `yaml:"out-file"`
	SourcesFiles    *string `yaml:"sources-files"`
	DNSCacheFile    *string `yaml:"dns-cache-file"`
	CheckURL        *string `yaml:"check-url"`
	Label           *string `yaml:"label"`
	XrayBin         *string `yaml:"xray-bin"`

	PingTimeoutMs    *int `yaml:"ping-timeout-ms"`
	PingDelayMs      *int `yaml:"ping-delay"`
	PingCount        *int `yaml:"ping-count"`
	RequestTimeoutMs *int `yaml:"request-timeout-ms"`
	ChunkSize        *int `yaml:"chunk-size"`
	BaseStartPort    *int `yaml:"base-start-port"`

	MaxConcurrentPings  *int64 `yaml:"max-concurrent-pings"`
	MaxConcurrentChecks *int64 `yaml:"max-concurrent-checks"`
	MaxConcurrentDNS    *int64 `yaml:"max-concurrent-dns"`
}

func main() {
	root, _ := newRootCommand()
	if err := root.Execute(); err != nil {
		log.WithError(err).Error("run failed")
		os.Exit(1)
	}
}

func newRootCommand() (*cobra.Command, *flags) {
	f := &flags{}

	root := &cobra.Command{
		Use:           "proxycheck-go",
		Short:         "check proxy endpoints and rank the working ones by latency",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, f)
		},
	}

	fs := root.Flags()
	fs.StringVarP(&f.scheme, "scheme", "s", "vless", "proxy URI scheme to select")
	fs.StringVarP(&f.whitelistParams, "whitelist-params", "w", "security=reality", "comma-separated key=value filters a candidate must match")
	fs.StringVarP(&f.removeParams, "remove-params", "r", "note,host,spx,authority,path,fp", "comma-separated query keys stripped from candidates")
	fs.StringVarP(&f.outFile, "out-file", "o", "out.txt", "ranked results file")
	fs.StringVar(&f.sourcesFiles, "sources-files", "sources.txt,sources-vless.txt", "comma-separated source list files")
	fs.StringVar(&f.dnsCacheFile, "dns-cache-file", "resolved.txt", "DNS cache file")
	fs.StringVar(&f.checkURL, "check-url", "https://discord.com", "URL fetched through each proxy to verify it")
	fs.StringVar(&f.label, "label", "proxycheck", "fragment label attached to each result line")
	fs.StringVar(&f.xrayBin, "xray-bin", "xray", "xray binary to spawn")
	fs.StringVar(&f.configDump, "config-dump", "", "write each chunk's generated engine config to this file")

	fs.IntVar(&f.pingTimeoutMs, "ping-timeout-ms", 300, "echo reply deadline in milliseconds")
	fs.IntVar(&f.pingDelayMs, "ping-delay", 100, "delay between repeated echoes in milliseconds")
	fs.IntVar(&f.pingCount, "ping-count", 6, "echoes per endpoint across both passes, 0 skips probing")
	fs.IntVar(&f.requestTimeoutMs, "request-timeout-ms", 1000, "verification request timeout in milliseconds")
	fs.IntVar(&f.chunkSize, "chunk-size", 300, "endpoints per engine instance")
	fs.IntVar(&f.baseStartPort, "base-start-port", 10808, "first local listener port")

	fs.Int64Var(&f.maxConcurrentPings, "max-concurrent-pings", 200, "concurrent echo probes")
	fs.Int64Var(&f.maxConcurrentChecks, "max-concurrent-checks", 100, "concurrent verification requests")
	fs.Int64Var(&f.maxConcurrentDNS, "max-concurrent-dns", 50, "concurrent DNS lookups")

	fs.StringVar(&f.configFile, "config", "", "YAML file supplying defaults for flags not set on the command line")
	fs.BoolVarP(&f.verbose, "verbose", "v", false, "enable debug logging")
	fs.BoolVar(&f.noProgress, "no-progress", false, "disable progress bars")

	return root, f
}

func run(cmd *cobra.Command, f *flags) error {
	log.SetHandler(cli.New(os.Stderr))
	if f.verbose {
		log.SetLevel(log.DebugLevel)
	}

	if f.configFile != "" {
		if err := applyFileConfig(cmd, f); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p := pipeline.New(pipeline.Options{
		Scheme:      f.scheme,
		Filters:     parse.Filters(f.whitelistParams),
		StripParams: splitComma(f.removeParams),

		SourcesFiles: splitComma(f.sourcesFiles),
		DNSCacheFile: f.dnsCacheFile,

		CheckURL:   f.checkURL,
		XrayBin:    f.xrayBin,
		ConfigDump: f.configDump,

		PingTimeout:    time.Duration(f.pingTimeoutMs) * time.Millisecond,
		PingDelay:      time.Duration(f.pingDelayMs) * time.Millisecond,
		PingCount:      f.pingCount,
		RequestTimeout: time.Duration(f.requestTimeoutMs) * time.Millisecond,

		ChunkSize:     f.chunkSize,
		BaseStartPort: f.baseStartPort,

		DNSConcurrency:   f.maxConcurrentDNS,
		PingConcurrency:  f.maxConcurrentPings,
		CheckConcurrency: f.maxConcurrentChecks,

		Progress: !f.noProgress,
	})

	working, err := p.Run(ctx)
	if err != nil {
		return err
	}
	return pipeline.WriteResults(working, f.outFile, f.label)
}

// applyFileConfig overlays values from the YAML config file onto flags the
// user did not set explicitly. Command-line flags always win.
func applyFileConfig(cmd *cobra.Command, f *flags) error {
	data, err := os.ReadFile(f.configFile)
	if err != nil {
		return err
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return err
	}

	changed := cmd.Flags().Changed

	setString := func(name string, dst *string, src *string) {
		if src != nil && !changed(name) {
			*dst = *src
		}
	}
	setInt := func(name string, dst *int, src *int) {
		if src != nil && !changed(name) {
			*dst = *src
		}
	}
	setInt64 := func(name string, dst *int64, src *int64) {
		if src != nil && !changed(name) {
			*dst = *src
		}
	}

	setString("scheme", &f.scheme, fc.Scheme)
	setString("whitelist-params", &f.whitelistParams, fc.WhitelistParams)
	setString("remove-params", &f.removeParams, fc.RemoveParams)
	setString("out-file", &f.outFile, fc.OutFile)
	setString("sources-files", &f.sourcesFiles, fc.SourcesFiles)
	setString("dns-cache-file", &f.dnsCacheFile, fc.DNSCacheFile)
	setString("check-url", &f.checkURL, fc.CheckURL)
	setString("label", &f.label, fc.Label)
	setString("xray-bin", &f.xrayBin, fc.XrayBin)

	setInt("ping-timeout-ms", &f.pingTimeoutMs, fc.PingTimeoutMs)
	setInt("ping-delay", &f.pingDelayMs, fc.PingDelayMs)
	setInt("ping-count", &f.pingCount, fc.PingCount)
	setInt("request-timeout-ms", &f.requestTimeoutMs, fc.RequestTimeoutMs)
	setInt("chunk-size", &f.chunkSize, fc.ChunkSize)
	setInt("base-start-port", &f.baseStartPort, fc.BaseStartPort)

	setInt64("max-concurrent-pings", &f.maxConcurrentPings, fc.MaxConcurrentPings)
	setInt64("max-concurrent-checks", &f.maxConcurrentChecks, fc.MaxConcurrentChecks)
	setInt64("max-concurrent-dns", &f.maxConcurrentDNS, fc.MaxConcurrentDNS)

	return nil
}

func splitComma(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
