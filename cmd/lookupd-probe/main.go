package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	lookupd "github.com/cloudresolve/lookupd"
)

type options struct {
	logLevel   uint32
	family     string
	all        bool
	cacheFile  string
	hostsPath  string
	maxEntries int
	timeout    time.Duration
}

func main() {
	var opt options
	cmd := &cobra.Command{
		Use:   "lookupd-probe <hostname> [<hostname>..]",
		Short: "Caching DNS lookup probe",
		Long: `Caching DNS lookup probe.

Resolves one or more hostnames through the lookupd cache, hosts
overlay and failover policy, printing the result each query would
have returned to a caller. Useful for exercising a persisted cache
file or a candidate hosts file outside of a running process.
`,
		Example: `  lookupd-probe example.com
  lookupd-probe --family ipv6 --all example.com`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(opt, args)
		},
		SilenceUsage: true,
	}

	cmd.Flags().Uint32VarP(&opt.logLevel, "log-level", "l", 4, "log level; 0=Panic .. 6=Trace")
	cmd.Flags().StringVarP(&opt.family, "family", "f", "any", "address family: any, ipv4, ipv6")
	cmd.Flags().BoolVarP(&opt.all, "all", "a", false, "return every matching address instead of one")
	cmd.Flags().StringVarP(&opt.cacheFile, "cache-file", "c", "", "persist the cache to this file across runs")
	cmd.Flags().StringVar(&opt.hostsPath, "hosts-file", "", "override the hosts(5) file path")
	cmd.Flags().IntVar(&opt.maxEntries, "max-entries", 0, "bound on the in-memory cache size")
	cmd.Flags().DurationVarP(&opt.timeout, "timeout", "t", 5*time.Second, "per-query timeout")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(opt options, hosts []string) error {
	logger := logrus.New()
	if opt.logLevel > 6 {
		return fmt.Errorf("invalid log level: %d", opt.logLevel)
	}
	logger.SetLevel(logrus.Level(opt.logLevel))

	family, err := lookupd.ParseFamily(opt.family)
	if err != nil {
		return err
	}

	cfg := lookupd.Config{
		Logger:          logger,
		MaxCacheEntries: opt.maxEntries,
	}
	if opt.cacheFile != "" {
		cfg.PersistentStorageService = lookupd.NewFilePersistenceSink(opt.cacheFile)
	}
	if opt.hostsPath != "" {
		cfg.HostsFileService = lookupd.NewFileHostsSource(opt.hostsPath, logger)
	}

	ctrl := lookupd.New(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := ctrl.Bootstrap(ctx); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer func() {
		if err := ctrl.Teardown(); err != nil {
			logger.WithError(err).Warn("lookupd-probe: teardown failed")
		}
	}()

	for _, host := range hosts {
		queryCtx, queryCancel := context.WithTimeout(ctx, opt.timeout)
		res, err := ctrl.Lookup(queryCtx, host, lookupd.LookupOptions{Family: family, All: opt.all})
		queryCancel()
		if err != nil {
			fmt.Printf("%s: error: %v\n", host, err)
			continue
		}
		printResult(host, res)
	}

	stats := ctrl.Stats()
	fmt.Printf("cache hits=%d misses=%d\n", stats.CacheHits, stats.CacheMisses)
	return nil
}

func printResult(host string, res lookupd.LookupResult) {
	if res.All {
		for _, a := range res.Addresses {
			fmt.Printf("%s: %s (family %d)\n", host, a.Address, a.Family)
		}
		return
	}
	fmt.Printf("%s: %s (family %d)\n", host, res.Address, res.Family)
}
