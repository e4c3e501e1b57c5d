package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

const (
	listenAddr = ":8080"
	usage      = `usage:
  report-crawler crawl  -codes FILE -market cn|hk|us [-start Y] [-end Y] [-from YYYYMMDD -to YYYYMMDD] [-out DIR] [-config FILE] [-concurrency N] [-metrics-addr ADDR]
  report-crawler serve  -root DIR [-addr :8080] [-config FILE]
  report-crawler verify -root DIR [-config FILE]`
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "crawl":
		err = crawlMain(ctx, os.Args[2:])
	case "serve":
		err = serveMain(ctx, os.Args[2:])
	case "verify":
		err = verifyMain(os.Args[2:])
	case "-h", "-help", "--help", "help":
		fmt.Println(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n%s\n", os.Args[1], usage)
		os.Exit(2)
	}
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// setup loads the config and builds the logger shared by every command.
func setup(configPath string) (Config, *zap.Logger, error) {
	cfg, cfgErr := LoadConfig(configPath)
	logger, err := newLogger(cfg.Log)
	if err != nil {
		return cfg, nil, err
	}
	if cfgErr != nil {
		if isNotExist(cfgErr) {
			logger.Info("config file not found, using defaults", zap.String("path", configPath))
		} else {
			logger.Warn("config unreadable, using defaults", zap.Error(cfgErr))
		}
	}
	return cfg, logger, nil
}

// ---- crawl ----

func crawlMain(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("crawl", flag.ContinueOnError)
	var (
		codesFile   = fs.String("codes", "", "file with one stock identifier per line")
		marketFlag  = fs.String("market", "cn", "market: cn, hk or us")
		startYear   = fs.Int("start", 0, "first report year (0 = open)")
		endYear     = fs.Int("end", 0, "last report year (0 = open)")
		fromDate    = fs.String("from", "", "search window start YYYYMMDD (hk)")
		toDate      = fs.String("to", "", "search window end YYYYMMDD (hk)")
		outDir      = fs.String("out", "", "archive root (default: download_base_path)")
		configPath  = fs.String("config", defaultConfigPath, "config file (YAML or JSON)")
		concurrency = fs.Int("concurrency", 0, "requested download concurrency (clamped to 1)")
		metricsAddr = fs.String("metrics-addr", "", "serve Prometheus metrics on this address while crawling")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *codesFile == "" {
		return errors.New("crawl: -codes is required")
	}
	market, err := ParseMarket(*marketFlag)
	if err != nil {
		return err
	}
	q, err := buildQuery(*startYear, *endYear, *fromDate, *toDate)
	if err != nil {
		return err
	}

	cfg, logger, err := setup(*configPath)
	if err != nil {
		return err
	}
	defer logger.Sync()

	codes, err := ReadIdentifiers(*codesFile)
	if err != nil {
		return fmt.Errorf("read identifiers: %w", err)
	}
	if len(codes) == 0 {
		return fmt.Errorf("no identifiers in %s", *codesFile)
	}

	sum, err := runCrawl(ctx, cfg, CrawlOptions{
		Market:      market,
		Codes:       codes,
		Query:       q,
		OutDir:      *outDir,
		Concurrency: *concurrency,
		MetricsAddr: *metricsAddr,
	}, logger, logProgress(logger))
	fmt.Println(sum)
	return err
}

func buildQuery(start, end int, from, to string) (Query, error) {
	q := Query{Years: YearRange{Start: start, End: end}}
	if start != 0 && end != 0 && start > end {
		return q, fmt.Errorf("start year %d after end year %d", start, end)
	}
	if from == "" && to == "" {
		return q, nil
	}
	w := DateWindow{From: from, To: to}
	if err := w.Validate(); err != nil {
		return q, err
	}
	q.Window = &w
	return q, nil
}

// ---- serve ----

func serveMain(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	rootDir := fs.String("root", "", "archive root (default: download_base_path)")
	addr := fs.String("addr", listenAddr, "http listen address (e.g. :8080)")
	configPath := fs.String("config", defaultConfigPath, "config file (YAML or JSON)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, logger, err := setup(*configPath)
	if err != nil {
		return err
	}
	defer logger.Sync()

	root := cfg.BaseDir(*rootDir)
	if err := os.MkdirAll(filepath.Join(root, mergedSubDir), 0o755); err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	srv := &http.Server{
		Addr:              *addr,
		Handler:           newArchiveMux(root, logger, reg),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("archive browser listening", zap.String("addr", *addr), zap.String("root", root))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ---- verify ----

func verifyMain(args []string) error {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	rootDir := fs.String("root", "", "archive root (default: download_base_path)")
	configPath := fs.String("config", defaultConfigPath, "config file (YAML or JSON)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, logger, err := setup(*configPath)
	if err != nil {
		return err
	}
	defer logger.Sync()

	root := cfg.BaseDir(*rootDir)
	rep, err := verifyArchive(root)
	if err != nil {
		return err
	}
	bad := make([]string, 0, len(rep.Corrupt))
	for rel := range rep.Corrupt {
		bad = append(bad, rel)
	}
	sort.Strings(bad)
	for _, rel := range bad {
		logger.Error("corrupt PDF", zap.String("file", rel), zap.Error(rep.Corrupt[rel]))
	}
	fmt.Printf("%d PDFs checked, %d corrupt\n", rep.Checked, len(bad))
	if len(bad) > 0 {
		return fmt.Errorf("%d corrupt PDFs under %s", len(bad), root)
	}
	return nil
}
