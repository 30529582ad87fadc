// Command volctl runs single pipeline stages against the configured store.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"VolCast/internal/di"
	domrepo "VolCast/internal/domain/repository"
	"VolCast/pkg/config"
	xhttp "VolCast/pkg/http"
)

const usage = `usage: volctl [-config path] <command> [flags]

commands:
  sync       copy closed candles from ClickHouse into the store
  returns    build log returns for -freq
  train      fit and persist a model for -freq
  predict    write the latest forecast, or backfill with -window N
  backtest   walk-forward evaluation with -test-fraction and -retrain-every
  metrics    print the latest risk summary (locally or via -remote URL)
`

func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()
	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath, flag.Arg(0), flag.Args()[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "volctl %s: %v\n", flag.Arg(0), err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath, cmd string, args []string) error {
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	freq := fs.String("freq", "1h", "return frequency (1h or 1d)")
	symbol := fs.String("symbol", "", "symbol (defaults to forecast.symbol)")
	window := fs.Int("window", 0, "predict: backfill the last N anchors (0 = latest only)")
	testFraction := fs.Float64("test-fraction", 0, "backtest: share of rows used before the first test step")
	retrainEvery := fs.Int("retrain-every", 0, "backtest: refit every N test steps")
	remote := fs.String("remote", "", "metrics: read from a running service at this base URL")
	if err := fs.Parse(args); err != nil {
		return err
	}

	f := domrepo.Frequency(*freq)
	if !domrepo.IsValidFrequency(f) {
		return fmt.Errorf("unsupported frequency %q", *freq)
	}

	if cmd == "metrics" && *remote != "" {
		return remoteMetrics(ctx, *remote, f, *symbol)
	}

	cfg, err := config.LoadWithEnv(configPath)
	if err != nil {
		return err
	}
	if *symbol == "" {
		*symbol = cfg.Forecast.Symbol
	}

	tk, err := di.InitializeToolkit(cfg)
	if err != nil {
		return err
	}
	defer tk.Close()

	switch cmd {
	case "sync":
		if tk.Syncer == nil {
			return fmt.Errorf("clickhouse.host is not configured")
		}
		n, err := tk.Syncer.SyncCandles(ctx, *symbol, cfg.Forecast.BaseInterval)
		return report(map[string]interface{}{"symbol": *symbol, "interval": cfg.Forecast.BaseInterval, "inserted": n}, err)
	case "returns":
		n, err := tk.Returns.BuildReturns(ctx, *symbol, f)
		return report(map[string]interface{}{"symbol": *symbol, "freq": f, "inserted": n}, err)
	case "train":
		a, err := tk.Trainer.Train(ctx, *symbol, f)
		if err != nil {
			return err
		}
		return report(map[string]interface{}{
			"id": a.ID.String(), "symbol": a.Symbol, "freq": a.Freq, "model_type": a.ModelType, "trained_at": a.TrainedAt,
		}, nil)
	case "predict":
		var n int
		if *window > 0 {
			n, err = tk.Predictor.Backfill(ctx, *symbol, f, *window)
		} else {
			n, err = tk.Predictor.PredictLatest(ctx, *symbol, f)
		}
		return report(map[string]interface{}{"symbol": *symbol, "freq": f, "inserted": n}, err)
	case "backtest":
		tf, re := *testFraction, *retrainEvery
		if tf == 0 {
			tf = cfg.Backtest.TestFraction
		}
		if re == 0 {
			re = cfg.Backtest.RetrainEvery
		}
		rep, err := tk.Backtester.Backtest(ctx, *symbol, f, tf, re)
		return report(rep, err)
	case "metrics":
		m, err := tk.Risk.LatestMetrics(ctx, *symbol, f)
		return report(m, err)
	default:
		return fmt.Errorf("unknown command %q\n\n%s", cmd, usage)
	}
}

func remoteMetrics(ctx context.Context, base string, f domrepo.Frequency, symbol string) error {
	client := xhttp.NewClient(xhttp.WithTimeout(15 * time.Second))
	query := map[string][]string{"freq": {string(f)}}
	if symbol != "" {
		query["symbol"] = []string{symbol}
	}
	var out xhttp.APIResponse
	err := client.SendAndParse(ctx, &xhttp.RequestOptions{
		Method:      http.MethodGet,
		URL:         strings.TrimRight(base, "/") + "/v1/latest",
		QueryParams: query,
	}, &out)
	if err != nil {
		return err
	}
	return report(out.Data, nil)
}

func report(v interface{}, err error) error {
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
