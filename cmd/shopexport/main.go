package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"shopexport/internal/config"
	"shopexport/internal/export"
	"shopexport/internal/metrics"
	"shopexport/internal/metrics/datadog"

	// register all ledger backends; the config picks which one runs.
	_ "shopexport/internal/ledger/all"
)

// Exit codes follow the batch-job convention: 1 for user errors (bad config,
// bad input data, unreachable bucket), 2 for internal failures.
const (
	exitUser     = 1
	exitInternal = 2
)

func main() {
	var (
		cfgPath           string
		metricsBackendFlg string
		validate          bool
	)

	flag.StringVar(&cfgPath, "config", "configs/pipelines/sample.json", "pipeline config JSON path")
	flag.StringVar(&metricsBackendFlg, "metrics-backend", "", "metrics backend to use (datadog, none)")
	flag.BoolVar(&validate, "validate", false, "validate the configuration and exit")
	verbose := flag.Bool("v", false, "enable verbose logs")

	flag.Parse()

	f, err := os.Open(cfgPath)
	if err != nil {
		fatalf(exitUser, "open config: %v", err)
	}
	p, err := config.Load(f)
	f.Close()
	if err != nil {
		fatalf(exitUser, "%v", err)
	}

	issues := config.Validate(p)
	for _, iss := range issues {
		fmt.Fprintf(os.Stderr, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
	}
	if config.HasError(issues) {
		fatalf(exitUser, "configuration is invalid: %v", cfgPath)
	}
	if validate {
		log.Printf("configuration is valid: %v", cfgPath)
		return
	}

	// Decide metrics backend: flag, then env, default off.
	backendName := metricsBackendFlg
	if backendName == "" {
		backendName = os.Getenv("METRICS_BACKEND")
	}
	switch backendName {
	case "datadog":
		jobName := p.Job
		if jobName == "" {
			jobName = "shop_export"
		}
		b, err := datadog.NewBackend(context.Background(), datadog.Options{
			JobName:    jobName,
			Tags:       datadog.ParseTagsCSV(os.Getenv("METRICS_TAGS")),
			FlushEvery: 60 * time.Second,
		})
		if err != nil {
			log.Printf("metrics: datadog init: %v; metrics disabled", err)
		} else {
			metrics.SetBackend(b)
			// Close stops the periodic flush loop and submits one final time.
			defer func() {
				if err := b.Close(); err != nil {
					log.Printf("metrics: datadog close: %v", err)
				}
			}()
		}
	case "", "none":
		if *verbose {
			log.Printf("metrics: disabled")
		}
	default:
		log.Printf("metrics: unknown backend %q; metrics disabled", backendName)
	}

	ctx := context.Background()
	start := time.Now()

	rep, err := export.NewDefaultRunner().Run(ctx, p)
	if err != nil {
		log.Printf("run %s failed: %v", rep.RunID, err)
		if export.IsUserError(err) {
			os.Exit(exitUser)
		}
		os.Exit(exitInternal)
	}

	log.Printf("run %s: rows=%d batches=%d uploaded=%d failed=%d in %s",
		rep.RunID, rep.Rows, rep.Batches, rep.Uploaded, rep.Failed,
		time.Since(start).Truncate(time.Millisecond))
}

func fatalf(code int, format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(code)
}
