package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"sync"

	"github.com/One-com/gone/log"
	"github.com/One-com/gone/log/syslog"
	"github.com/One-com/gone/sd"
	"github.com/One-com/gone/signals"

	"github.com/One-com/frontdoor"
	"github.com/One-com/frontdoor/config"
)

var (
	VERSION   = "Not set"
	BUILDTIME = "In the past"
	REVISION  = "Unknown"
)

var (
	printVersion bool
	configFile   string
	dryrun       bool
	logLevel     int
)

func init() {
	flag.BoolVar(&printVersion, "v", false, "Print version")
	flag.StringVar(&configFile, "c", "", "Configuration file (default $"+config.EnvConfigFile+" or "+config.DefaultFile+")")
	flag.IntVar(&logLevel, "d", int(syslog.LOG_NOTICE), "Server syslog loglevel [0..7]")
	flag.BoolVar(&dryrun, "n", false, "Dryrun - Dump full config")

	frontdoor.RegisterStage(healthStage)
}

// healthStage answers liveness probes. Configs may list it as "health".
var healthStage = frontdoor.StageFunc("health", func(ctx context.Context, hc *frontdoor.HandlerContext) error {
	return hc.Handle("/health", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok\n"))
	}))
})

func main() {
	flag.Parse()

	if printVersion {
		fmt.Printf("Version:     \t%s\n", VERSION)
		fmt.Printf("Revision:    \t%s\n", REVISION)
		fmt.Printf("Build date:  \t%s\n", BUILDTIME)
		fmt.Printf("Go Compiler: \t%s\n", runtime.Version())
		return
	}

	log.SetLevel(syslog.Priority(logLevel))
	log.SetFlags(log.Llevel | log.Lname)
	log.AutoColoring()

	src := config.Default()
	if configFile != "" {
		src = config.File(configFile)
	}

	cfg, err := src.Resolve()
	if err != nil {
		log.CRIT("Error parsing config", "err", err)
		os.Exit(1)
	}
	if dryrun {
		cfg.Dump(os.Stdout)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metricsDone := make(chan struct{})
	if ms := frontdoor.NewMetricsService(cfg.Metrics); ms != nil {
		go func() {
			defer close(metricsDone)
			ms.Serve(ctx)
		}()
	} else {
		close(metricsDone)
	}

	ctrl := frontdoor.New(frontdoor.Stages(healthStage))

	log.NOTICE("Starting server", "pid", os.Getpid())
	if err = ctrl.Start(ctx, src); err != nil {
		log.CRIT("Start failed", "err", err)
		os.Exit(1)
	}
	sd.Notify(0, "READY=1")
	log.NOTICE("Ready and serving", "url", ctrl.BaseURL())

	done := make(chan struct{})
	var exitOnce sync.Once
	signals.RunSignalHandler(ctrl.SignalMappings(src, func() { exitOnce.Do(func() { close(done) }) }))
	<-done

	// flush the last metrics before exiting
	cancel()
	<-metricsDone

	log.NOTICE("Halted")
}
