package main

import (
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"hrlink/internal/adaptor"
	"hrlink/internal/bleio"
	"hrlink/internal/catalog"
	"hrlink/internal/config"
	"hrlink/internal/csvlog"
	"hrlink/internal/hub"
	"hrlink/internal/manager"
	"hrlink/internal/prompt"
	"hrlink/internal/web"
)

var (
	flagConfig       string
	flagMac          string
	flagIndex        int
	flagAcceptNew    bool
	flagPinDevice    bool
	flagAutoRescan   bool
	flagDebugDevice  bool
	flagForceAdaptor string
	flagScanDuration time.Duration

	flagHTTP      bool
	flagHTTPHost  string
	flagHTTPPort  int
	flagCSV       bool
	flagCSVFolder string
)

func registerBridgeFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&flagConfig, "config", "c", config.DefaultPath, "Path to the settings file")
	cmd.Flags().StringVar(&flagMac, "hrm-mac", "", "Connect to the sensor with this address")
	cmd.Flags().IntVar(&flagIndex, "hrm-index", 0, "Connect to the nth known sensor (1-based)")
	cmd.Flags().BoolVarP(&flagAcceptNew, "accept-new-device", "a", false, "Pair an unknown sensor without confirmation (requires --hrm-mac)")
	cmd.Flags().BoolVar(&flagPinDevice, "pin-device", false, "Reconnect only to the sensor connected last")
	cmd.Flags().BoolVarP(&flagAutoRescan, "noninteractive-rescan", "n", false, "Rescan automatically after a disconnect")
	cmd.Flags().BoolVar(&flagDebugDevice, "debug-device", false, "Dump raw notifications instead of decoding them")
	cmd.Flags().StringVar(&flagForceAdaptor, "force-adaptor", "", "Skip probing and use this adaptor id")
	cmd.Flags().DurationVarP(&flagScanDuration, "scan-duration", "d", 2*time.Second, "How long each scan runs")

	cmd.Flags().BoolVar(&flagHTTP, "http", true, "Serve readings over HTTP and websockets")
	cmd.Flags().StringVar(&flagHTTPHost, "http-host", "", "HTTP listen host (overrides the settings file)")
	cmd.Flags().IntVar(&flagHTTPPort, "http-port", 0, "HTTP listen port (overrides the settings file)")
	cmd.Flags().BoolVar(&flagCSV, "csv", false, "Log readings to a CSV file")
	cmd.Flags().StringVar(&flagCSVFolder, "csv-folder", "", "Folder for CSV logs (overrides the settings file)")
}

// mergeFlags folds explicitly set CLI flags over the settings file. Only
// flags the user touched override; absent boolean file entries fall back
// to the flag defaults.
func mergeFlags(cmd *cobra.Command, file *config.File) {
	if cmd.Flags().Changed("http") || file.EnableHTTPServer == nil {
		file.EnableHTTPServer = &flagHTTP
	}
	if cmd.Flags().Changed("http-host") {
		file.HTTPHost = flagHTTPHost
	}
	if cmd.Flags().Changed("http-port") {
		file.HTTPPort = flagHTTPPort
	}
	if cmd.Flags().Changed("csv") || file.EnableCSVLog == nil {
		file.EnableCSVLog = &flagCSV
	}
	if cmd.Flags().Changed("csv-folder") {
		file.CSVFolder = flagCSVFolder
	}
}

func runBridge(cmd *cobra.Command, _ []string) error {
	logger, err := configureLogger(cmd)
	if err != nil {
		return err
	}

	file, err := config.Load(flagConfig)
	if err != nil {
		return err
	}
	mergeFlags(cmd, file)

	cat, err := catalog.New(file.Sensors)
	if err != nil {
		return err
	}
	store := config.NewStore(flagConfig, file)

	var hubOpts []hub.Option
	var sink *csvlog.Logger
	if *file.EnableCSVLog {
		sink = csvlog.New(logger, file.CSVFolder)
		hubOpts = append(hubOpts, hub.WithSink(sink))
	}
	h := hub.New(logger, hubOpts...)

	registry := adaptor.NewRegistry(adaptor.NewStandard(), adaptor.NewDebug(logger))

	policy := manager.Policy{
		AcceptNewDevice:      flagAcceptNew,
		PinDevice:            flagPinDevice,
		NoninteractiveRescan: flagAutoRescan,
		Mac:                  flagMac,
		Index:                flagIndex,
		ForceAdaptorID:       flagForceAdaptor,
		DebugDevice:          flagDebugDevice,
	}
	opts := manager.DefaultOptions()
	opts.ScanDuration = flagScanDuration

	mgr := manager.New(logger, registry, h, cat, policy, opts, store, prompt.New(logger))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	radio, err := bleio.RadioFactory(logger)
	if err != nil {
		return err
	}
	defer radio.Close()

	var wg sync.WaitGroup
	if sink != nil {
		wg.Add(2)
		go func() {
			defer wg.Done()
			h.RunLogForwarder(ctx)
		}()
		go func() {
			defer wg.Done()
			if err := sink.Run(ctx); err != nil {
				logger.WithError(err).Error("CSV logger stopped with an error")
			}
		}()
	}
	if *file.EnableHTTPServer {
		srv := web.New(logger, h, file.HTTPHost, file.HTTPPort)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Run(ctx); err != nil {
				logger.WithError(err).Error("HTTP server stopped with an error")
				stop()
			}
		}()
	}

	// The manager is the primary task; when it returns, everything else
	// winds down. context.Canceled propagates up for a silent exit.
	err = mgr.Run(ctx, radio)
	stop()
	wg.Wait()
	return err
}
