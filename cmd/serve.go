package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"lowpansniff/internal/capture"
	"lowpansniff/internal/engine"
	"lowpansniff/internal/handlers"
	"lowpansniff/internal/log"
)

var (
	serveListen    string
	serveSource    string
	serveRecord    string
	serveNoCapture bool
	serveTimeout   time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Capture from a sniffer and serve the web API",
	Long: `Capture from a sniffer source and serve packets, topology and metrics over
HTTP and WebSocket. Capture files can be uploaded to /api/upload.

Examples:
  lowpansniff serve --source /dev/ttyUSB0          # serial device, already configured with stty
  lowpansniff serve --source tcp://10.0.0.5:2000   # ser2net bridge
  lowpansniff serve --no-capture                   # upload-only mode
  lowpansniff serve -c lowpansniff.yaml --record session.pcap`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runServe(cmd); err != nil {
			exitWithError("serve failed", err)
		}
	},
}

func init() {
	serveCmd.Flags().StringVarP(&serveListen, "listen", "l", "", "HTTP listen address (overrides server.listen)")
	serveCmd.Flags().StringVarP(&serveSource, "source", "s", "", "sniffer source (overrides capture.source)")
	serveCmd.Flags().StringVarP(&serveRecord, "record", "r", "", "write received frames to this pcap file")
	serveCmd.Flags().BoolVar(&serveNoCapture, "no-capture", false, "do not open a live source")
	serveCmd.Flags().DurationVarP(&serveTimeout, "timeout", "t", 5*time.Second, "graceful shutdown timeout")
}

func runServe(cmd *cobra.Command) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("listen") {
		cfg.Server.Listen = serveListen
	}
	if cmd.Flags().Changed("source") {
		cfg.Capture.Source = serveSource
	}
	if cmd.Flags().Changed("record") {
		cfg.Capture.RecordPath = serveRecord
	}
	logger := log.GetLogger()

	eng, err := engine.New(cfg)
	if err != nil {
		return err
	}
	if cfg.Capture.RecordPath != "" {
		rec, err := capture.NewRecorder(cfg.Capture.RecordPath)
		if err != nil {
			return err
		}
		defer rec.Close()
		eng.SetRecorder(rec)
		logger.WithField("path", cfg.Capture.RecordPath).Info("recording frames")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	captureDone := make(chan struct{})
	if serveNoCapture {
		close(captureDone)
	} else {
		go func() {
			defer close(captureDone)
			runCapture(ctx, eng, cfg.Capture.Source)
		}()
	}

	mux := http.NewServeMux()
	handlers.RegisterRoutes(mux, eng, cfg.Server.MetricsPath)
	srv := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("lowpansniff listening on http://%s", displayAddr(cfg.Server.Listen))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		stop()
		<-captureDone
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), serveTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("HTTP shutdown incomplete")
	}

	select {
	case <-captureDone:
	case <-shutdownCtx.Done():
		logger.Warn("capture did not stop before the shutdown timeout")
	}
	return nil
}

func runCapture(ctx context.Context, eng *engine.Engine, source string) {
	logger := log.GetLogger().WithField("source", capture.DescribeSource(source))
	src, err := capture.OpenSource(ctx, source)
	if err != nil {
		logger.WithError(err).Error("cannot open sniffer source")
		return
	}
	defer src.Close()

	logger.Info("capture started")
	if err := eng.Run(ctx, src, capture.DescribeSource(source)); err != nil {
		logger.WithError(err).Error("capture stopped")
		return
	}
	logger.Info("capture finished")
}

func displayAddr(listen string) string {
	if len(listen) > 0 && listen[0] == ':' {
		return "localhost" + listen
	}
	return listen
}
