package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/gnod-dev/gnodlogger/internal/classifier"
	"github.com/gnod-dev/gnodlogger/internal/format"
	"github.com/gnod-dev/gnodlogger/internal/hub"
	"github.com/gnod-dev/gnodlogger/internal/sequencer"
	"github.com/gnod-dev/gnodlogger/internal/server"
	"github.com/gnod-dev/gnodlogger/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the log analysis engine",
	Long: `Run the ingest endpoint, read API, and websocket push channel.

Clients POST events to /logs; readers pull timelines, anomaly reports,
transcripts, and session comparisons, or subscribe on /ws for live pushes.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address (overrides http_addr)")
	serveCmd.Flags().String("db", "", "database path (overrides db_path)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutting down")
		cancel()
	}()

	addr := viper.GetString("http_addr")
	if v, _ := cmd.Flags().GetString("addr"); v != "" {
		addr = v
	}
	dbPath := viper.GetString("db_path")
	if v, _ := cmd.Flags().GetString("db"); v != "" {
		dbPath = v
	}

	ttl := time.Duration(viper.GetInt("session_ttl_minutes")) * time.Minute
	seq := sequencer.New(ttl, logger)
	go seq.Start(ctx)

	st, err := store.Open(dbPath, seq, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	h := hub.New(logger)
	defer h.Close()

	cls := classifier.New(classifier.Config{
		SlowThresholdMS: viper.GetInt64("slow_threshold_ms"),
		RaceThresholdMS: viper.GetInt64("race_threshold_ms"),
	})
	tr := format.New(format.Config{TruncateLen: viper.GetInt("truncate_len")})

	srv := server.New(st, h, cls, tr, addr, logger)
	logger.Info("listening", zap.String("addr", addr), zap.String("db", dbPath))
	return srv.Run(ctx)
}
