package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/gnod-dev/gnodlogger/internal/model"
	"github.com/gnod-dev/gnodlogger/internal/parser"
	"github.com/gnod-dev/gnodlogger/internal/tailer"
	"github.com/gnod-dev/gnodlogger/internal/watcher"
)

const (
	ingestRetries = 5
	ingestBackoff = 500 * time.Millisecond
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [globs...]",
	Short: "Watch NDJSON event files and feed them to a running engine",
	Long: `Watch one or more event files (or glob patterns) for appended NDJSON
lines and POST each event to a running gnod server. Read offsets are
checkpointed so ingestion resumes where it left off after a restart.

Examples:
  gnod ingest ./logs/events.ndjson
  gnod ingest "/var/app/**/*.ndjson" --server http://localhost:8787`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().String("server", "http://localhost:8787", "base URL of the gnod server")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	w, err := watcher.New(args, logger)
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if len(w.Seed()) == 0 {
		return fmt.Errorf("no files matched the given patterns: %v", args)
	}
	logger.Info("watching event files", zap.Strings("paths", w.Seed()))

	ckpt, err := tailer.NewCheckpoint(viper.GetString("checkpoint_path"))
	if err != nil {
		return fmt.Errorf("failed to load checkpoint: %w", err)
	}

	t := tailer.New(w, ckpt, logger)
	serverURL, _ := cmd.Flags().GetString("server")
	p := parser.New()
	client := &http.Client{Timeout: 10 * time.Second}

	go w.Run(ctx)
	go t.Start(ctx)

	for raw := range t.Lines() {
		e, err := p.Parse(raw.Text, raw.Source)
		if err != nil {
			logger.Warn("skipping malformed line", zap.String("source", raw.Source), zap.Error(err))
			continue
		}
		// Fix the ID before the first attempt so retries are idempotent.
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		if err := postEvent(ctx, client, serverURL, e); err != nil {
			logger.Error("failed to deliver event", zap.String("event", e.Event), zap.Error(err))
		}
	}

	return nil
}

// postEvent delivers one event, retrying transient failures with backoff.
// The event's ID makes a retried delivery land on the same stored row.
func postEvent(ctx context.Context, client *http.Client, serverURL string, e model.Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt < ingestRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(ingestBackoff << (attempt - 1)):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, serverURL+"/logs", bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		resp.Body.Close()

		switch {
		case resp.StatusCode < 300:
			return nil
		case resp.StatusCode == http.StatusBadRequest:
			// Malformed events never become valid on retry.
			return fmt.Errorf("server rejected event: %s", resp.Status)
		default:
			lastErr = fmt.Errorf("server returned %s", resp.Status)
		}
	}
	return lastErr
}
