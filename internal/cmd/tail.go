package cmd

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gnod-dev/gnodlogger/internal/model"
	"github.com/gnod-dev/gnodlogger/internal/output"
)

var tailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Stream live events from a running engine",
	Long: `Subscribe to a running gnod server over websocket and print matching
events as they are ingested. Push delivery is best-effort; use the read
API for a complete timeline.

Examples:
  gnod tail --project webrtc-app
  gnod tail --project webrtc-app --feature signaling --output json`,
	RunE: runTail,
}

func init() {
	tailCmd.Flags().String("server", "http://localhost:8787", "base URL of the gnod server")
	tailCmd.Flags().String("project", "", "filter by project")
	tailCmd.Flags().String("feature", "", "filter by feature")
	tailCmd.Flags().StringP("output", "o", "text", "output format: text, json")
	rootCmd.AddCommand(tailCmd)
}

func runTail(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	serverURL, _ := cmd.Flags().GetString("server")
	project, _ := cmd.Flags().GetString("project")
	feature, _ := cmd.Flags().GetString("feature")
	outputFmt, _ := cmd.Flags().GetString("output")

	wsURL, err := websocketURL(serverURL, project, feature)
	if err != nil {
		return err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", wsURL, err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	var renderer output.Renderer
	switch strings.ToLower(outputFmt) {
	case "json":
		renderer = output.NewJSONRenderer()
	default:
		renderer = output.NewTextRenderer()
	}

	for {
		var msg struct {
			Type string      `json:"type"`
			Data model.Event `json:"data"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("connection lost: %w", err)
		}
		if msg.Type != "log" {
			continue
		}
		if err := renderer.Render(msg.Data); err != nil {
			logger.Warn("render error", zap.Error(err))
		}
	}
}

// websocketURL converts the server base URL into the /ws endpoint with
// subscription filters.
func websocketURL(serverURL, project, feature string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/ws"

	q := u.Query()
	if project != "" {
		q.Set("project", project)
	}
	if feature != "" {
		q.Set("feature", feature)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
