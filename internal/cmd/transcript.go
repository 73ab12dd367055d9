package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gnod-dev/gnodlogger/internal/classifier"
	"github.com/gnod-dev/gnodlogger/internal/format"
	"github.com/gnod-dev/gnodlogger/internal/sequencer"
	"github.com/gnod-dev/gnodlogger/internal/store"
)

var transcriptCmd = &cobra.Command{
	Use:   "transcript",
	Short: "Print the canonical transcript of a session",
	Long: `Render one session's timeline as the deterministic, fixed-width text
block used for LLM bug triage, with anomaly markers inline.

Example:
  gnod transcript --project webrtc-app --session sess-42`,
	RunE: runTranscript,
}

func init() {
	transcriptCmd.Flags().String("db", "", "database path (overrides db_path)")
	transcriptCmd.Flags().String("project", "", "project identifier")
	transcriptCmd.Flags().String("session", "", "session identifier")
	transcriptCmd.Flags().String("feature", "", "restrict to one feature")
	transcriptCmd.Flags().Int("limit", 500, "maximum events to include")
	_ = transcriptCmd.MarkFlagRequired("project")
	_ = transcriptCmd.MarkFlagRequired("session")
	rootCmd.AddCommand(transcriptCmd)
}

func runTranscript(cmd *cobra.Command, args []string) error {
	dbPath := viper.GetString("db_path")
	if v, _ := cmd.Flags().GetString("db"); v != "" {
		dbPath = v
	}
	project, _ := cmd.Flags().GetString("project")
	session, _ := cmd.Flags().GetString("session")
	feature, _ := cmd.Flags().GetString("feature")
	limit, _ := cmd.Flags().GetInt("limit")

	seq := sequencer.New(time.Minute, logger)
	st, err := store.Open(dbPath, seq, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	events, err := st.ListAsc(project, feature, session, limit)
	if err != nil {
		return err
	}

	cls := classifier.New(classifier.Config{
		SlowThresholdMS: viper.GetInt64("slow_threshold_ms"),
		RaceThresholdMS: viper.GetInt64("race_threshold_ms"),
	})
	tr := format.New(format.Config{TruncateLen: viper.GetInt("truncate_len")})

	fmt.Print(tr.Render(events, cls.Classify(events)))
	return nil
}
