package cmd

import (
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/fakeyudi/replay/internal/replay"
	"github.com/fakeyudi/replay/internal/session"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the persisted replay session",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := session.NewSessionStore()
		if err != nil {
			return err
		}

		s, err := store.Load()
		if err != nil {
			if errors.Is(err, session.ErrNoSession) {
				cmd.Println("no active session")
				return nil
			}
			return err
		}

		opts := recorderOptions(GetConfig())
		timeouts := session.Timeouts{MaxReplayDuration: opts.MaxReplayDuration, SessionIdleExpire: session.SessionIdleExpire}
		now := time.Now()

		state := "active"
		switch {
		case session.IsSessionExpired(s, timeouts, now.UnixMilli()):
			state = "expired"
		case session.IsExpired(s.LastActivity, session.SessionIdlePause, now.UnixMilli()):
			state = "idle"
		}
		mode := replay.ModeSession
		if s.IsBuffering() {
			mode = replay.ModeBuffer
		}
		sampled := string(s.Sampled)
		if s.Sampled == session.Unsampled {
			sampled = "no"
		}

		cmd.Printf("Session: %s\n", s.ID)
		cmd.Printf("Sampled: %s\n", sampled)
		cmd.Printf("Mode: %s\n", mode)
		cmd.Printf("State: %s\n", state)
		cmd.Printf("Started: %s\n", time.UnixMilli(s.Started).Format(time.RFC3339))
		cmd.Printf("Duration: %s\n", now.Sub(time.UnixMilli(s.Started)).Round(time.Second).String())
		cmd.Printf("Last activity: %s\n", time.UnixMilli(s.LastActivity).Format(time.RFC3339))
		cmd.Printf("Segments sent: %d\n", s.SegmentID)
		if s.PreviousSessionID != "" {
			cmd.Printf("Previous session: %s\n", s.PreviousSessionID)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
