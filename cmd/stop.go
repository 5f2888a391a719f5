package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fakeyudi/replay/internal/session"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "End the persisted session so the next recording starts a new one",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := session.NewSessionStore()
		if err != nil {
			return err
		}

		s, err := store.Load()
		if err != nil {
			if errors.Is(err, session.ErrNoSession) {
				return fmt.Errorf("no active session")
			}
			return err
		}
		if err := session.Clear(store); err != nil {
			return err
		}
		cmd.Printf("Session %s ended after %d segments.\n", s.ID, s.SegmentID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(stopCmd)
}
