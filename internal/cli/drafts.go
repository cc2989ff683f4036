package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/stemsi/exstem-proctor/internal/draft"
)

func newDraftsCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "drafts",
		Short: "Inspect or clear the local draft file",
	}
	cmd.AddCommand(newDraftsLastSeenCmd(configPath), newDraftsClearCmd(configPath))
	return cmd
}

func newDraftsLastSeenCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "last-seen <attempt-id>",
		Short: "Print the session's last heartbeat",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBolt(*configPath, args[0], func(store *draft.BoltStore, sessionID uuid.UUID) error {
				at, err := store.LastSeen(cmd.Context(), sessionID)
				if errors.Is(err, draft.ErrNotFound) {
					fmt.Fprintln(cmd.OutOrStdout(), "never")
					return nil
				}
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), at.Format(time.RFC3339))
				return nil
			})
		},
	}
}

func newDraftsClearCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "clear <attempt-id>",
		Short: "Remove every draft and the heartbeat of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBolt(*configPath, args[0], func(store *draft.BoltStore, sessionID uuid.UUID) error {
				if err := store.Clear(cmd.Context(), sessionID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "cleared drafts of %s\n", sessionID)
				return nil
			})
		},
	}
}

func withBolt(configPath, rawID string, fn func(*draft.BoltStore, uuid.UUID) error) error {
	sessionID, err := uuid.Parse(rawID)
	if err != nil {
		return fmt.Errorf("invalid attempt id: %w", err)
	}
	cfg, _, err := loadAgent(configPath)
	if err != nil {
		return err
	}
	store, err := draft.OpenBoltStore(cfg.DraftPath)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store, sessionID)
}
