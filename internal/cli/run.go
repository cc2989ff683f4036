package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/stemsi/exstem-proctor/internal/apiclient"
	"github.com/stemsi/exstem-proctor/internal/draft"
	"github.com/stemsi/exstem-proctor/internal/gateway"
	"github.com/stemsi/exstem-proctor/internal/proctor"
)

type runOptions struct {
	assessment string
	token      string
	fullscreen bool
	ephemeral  bool
}

func newRunCmd(configPath *string) *cobra.Command {
	opts := runOptions{token: os.Getenv("PROCTOR_TOKEN")}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start (or resume) an attempt and run its proctored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runSession(ctx, *configPath, opts)
		},
	}

	cmd.Flags().StringVar(&opts.assessment, "assessment", "", "assessment ID")
	cmd.Flags().StringVar(&opts.token, "token", opts.token, "student JWT (default $PROCTOR_TOKEN)")
	cmd.Flags().BoolVar(&opts.fullscreen, "fullscreen", false, "the kiosk window is already fullscreen")
	cmd.Flags().BoolVar(&opts.ephemeral, "ephemeral", false, "keep drafts in memory instead of the draft file")
	_ = cmd.MarkFlagRequired("assessment")
	return cmd
}

func runSession(ctx context.Context, configPath string, opts runOptions) error {
	cfg, log, err := loadAgent(configPath)
	if err != nil {
		return err
	}
	if opts.token == "" {
		return errors.New("a student token is required (--token or PROCTOR_TOKEN)")
	}
	assessmentID, err := uuid.Parse(opts.assessment)
	if err != nil {
		return fmt.Errorf("invalid assessment id: %w", err)
	}

	api := apiclient.New(cfg.APIBaseURL, cfg.IPLookupURL, opts.token)

	attempt, err := api.Start(ctx, assessmentID)
	if err != nil {
		return fmt.Errorf("start attempt: %w", err)
	}
	log = log.With().Str("attempt_id", attempt.ID.String()).Logger()

	var local draft.Store = draft.NewMemoryStore()
	if !opts.ephemeral {
		bolt, err := draft.OpenBoltStore(cfg.DraftPath)
		if err != nil {
			return err
		}
		defer bolt.Close()
		local = bolt
	}

	outbox := newLineOutbox()
	ctrl := proctor.New(proctor.Deps{
		Loader:   api,
		Counter:  api,
		Drafts:   draft.NewAdapter(local, api, log),
		Gateway:  gateway.New(api, log),
		IPLookup: api,
		Observer: outbox,
		Logger:   log,
	}, proctor.Options{
		SessionID:    attempt.ID,
		AssessmentID: assessmentID,
		StudentID:    attempt.StudentID,
		Policy:       cfg.Proctor,
		Fullscreen:   opts.fullscreen,
	})
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Proctor.SubmitTimeout)
		defer cancel()
		ctrl.Shutdown(shutdownCtx)
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() { _ = ctrl.Run(ctx) }()

	outDone := make(chan error, 1)
	go func() { outDone <- pumpOutput(ctx, os.Stdout, outbox, ctrl.Done()) }()

	log.Info().Str("draft_path", cfg.DraftPath).Bool("ephemeral", opts.ephemeral).Msg("Proctor session starting")
	ctrl.Start()

	// stdin is read on its own goroutine: a blocked read must not keep the
	// agent alive after the session has terminated.
	go func() {
		if err := pumpInput(ctx, os.Stdin, ctrl, outbox); err != nil {
			log.Warn().Err(err).Msg("Input stream ended with error")
		}
	}()

	select {
	case err = <-outDone:
	case <-ctx.Done():
		err = nil
	}

	snap := ctrl.Snapshot()
	log.Info().
		Str("phase", string(snap.Phase)).
		Str("reason", string(snap.SubmissionReason)).
		Msg("Proctor session ended")
	return err
}
