package cli

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"newsagent/api/internal/autosave"
	"newsagent/api/internal/fields"
	"newsagent/api/internal/preview"
)

const defaultUnloadMessage = "You have unsaved changes that have not been autosaved"

func newAutosaveCmd(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "autosave",
		Short: "Synchronise the configured field files with the server autosave",
		Long: `Each field id in the config file's fields map is backed by one file.

Examples:
  newsagent autosave check
  newsagent autosave load
  newsagent autosave save
  newsagent autosave view
  newsagent autosave watch`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Report whether the server holds an autosave",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sched, _, err := rt.newScheduler(nil)
			if err != nil {
				return err
			}
			defer sched.Stop()
			if err := rt.gate.EnsureAuthenticated(cmd.Context()); err != nil {
				return err
			}
			return sched.Check(cmd.Context())
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "load",
		Short: "Overwrite the field files with the server autosave",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sched, _, err := rt.newScheduler(nil)
			if err != nil {
				return err
			}
			defer sched.Stop()
			return sched.Load(cmd.Context())
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "save",
		Short: "Store the field files as the server autosave",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sched, _, err := rt.newScheduler(nil)
			if err != nil {
				return err
			}
			defer sched.Stop()
			return sched.Save(cmd.Context(), true)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "view",
		Short: "Save the field files and print a preview",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			renderer := preview.New(rt.cfg.RichFields, nil)
			sched, _, err := rt.newScheduler(renderer.Hook(cmd.OutOrStdout(), rt.logger))
			if err != nil {
				return err
			}
			defer sched.Stop()
			return sched.View(cmd.Context())
		},
	})

	cmd.AddCommand(newAutosaveWatchCmd(rt))
	return cmd
}

type watchFlags struct {
	saveOnExit bool
}

func newAutosaveWatchCmd(rt *runtime) *cobra.Command {
	flags := &watchFlags{}
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Autosave changed field files until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return rt.runWatch(cmd.Context(), cmd, flags)
		},
	}
	cmd.Flags().BoolVar(&flags.saveOnExit, "save-on-exit", false, "save unsaved changes when interrupted")
	return cmd
}

func (rt *runtime) runWatch(ctx context.Context, cmd *cobra.Command, flags *watchFlags) error {
	sched, store, err := rt.newScheduler(nil)
	if err != nil {
		return err
	}
	if err := rt.gate.EnsureAuthenticated(ctx); err != nil {
		return err
	}

	sched.Start(ctx)
	<-ctx.Done()
	sched.Stop()

	// ctx is done; the final requests need their own.
	finalCtx, cancel := context.WithTimeout(context.Background(), rt.cfg.RequestTimeout)
	defer cancel()

	if flags.saveOnExit && store.Changed() {
		if err := rt.saveOnExit(finalCtx, sched); err != nil {
			rt.logger.Warn("save on exit failed", "error", err)
		}
		sched.Stop()
	}

	message := rt.cfg.Messages.Unload
	if message == "" {
		message = defaultUnloadMessage
	}
	if warning := store.UnloadWarning(message); warning != "" && store.Changed() {
		fmt.Fprintln(cmd.ErrOrStderr(), warning)
	}

	if err := rt.client.Logout(finalCtx); err != nil {
		rt.logger.Debug("logout failed", "error", err)
	}
	return nil
}

func (rt *runtime) newScheduler(previewHook func(context.Context, fields.Snapshot)) (*autosave.Scheduler, *fields.Store, error) {
	if len(rt.cfg.Fields) == 0 {
		return nil, nil, errors.New("no fields configured: add a fields map of id to file path to the config file")
	}
	ids := make([]string, 0, len(rt.cfg.Fields))
	for id := range rt.cfg.Fields {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	files := fields.NewFiles(rt.env.Fs, rt.cfg.Fields, rt.logger)
	store := fields.NewStore(files, ids)
	sched := autosave.New(store, rt.client, rt.gate, autosave.Config{
		Delay: rt.cfg.AutosaveDelay,
		Messages: autosave.Messages{
			LoginCheck: rt.cfg.Messages.LoginCheck,
			Restoring:  rt.cfg.Messages.Restoring,
			Checking:   rt.cfg.Messages.Checking,
			Saving:     rt.cfg.Messages.Saving,
			Failed:     rt.cfg.Messages.Failed,
		},
		Clock:   rt.env.Clock,
		Bus:     rt.bus,
		Logger:  rt.logger,
		Preview: previewHook,
	})
	return sched, store, nil
}

// saveOnExit waits out a timer-driven save that raced the interrupt, then
// saves whatever is still unsaved.
func (rt *runtime) saveOnExit(ctx context.Context, sched *autosave.Scheduler) error {
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		if err = sched.WaitIdle(ctx); err != nil {
			return err
		}
		err = sched.Save(ctx, false)
		if !errors.Is(err, autosave.ErrSaveInFlight) {
			return err
		}
	}
	return err
}
