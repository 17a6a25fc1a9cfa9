// Package cli is the newsagent command line client.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"newsagent/api/internal/clock"
	"newsagent/api/internal/config"
	"newsagent/api/internal/status"
	"newsagent/api/internal/webapi"
)

// Env holds the process-level dependencies. Zero values fall back to the
// real filesystem, stdin, the default HTTP client and the wall clock.
type Env struct {
	Fs         afero.Fs
	In         io.Reader
	HTTPClient *http.Client
	Logger     *slog.Logger
	Clock      clock.Clock
}

type runtime struct {
	env    Env
	cfg    config.Config
	client *webapi.Client
	gate   *webapi.Gate
	bus    *status.Bus
	logger *slog.Logger
}

type rootFlags struct {
	configPath string
	baseURL    string
	verbose    bool
}

func NewRoot(env Env) *cobra.Command {
	flags := &rootFlags{}
	rt := &runtime{env: env}

	cmd := &cobra.Command{
		Use:           "newsagent",
		Short:         "Newsagent sync client",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return rt.init(cmd, flags)
		},
		RunE: func(c *cobra.Command, _ []string) error { return c.Help() },
	}
	cmd.PersistentFlags().StringVar(&flags.configPath, "config", "newsagent.yaml", "client config file")
	cmd.PersistentFlags().StringVar(&flags.baseURL, "base-url", "", "newsagent base url (overrides config)")
	cmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "log requests")

	cmd.AddCommand(newLoginCmd(rt))
	cmd.AddCommand(newAutosaveCmd(rt))
	cmd.AddCommand(newSortOrderCmd(rt))
	cmd.AddCommand(newNewsletterCmd(rt))
	cmd.AddCommand(newQueueCmd(rt))
	cmd.AddCommand(newArticleCmd(rt))
	cmd.AddCommand(newRecipientCountCmd(rt))
	return cmd
}

func (rt *runtime) init(cmd *cobra.Command, flags *rootFlags) error {
	if rt.env.Fs == nil {
		rt.env.Fs = afero.NewOsFs()
	}
	if rt.env.In == nil {
		rt.env.In = os.Stdin
	}
	if rt.env.Clock == nil {
		rt.env.Clock = clock.Real()
	}

	logger := rt.env.Logger
	if logger == nil {
		level := slog.LevelWarn
		if flags.verbose {
			level = slog.LevelDebug
		}
		logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	}

	file, err := config.LoadClientFile(rt.env.Fs, flags.configPath)
	if err != nil {
		return err
	}
	cfg := config.Load().WithClientFile(file)
	if flags.baseURL != "" {
		cfg.BaseURL = flags.baseURL
	}

	client, err := webapi.New(webapi.Options{
		BaseURL:    cfg.BaseURL,
		Timeout:    cfg.RequestTimeout,
		HTTPClient: rt.env.HTTPClient,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	bus := status.NewBus()
	bus.Subscribe(statusPrinter(cmd.ErrOrStderr()))

	rt.cfg = cfg
	rt.client = client
	rt.gate = webapi.NewGate(client, newPrompter(cfg, rt.env.In, cmd.ErrOrStderr()), 3)
	rt.bus = bus
	rt.logger = logger
	return nil
}

// statusPrinter writes status lines as they are published. Busy and idle
// markers are not shown.
func statusPrinter(w io.Writer) status.Listener {
	return status.ListenerFunc(func(e status.Event) {
		switch e.Kind {
		case status.KindMessage:
			if e.Message != "" {
				fmt.Fprintln(w, e.Message)
			}
		case status.KindError:
			fmt.Fprintf(w, "error: %s\n", e.Message)
		case status.KindPending:
			if e.Message != "" {
				fmt.Fprintln(w, e.Message)
			}
		case status.KindAutosaveAvailable:
			fmt.Fprintln(w, "An autosave is available on the server")
		}
	})
}
