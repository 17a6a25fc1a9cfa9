package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"newsagent/api/internal/reorder"
)

type sortOrderFlags struct {
	sections []string
	moves    []string
	dryRun   bool
}

func newSortOrderCmd(rt *runtime) *cobra.Command {
	flags := &sortOrderFlags{}
	cmd := &cobra.Command{
		Use:   "sortorder",
		Short: "Save the order of messages within newsletter sections",
		Long: `Sections are given in display order as SECTION=MESSAGE,MESSAGE,...
Moves are applied in order as MESSAGE:SECTION:INDEX before the order is sent.

Examples:
  newsagent sortorder --section s1=m1,m2 --section s2=m3
  newsagent sortorder --section s1=m1,m2 --section s2=m3 --move m3:s1:0`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return rt.runSortOrder(cmd, flags)
		},
	}
	cmd.Flags().StringArrayVar(&flags.sections, "section", nil, "section layout SECTION=MESSAGE,... (repeatable)")
	cmd.Flags().StringArrayVar(&flags.moves, "move", nil, "move MESSAGE:SECTION:INDEX (repeatable)")
	cmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "print the order without sending it")
	return cmd
}

func (rt *runtime) runSortOrder(cmd *cobra.Command, flags *sortOrderFlags) error {
	lists, err := buildLists(flags.sections)
	if err != nil {
		return err
	}

	debouncer := reorder.New(lists, rt.client, reorder.Config{
		Quiet:   rt.cfg.ReorderQuiet,
		Timeout: rt.cfg.RequestTimeout,
		Clock:   rt.env.Clock,
		Gate:    rt.gate,
		Bus:     rt.bus,
		Logger:  rt.logger,
	})
	defer debouncer.Stop()

	for _, move := range flags.moves {
		item, container, index, err := parseMove(move)
		if err != nil {
			return err
		}
		if err := lists.Move(item, container, index); err != nil {
			return err
		}
		debouncer.NotifyReordered()
	}

	if flags.dryRun {
		pairs, err := reorder.Serialize(lists.CurrentOrder())
		if err != nil {
			return err
		}
		for _, pair := range pairs {
			fmt.Fprintln(cmd.OutOrStdout(), pair)
		}
		return nil
	}

	return debouncer.Flush(cmd.Context())
}

func buildLists(sections []string) (*reorder.Lists, error) {
	if len(sections) == 0 {
		return nil, fmt.Errorf("at least one --section is required")
	}
	lists := reorder.NewLists()
	for _, layout := range sections {
		id, rest, ok := strings.Cut(layout, "=")
		id = strings.TrimSpace(id)
		if !ok || id == "" {
			return nil, fmt.Errorf("malformed section %q: want SECTION=MESSAGE,...", layout)
		}
		var items []string
		for _, item := range strings.Split(rest, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		if err := lists.AddContainer(id, items...); err != nil {
			return nil, fmt.Errorf("section %q: %w", id, err)
		}
	}
	return lists, nil
}

func parseMove(raw string) (item, container string, index int, err error) {
	parts := strings.Split(raw, ":")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
		return "", "", 0, fmt.Errorf("malformed move %q: want MESSAGE:SECTION:INDEX", raw)
	}
	index, err = strconv.Atoi(parts[2])
	if err != nil {
		return "", "", 0, fmt.Errorf("malformed move %q: index: %w", raw, err)
	}
	return parts[0], parts[1], index, nil
}
