package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"newsagent/api/internal/webapi"
)

func newLoginCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Check the credentials against the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := rt.gate.EnsureAuthenticated(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Logged in")
			return nil
		},
	}
}

func newNewsletterCmd(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "newsletter",
		Short: "Newsletter issue readiness",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "ready <issue>",
		Short: "Toggle your readiness for an issue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := rt.gate.EnsureAuthenticated(cmd.Context()); err != nil {
				return err
			}
			_, desc, err := rt.client.ToggleReady(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), desc)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "contributors <issue>",
		Short: "List contributors to an issue and whether they are ready",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := rt.gate.EnsureAuthenticated(cmd.Context()); err != nil {
				return err
			}
			contributors, err := rt.client.Contributors(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, c := range contributors {
				fmt.Fprintf(tw, "%s\t%s\n", c.Name, c.Ready)
			}
			return tw.Flush()
		},
	})
	return cmd
}

type queueFlags struct {
	section string
}

func newQueueCmd(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Act on queued newsletter messages",
	}
	for _, op := range []webapi.QueueOp{webapi.QueueMove, webapi.QueueDelete, webapi.QueueReject, webapi.QueuePublish} {
		flags := &queueFlags{}
		sub := &cobra.Command{
			Use:   string(op) + " <message>",
			Short: "Queue " + string(op),
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := rt.gate.EnsureAuthenticated(cmd.Context()); err != nil {
					return err
				}
				desc, err := rt.client.QueueAction(cmd.Context(), op, args[0], flags.section)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), desc)
				return nil
			},
		}
		if op == webapi.QueueMove {
			sub.Flags().StringVar(&flags.section, "section", "", "destination section")
		}
		cmd.AddCommand(sub)
	}
	return cmd
}

func newArticleCmd(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "article",
		Short: "Change the state of an article",
	}
	ops := []webapi.ArticleOp{webapi.ArticleDelete, webapi.ArticleUndelete, webapi.ArticleHide, webapi.ArticleUnhide, webapi.ArticlePublish}
	for _, op := range ops {
		cmd.AddCommand(&cobra.Command{
			Use:   string(op) + " <article>",
			Short: "Article " + string(op),
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := rt.gate.EnsureAuthenticated(cmd.Context()); err != nil {
					return err
				}
				state, err := rt.client.ArticleAction(cmd.Context(), op, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", args[0], state)
				return nil
			},
		})
	}
	return cmd
}

func newRecipientCountCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "rcount <year> <method>...",
		Short: "Count the recipients each notification method reaches",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := rt.gate.EnsureAuthenticated(cmd.Context()); err != nil {
				return err
			}
			recipients, err := rt.client.RecipientCount(cmd.Context(), args[0], args[1:])
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, r := range recipients {
				fmt.Fprintf(tw, "%s\t%d\n", r.Name, r.Count)
			}
			return tw.Flush()
		},
	}
}
