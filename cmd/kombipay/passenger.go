package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/aussiebroadwan/kombipay/pkg/session"
	"github.com/samber/oops"
	"github.com/spf13/cobra"
)

// requireLogin fails early instead of sending an anonymous request.
func (c *cli) requireLogin() error {
	switch c.app.Session.State() {
	case session.StateAuthenticated, session.StateRefreshing:
		return nil
	default:
		return oops.In("cli").Errorf("not logged in, run: kombipay login <email>")
	}
}

func (c *cli) whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show your profile and balance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := c.requireLogin(); err != nil {
				return err
			}

			me, err := c.app.API.Me(cmd.Context())
			if err != nil {
				return oops.In("cli").Wrapf(err, "whoami")
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s <%s>\n", me.Name, me.Email)
			if me.Balance != nil {
				fmt.Fprintf(out, "balance: %.2f\n", *me.Balance)
			}
			return nil
		},
	}
}

func (c *cli) payCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pay <code>",
		Short: "Pay a fare with a scanned code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.requireLogin(); err != nil {
				return err
			}

			p, err := c.app.API.Pay(cmd.Context(), args[0])
			if err != nil {
				return oops.In("cli").Wrapf(err, "pay")
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Paid %.2f, balance %.2f (%s)\n", p.Amount, p.Balance, p.ID)
			return nil
		},
	}
}

func (c *cli) activityCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "activity",
		Short: "List your recent activity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := c.requireLogin(); err != nil {
				return err
			}

			items, err := c.app.API.Activity(cmd.Context())
			if err != nil {
				return oops.In("cli").Wrapf(err, "activity")
			}
			if len(items) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No activity yet.")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "WHEN\tKIND\tAMOUNT\tDESCRIPTION")
			for _, it := range items {
				fmt.Fprintf(tw, "%s\t%s\t%.2f\t%s\n", it.CreatedAt.Local().Format("2006-01-02 15:04"), it.Kind, it.Amount, it.Description)
			}
			return tw.Flush()
		},
	}
}
