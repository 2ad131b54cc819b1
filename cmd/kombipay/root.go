package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aussiebroadwan/kombipay/internal/kombi/app"
	"github.com/aussiebroadwan/kombipay/pkg/session"
	"github.com/samber/oops"
	"github.com/spf13/cobra"
)

type opener func(ctx context.Context, obs session.Observer) (*app.Application, func() error, error)

// cli carries the application between the root hooks and the subcommands.
type cli struct {
	open  opener
	app   *app.Application
	close func() error
}

func rootCmd(open opener) *cobra.Command {
	c := &cli{open: open}

	cmd := &cobra.Command{
		Use:           "kombipay",
		Short:         "KombiPay passenger client",
		Long:          "Log in to KombiPay, pay fares with scanned codes and review your activity.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			a, closeFn, err := c.open(cmd.Context(), notifier(cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			c.app, c.close = a, closeFn
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if c.close == nil {
				return nil
			}
			if err := c.close(); err != nil {
				return oops.In("cli").Wrapf(err, "closing session store")
			}
			return nil
		},
	}

	cmd.AddCommand(
		c.loginCmd(),
		c.registerCmd(),
		c.requestOTPCmd(),
		c.confirmOTPCmd(),
		c.forgotPasswordCmd(),
		c.resetPasswordCmd(),
		c.logoutCmd(),
		c.statusCmd(),
		c.whoamiCmd(),
		c.payCmd(),
		c.activityCmd(),
	)

	return cmd
}

// notifier prints the session events a user has to act on.
func notifier(w io.Writer) session.Observer {
	return session.ObserverFunc(func(e session.Event) {
		switch ev := e.(type) {
		case session.EventOTPRequired:
			fmt.Fprintf(w, "Account %s is not verified. Check your email and run: kombipay confirm-otp <code>\n", ev.Email)
		case session.EventSessionExpired:
			fmt.Fprintln(w, "Your session has expired, please log in again.")
		case session.EventLoginFailed:
			fmt.Fprintln(w, "Login failed.")
		}
	})
}

// secret returns the flag value or, when empty, the first line of stdin.
func secret(cmd *cobra.Command, flagValue, prompt string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}

	fmt.Fprint(cmd.ErrOrStderr(), prompt+": ")
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", oops.In("cli").Wrapf(err, "reading %s", strings.ToLower(prompt))
	}
	return strings.TrimRight(line, "\r\n"), nil
}
