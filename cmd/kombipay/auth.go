package main

import (
	"errors"
	"fmt"

	"github.com/aussiebroadwan/kombipay/pkg/authsdk"
	"github.com/aussiebroadwan/kombipay/pkg/session"
	"github.com/samber/oops"
	"github.com/spf13/cobra"
)

func (c *cli) loginCmd() *cobra.Command {
	var password string

	cmd := &cobra.Command{
		Use:   "login <email>",
		Short: "Log in and store the session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := secret(cmd, password, "Password")
			if err != nil {
				return err
			}

			user, err := c.app.Session.Login(cmd.Context(), args[0], pw)
			switch {
			case errors.Is(err, authsdk.ErrOTPRequired):
				// The notifier already told the user what to do
				return nil
			case err != nil:
				return oops.In("cli").Wrapf(err, "login")
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Welcome, %s.\n", displayName(user))
			return nil
		},
	}
	cmd.Flags().StringVarP(&password, "password", "p", "", "password (read from stdin when empty)")
	return cmd
}

func (c *cli) registerCmd() *cobra.Command {
	var req authsdk.RegisterRequest

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create a passenger account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if req.ConfirmPassword == "" {
				req.ConfirmPassword = req.Password
			}
			if err := c.app.Session.Register(cmd.Context(), req); err != nil {
				return oops.In("cli").Wrapf(err, "register")
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Registered %s. Check your email for the confirmation code.\n", req.Email)
			return nil
		},
	}
	cmd.Flags().StringVar(&req.Name, "name", "", "full name")
	cmd.Flags().StringVar(&req.Email, "email", "", "email address")
	cmd.Flags().StringVarP(&req.Password, "password", "p", "", "password")
	cmd.Flags().StringVar(&req.ConfirmPassword, "confirm", "", "password confirmation (defaults to --password)")
	return cmd
}

func (c *cli) requestOTPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "request-otp [email]",
		Short: "Send a new confirmation code",
		Long:  "Send a new confirmation code. Without an email the pending account is used.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			email := optionalArg(args)
			if err := c.app.Session.RequestOTP(cmd.Context(), email); err != nil {
				return oops.In("cli").Wrapf(err, "request otp")
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Confirmation code sent.")
			return nil
		},
	}
}

func (c *cli) confirmOTPCmd() *cobra.Command {
	var email string

	cmd := &cobra.Command{
		Use:   "confirm-otp <code>",
		Short: "Confirm an account with its code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ok, err := c.app.Session.ConfirmOTP(cmd.Context(), email, args[0])
			if err != nil {
				return oops.In("cli").Wrapf(err, "confirm otp")
			}
			if !ok {
				return oops.In("cli").Errorf("confirmation code was not accepted")
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Account confirmed, you can now log in.")
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email (defaults to the pending account)")
	return cmd
}

func (c *cli) forgotPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "forgot-password <email>",
		Short: "Start a password reset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ack, err := c.app.Session.ForgotPassword(cmd.Context(), args[0])
			if err != nil {
				return oops.In("cli").Wrapf(err, "forgot password")
			}
			fmt.Fprintln(cmd.OutOrStdout(), ack)
			return nil
		},
	}
}

func (c *cli) resetPasswordCmd() *cobra.Command {
	var password string

	cmd := &cobra.Command{
		Use:   "reset-password <token>",
		Short: "Set a new password with a reset token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := secret(cmd, password, "New password")
			if err != nil {
				return err
			}
			if err := c.app.Session.ResetPassword(cmd.Context(), args[0], pw); err != nil {
				return oops.In("cli").Wrapf(err, "reset password")
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Password updated.")
			return nil
		},
	}
	cmd.Flags().StringVarP(&password, "password", "p", "", "new password (read from stdin when empty)")
	return cmd
}

func (c *cli) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := c.app.Session.Logout(cmd.Context()); err != nil {
				return oops.In("cli").Wrapf(err, "logout")
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out.")
			return nil
		},
	}
}

func (c *cli) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the session state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			state, snap := c.app.Session.Snapshot()

			fmt.Fprintf(out, "state: %s\n", state)
			switch {
			case snap.Authenticated():
				fmt.Fprintf(out, "user: %s <%s>\n", displayName(snap.User), snap.User.Email)
			case snap.PendingEmail != "":
				fmt.Fprintf(out, "pending: %s\n", snap.PendingEmail)
			}
			return nil
		},
	}
}

func displayName(u *session.User) string {
	if u == nil {
		return ""
	}
	if u.Name != "" {
		return u.Name
	}
	return u.Email
}

func optionalArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}
