package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tyemirov/campuspilot/internal/identity"
)

var errMissingEmail = errors.New("cli.missing_email: --email must be provided")

// credentialsFlags reads --email and --password, prompting on stdin for a missing password.
func credentialsFlags(command *cobra.Command) (string, string, error) {
	email, _ := command.Flags().GetString("email")
	if strings.TrimSpace(email) == "" {
		return "", "", errMissingEmail
	}
	password, _ := command.Flags().GetString("password")
	if password != "" {
		return email, password, nil
	}
	fmt.Fprint(command.OutOrStdout(), "Password: ")
	scanner := bufio.NewScanner(command.InOrStdin())
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return "", "", fmt.Errorf("cli.read_password: %w", err)
		}
		return "", "", errors.New("cli.read_password: no password entered")
	}
	fmt.Fprintln(command.OutOrStdout())
	return email, strings.TrimRight(scanner.Text(), "\r"), nil
}

func describeIdentity(current *identity.Identity) string {
	if current.DisplayName != "" {
		return fmt.Sprintf("%s <%s>", current.DisplayName, current.Email)
	}
	return current.Email
}

func newSignUpCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "signup",
		Short: "Create an account and sign in",
		Args:  cobra.NoArgs,
	}
	command.Flags().String("email", "", "Account email")
	command.Flags().String("password", "", "Account password (prompted when empty)")
	command.Flags().String("name", "", "Display name")
	return sessionCommand(command, func(command *cobra.Command, arguments []string, runtime *clientRuntime) error {
		email, password, err := credentialsFlags(command)
		if err != nil {
			return err
		}
		ctx := command.Context()
		created, err := runtime.manager.SignUp(ctx, email, password)
		if err != nil {
			return err
		}
		if name, _ := command.Flags().GetString("name"); strings.TrimSpace(name) != "" {
			if created, err = runtime.manager.UpdateProfile(ctx, strings.TrimSpace(name), created.PhotoURL); err != nil {
				return err
			}
		}
		runtime.printer.Success("Account created for %s (uid %s)", describeIdentity(created), created.UID)
		return nil
	})
}

func newLoginCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "login",
		Short: "Sign in with email and password",
		Args:  cobra.NoArgs,
	}
	command.Flags().String("email", "", "Account email")
	command.Flags().String("password", "", "Account password (prompted when empty)")
	return sessionCommand(command, func(command *cobra.Command, arguments []string, runtime *clientRuntime) error {
		email, password, err := credentialsFlags(command)
		if err != nil {
			return err
		}
		signedIn, err := runtime.manager.Login(command.Context(), email, password)
		if err != nil {
			return err
		}
		runtime.printer.Success("Signed in as %s", describeIdentity(signedIn))
		return nil
	})
}

func newLoginGoogleCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "login-google",
		Short: "Sign in with Google through the browser",
		Args:  cobra.NoArgs,
	}
	return sessionCommand(command, func(command *cobra.Command, arguments []string, runtime *clientRuntime) error {
		signedIn, err := runtime.manager.LoginWithFederatedProvider(command.Context())
		if err != nil {
			return err
		}
		runtime.printer.Success("Signed in as %s", describeIdentity(signedIn))
		return nil
	})
}

func newLogoutCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "logout",
		Short: "Sign out",
		Args:  cobra.NoArgs,
	}
	return sessionCommand(command, func(command *cobra.Command, arguments []string, runtime *clientRuntime) error {
		if err := runtime.manager.Logout(command.Context()); err != nil {
			runtime.printer.Warning("Signed out locally; provider reported: %v", err)
			return nil
		}
		runtime.printer.Success("Signed out")
		return nil
	})
}

func newResetPasswordCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "reset-password",
		Short: "Send a password reset email",
		Args:  cobra.NoArgs,
	}
	command.Flags().String("email", "", "Account email")
	return sessionCommand(command, func(command *cobra.Command, arguments []string, runtime *clientRuntime) error {
		email, _ := command.Flags().GetString("email")
		if strings.TrimSpace(email) == "" {
			return errMissingEmail
		}
		if err := runtime.manager.ResetPassword(command.Context(), email); err != nil {
			return err
		}
		runtime.printer.Success("Password reset email sent to %s", email)
		return nil
	})
}

func newProfileCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "profile",
		Short: "Update the display name or photo URL",
		Args:  cobra.NoArgs,
	}
	command.Flags().String("name", "", "Display name")
	command.Flags().String("photo_url", "", "Photo URL")
	return sessionCommand(command, func(command *cobra.Command, arguments []string, runtime *clientRuntime) error {
		current, err := runtime.requireUser()
		if err != nil {
			return err
		}
		name, photoURL := current.DisplayName, current.PhotoURL
		if command.Flags().Changed("name") {
			name, _ = command.Flags().GetString("name")
		}
		if command.Flags().Changed("photo_url") {
			photoURL, _ = command.Flags().GetString("photo_url")
		}
		updated, err := runtime.manager.UpdateProfile(command.Context(), strings.TrimSpace(name), strings.TrimSpace(photoURL))
		if err != nil {
			return err
		}
		runtime.printer.Success("Profile updated for %s", describeIdentity(updated))
		return nil
	})
}

func newWhoAmICommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in account",
		Args:  cobra.NoArgs,
	}
	return sessionCommand(command, func(command *cobra.Command, arguments []string, runtime *clientRuntime) error {
		current := runtime.manager.CurrentUser()
		if current == nil {
			runtime.printer.Warning("Not signed in")
			return nil
		}
		joined := ""
		if !current.CreatedAt.IsZero() {
			joined = current.CreatedAt.UTC().Format("2006-01-02")
		}
		return runtime.printer.Table([]string{"Field", "Value"}, [][]string{
			{"uid", current.UID},
			{"email", current.Email},
			{"name", current.DisplayName},
			{"photo", current.PhotoURL},
			{"provider", current.ProviderID},
			{"joined", joined},
		})
	})
}
