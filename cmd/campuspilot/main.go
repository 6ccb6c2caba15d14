package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tyemirov/campuspilot/internal/backend"
	"github.com/tyemirov/campuspilot/internal/identity"
	"github.com/tyemirov/campuspilot/internal/quiz"
)

var serveHTTP = func(server *http.Server) error {
	return server.ListenAndServe()
}

var currentTime = time.Now

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("Error: %v", err))
		os.Exit(1)
	}
}

var clientConfigKeys = []string{
	"api_key",
	"identity_endpoint",
	"secure_token_endpoint",
	"backend_base_url",
	"session_database_url",
	"profile",
	"google_oauth_client_id",
	"google_oauth_client_secret",
	"quiz_endpoint",
	"http_timeout",
	"log_level",
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "campuspilot",
		Short:         "Campus Pilot student organizer: account session, budget, timetable, planner and quizzes",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(command *cobra.Command, arguments []string) {
			if viper.GetBool("no_color") {
				color.NoColor = true
			}
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.String("api_key", "", "Firebase Web API key")
	flags.String("identity_endpoint", "", "Identity Toolkit base URL override (emulators and tests)")
	flags.String("secure_token_endpoint", identity.DefaultSecureTokenEndpoint, "Secure Token service base URL")
	flags.String("backend_base_url", backend.DefaultBaseURL, "Campus Pilot backend base URL")
	flags.String("session_database_url", defaultSessionDatabaseURL(), "Database URL for the persisted sign-in session (sqlite:// or postgres://)")
	flags.String("profile", identity.DefaultProfile, "Session profile name")
	flags.String("google_oauth_client_id", "", "Google OAuth client ID for login-google")
	flags.String("google_oauth_client_secret", "", "Google OAuth client secret for login-google")
	flags.String("quiz_endpoint", quiz.DefaultEndpoint, "Open Trivia Database API URL")
	flags.Duration("http_timeout", 10*time.Second, "Timeout for backend requests and the initial session check")
	flags.String("log_level", "warn", "Log level (debug, info, warn, error)")
	flags.Bool("no_color", false, "Disable colored output")

	for _, key := range clientConfigKeys {
		_ = viper.BindPFlag(key, flags.Lookup(key))
	}
	_ = viper.BindPFlag("no_color", flags.Lookup("no_color"))

	viper.SetEnvPrefix(envPrefix)
	viper.AutomaticEnv()

	rootCmd.AddCommand(
		newSignUpCommand(),
		newLoginCommand(),
		newLoginGoogleCommand(),
		newLogoutCommand(),
		newResetPasswordCommand(),
		newProfileCommand(),
		newWhoAmICommand(),
		newTransactionsCommand(),
		newClassesCommand(),
		newTasksCommand(),
		newScoresCommand(),
		newDashboardCommand(),
		newQuizCommand(),
		newDevServerCommand(),
	)
	return rootCmd
}
