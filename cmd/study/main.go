// Package main provides the study CLI entry point.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"studybuddy/internal/api"
	"studybuddy/internal/auth"
	"studybuddy/internal/config"
	"studybuddy/internal/engine"
	"studybuddy/internal/logging"
	"studybuddy/internal/state"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Global flags
	configPath string
	backendURL string
	debugMode  bool

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "study",
	Short: "studybuddy - terminal client for the AI tutoring service",
	Long: `studybuddy is a terminal chat client for the AI tutoring backend.

It keeps your conversation in sync with the server: the last session is
restored on startup, older history loads as you scroll up, and your place
is remembered across restarts per account.

Run without arguments to start the interactive chat.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		path := configPath
		if path == "" {
			path = config.DefaultPath()
		}
		var err error
		cfg, err = config.Load(path)
		if err != nil {
			return err
		}
		if backendURL != "" {
			cfg.Backend.BaseURL = backendURL
		}
		if debugMode {
			cfg.Logging.DebugMode = true
			cfg.Logging.Level = "debug"
		}

		if err := logging.Initialize(cfg.StateDir(), logging.Options{
			DebugMode:  cfg.Logging.DebugMode,
			Level:      cfg.Logging.Level,
			JSONFormat: cfg.Logging.JSONFormat,
			Categories: cfg.Logging.Categories,
		}); err != nil {
			return err
		}

		// The interactive chat owns the terminal; zap is for the plain
		// subcommands only.
		if cmd.Use == "study" && cmd.CalledAs() == "study" {
			return nil
		}
		zcfg := zap.NewProductionConfig()
		if cfg.Logging.DebugMode {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.CloseAll()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat()
	},
}

var loginCmd = &cobra.Command{
	Use:   "login [username]",
	Short: "Log in and store the session token",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runLogin,
}

var registerCmd = &cobra.Command{
	Use:   "register [username] [email]",
	Short: "Create a new account",
	Args:  cobra.MaximumNArgs(2),
	RunE:  runRegister,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Discard the session token and cached state",
	RunE:  runLogout,
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the logged-in user and preferred subject",
	RunE:  runWhoami,
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List your tutoring sessions",
	RunE:  runSessions,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.study/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&backendURL, "backend", "", "backend base URL override")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "enable debug logging")

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(whoamiCmd)
	rootCmd.AddCommand(sessionsCmd)
}

func newBackendClient() *api.Client {
	return api.NewClient(api.Config{
		BaseURL: cfg.Backend.BaseURL,
		Timeout: cfg.BackendTimeout(),
	})
}

func promptLine(label string) (string, error) {
	fmt.Print(label)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func runLogin(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.BackendTimeout())
	defer cancel()

	username := ""
	if len(args) > 0 {
		username = args[0]
	}
	var err error
	if username == "" {
		if username, err = promptLine("Username: "); err != nil {
			return err
		}
	}
	password, err := promptLine("Password: ")
	if err != nil {
		return err
	}

	client := newBackendClient()
	token, err := client.Login(ctx, username, password)
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	tokens := auth.NewTokenStore(cfg.StateDir())
	if err := tokens.Save(token); err != nil {
		return fmt.Errorf("failed to store token: %w", err)
	}
	logger.Info("logged in", zap.String("username", username))
	fmt.Printf("Logged in as %s. Run 'study' to start chatting.\n", username)
	return nil
}

func runRegister(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.BackendTimeout())
	defer cancel()

	var err error
	username, email := "", ""
	if len(args) > 0 {
		username = args[0]
	}
	if len(args) > 1 {
		email = args[1]
	}
	if username == "" {
		if username, err = promptLine("Username: "); err != nil {
			return err
		}
	}
	if email == "" {
		if email, err = promptLine("Email: "); err != nil {
			return err
		}
	}
	password, err := promptLine("Password: ")
	if err != nil {
		return err
	}

	client := newBackendClient()
	if err := client.Register(ctx, username, email, password); err != nil {
		return fmt.Errorf("registration failed: %w", err)
	}
	fmt.Printf("Account created. Run 'study login %s' to log in.\n", username)
	return nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	tokens := auth.NewTokenStore(cfg.StateDir())
	token := tokens.Load()

	store, err := state.NewStore(cfg.DatabasePath())
	if err == nil {
		defer store.Close()
		// A decodable token names the user, so only that user's snapshot is
		// dropped. Without one the whole cache goes.
		if claims, derr := auth.Decode(token); derr == nil {
			store.Clear(claims.UserID)
		} else {
			store.ClearAll()
		}
	}

	if err := tokens.Clear(); err != nil {
		return err
	}
	logger.Info("logged out")
	fmt.Println("Logged out.")
	return nil
}

func runWhoami(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.BackendTimeout())
	defer cancel()

	token := auth.NewTokenStore(cfg.StateDir()).Load()
	claims, err := auth.Check(token, time.Now())
	if err != nil {
		return fmt.Errorf("not logged in: %w", err)
	}

	client := newBackendClient()
	client.SetToken(token)
	user, err := client.CurrentUser(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Username:  %s\n", user.Username)
	fmt.Printf("Email:     %s\n", user.Email)
	subject := user.PreferredSubject
	if subject == "" || !engine.Subject(subject).IsConcrete() {
		subject = "(not selected)"
	}
	fmt.Printf("Subject:   %s\n", subject)
	fmt.Printf("Expires:   %s\n", claims.ExpiresAt().Format(time.RFC3339))
	return nil
}

func runSessions(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.BackendTimeout())
	defer cancel()

	token := auth.NewTokenStore(cfg.StateDir()).Load()
	if _, err := auth.Check(token, time.Now()); err != nil {
		return fmt.Errorf("not logged in: %w", err)
	}

	client := newBackendClient()
	client.SetToken(token)
	sessions, err := client.ListSessions(ctx)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Println("No sessions yet. Run 'study' to start one.")
		return nil
	}

	fmt.Printf("%-8s %-10s %s\n", "ID", "SUBJECT", "NAME")
	for _, s := range sessions {
		fmt.Printf("%-8s %-10s %s\n", s.ID, s.Subject, s.Name)
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
