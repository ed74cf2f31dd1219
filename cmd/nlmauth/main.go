// nlmauth manages the NotebookLM session artifact from outside the server:
// interactive login, health checks, manual cookie import, and logout. The
// server watches the artifact file, so a login here revives a running bridge.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"notebooklm-mcp-server/internal/auth"
	"notebooklm-mcp-server/internal/config"
)

var (
	configPath string
	verbose    bool

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "nlmauth",
	Short: "Manage the NotebookLM session artifact",
	Long: `nlmauth manages the persisted session artifact the MCP server runs on.

login opens a headful Chrome so you can sign in; the harvested cookies and
page tokens are written to the artifact file. check reports whether the
current artifact is still usable. import builds an artifact from a raw
Cookie header copied out of browser devtools. logout deletes the artifact.

A server running with artifact watching enabled picks up logins and
logouts without a restart.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		zcfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("initializing logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in interactively and persist the session artifact",
	Long: `Opens a visible Chrome window on the product, waits for you to finish
the Google sign-in flow, then harvests the session cookies and page tokens
into the artifact file. The window closes by itself once the product loads.`,
	RunE: runLogin,
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Report whether the persisted artifact is still usable",
	RunE:  runCheck,
}

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Build an artifact from a raw Cookie header",
	Long: `Reads a "k=v; k2=v2" Cookie header (devtools, Network tab, copy request
headers) from --file or stdin and writes it as the session artifact.

The anti-forgery token is not part of the Cookie header; pass it with
--csrf (the SNlM0e value in the page source) or let the server's
refresh_auth tool fill it in from a live page later.`,
	RunE: runImport,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Delete the persisted artifact",
	RunE:  runLogout,
}

var (
	importFile      string
	importCSRF      string
	importSessionID string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a config file (defaults to the one under the home dir)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")

	importCmd.Flags().StringVar(&importFile, "file", "", "File holding the Cookie header (stdin when omitted)")
	importCmd.Flags().StringVar(&importCSRF, "csrf", "", "Anti-forgery token (SNlM0e) to embed")
	importCmd.Flags().StringVar(&importSessionID, "session-id", "", "Backend session id (FdrFJe) to embed")

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(logoutCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (config.Config, error) {
	if configPath != "" {
		return config.Load(configPath)
	}
	if _, err := config.EnsureHome(); err != nil {
		return config.Config{}, err
	}
	return config.LoadDefault()
}

func newStore(cfg config.Config) *auth.Store {
	return auth.NewStore(cfg.Auth.ArtifactPath, cfg.Auth.ArtifactMaxAge(), logger)
}

func runLogin(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	login := &auth.InteractiveLogin{
		BaseURL:    cfg.Browser.BaseURL,
		ChromeBin:  cfg.Browser.ChromeBin,
		ProfileDir: cfg.Browser.ProfileDir,
		Wait:       cfg.Auth.LoginWait(),
		Logger:     logger,
	}

	fmt.Printf("Opening %s; finish the sign-in in the browser window...\n", cfg.Browser.BaseURL)
	artifact, err := login.Login(ctx)
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	store := newStore(cfg)
	if err := store.Save(artifact); err != nil {
		return fmt.Errorf("saving artifact: %w", err)
	}

	fmt.Printf("Signed in. Artifact written to %s (%d cookies", store.Path(), len(artifact.Cookies))
	if artifact.SessionID != "" {
		fmt.Printf(", session %s", artifact.SessionID)
	}
	fmt.Println(")")
	return nil
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store := newStore(cfg)

	artifact, err := store.Load()
	if err != nil {
		return fmt.Errorf("no usable artifact at %s: %w", store.Path(), err)
	}

	fmt.Printf("Artifact:     %s\n", store.Path())
	fmt.Printf("Extracted at: %s (%s ago)\n",
		artifact.ExtractedAt.Local().Format(time.RFC1123),
		artifact.Age().Round(time.Minute))
	fmt.Printf("Cookies:      %d\n", len(artifact.Cookies))
	if artifact.SessionID != "" {
		fmt.Printf("Session id:   %s\n", artifact.SessionID)
	}

	if err := artifact.Check(cfg.Auth.ArtifactMaxAge()); err != nil {
		fmt.Printf("Status:       NOT USABLE (%v)\n", err)
		return fmt.Errorf("artifact check failed")
	}
	fmt.Println("Status:       OK")
	return nil
}

func runImport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	raw, err := readImportInput()
	if err != nil {
		return err
	}

	cookies, err := auth.ParseCookieHeader(raw)
	if err != nil {
		return fmt.Errorf("parsing cookie header: %w", err)
	}

	artifact := &auth.Artifact{
		Version:     auth.ArtifactVersion,
		Cookies:     cookies,
		CSRFToken:   importCSRF,
		SessionID:   importSessionID,
		ExtractedAt: time.Now().UTC(),
	}
	if missing := artifact.MissingCookies(); len(missing) > 0 {
		return fmt.Errorf("cookie header is missing required cookies: %s", strings.Join(missing, ", "))
	}

	store := newStore(cfg)
	if err := store.Save(artifact); err != nil {
		return fmt.Errorf("saving artifact: %w", err)
	}

	fmt.Printf("Imported %d cookies to %s\n", len(cookies), store.Path())
	if importCSRF == "" {
		fmt.Println("No --csrf given; run the server's refresh_auth tool to complete the tokens.")
	}
	return nil
}

func readImportInput() (string, error) {
	if importFile != "" && importFile != "-" {
		data, err := os.ReadFile(importFile)
		if err != nil {
			return "", fmt.Errorf("reading %s: %w", importFile, err)
		}
		return strings.TrimSpace(string(data)), nil
	}

	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("reading stdin: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store := newStore(cfg)

	if err := store.Delete(); err != nil {
		return fmt.Errorf("deleting artifact: %w", err)
	}
	fmt.Printf("Artifact removed from %s\n", store.Path())
	return nil
}
