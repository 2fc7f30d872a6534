package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"taskmate/internal/app"
	"taskmate/internal/config"
	"taskmate/internal/db"
	"taskmate/internal/devserver"
	"taskmate/internal/telemetry"
	"taskmate/internal/viewmode"
)

var rootCmd = &cobra.Command{
	Use:   "tm",
	Short: "Taskmate CLI",
	Long: `Taskmate keeps a personal task list in sync with the task backend.
- Common users own tasks and can hand an agent a short-lived connection code.
- Agents redeem codes and then oversee those users: every task command acts on
  the overseen user until 'tm oversee clear'.
- Tasks are grouped as delayed (due date passed), pending and completed.
- Session, overseen user and preferred view survive restarts in .taskmate/state.db.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_, err := db.EnsureWorkspace(viper.GetString("workspace"))
		return err
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("TASKMATE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("base-url", "", "backend base URL (overrides config)")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("base-url", rootCmd.PersistentFlags().Lookup("base-url"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func registerCommands() {
	rootCmd.AddCommand(loginCmd())
	rootCmd.AddCommand(registerCmd())
	rootCmd.AddCommand(logoutCmd())
	rootCmd.AddCommand(whoamiCmd())
	rootCmd.AddCommand(profileCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(overseeCmd())
	rootCmd.AddCommand(usersCmd())
	rootCmd.AddCommand(agentsCmd())
	rootCmd.AddCommand(codeCmd())
	rootCmd.AddCommand(connectCmd())
	rootCmd.AddCommand(disconnectCmd())
	rootCmd.AddCommand(viewCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(shellCmd())
}

// loadConfig reads taskmate.yml from the workspace (defaults when absent)
// and applies flag/env overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadOptional(viper.GetString("workspace"))
	if err != nil {
		return nil, err
	}
	if v := viper.GetString("base-url"); v != "" {
		cfg.API.BaseURL = v
	}
	if v := viper.GetString("log-level"); v != "" {
		cfg.Log.Level = v
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// withApp builds the application, restores the session and runs fn.
func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := app.New(ctx, cfg, app.Options{Workspace: viper.GetString("workspace")})
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.Start(ctx); err != nil {
		return err
	}
	return fn(ctx, a)
}

// withSession is withApp for commands that need a logged-in user.
func withSession(ctx context.Context, fn func(context.Context, *app.App) error) error {
	return withApp(ctx, func(ctx context.Context, a *app.App) error {
		if err := a.RequireLogin(); err != nil {
			return err
		}
		return fn(ctx, a)
	})
}

func viewCmd() *cobra.Command {
	view := &cobra.Command{Use: "view", Short: "Preferred task view"}
	view.AddCommand(&cobra.Command{
		Use:   "get",
		Short: "Show the preferred view",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				mode := a.Views.LoadFromStorage()
				if viper.GetBool("json") {
					return printJSON(map[string]any{"view": mode, "modes": viewmode.Modes})
				}
				fmt.Println(mode)
				return nil
			})
		},
	})
	view.AddCommand(&cobra.Command{
		Use:       "set <mode>",
		Short:     "Persist the preferred view (list, calendar, timeline, kanban)",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"list", "calendar", "timeline", "kanban"},
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := viewmode.Parse(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.Views.Set(mode); err != nil {
					return err
				}
				fmt.Println("view set to", mode)
				return nil
			})
		},
	})
	return view
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect or create taskmate.yml",
	}
	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default taskmate.yml in the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	cfg.AddCommand(initCmd)
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConfig()
			if err != nil {
				return err
			}
			c.DevServer.JWTSecret = "[redacted]"
			if viper.GetBool("json") {
				return printJSON(c)
			}
			enc := yaml.NewEncoder(os.Stdout)
			enc.SetIndent(2)
			return enc.Encode(c)
		},
	})
	return cfg
}

func serveCmd() *cobra.Command {
	var addr string
	var seed bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the in-memory development backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.DevServer.Addr
			}
			secret := viper.GetString("jwt-secret")
			if secret == "" {
				secret = cfg.DevServer.JWTSecret
			}
			handler, err := devserver.New(devserver.Config{
				JWTSecret: secret,
				CodeTTL:   cfg.DevServer.CodeTTL,
				Seed:      seed,
				Logger:    telemetry.NewLogger(cfg.Log.Level, os.Stderr),
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving development backend on http://%s%s\n", addr, devserver.DefaultBasePath)
			if seed {
				fmt.Printf("Demo accounts: %s (common), %s (agent), password %s\n",
					devserver.SeedCommonEmail, devserver.SeedAgentEmail, devserver.SeedPassword)
			}
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default devserver.addr)")
	cmd.Flags().BoolVar(&seed, "seed", false, "create demo users and tasks")
	cmd.Flags().String("jwt-secret", "", "HS256 secret (env TASKMATE_JWT_SECRET)")
	_ = viper.BindPFlag("jwt-secret", cmd.Flags().Lookup("jwt-secret"))
	return cmd
}

// --- helpers ---

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(header table.Row) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(header)
	return tw
}

var stdin = bufio.NewReader(os.Stdin)

// prompt reads one line from stdin when value is empty.
func prompt(label, value string) (string, error) {
	if value != "" {
		return value, nil
	}
	fmt.Fprintf(os.Stderr, "%s: ", label)
	line, err := stdin.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
