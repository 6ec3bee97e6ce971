package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"taskboard/internal/app"
	"taskboard/internal/config"
	"taskboard/internal/db"
	"taskboard/internal/domain"
	"taskboard/internal/engine"
	"taskboard/internal/seed"
	"taskboard/internal/server"
	"taskboard/internal/tasks"
	"taskboard/internal/validation"
)

var rootCmd = &cobra.Command{
	Use:   "tb",
	Short: "Taskboard CLI",
	Long: `Taskboard keeps a list of tasks with a status, a priority and a due date.
- Workspace: the .taskboard directory holding the SQLite database, next to an optional taskboard.yml.
- Tasks: created once and never edited; the list can be filtered by status and priority,
  sorted by due date, creation time or priority, and paged 5 to 50 rows at a time.
- Access: the HTTP API accepts a bearer JWT or an X-Api-Key; 'tb apikey create' issues keys
  and 'tb token' mints a JWT from the configured secret.
- Event log: every creation is recorded, view with 'tb log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
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
	viper.SetEnvPrefix("TASKBOARD")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier recorded in the event log")
	rootCmd.PersistentFlags().String("jwt-secret", "", "HS256 secret (overrides auth.jwt_secret)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (overrides logging.level)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("jwt-secret", rootCmd.PersistentFlags().Lookup("jwt-secret"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(apiKeyCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect service config",
		Long:  "Config lives in taskboard.yml in the workspace. Missing keys keep their defaults; flags and TASKBOARD_* variables override the file.",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default taskboard.yml",
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
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Auth.JWTSecret != "" {
				cfg.Auth.JWTSecret = "********"
			}
			return printJSONOrTable(cfg)
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate taskboard.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err == nil {
				err = cfg.Validate()
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
	return cmd
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show task counts by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				counts, err := e.TaskStats(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"task_counts": counts})
				}
				fmt.Println("Tasks:")
				for _, s := range domain.Statuses {
					fmt.Printf("  %s: %d\n", statusBadge(s), counts[string(s)])
				}
				return nil
			})
		},
	}
	return cmd
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
		Long:  "Tasks carry a title, a status (pending, in-progress, completed), a priority (low, medium, high) and a due date that must be after the day they are created.",
	}
	task.AddCommand(taskCreateCmd())
	task.AddCommand(taskListCmd())
	task.AddCommand(taskSeedCmd())
	return task
}

func taskCreateCmd() *cobra.Command {
	var in validation.CreateTask
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.CreateTask(ctx, in, viper.GetString("actor-id"))
				if verrs, ok := validation.FieldErrors(err); ok {
					return printValidationErrors(verrs)
				}
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&in.Title, "title", "", "title (at most 255 characters)")
	cmd.Flags().StringVar(&in.Status, "status", string(domain.StatusPending), "pending, in-progress or completed")
	cmd.Flags().StringVar(&in.Priority, "priority", string(domain.PriorityMedium), "low, medium or high")
	cmd.Flags().StringVar(&in.DueDate, "due-date", "", "due date (YYYY-MM-DD), after today")
	return cmd
}

func taskListCmd() *cobra.Command {
	var status, priority, sortBy, direction string
	var perPage, page int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		Long:  "Lists one page of tasks. Invalid filter values are ignored, exactly as the HTTP list operation does.",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw := url.Values{}
			raw.Set(tasks.ParamStatus, status)
			raw.Set(tasks.ParamPriority, priority)
			raw.Set(tasks.ParamSortBy, sortBy)
			raw.Set(tasks.ParamSortDirection, direction)
			raw.Set(tasks.ParamPerPage, strconv.Itoa(perPage))
			raw.Set(tasks.ParamPage, strconv.Itoa(page))
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				list, err := e.ListTasks(ctx, raw)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(list)
				}
				renderTasks(list)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().StringVar(&priority, "priority", "", "priority filter")
	cmd.Flags().StringVar(&sortBy, "sort-by", "", "due_date, created_at or priority (default newest first)")
	cmd.Flags().StringVar(&direction, "sort-direction", string(tasks.DefaultDirection), "asc or desc")
	cmd.Flags().IntVar(&perPage, "per-page", tasks.DefaultPerPage, "rows per page (5-50)")
	cmd.Flags().IntVar(&page, "page", tasks.DefaultPage, "page number")
	return cmd
}

func taskSeedCmd() *cobra.Command {
	var count int
	var seedValue uint64
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create random demo tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			if count <= 0 {
				return fmt.Errorf("--count must be positive")
			}
			if !cmd.Flags().Changed("seed") {
				seedValue = uint64(time.Now().UnixNano())
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				f := seed.NewFactory(seedValue, e.Today())
				created, err := seed.Run(ctx, e, f, count, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(created)
				}
				fmt.Printf("created %d tasks\n", len(created))
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&count, "count", 50, "number of tasks")
	cmd.Flags().Uint64Var(&seedValue, "seed", 0, "random seed (default: time based)")
	return cmd
}

func apiKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apikey",
		Short: "Manage API keys",
		Long:  "API keys authenticate HTTP callers through the X-Api-Key header. Only a SHA-256 hash is stored; the key is shown once at creation.",
	}
	cmd.AddCommand(apiKeyCreateCmd())
	cmd.AddCommand(apiKeyListCmd())
	cmd.AddCommand(apiKeyDeleteCmd())
	return cmd
}

func apiKeyCreateCmd() *cobra.Command {
	var actor, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				key, secret, err := e.CreateAPIKey(ctx, actor, name, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"id": key.ID, "actor_id": key.ActorID, "name": key.Name, "key": secret})
				}
				fmt.Printf("API key %s for %s\n%s\n", key.ID, key.ActorID, secret)
				fmt.Println("Store it now; it cannot be shown again.")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "actor the key authenticates as")
	cmd.Flags().StringVar(&name, "name", "", "label")
	_ = cmd.MarkFlagRequired("actor")
	return cmd
}

func apiKeyListCmd() *cobra.Command {
	var actor string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				keys, err := e.ListAPIKeys(ctx, actor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Actor", "Name", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.ActorID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "actor filter")
	return cmd
}

func apiKeyDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.DeleteAPIKey(ctx, args[0], viper.GetString("actor-id")); err != nil {
					return err
				}
				fmt.Println("deleted", args[0])
				return nil
			})
		},
	}
	return cmd
}

func tokenCmd() *cobra.Command {
	var actor string
	var roles []string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token signed with the configured secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Auth.JWTSecret == "" {
				return fmt.Errorf("no JWT secret: set auth.jwt_secret, --jwt-secret or TASKBOARD_JWT_SECRET")
			}
			e := engine.New(nil, cfg)
			if ttl > 0 {
				e.Auth.TokenTTL = ttl
			}
			if actor == "" {
				actor = viper.GetString("actor-id")
			}
			token, expires, err := e.Auth.SignToken(actor, roles)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"token": token, "expires_at": expires.UTC().Format(time.RFC3339)})
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "token subject (default --actor-id)")
	cmd.Flags().StringArrayVar(&roles, "role", nil, "role claim (repeatable)")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "lifetime (default auth.token_ttl)")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "Every task creation and API key change, newest first.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, n, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.Server.Addr = addr
			}
			if cmd.Flags().Changed("base-path") {
				cfg.Server.BasePath = basePath
			}
			if cfg.Auth.JWTSecret == "" {
				return fmt.Errorf("TASKBOARD_JWT_SECRET (or auth.jwt_secret) is required for bearer auth")
			}
			a, err := app.Open(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			handler, err := server.New(server.Config{
				Engine:   a.Engine,
				BasePath: cfg.Server.BasePath,
				Auth: server.AuthConfig{
					AllowLegacyActorHeader: cfg.Auth.AllowLegacyActorHeader,
					DevLogin:               cfg.Auth.DevLogin,
				},
				Logger: a.Logger,
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: cfg.Server.Addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			a.Logger.Info("serving taskboard API",
				zap.String("addr", cfg.Server.Addr),
				zap.String("base_path", cfg.Server.BasePath),
				zap.String("openapi", cfg.Server.BasePath+"/openapi.json"),
				zap.String("docs", "/docs"),
				zap.String("metrics", "/metrics"))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address (overrides server.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path (overrides server.base_path)")
	return cmd
}

// --- helpers ---

func loadConfig() (*config.Config, error) {
	cfg, err := app.ResolveConfig(viper.GetString("workspace"))
	if err != nil {
		return nil, err
	}
	if s := viper.GetString("jwt-secret"); s != "" {
		cfg.Auth.JWTSecret = s
	}
	if lvl := viper.GetString("log-level"); lvl != "" {
		cfg.Logging.Level = lvl
	}
	return cfg, nil
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := app.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a.Engine)
}

func renderTasks(list engine.TaskList) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Title", "Status", "Priority", "Due", "Created"})
	for _, t := range list.Data {
		tw.AppendRow(table.Row{t.ID, t.Title, statusBadge(t.Status), priorityBadge(t.Priority), t.DueDate, t.CreatedAt})
	}
	tw.AppendFooter(table.Row{"", fmt.Sprintf("page %d of %d", list.CurrentPage, list.LastPage), "", "", "", fmt.Sprintf("%d tasks", list.Total)})
	tw.Render()
}

func statusBadge(s domain.Status) string {
	switch s {
	case domain.StatusCompleted:
		return text.Colors{text.FgGreen}.Sprint(s)
	case domain.StatusInProgress:
		return text.Colors{text.FgBlue}.Sprint(s)
	default:
		return text.Colors{text.FgYellow}.Sprint(s)
	}
}

func priorityBadge(p domain.Priority) string {
	switch p {
	case domain.PriorityHigh:
		return text.Colors{text.FgRed, text.Bold}.Sprint(p)
	case domain.PriorityMedium:
		return text.Colors{text.FgYellow}.Sprint(p)
	default:
		return text.Colors{text.FgGreen}.Sprint(p)
	}
}

func printValidationErrors(verrs validation.Errors) error {
	if viper.GetBool("json") {
		if err := printJSON(map[string]any{"errors": verrs}); err != nil {
			return err
		}
		return validation.ErrInvalid
	}
	fields := make([]string, 0, len(verrs))
	for f := range verrs {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	for _, f := range fields {
		for _, msg := range verrs[f] {
			fmt.Fprintf(os.Stderr, "%s: %s\n", f, msg)
		}
	}
	return validation.ErrInvalid
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
