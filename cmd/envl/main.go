package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"envline/internal/app"
	"envline/internal/config"
	"envline/internal/db"
	"envline/internal/domain"
	"envline/internal/engine"
	"envline/internal/logging"
	"envline/internal/metrics"
	"envline/internal/server"
	"envline/internal/wire"
	envlinesdk "envline/sdk/go"
)

var rootCmd = &cobra.Command{
	Use:   "envl",
	Short: "envline CLI",
	Long: `envline edits CI environments: which pipelines run in them, which agents serve
them and the variables they carry.
- Environment: a named group merged from the server config and any number of config repositories.
- Origin: where a member was declared. Only members declared in the server config can be changed here.
- A pipeline belongs to at most one environment; adding it to a second one is refused.
- Edits are sent as a minimal delta guarded by the token of the last fetch. A refused token means
  somebody else saved first; reopen the environment and edit again.`,
	SilenceUsage: true,
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
	viper.SetEnvPrefix("ENVLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("server", "", "server URL (overrides config)")
	rootCmd.PersistentFlags().String("base-path", "", "API base path (overrides config)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (overrides config)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("server", rootCmd.PersistentFlags().Lookup("server"))
	_ = viper.BindPFlag("base-path", rootCmd.PersistentFlags().Lookup("base-path"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func registerCommands() {
	rootCmd.AddCommand(envCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(eventsCmd())
	rootCmd.AddCommand(serveCmd())
}

// loadConfig reads envline.yml when present and applies flag and env overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadOptional(viper.GetString("workspace"))
	if err != nil {
		return nil, err
	}
	if v := viper.GetString("server"); v != "" {
		cfg.Server.URL = v
	}
	if v := viper.GetString("base-path"); v != "" {
		cfg.Server.BasePath = v
	}
	if v := viper.GetString("log-level"); v != "" {
		cfg.LogLevel = v
	}
	return cfg, cfg.Validate()
}

func newLogger(service string, cfg *config.Config) (*slog.Logger, error) {
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	return logging.New(service, level), nil
}

func newClient(cfg *config.Config) (*envlinesdk.Client, error) {
	return envlinesdk.New(cfg.Server.URL,
		envlinesdk.WithBasePath(cfg.Server.BasePath),
		envlinesdk.WithTimeout(cfg.Server.Timeout))
}

// withEngine builds an engine over the configured server with a fresh registry.
func withEngine(ctx context.Context, fn func(context.Context, *engine.Engine) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger("envl", cfg)
	if err != nil {
		return err
	}
	client, err := newClient(cfg)
	if err != nil {
		return err
	}
	e := engine.New(client, logger, nil)
	if _, err := e.Refresh(ctx); err != nil {
		return err
	}
	return fn(ctx, e)
}

func envCmd() *cobra.Command {
	env := &cobra.Command{
		Use:   "env",
		Short: "Manage environments",
	}
	env.AddCommand(envListCmd())
	env.AddCommand(envShowCmd())
	env.AddCommand(envCreateCmd())
	env.AddCommand(envEditCmd())
	env.AddCommand(envDeleteCmd())
	env.AddCommand(envCheckCmd())
	return env
}

func envListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List environments",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				envs := e.Registry().All()
				if viper.GetBool("json") {
					out := make([]envlinesdk.Environment, 0, len(envs))
					for _, env := range envs {
						out = append(out, wire.FromEnvironment(env))
					}
					return printJSON(out)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Name", "Origins", "Pipelines", "Agents", "Variables"})
				for _, env := range envs {
					tw.AppendRow(table.Row{env.Name, originList(env.Origins), len(env.Pipelines), len(env.Agents), env.Variables.Len()})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func envShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show NAME",
		Short: "Show one environment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				s, err := e.Open(ctx, args[0])
				if err != nil {
					return err
				}
				defer e.Cancel(s)
				printEnvironment(s.Baseline())
				return nil
			})
		},
	}
	return cmd
}

func envCreateCmd() *cobra.Command {
	var pipelines, agents, vars, secureVars []string
	cmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Create an environment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env := domain.NewEnvironment(args[0])
			for _, p := range pipelines {
				env.AddPipelineIfAbsent(domain.PipelineMembership{Name: p, Origin: domain.InteractiveOrigin()})
			}
			for _, a := range agents {
				env.AddAgentIfAbsent(domain.AgentMembership{UUID: a, Origin: domain.InteractiveOrigin()})
			}
			if err := addVariables(env, vars, false); err != nil {
				return err
			}
			if err := addVariables(env, secureVars, true); err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				created, err := e.Create(ctx, env)
				if err != nil {
					return err
				}
				printEnvironment(created)
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&pipelines, "pipeline", nil, "pipeline to add (repeatable)")
	cmd.Flags().StringSliceVar(&agents, "agent", nil, "agent uuid to add (repeatable)")
	cmd.Flags().StringArrayVar(&vars, "var", nil, "variable K=V (repeatable)")
	cmd.Flags().StringArrayVar(&secureVars, "secure-var", nil, "secure variable K=V (repeatable)")
	return cmd
}

func envEditCmd() *cobra.Command {
	var addPipelines, removePipelines, addAgents, removeAgents, setVars, setSecure, unsetVars []string
	cmd := &cobra.Command{
		Use:   "edit NAME",
		Short: "Edit membership and variables of an environment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				s, err := e.Open(ctx, args[0])
				if err != nil {
					return err
				}
				defer e.Cancel(s)
				for _, p := range removePipelines {
					if err := s.RemovePipeline(p); err != nil {
						return err
					}
				}
				for _, p := range addPipelines {
					if err := s.AddPipeline(p); err != nil {
						return err
					}
				}
				for _, a := range removeAgents {
					if err := s.RemoveAgent(a); err != nil {
						return err
					}
				}
				for _, a := range addAgents {
					if err := s.AddAgent(a, ""); err != nil {
						return err
					}
				}
				for _, name := range unsetVars {
					if err := s.RemoveVariable(name); err != nil {
						return err
					}
				}
				for _, kv := range setVars {
					k, v, err := splitVar(kv)
					if err != nil {
						return err
					}
					if err := s.SetVariable(k, v); err != nil {
						return err
					}
				}
				for _, kv := range setSecure {
					k, v, err := splitVar(kv)
					if err != nil {
						return err
					}
					if err := s.SetSecureVariable(k, v); err != nil {
						return err
					}
				}
				res, err := e.Save(ctx, s)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{
						"environment": wire.FromEnvironment(res.Environment),
						"noop":        res.Noop,
						"token":       res.Token,
					})
				}
				if res.Noop {
					fmt.Println("nothing to save")
					return nil
				}
				printEnvironment(res.Environment)
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&addPipelines, "add-pipeline", nil, "pipeline to add")
	cmd.Flags().StringSliceVar(&removePipelines, "remove-pipeline", nil, "pipeline to remove")
	cmd.Flags().StringSliceVar(&addAgents, "add-agent", nil, "agent uuid to add")
	cmd.Flags().StringSliceVar(&removeAgents, "remove-agent", nil, "agent uuid to remove")
	cmd.Flags().StringArrayVar(&setVars, "set-var", nil, "set variable K=V")
	cmd.Flags().StringArrayVar(&setSecure, "set-secure-var", nil, "set secure variable K=V")
	cmd.Flags().StringSliceVar(&unsetVars, "unset-var", nil, "remove variable K")
	return cmd
}

func envDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete NAME",
		Short: "Delete an environment declared only in the server config",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				if err := e.Delete(ctx, args[0]); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"deleted": args[0]})
				}
				fmt.Printf("deleted %s\n", args[0])
				return nil
			})
		},
	}
	return cmd
}

func envCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Report pipelines placed in more than one environment",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				reg := e.Registry()
				dups := reg.DuplicatePipelines()
				owners := reg.PipelineOwners()
				if viper.GetBool("json") {
					out := map[string][]string{}
					for _, p := range dups {
						out[p] = owners[p]
					}
					if err := printJSON(map[string]any{"ok": len(dups) == 0, "duplicates": out}); err != nil {
						return err
					}
				} else if len(dups) == 0 {
					fmt.Println("no pipeline is in more than one environment")
				} else {
					tw := table.NewWriter()
					tw.SetOutputMirror(os.Stdout)
					tw.AppendHeader(table.Row{"Pipeline", "Environments"})
					for _, p := range dups {
						tw.AppendRow(table.Row{p, strings.Join(owners[p], ", ")})
					}
					tw.Render()
				}
				if len(dups) > 0 {
					return fmt.Errorf("%d pipelines are in more than one environment", len(dups))
				}
				return nil
			})
		},
	}
	return cmd
}

func eventsCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show the server change log",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			client, err := newClient(cfg)
			if err != nil {
				return err
			}
			items, err := client.Events(cmd.Context(), n)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(items)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"ID", "Time", "Type", "Environment", "Request"})
			for _, ev := range items {
				tw.AppendRow(table.Row{ev.ID, ev.TS, ev.Type, ev.Environment, ev.RequestID})
			}
			tw.Render()
			return nil
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage envline.yml",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default envline.yml in the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return printJSON(cfg)
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the sandbox environments server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.Sandbox.Addr
			}
			logger, err := newLogger("envl-sandbox", cfg)
			if err != nil {
				return err
			}
			svc, conn, err := app.OpenSandbox(cmd.Context(), workspace, cfg)
			if err != nil {
				return err
			}
			defer conn.Close()
			handler, err := server.New(server.Config{
				Service:  svc,
				BasePath: cfg.Server.BasePath,
				Logger:   logger,
				Metrics:  metrics.New(),
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
			fmt.Printf("Serving envline sandbox on http://%s%s (OpenAPI at %s/openapi.json, metrics at /metrics)\n", addr, cfg.Server.BasePath, cfg.Server.BasePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config sandbox.addr)")
	return cmd
}

func addVariables(env *domain.Environment, pairs []string, secure bool) error {
	for _, kv := range pairs {
		k, v, err := splitVar(kv)
		if err != nil {
			return err
		}
		if secure {
			env.Variables.Add(domain.NewSecureVariable(k, v))
		} else {
			env.Variables.Add(domain.NewVariable(k, v))
		}
	}
	return nil
}

func splitVar(kv string) (string, string, error) {
	k, v, ok := strings.Cut(kv, "=")
	if !ok || strings.TrimSpace(k) == "" {
		return "", "", fmt.Errorf("variable %q must be KEY=VALUE", kv)
	}
	return strings.TrimSpace(k), v, nil
}

func originList(origins domain.Origins) string {
	parts := make([]string, 0, len(origins))
	for _, o := range origins {
		parts = append(parts, o.String())
	}
	return strings.Join(parts, ", ")
}

func printEnvironment(env *domain.Environment) {
	if viper.GetBool("json") {
		_ = printJSON(wire.FromEnvironment(env))
		return
	}
	fmt.Printf("Environment %s (%s)\n", env.Name, originList(env.Origins))
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Kind", "Name", "Origin", "Editable"})
	for _, p := range env.Pipelines {
		tw.AppendRow(table.Row{"pipeline", p.Name, p.Origin.String(), p.Origin.IsEditable()})
	}
	for _, a := range env.Agents {
		name := a.UUID
		if a.Hostname != "" {
			name += " (" + a.Hostname + ")"
		}
		tw.AppendRow(table.Row{"agent", name, a.Origin.String(), a.Origin.IsEditable()})
	}
	for _, v := range env.Variables.List() {
		kind := "variable"
		if v.Secure {
			kind = "secure variable"
		}
		tw.AppendRow(table.Row{kind, v.Name, v.Origin.String(), v.IsEditable()})
	}
	tw.Render()
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
