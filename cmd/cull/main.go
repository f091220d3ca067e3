package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taskcull/internal/app"
	"taskcull/internal/config"
	"taskcull/internal/db"
	"taskcull/internal/deploy"
	"taskcull/internal/domain"
	"taskcull/internal/engine"
	"taskcull/internal/migrate"
	"taskcull/internal/registry"
	"taskcull/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "cull",
	Short: "Taskcull CLI",
	Long: `Taskcull coordinates task termination for a cluster of apps.
- Workspace: your .taskcull directory holding the registry database.
- Apps: workloads identified by a path like /my/app; each owns running tasks.
- Tasks: instances identified by <encoded-app-path>.<uuid>.
- Kill: terminate tasks directly, or with --scale shrink the owning apps
  by the killed amount in one atomic deployment.
- Queue: launch queue snapshots for apps with pending instances.
- Event log: diary of kill requests and deployments, view with 'cull log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initViper)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initViper() {
	viper.SetEnvPrefix("TASKCULL")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(appCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(queueCmd())
	rootCmd.AddCommand(deploymentCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(rbacCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	var clusterID string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfgPath := config.Path(workspace)
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("%s already exists", cfgPath)
			}
			if err := os.WriteFile(cfgPath, []byte(config.GenerateDefault(clusterID)), 0o644); err != nil {
				return err
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r registry.Repo) error {
				if _, err := app.ResolveConfig(ctx, workspace, viper.GetString("actor-id"), r); err != nil {
					return err
				}
				fmt.Printf("Initialized workspace; config at %s, database at %s\n", cfgPath, db.Path(workspace))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&clusterID, "cluster-id", "local", "cluster identifier")
	return cmd
}

func appCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "app", Short: "Manage apps"}
	cmd.AddCommand(appAddCmd())
	cmd.AddCommand(appListCmd())
	return cmd
}

func appAddCmd() *cobra.Command {
	var instances int
	cmd := &cobra.Command{
		Use:   "add <path>",
		Short: "Register an app",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := domain.ParsePath(args[0])
			if err != nil {
				return err
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r registry.Repo) error {
				if err := r.InsertApp(ctx, nil, domain.App{Path: p, Instances: instances}); err != nil {
					return err
				}
				a, err := r.GetApp(ctx, p)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().IntVar(&instances, "instances", 1, "desired instance count")
	return cmd
}

func appListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List apps",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r registry.Repo) error {
				items, err := r.ListApps(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	return cmd
}

func taskCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "task", Short: "Manage tasks"}
	cmd.AddCommand(taskStartCmd())
	cmd.AddCommand(taskListCmd())
	cmd.AddCommand(taskShowCmd())
	cmd.AddCommand(taskKillCmd())
	return cmd
}

func taskStartCmd() *cobra.Command {
	var count int
	var staged bool
	cmd := &cobra.Command{
		Use:   "start <app-path>",
		Short: "Record started tasks for an app",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := domain.ParsePath(args[0])
			if err != nil {
				return err
			}
			status := domain.TaskRunning
			if staged {
				status = domain.TaskStaged
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r registry.Repo) error {
				if _, err := r.GetApp(ctx, p); err != nil {
					return err
				}
				now := time.Now().UTC().Format(time.RFC3339)
				started := make([]domain.TaskRecord, 0, count)
				for i := 0; i < count; i++ {
					t := domain.TaskRecord{
						ID:        domain.NewTaskID(p),
						AppPath:   p,
						Status:    status,
						StartedAt: now,
					}
					if err := r.InsertTask(ctx, nil, t); err != nil {
						return err
					}
					started = append(started, t)
				}
				return printJSONOrTable(started)
			})
		},
	}
	cmd.Flags().IntVar(&count, "n", 1, "number of tasks")
	cmd.Flags().BoolVar(&staged, "staged", false, "record as staged instead of running")
	return cmd
}

func taskListCmd() *cobra.Command {
	var appPath string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r registry.Repo) error {
				var (
					items []domain.TaskRecord
					err   error
				)
				if appPath != "" {
					p, perr := domain.ParsePath(appPath)
					if perr != nil {
						return perr
					}
					items, err = r.ListByApp(ctx, p)
				} else {
					items, err = r.SnapshotAll(ctx)
				}
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "App", "Status", "Started"})
				for _, t := range items {
					tw.AppendRow(table.Row{t.ID, t.AppPath, t.Status, t.StartedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&appPath, "app", "", "filter by app path")
	return cmd
}

func taskShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.GetTask(ctx, localCaller(), args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func taskKillCmd() *cobra.Command {
	var scale, force bool
	cmd := &cobra.Command{
		Use:   "kill <task-id> [task-id...]",
		Short: "Kill tasks",
		Long:  "Kills the given tasks. With --scale the owning apps are scaled down by the killed amount in one atomic deployment.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.KillTasks(ctx, localCaller(), engine.KillRequest{
					IDs:   args,
					Scale: scale,
					Force: force,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().BoolVar(&scale, "scale", false, "scale owning apps down by the killed amount")
	cmd.Flags().BoolVar(&force, "force", false, "kill staged tasks too")
	return cmd
}

func queueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Show launch queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Queue(ctx, localCaller())
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	return cmd
}

func deploymentCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "deployment", Short: "Deployments"}
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List deployments",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r registry.Repo) error {
				items, err := deploy.Local{DB: r.DB}.ListDeployments(ctx, limit)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	list.Flags().IntVar(&limit, "n", 20, "number of deployments")
	cmd.AddCommand(list)
	return cmd
}

func logCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "log", Short: "Event log"}
	cmd.AddCommand(logTailCmd())
	return cmd
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, appPath string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r registry.Repo) error {
				events, err := r.LatestEvents(ctx, n, evtType, appPath)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&appPath, "app", "", "app path filter")
	return cmd
}

func rbacCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "rbac", Short: "RBAC management"}
	cmd.AddCommand(rbacSyncCmd())
	cmd.AddCommand(rbacGrantCmd())
	cmd.AddCommand(rbacWhoamiCmd())
	return cmd
}

func rbacSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync role permissions from config",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfg, err := config.Load(workspace)
			if err != nil {
				return err
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r registry.Repo) error {
				return r.SyncRolePermissions(ctx, cfg)
			})
		},
	}
	return cmd
}

func rbacGrantCmd() *cobra.Command {
	var target, role, pathPrefix string
	cmd := &cobra.Command{
		Use:   "grant",
		Short: "Grant role to actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			if target == "" || role == "" {
				return fmt.Errorf("--actor and --role required")
			}
			prefix := domain.WorkloadPath("/")
			if pathPrefix != "" && pathPrefix != "/" {
				p, err := domain.ParsePath(pathPrefix)
				if err != nil {
					return err
				}
				prefix = p
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r registry.Repo) error {
				tx, err := r.DB.BeginTx(ctx, nil)
				if err != nil {
					return err
				}
				defer tx.Rollback()
				if err := r.EnsureActor(ctx, tx, target); err != nil {
					return err
				}
				if err := r.AssignRole(ctx, tx, target, role, prefix); err != nil {
					return err
				}
				return tx.Commit()
			})
		},
	}
	cmd.Flags().StringVar(&target, "actor", "", "actor id")
	cmd.Flags().StringVar(&role, "role", "", "role id")
	cmd.Flags().StringVar(&pathPrefix, "path", "/", "workload path prefix the grant applies to")
	return cmd
}

func rbacWhoamiCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show current actor grants",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r registry.Repo) error {
				grants, err := r.ActorGrants(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(grants)
			})
		},
	}
	return cmd
}

func apikeyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "apikey", Short: "API keys"}
	cmd.AddCommand(apikeyCreateCmd())
	return cmd
}

func apikeyCreateCmd() *cobra.Command {
	var target, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for an actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			if target == "" {
				target = viper.GetString("actor-id")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r registry.Repo) error {
				tx, err := r.DB.BeginTx(ctx, nil)
				if err != nil {
					return err
				}
				defer tx.Rollback()
				if err := r.EnsureActor(ctx, tx, target); err != nil {
					return err
				}
				secret := uuid.NewString()
				key := domain.APIKey{
					ID:      uuid.NewString(),
					ActorID: target,
					Name:    name,
					KeyHash: registry.HashAPIKey(secret),
				}
				if err := r.InsertAPIKey(ctx, tx, key); err != nil {
					return err
				}
				if err := tx.Commit(); err != nil {
					return err
				}
				fmt.Printf("API key created for %s (shown once):\n%s\n", target, secret)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&target, "actor", "", "actor id (defaults to --actor-id)")
	cmd.Flags().StringVar(&name, "name", "", "key name")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowActorHeader bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				authCfg := server.AuthConfig{
					JWTSecret:             os.Getenv("TASKCULL_JWT_SECRET"),
					AllowLocalActorHeader: allowActorHeader,
				}
				if authCfg.JWTSecret == "" && !allowActorHeader {
					return fmt.Errorf("TASKCULL_JWT_SECRET is required for bearer auth")
				}
				handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(sctx)
				}()
				fmt.Printf("Serving Taskcull API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	cmd.Flags().BoolVar(&allowActorHeader, "allow-actor-header", false, "accept X-Actor-Id without auth (local use only)")
	return cmd
}

// --- helpers ---

func localCaller() engine.Caller {
	return engine.Caller{ID: viper.GetString("actor-id"), Authenticated: true}
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	return withRepo(ctx, func(ctx context.Context, r registry.Repo) error {
		workspace := viper.GetString("workspace")
		cfg, err := app.ResolveConfig(ctx, workspace, viper.GetString("actor-id"), r)
		if err != nil {
			return err
		}
		return fn(ctx, engine.New(r.DB, cfg))
	})
}

func withRepo(ctx context.Context, fn func(context.Context, registry.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, registry.Repo{DB: conn})
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
