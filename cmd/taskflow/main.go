package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/zen-systems/taskflow/pkg/adapter"
	"github.com/zen-systems/taskflow/pkg/agent"
	"github.com/zen-systems/taskflow/pkg/config"
	"github.com/zen-systems/taskflow/pkg/metrics"
	"github.com/zen-systems/taskflow/pkg/planner"
	"github.com/zen-systems/taskflow/pkg/policy"
	"github.com/zen-systems/taskflow/pkg/rollout"
	"github.com/zen-systems/taskflow/pkg/router"
	"github.com/zen-systems/taskflow/pkg/store"
	"github.com/zen-systems/taskflow/pkg/synthesis"
	"github.com/zen-systems/taskflow/pkg/tools"
)

var configFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "taskflow",
		Short: "Workspace assistant with policy-enforced query routing",
		Long: `Taskflow answers workspace questions by routing each query across
	domain tools (issue tracker, code hosting, wiki, calendar), document
	retrieval, and resilient multi-provider model execution, with staged
	rollout of the policy layer.`,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to taskflow.yaml")

	rootCmd.AddCommand(askCmd())
	rootCmd.AddCommand(planCmd())
	rootCmd.AddCommand(bucketCmd())
	rootCmd.AddCommand(providersCmd())
	rootCmd.AddCommand(decisionsCmd())
	rootCmd.AddCommand(validateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func askCmd() *cobra.Command {
	var sessionID string
	var jsonFlag bool
	var showMetrics bool

	cmd := &cobra.Command{
		Use:   "ask [query]",
		Short: "Answer a query through the full decision layer",
		Long: `Runs one query end to end: rollout bucketing, domain routing,
	execution path selection, policy validation, and evidence synthesis.

	Use --json to print the answer together with the full decision trace.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			sup, engine, cleanup, err := buildSupervisor(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer cleanup()

			resp := sup.Handle(ctx, args[0], sessionID)

			if cfg.Store.Path != "" {
				if err := appendTrace(ctx, cfg.Store.Path, sessionID, args[0], resp.Decision); err != nil {
					log.WithError(err).Warn("failed to persist decision trace")
				}
			}

			if jsonFlag {
				return printJSON(resp)
			}
			fmt.Println(resp.Answer)
			fmt.Fprintf(os.Stderr, "\n[%s] path=%s bucket=%d mode=%s\n",
				resp.Decision.RequestID, resp.Decision.Path,
				resp.Decision.Rollout.Bucket, resp.Decision.Rollout.Mode)
			if showMetrics {
				return printJSON(engine.Snapshot())
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "stable session id used as the rollout routing key")
	cmd.Flags().BoolVar(&jsonFlag, "json", false, "print the answer with the full decision trace as JSON")
	cmd.Flags().BoolVar(&showMetrics, "metrics", false, "print the metrics snapshot after answering")

	return cmd
}

func planCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plan [query]",
		Short: "Show the routing plan for a query without executing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			r, err := buildRouter(cfg, log)
			if err != nil {
				return err
			}

			p := planner.New(r, cfg.Planner.Model, log)
			result := p.Plan(cmd.Context(), args[0])
			return printJSON(struct {
				Plan     planner.Plan `json:"plan"`
				Fallback bool         `json:"fallback"`
			}{result.Plan, result.Fallback})
		},
	}
}

func bucketCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bucket [routing-key]",
		Short: "Show the rollout decision for a routing key",
		Long: `Computes the deterministic rollout bucket for a session id or raw
	query. The same key always lands in the same bucket, so this shows which
	enforcement mode a given session observes.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			return printJSON(rollout.Decide(cfg.Rollout.ToRollout(), args[0]))
		},
	}
}

func providersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List configured providers and their health",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			r, err := buildRouter(cfg, log)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PROVIDER\tMODELS\tPRIORITY\tBREAKER\tSTATUS")
			for _, pc := range cfg.Router.Providers {
				status := "no key"
				if cfg.HasProvider(pc.Name) {
					status = "ready"
				}
				breaker := "-"
				for _, st := range r.Statuses() {
					if st.Name == pc.Name {
						breaker = st.Breaker
					}
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
					pc.Name, strings.Join(pc.Models, ", "), pc.Priority, breaker, status)
			}
			return w.Flush()
		},
	}
}

func decisionsCmd() *cobra.Command {
	var sessionID string
	var limit int

	cmd := &cobra.Command{
		Use:   "decisions",
		Short: "List recent decision traces from the audit log",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Store.Path == "" {
				return fmt.Errorf("no audit log configured (set store.path or TASKFLOW_DB_PATH)")
			}

			st, err := store.Open(cfg.Store.Path)
			if err != nil {
				return err
			}
			defer st.Close()

			records, err := st.List(cmd.Context(), sessionID, limit)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tSESSION\tPATH\tMODE\tQUERY")
			for _, rec := range records {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					rec.CreatedAt.Format(time.RFC3339), rec.SessionID, rec.Path,
					rec.Decision.Rollout.Mode, truncate(rec.Query, 60))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "filter by session id")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of traces to show")

	return cmd
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration without running anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			fmt.Printf("Configuration is valid: %d providers, rollout %s at %d%%.\n",
				len(cfg.Router.Providers), cfg.Rollout.Mode, cfg.Rollout.Percent)
			return nil
		},
	}
}

func loadConfig() (*config.Config, *logrus.Logger, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}

	log := logrus.New()
	log.SetOutput(os.Stderr)
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}
	return cfg, log, nil
}

// buildRouter wires the configured providers that have credentials into
// the resilient router.
func buildRouter(cfg *config.Config, log logrus.FieldLogger) (*router.Router, error) {
	var providers []*router.Provider
	for _, pc := range cfg.Router.Providers {
		if !cfg.HasProvider(pc.Name) {
			continue
		}
		a, err := createAdapter(cfg, pc)
		if err != nil {
			return nil, fmt.Errorf("creating %s adapter: %w", pc.Name, err)
		}
		providers = append(providers, router.NewProvider(pc.ToRouter(), a))
	}
	if len(providers) == 0 {
		return nil, fmt.Errorf("no providers available: set at least one API key or configure ollama")
	}
	return router.New(cfg.Router.ToRouter(), providers, log), nil
}

func createAdapter(cfg *config.Config, pc config.ProviderConfig) (adapter.Adapter, error) {
	switch pc.Name {
	case "openai":
		return adapter.NewOpenAIAdapter(cfg.APIKeys.OpenAI, pc.Models)
	case "anthropic":
		return adapter.NewAnthropicAdapter(cfg.APIKeys.Anthropic, pc.Models)
	case "google":
		return adapter.NewGoogleAdapter(cfg.APIKeys.Google, pc.Models)
	case "ollama":
		return adapter.NewOllamaAdapter(pc.BaseURL, pc.Models), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", pc.Name)
	}
}

// buildSupervisor assembles the full decision layer: router, planner,
// synthesizer, MCP executor, and metrics engine.
func buildSupervisor(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (*agent.Supervisor, *metrics.Engine, func(), error) {
	cleanup := func() {}

	r, err := buildRouter(cfg, log)
	if err != nil {
		return nil, nil, cleanup, err
	}

	engine := metrics.NewEngine(cfg.Rollout.SuccessGates)
	p := planner.New(r, cfg.Planner.Model, log)
	synth := synthesis.New(r, cfg.Synthesis.Model, log)

	var executor agent.Executor
	catalog := policy.DefaultCatalog()
	if cfg.MCP.Endpoint != "" {
		client, err := tools.Connect(ctx, cfg.MCP.Endpoint)
		if err != nil {
			// plan enforcement degrades gracefully when tools are down
			log.WithError(err).Warn("MCP server unreachable, tool execution disabled")
		} else {
			cleanup = func() { client.Close() }
			listing, err := client.ListTools(ctx)
			if err != nil {
				log.WithError(err).Warn("listing MCP tools failed, using static catalog")
			} else {
				catalog = tools.BuildCatalog(listing)
			}
			executor = tools.NewExecutor(client, r, cfg.Agent.AnswerModel, listing, log)
		}
	}

	sup := agent.New(agent.Config{
		Rollout:                cfg.Rollout.ToRollout(),
		RetrievalOnly:          cfg.Agent.RetrievalOnly,
		LowConfidenceThreshold: cfg.Rollout.LowConfidenceThreshold,
		RetrievalTopK:          cfg.RAG.TopK,
		MaxIterations:          cfg.Agent.MaxIterations,
		AnswerModel:            cfg.Agent.AnswerModel,
		ExecTimeout:            time.Duration(cfg.Agent.ExecTimeoutMs) * time.Millisecond,
	}, agent.Deps{
		Planner:  p,
		Executor: executor,
		Catalog:  catalog,
		Caller:   r,
		Synth:    synth,
		Metrics:  engine,
		Log:      log,
	})
	return sup, engine, cleanup, nil
}

func appendTrace(ctx context.Context, path, sessionID, query string, dec *agent.Decision) error {
	st, err := store.Open(path)
	if err != nil {
		return err
	}
	defer st.Close()
	return st.Append(ctx, sessionID, query, dec)
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
