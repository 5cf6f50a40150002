package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nightowlhq/aigate/internal/config"
	"github.com/nightowlhq/aigate/internal/gateway"
	"github.com/nightowlhq/aigate/internal/memory"
	"github.com/nightowlhq/aigate/internal/provider"
	"github.com/nightowlhq/aigate/internal/queue"
	"github.com/nightowlhq/aigate/internal/store"
	"github.com/nightowlhq/aigate/internal/usage"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "aigate",
	Short: "aigate - AI gateway over OpenAI, Anthropic, and Gemini",
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configured providers and the active primary",
	RunE:  runStatus,
}

var askCmd = &cobra.Command{
	Use:   "ask [prompt]",
	Short: "Run a generate task",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

var moderateCmd = &cobra.Command{
	Use:   "moderate [content]",
	Short: "Run a moderate task",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runModerate,
}

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Prune stale memory entries for every tenant",
	RunE:  runPrune,
}

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Summarize recorded token usage and cost",
	RunE:  runUsage,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the aigate version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("aigate", version)
	},
}

var (
	configFlag   string
	providerFlag string
	modelFlag    string
	systemFlag   string
	streamFlag   bool
	tenantFlag   string
	sinceFlag    string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "Path to config file")
	askCmd.Flags().StringVarP(&providerFlag, "provider", "p", "", "Provider override")
	askCmd.Flags().StringVarP(&modelFlag, "model", "m", "", "Model override")
	askCmd.Flags().StringVarP(&systemFlag, "system", "s", "", "System instruction")
	askCmd.Flags().BoolVar(&streamFlag, "stream", false, "Stream the response as it arrives")
	askCmd.Flags().StringVar(&tenantFlag, "tenant", "", "Tenant id for usage accounting")
	moderateCmd.Flags().StringVarP(&providerFlag, "provider", "p", "", "Provider override")
	usageCmd.Flags().StringVar(&sinceFlag, "since", "", "Aggregate from this duration back (e.g. 24h, 720h)")
	rootCmd.AddCommand(statusCmd, askCmd, moderateCmd, pruneCmd, usageCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

type app struct {
	cfg      *config.Manager
	db       *store.DB
	registry *provider.Registry
	svc      *gateway.Service
	memories *memory.Store
	tracker  *usage.Tracker
}

func buildApp() (*app, error) {
	cfg, err := config.NewManager(configFlag)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	// Credentials rotated while a command runs take effect on the next
	// provider call.
	if err := cfg.Watch(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "config watch disabled: %v\n", err)
	}

	db, err := store.Open(cfg.Current().Memory.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	registry := provider.NewRegistry(func() string { return cfg.Current().AI.PrimaryProvider })
	registry.Register(provider.NewOpenAI(cfg))
	registry.Register(provider.NewAnthropic(cfg))
	registry.Register(provider.NewGemini(cfg))

	c := cfg.Current()
	q := queue.New(c.Queue.Concurrency, time.Duration(c.Queue.TimeoutMs)*time.Millisecond, nil)
	tracker := usage.NewTracker(db, cfg)

	return &app{
		cfg:      cfg,
		db:       db,
		registry: registry,
		svc:      gateway.NewService(cfg, registry, q, tracker),
		memories: memory.NewStore(db, memory.NewEmbedder(cfg)),
		tracker:  tracker,
	}, nil
}

func (a *app) close() {
	_ = a.db.Close()
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.close()

	c := a.cfg.Current()
	fmt.Printf("Config: %s\n", config.ConfigPath())
	fmt.Printf("Enabled: %v\n", c.AI.Enabled)
	fmt.Printf("Preferred provider: %s\n", c.AI.PrimaryProvider)

	for _, name := range a.registry.Names() {
		p, _ := a.registry.Get(name)
		state := "not configured"
		if p.Configured() {
			state = "configured"
		}
		fmt.Printf("  %-10s %s\n", name, state)
	}

	if p, err := a.registry.Primary(); err != nil {
		fmt.Printf("Primary: none (%v)\n", err)
	} else {
		fmt.Printf("Primary: %s\n", p.Name())
	}
	fmt.Printf("Database: %s\n", c.Memory.DBPath)
	return nil
}

func runAsk(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.close()

	task := gateway.Task{
		Type:     gateway.TaskGenerate,
		Generate: &gateway.GeneratePayload{System: systemFlag, Prompt: strings.Join(args, " ")},
		Provider: providerFlag,
		Model:    modelFlag,
		Meta:     gateway.Meta{TenantID: tenantFlag},
	}
	if streamFlag {
		task.OnStream = func(chunk string, done bool) {
			if done {
				fmt.Println()
				return
			}
			fmt.Print(chunk)
		}
	}

	res, err := a.svc.RunTask(cmd.Context(), task)
	if err != nil {
		return err
	}
	if !streamFlag {
		fmt.Println(res.Text)
	}
	if res.Usage != nil {
		fmt.Fprintf(os.Stderr, "[%s/%s] tokens in=%d out=%d total=%d\n",
			res.Provider, res.Model, res.Usage.InputTokens, res.Usage.OutputTokens, res.Usage.TotalTokens)
	}
	return nil
}

func runModerate(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.close()

	res, err := a.svc.RunTask(cmd.Context(), gateway.Task{
		Type:     gateway.TaskModerate,
		Content:  strings.Join(args, " "),
		Provider: providerFlag,
	})
	if err != nil {
		return err
	}

	out, _ := json.MarshalIndent(map[string]any{
		"provider":   res.Provider,
		"flagged":    res.Moderation.Flagged,
		"categories": res.Moderation.Categories,
	}, "", "  ")
	fmt.Println(string(out))
	return nil
}

func runPrune(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.close()

	gateway.NewJanitor(a.cfg, a.db, a.memories).RunOnce(cmd.Context())
	return nil
}

func runUsage(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.close()

	var since time.Time
	if sinceFlag != "" {
		d, err := time.ParseDuration(sinceFlag)
		if err != nil {
			return fmt.Errorf("parse --since: %w", err)
		}
		since = time.Now().Add(-d)
	}

	sum, err := a.tracker.Summarize(context.Background(), since)
	if err != nil {
		return err
	}

	fmt.Printf("Records: %d\n", sum.Records)
	fmt.Printf("Tokens:  in=%d out=%d total=%d\n", sum.TokensInput, sum.TokensOutput, sum.TokensTotal)
	fmt.Printf("Cost:    %.6f\n", sum.Cost)
	for name, pt := range sum.ByProvider {
		fmt.Printf("  %-10s records=%d tokens=%d cost=%.6f\n", name, pt.Records, pt.TokensTotal, pt.Cost)
	}
	return nil
}
