package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"grafema/internal/config"
	"grafema/internal/core"
	"grafema/internal/graph"
	"grafema/internal/guarantee"
	"grafema/internal/traverse"
)

var (
	// Global flags
	workspace string
	verbose   bool
	timeout   time.Duration

	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "grafema",
	Short: "Grafema - queryable property graph of your codebase",
	Long: `Grafema converts a codebase into a property graph: services,
modules, functions, routes and infrastructure become nodes; calls,
requests and deployments become edges.

Run "grafema analyze" to build the graph, then query it with
"grafema traverse", "grafema node" and "grafema stats", and keep it
honest with "grafema guarantee".`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
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
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

// openEngine loads the workspace configuration and constructs the
// engine. Callers own Close.
func openEngine() (*core.Engine, error) {
	cfg, err := config.Load(workspace)
	if err != nil {
		return nil, err
	}
	return core.New(cfg, core.Options{})
}

// commandContext returns a context honoring --timeout and Ctrl-C.
func commandContext() (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	if timeout <= 0 {
		return ctx, stop
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	return ctx, func() {
		cancel()
		stop()
	}
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Build (or rebuild) the graph for the workspace",
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := openEngine()
		if err != nil {
			return err
		}
		defer engine.Close()

		ctx, cancel := commandContext()
		defer cancel()

		start := time.Now()
		summary, runErr := engine.Analyze(ctx)
		if summary != nil {
			logger.Info("analysis finished",
				zap.String("runId", summary.RunID),
				zap.Int("nodes", summary.NodeCount),
				zap.Int("edges", summary.EdgeCount),
				zap.Int("issues", len(summary.Issues)),
				zap.Bool("partial", summary.Partial),
				zap.Duration("elapsed", time.Since(start)))
			if err := printJSON(summary); err != nil {
				return err
			}
		}
		return runErr
	},
}

var (
	traverseEdgeTypes []string
	traverseDepth     int
	traverseIncoming  bool
)

var traverseCmd = &cobra.Command{
	Use:   "traverse <start-node-id> [more-ids...]",
	Short: "Breadth-first traversal from start nodes over typed edges",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := openEngine()
		if err != nil {
			return err
		}
		defer engine.Close()

		direction := graph.DirectionOutgoing
		if traverseIncoming {
			direction = graph.DirectionIncoming
		}
		resp, err := engine.Traverse(traverse.Request{
			StartNodeIDs: args,
			EdgeTypes:    traverseEdgeTypes,
			MaxDepth:     traverseDepth,
			Direction:    direction,
		})
		if err != nil {
			return err
		}
		if resp.Truncated {
			fmt.Fprintln(os.Stderr, resp.Message)
		}
		return printJSON(resp)
	},
}

var nodeCmd = &cobra.Command{
	Use:   "node <node-id>",
	Short: "Show one node",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := openEngine()
		if err != nil {
			return err
		}
		defer engine.Close()

		n, err := engine.GetNode(args[0])
		if err != nil {
			return err
		}
		if n == nil {
			return fmt.Errorf("node %q not found", args[0])
		}
		return printJSON(n)
	},
}

var (
	edgesIncoming bool
	edgesTypes    []string
)

var edgesCmd = &cobra.Command{
	Use:   "edges <node-id>",
	Short: "List a node's edges",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := openEngine()
		if err != nil {
			return err
		}
		defer engine.Close()

		direction := graph.DirectionOutgoing
		if edgesIncoming {
			direction = graph.DirectionIncoming
		}
		var filter []string
		if len(edgesTypes) > 0 {
			filter = edgesTypes
		}
		edges, err := engine.Edges(args[0], direction, filter)
		if err != nil {
			return err
		}
		return printJSON(edges)
	},
}

var findCmd = &cobra.Command{
	Use:   "find <type-pattern>",
	Short: "List node IDs by type (trailing '*' matches a prefix)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := openEngine()
		if err != nil {
			return err
		}
		defer engine.Close()

		ids, err := engine.FindByType(args[0])
		if err != nil {
			return err
		}
		return printJSON(ids)
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Graph totals and per-type counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := openEngine()
		if err != nil {
			return err
		}
		defer engine.Close()

		stats, err := engine.Stats()
		if err != nil {
			return err
		}
		return printJSON(stats)
	},
}

var watchDebounce time.Duration

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Re-analyze whenever project files change",
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := openEngine()
		if err != nil {
			return err
		}
		defer engine.Close()

		ctx, cancel := commandContext()
		defer cancel()

		if _, err := engine.Analyze(ctx); err != nil {
			return err
		}
		logger.Info("initial analysis complete, watching for changes",
			zap.String("workspace", workspace))

		err = engine.Watch(ctx, watchDebounce)
		if err == context.Canceled {
			return nil
		}
		return err
	},
}

var guaranteeCmd = &cobra.Command{
	Use:   "guarantee",
	Short: "Manage and check architectural guarantees",
}

var guaranteeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List declared guarantees",
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := openEngine()
		if err != nil {
			return err
		}
		defer engine.Close()
		return printJSON(engine.ListGuarantees())
	},
}

var guaranteeCheckCmd = &cobra.Command{
	Use:   "check [names...]",
	Short: "Evaluate guarantees against the current graph",
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := openEngine()
		if err != nil {
			return err
		}
		defer engine.Close()

		ctx, cancel := commandContext()
		defer cancel()

		violations, err := engine.CheckGuarantees(ctx, args)
		if err != nil {
			return err
		}
		if err := printJSON(violations); err != nil {
			return err
		}
		if hasBlockingViolation(violations) {
			return fmt.Errorf("%d violation(s) found", len(violations))
		}
		return nil
	},
}

// hasBlockingViolation reports whether any violation is at a priority
// that should fail the command (critical or important).
func hasBlockingViolation(violations []guarantee.Violation) bool {
	for _, v := range violations {
		if v.Priority == guarantee.PriorityCritical || v.Priority == guarantee.PriorityImportant {
			return true
		}
	}
	return false
}

var (
	createKind     string
	createPriority string
	createStatus   string
	createRule     string
	createDesc     string
)

var guaranteeCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Declare a rule guarantee",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := openEngine()
		if err != nil {
			return err
		}
		defer engine.Close()

		g := guarantee.Guarantee{
			Name:        args[0],
			Kind:        createKind,
			Priority:    createPriority,
			Status:      createStatus,
			Description: createDesc,
			Rule:        createRule,
		}
		if err := engine.CreateGuarantee(g); err != nil {
			return err
		}
		logger.Info("guarantee created", zap.String("name", g.Name))
		return nil
	},
}

var guaranteeDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Remove a guarantee",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := openEngine()
		if err != nil {
			return err
		}
		defer engine.Close()

		if err := engine.DeleteGuarantee(args[0]); err != nil {
			return err
		}
		logger.Info("guarantee deleted", zap.String("name", args[0]))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", ".", "project root to analyze")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 0, "abort long operations after this duration")

	traverseCmd.Flags().StringSliceVarP(&traverseEdgeTypes, "edges", "e", nil, "edge types to follow (required)")
	traverseCmd.Flags().IntVarP(&traverseDepth, "depth", "d", 5, "maximum traversal depth (0-20)")
	traverseCmd.Flags().BoolVar(&traverseIncoming, "incoming", false, "follow edges backwards")
	_ = traverseCmd.MarkFlagRequired("edges")

	edgesCmd.Flags().BoolVar(&edgesIncoming, "incoming", false, "list incoming instead of outgoing edges")
	edgesCmd.Flags().StringSliceVarP(&edgesTypes, "type", "t", nil, "filter by edge types")

	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", core.DefaultDebounce, "delay before re-analysis after a change")

	guaranteeCreateCmd.Flags().StringVar(&createKind, "kind", guarantee.KindRule, "guarantee kind (rule|schema)")
	guaranteeCreateCmd.Flags().StringVar(&createPriority, "priority", guarantee.PriorityObserved, "priority (critical|important|observed|tracked)")
	guaranteeCreateCmd.Flags().StringVar(&createStatus, "status", guarantee.StatusActive, "status (active|changing|deprecated)")
	guaranteeCreateCmd.Flags().StringVar(&createRule, "rule", "", "Datalog rule deriving violation(Id, Message)")
	guaranteeCreateCmd.Flags().StringVar(&createDesc, "description", "", "human description")

	guaranteeCmd.AddCommand(guaranteeListCmd, guaranteeCheckCmd, guaranteeCreateCmd, guaranteeDeleteCmd)
	rootCmd.AddCommand(analyzeCmd, traverseCmd, nodeCmd, edgesCmd, findCmd, statsCmd, watchCmd, guaranteeCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if msg := strings.TrimSpace(err.Error()); msg != "" {
			fmt.Fprintln(os.Stderr, "Error:", msg)
		}
		os.Exit(1)
	}
}
