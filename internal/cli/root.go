// Package cli implements the memgraph CLI commands.
package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/memgraph/internal/cache"
	"github.com/rcliao/memgraph/internal/compaction"
	"github.com/rcliao/memgraph/internal/config"
	"github.com/rcliao/memgraph/internal/graph"
	"github.com/rcliao/memgraph/internal/model"
	"github.com/rcliao/memgraph/internal/observe"
	"github.com/rcliao/memgraph/internal/reasoner"
	"github.com/rcliao/memgraph/internal/records"
	"github.com/rcliao/memgraph/internal/retrieval"
	"github.com/rcliao/memgraph/internal/store"
	"github.com/rcliao/memgraph/internal/taxonomy"
	"github.com/rcliao/memgraph/internal/tokens"
)

var (
	configPath string
	dbPath     string
	formatFlag string
	verbose    bool
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "memgraph",
	Short: "Versioned, linked long-term memory for conversational agents",
	Long: "memgraph stores an agent's long-term memories as versioned, emotionally tagged records " +
		"linked into a graph, answers ranked searches over them and compacts them under a token budget.",
	SilenceUsage: true,
}

func init() {
	RootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: $MEMGRAPH_CONFIG or ~/.memgraph/config.yaml)")
	RootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "Database path (overrides config and $MEMGRAPH_DB)")
	RootCmd.PersistentFlags().StringVarP(&formatFlag, "format", "f", "json", "Output format: json or text")
	RootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log info-level events to stderr")
}

// app holds every component, wired from the loaded config.
type app struct {
	cfg        config.Config
	obs        *observe.Observer
	store      *store.SQLiteStore
	cache      cache.Cache
	records    *records.Service
	graph      *graph.Graph
	retrieval  *retrieval.Engine
	compaction *compaction.Engine
	closers    []func()
}

func openApp() (*app, error) {
	path := configPath
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}
	if verbose {
		cfg.Log.Verbose = true
	}

	var obs *observe.Observer
	if cfg.Log.Format == "json" {
		obs = observe.NewJSON(os.Stderr, cfg.Log.Verbose)
	} else {
		obs = observe.New(os.Stderr, cfg.Log.Verbose)
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a := &app{cfg: cfg, obs: obs, store: st, cache: cache.Nop{}}
	a.closers = append(a.closers, func() { st.Close() })

	if cfg.Cache.Enabled {
		c, err := cache.New(cache.Options{TTL: cfg.Cache.TTL, MaxCost: cfg.Cache.MaxCost}, obs)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("create cache: %w", err)
		}
		a.cache = c
		a.closers = append(a.closers, c.Close)
	}

	r, err := reasoner.FromConfig(cfg.Reasoner, obs)
	if err != nil {
		a.close()
		return nil, err
	}

	tax, err := taxonomy.Default()
	if err != nil {
		a.close()
		return nil, err
	}

	counter := tokens.NewTiktoken(cfg.Compaction.Encoding)
	a.records = records.New(st, tax, r, a.cache, obs)
	a.graph = graph.New(a.records, st, r, obs)
	a.retrieval = retrieval.New(st, a.cache, r, retrieval.Weights{
		Relevance:  cfg.Retrieval.RelevanceWeight,
		Importance: cfg.Retrieval.ImportanceWeight,
		Recency:    cfg.Retrieval.RecencyWeight,
		HalfLife:   cfg.Retrieval.HalfLife,
	}, obs)
	a.compaction = compaction.New(a.records, st, a.cache, r, counter, cfg.Compaction.Budget, obs)
	return a, nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func mustOpen() *app {
	a, err := openApp()
	if err != nil {
		exitErr("open", err)
	}
	return a
}

// exitErr prints err and exits with a code per error class.
func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	switch {
	case errors.Is(err, model.ErrValidation):
		os.Exit(2)
	case errors.Is(err, model.ErrNotFound):
		os.Exit(3)
	case errors.Is(err, model.ErrConflict):
		os.Exit(4)
	case errors.Is(err, model.ErrExternalService):
		os.Exit(5)
	}
	os.Exit(1)
}

func printJSON(v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}

func textOutput() bool {
	return formatFlag == "text"
}

// readContent takes content from args, falling back to piped stdin.
func readContent(args []string) string {
	if len(args) > 0 {
		return strings.TrimSpace(strings.Join(args, " "))
	}
	stat, _ := os.Stdin.Stat()
	if stat != nil && (stat.Mode()&os.ModeCharDevice) == 0 {
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			exitErr("read stdin", err)
		}
		return strings.TrimSpace(string(b))
	}
	return ""
}

func splitList(s string) []string {
	out := []string{}
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseCategories(s string) ([]model.CategoryRef, error) {
	var refs []model.CategoryRef
	for _, p := range splitList(s) {
		ref, ok := model.ParseCategoryRef(p)
		if !ok {
			return nil, model.Validationf("malformed category %q (want domain/name)", p)
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

func parseVAD(s string) (*model.VAD, error) {
	parts := splitList(s)
	if len(parts) != 3 {
		return nil, model.Validationf("vad wants three comma-separated numbers, got %q", s)
	}
	var vals [3]float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, model.Validationf("vad value %q: %v", p, err)
		}
		if !model.Finite(v) {
			return nil, model.Validationf("vad value %q is not finite", p)
		}
		vals[i] = v
	}
	return &model.VAD{Valence: vals[0], Arousal: vals[1], Dominance: vals[2]}, nil
}

func parseRange(s string) (*store.Range, error) {
	if s == "" {
		return nil, nil
	}
	lo, hi, ok := strings.Cut(s, ":")
	if !ok {
		return nil, model.Validationf("range wants min:max, got %q", s)
	}
	r := &store.Range{}
	var err error
	if r.Min, err = strconv.ParseFloat(lo, 64); err != nil {
		return nil, model.Validationf("range min %q: %v", lo, err)
	}
	if r.Max, err = strconv.ParseFloat(hi, 64); err != nil {
		return nil, model.Validationf("range max %q: %v", hi, err)
	}
	if !model.Finite(r.Min) || !model.Finite(r.Max) {
		return nil, model.Validationf("range %q must be finite", s)
	}
	return r, nil
}
