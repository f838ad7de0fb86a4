package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/memorable-dev/memorable/internal/api"
	"github.com/memorable-dev/memorable/internal/config"
	"github.com/memorable-dev/memorable/internal/domain"
	"github.com/memorable-dev/memorable/internal/embedding"
	"github.com/memorable-dev/memorable/internal/foundation"
	"github.com/memorable-dev/memorable/internal/gazetteer"
	"github.com/memorable-dev/memorable/internal/kg"
	"github.com/memorable-dev/memorable/internal/llm"
	"github.com/memorable-dev/memorable/internal/ner"
	"github.com/memorable-dev/memorable/internal/observer"
	"github.com/memorable-dev/memorable/internal/scheduler"
	"github.com/memorable-dev/memorable/internal/search"
	"github.com/memorable-dev/memorable/internal/store"
	"github.com/memorable-dev/memorable/internal/summarize"
	"github.com/memorable-dev/memorable/internal/transcript"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:   "memorable",
		Short: "Personal memory for development sessions",
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.memorable/config.yaml)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(processCmd())
	rootCmd.AddCommand(searchCmd())
	rootCmd.AddCommand(sessionsCmd())
	rootCmd.AddCommand(kgCmd())
	rootCmd.AddCommand(recordCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(statusCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// app holds the assembled components. Model clients that fail to construct
// (missing API keys) are nil; pipelines degrade or are disabled.
type app struct {
	cfg        config.Config
	store      *store.Store
	gaz        *gazetteer.Gazetteer
	embedder   embedding.Embedder
	completer  llm.Completer
	observer   *observer.Pipeline
	graph      *kg.Pipeline
	summarizer *summarize.Pipeline
	engine     *search.Engine
}

func buildApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	st, err := store.New(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, store: st, gaz: gazetteer.New()}

	if names, err := st.EntityNames(1); err != nil {
		log.Printf("load gazetteer: %v", err)
	} else {
		a.gaz.Rebuild(names)
	}

	if emb, err := embedding.New(); err != nil {
		log.Printf("embeddings disabled: %v", err)
	} else {
		a.embedder = emb
	}
	if completer, err := llm.New(); err != nil {
		log.Printf("completions disabled: %v", err)
	} else {
		a.completer = completer
	}

	var fnd foundation.Extractor
	if cfg.API.FoundationAddr != "" {
		fnd = foundation.New(cfg.API.FoundationAddr)
	}
	var nr ner.Extractor
	if cfg.API.NERAddr != "" {
		nr = ner.New(cfg.API.NERAddr)
	}

	a.observer = observer.New(st, a.embedder, cfg.MaxRetries)
	a.engine = search.New(st, a.embedder, cfg.SemanticWeight, cfg.KeywordBonus, cfg.DistanceThreshold)
	if a.completer != nil {
		a.graph = kg.New(st, a.gaz, fnd, nr, a.completer)
		a.summarizer = summarize.New(st, a.completer, a.embedder, &cfg)
	}
	return a, nil
}

func (a *app) close() { a.store.Close() }

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the background pipelines and HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.close()

			sched := scheduler.New(a.cfg.Workers, time.Duration(a.cfg.TickSeconds)*time.Second)
			quiet := time.Duration(a.cfg.QuietMinutes) * time.Minute

			sched.OnTick("observer", func(ctx context.Context) error {
				_, err := a.observer.ProcessPending(ctx)
				return err
			})
			if a.graph != nil {
				sched.OnTick("kg", func(ctx context.Context) error {
					_, err := a.graph.ProcessRecent(ctx)
					return err
				})
			}
			if a.summarizer != nil {
				sched.OnTick("summarize", func(ctx context.Context) error {
					if _, err := transcript.Scan(a.store, a.cfg.TranscriptDirs, quiet); err != nil {
						return err
					}
					_, err := a.summarizer.ProcessPending(ctx)
					return err
				})
				sched.OnTick("rolling", func(ctx context.Context) error {
					stale, err := a.summarizer.RollingStale()
					if err != nil || !stale {
						return err
					}
					_, err = a.summarizer.RefreshRolling(ctx)
					return err
				})
			}

			sched.Start(context.Background())
			defer sched.Stop()

			server := api.New(a.store, a.engine, a.graph, a.cfg.API.Addr)
			return server.Run()
		},
	}
}

func processCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "process",
		Short: "Run every pipeline once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.close()
			ctx := cmd.Context()

			n, err := a.observer.ProcessPending(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("observations: %d\n", n)

			if a.summarizer != nil {
				quiet := time.Duration(a.cfg.QuietMinutes) * time.Minute
				queued, err := transcript.Scan(a.store, a.cfg.TranscriptDirs, quiet)
				if err != nil {
					return err
				}
				fmt.Printf("transcripts queued: %d\n", queued)

				done, err := a.summarizer.ProcessPending(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("sessions summarized: %d\n", done)
			}

			if a.graph != nil {
				approved, err := a.graph.ProcessRecent(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("entities extracted: %d\n", approved)
			}
			return nil
		},
	}
}

func searchCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Hybrid search across sessions, observations, and prompts",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.close()

			results, err := a.engine.Search(cmd.Context(), strings.Join(args, " "), limit)
			if err != nil {
				return err
			}
			if len(results) == 0 {
				fmt.Println("No matches.")
				return nil
			}
			for _, r := range results {
				fmt.Printf("%.2f  [%s] %s\n", r.Score, r.Kind, resultLine(r))
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "number of results")
	return cmd
}

func resultLine(r search.Result) string {
	switch {
	case r.Session != nil:
		return r.Session.Date + "  " + r.Session.Title
	case r.Observation != nil:
		return r.Observation.Title
	case r.Prompt != nil:
		return truncate(r.Prompt.Text, 70)
	}
	return r.ID
}

func sessionsCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List recent sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.close()

			sessions, err := a.store.RecentSessions(limit)
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				fmt.Println("No sessions yet.")
				return nil
			}
			for _, s := range sessions {
				fmt.Printf("%s  %s  %s\n", s.ID[:8], s.Date, truncate(s.Title, 60))
				if s.Header != "" {
					fmt.Printf("          %s\n", s.Header)
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of sessions to show")
	return cmd
}

func kgCmd() *cobra.Command {
	var entityType string
	var minPriority, limit int

	cmd := &cobra.Command{
		Use:   "kg [name]",
		Short: "Browse the knowledge graph",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.close()

			q := store.EntityQuery{
				Type:        domain.EntityType(entityType),
				MinPriority: minPriority,
				Limit:       limit,
			}
			if len(args) > 0 {
				q.Name = args[0]
			}
			entities, err := a.store.QueryEntities(q)
			if err != nil {
				return err
			}
			if len(entities) == 0 {
				fmt.Println("No entities found.")
				return nil
			}
			for _, e := range entities {
				marker := " "
				if e.Sacred() {
					marker = "*"
				}
				fmt.Printf("%s p%-2d %-13s %s\n", marker, e.Priority, e.Type, e.Name)
				if e.Description != "" {
					fmt.Printf("      %s\n", truncate(e.Description, 70))
				}
			}

			// With an exact name, also show the entity's edges
			if len(args) == 1 {
				rels, err := a.store.Relationships(args[0], 20)
				if err != nil {
					return err
				}
				if len(rels) > 0 {
					fmt.Println("\nRelationships:")
					for _, rel := range rels {
						fmt.Printf("  %s --%s--> %s\n", rel.SourceName, rel.Type, rel.TargetName)
					}
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&entityType, "type", "", "filter by entity type")
	cmd.Flags().IntVar(&minPriority, "min-priority", 0, "minimum priority")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "number of entities to show")
	return cmd
}

func recordCmd() *cobra.Command {
	var entityType, description string
	var priority int

	cmd := &cobra.Command{
		Use:   "record [name]",
		Short: "Record a fact directly into the knowledge graph",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.close()

			if priority < 1 || priority > domain.SacredPriority {
				return fmt.Errorf("priority must be between 1 and %d", domain.SacredPriority)
			}

			// Manual facts skip the extraction pipeline entirely
			graph := kg.New(a.store, a.gaz, nil, nil, a.completer)
			err = graph.Record(args[0], domain.EntityType(entityType), description, priority)
			if err != nil {
				return err
			}
			fmt.Printf("Recorded %s (%s) at priority %d\n", args[0], entityType, priority)
			return nil
		},
	}

	cmd.Flags().StringVar(&entityType, "type", "concept", "entity type")
	cmd.Flags().StringVar(&description, "desc", "", "entity description")
	cmd.Flags().IntVarP(&priority, "priority", "p", domain.SacredPriority, "priority (10 = sacred, never auto-modified)")
	return cmd
}

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Print startup context: rolling summary, recent sessions, key entities",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.close()

			if a.summarizer != nil {
				if stale, err := a.summarizer.RollingStale(); err == nil && stale {
					if _, err := a.summarizer.RefreshRolling(cmd.Context()); err != nil {
						log.Printf("refresh rolling summary: %v", err)
					}
				}
			}

			rolling, err := a.store.LatestRollingSummary()
			if err != nil {
				return err
			}
			if rolling != nil {
				fmt.Printf("## Recent activity (%d sessions over %d days)\n\n%s\n\n",
					rolling.SessionCount, rolling.DaysCovered, rolling.Content)
			}

			sessions, err := a.store.RecentSessions(5)
			if err != nil {
				return err
			}
			if len(sessions) > 0 {
				fmt.Println("## Recent sessions")
				for _, s := range sessions {
					fmt.Printf("- %s  %s\n", s.Date, s.Title)
				}
				fmt.Println()
			}

			entities, err := a.store.QueryEntities(store.EntityQuery{MinPriority: 7, Limit: 20})
			if err != nil {
				return err
			}
			if len(entities) > 0 {
				fmt.Println("## Key facts")
				for _, e := range entities {
					line := e.Name
					if e.Description != "" {
						line += ": " + e.Description
					}
					fmt.Printf("- %s\n", truncate(line, 100))
				}
			}
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show record counts and queue depth",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.close()

			stats, err := a.store.GetStats()
			if err != nil {
				return err
			}
			fmt.Printf("Sessions:            %d (%d words)\n", stats.Sessions, stats.TotalWords)
			fmt.Printf("Observations:        %d\n", stats.Observations)
			fmt.Printf("Prompts:             %d\n", stats.Prompts)
			fmt.Printf("Entities:            %d (%d sacred)\n", stats.Entities, stats.SacredFacts)
			fmt.Printf("Relationships:       %d\n", stats.Relationships)
			fmt.Printf("Pending tool calls:  %d\n", stats.PendingTools)
			fmt.Printf("Pending prompts:     %d\n", stats.PendingPrompts)
			fmt.Printf("Pending transcripts: %d\n", stats.PendingScript)
			return nil
		},
	}
}

func truncate(s string, max int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
