package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DanielHyeon/pms-ic-sub000/internal/config"
	"github.com/DanielHyeon/pms-ic-sub000/internal/embedding"
	"github.com/DanielHyeon/pms-ic-sub000/internal/executor"
	"github.com/DanielHyeon/pms-ic-sub000/internal/fewshot"
	"github.com/DanielHyeon/pms-ic-sub000/internal/graph"
	"github.com/DanielHyeon/pms-ic-sub000/internal/intent"
	"github.com/DanielHyeon/pms-ic-sub000/internal/llm"
	"github.com/DanielHyeon/pms-ic-sub000/internal/logging"
	"github.com/DanielHyeon/pms-ic-sub000/internal/observability"
	"github.com/DanielHyeon/pms-ic-sub000/internal/retrieval"
	"github.com/DanielHyeon/pms-ic-sub000/internal/schema"
	"github.com/DanielHyeon/pms-ic-sub000/internal/semantic"
	"github.com/DanielHyeon/pms-ic-sub000/internal/server"
	"github.com/DanielHyeon/pms-ic-sub000/internal/skills"
	"github.com/DanielHyeon/pms-ic-sub000/internal/textquery"
	"github.com/DanielHyeon/pms-ic-sub000/internal/tools"
	"github.com/DanielHyeon/pms-ic-sub000/internal/validate"
	"github.com/DanielHyeon/pms-ic-sub000/internal/workflow"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the assistant HTTP server",
	Long: `Wires the full service graph and serves it until interrupted:

  relational store (postgres) -> text-to-query pipeline
  graph store (sqlite + vectors) -> retrieval service and skills
  workflow engine + skill registry -> chat, reports, briefings
  tool gateway, metrics, cost tracking -> /api/monitoring`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadedConfig
	log := logging.L(logging.CategoryBoot)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Relational store. A failed ping is not fatal: the validator and
	// executor degrade per-kind, and the pool reconnects on demand.
	db, err := sql.Open("pgx", cfg.Relational.DSN())
	if err != nil {
		return fmt.Errorf("relational store: %w", err)
	}
	defer db.Close()
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	if err := db.PingContext(pingCtx); err != nil {
		log.Warn("relational store unreachable, query execution degraded",
			zap.String("host", cfg.Relational.Host), zap.Error(err))
	}
	cancel()

	store, err := graph.NewSQLiteStore(cfg.Graph.Path, cfg.Embedding.Dimensions)
	if err != nil {
		return fmt.Errorf("graph store: %w", err)
	}
	defer store.Close()

	engine, err := embedding.NewEngine(embedding.Config{
		Provider:       cfg.Embedding.Provider,
		OllamaEndpoint: cfg.Embedding.OllamaEndpoint,
		OllamaModel:    cfg.Embedding.OllamaModel,
		GenAIAPIKey:    cfg.Embedding.GenAIAPIKey,
		GenAIModel:     cfg.Embedding.GenAIModel,
		Dimensions:     cfg.Embedding.Dimensions,
	})
	if err != nil {
		return fmt.Errorf("embedding engine: %w", err)
	}

	costs := observability.NewCostTracker(observability.CostOptions{
		DailyBudget:   cfg.Budget.DailyUSD,
		MonthlyBudget: cfg.Budget.MonthlyUSD,
	})
	collector := observability.NewCollector(1024)
	alerts := observability.NewAlertService()
	alerts.OnAlert(func(a observability.Alert) {
		logging.L(logging.CategoryObservability).Warn("alert fired",
			zap.String("rule", a.Rule),
			zap.Float64("value", a.Value),
			zap.Float64("threshold", a.Threshold),
			zap.String("message", a.Message))
	})
	tracer := observability.NewTracer()
	observer := observability.NewWorkflowObserver(tracer, collector, alerts, costs)

	fast, quality, err := buildLLMClients(ctx, cfg, costs)
	if err != nil {
		return err
	}
	router := llm.NewRouter(fast, quality)

	sem, err := buildSemanticLayer(cfg)
	if err != nil {
		return fmt.Errorf("semantic layer: %w", err)
	}

	fewshots := fewshot.NewStore(engine)
	catalog := schema.NewCatalog(db, store, schema.DefaultOptions())
	validator := validate.NewValidator(catalog, db, store, validate.Options{
		RowCap:   cfg.Query.RowCap,
		MaxJoins: cfg.Query.MaxJoins,
	})
	generator := textquery.NewGenerator(router.Pick(llm.TrackQuality), catalog, sem, fewshots, textquery.GeneratorOptions{
		MaxRetries:      cfg.Query.GenerationRetries,
		RowCap:          cfg.Query.RowCap,
		FewShotMinScore: cfg.Query.FewShotMinScore,
	})
	corrector := textquery.NewCorrector(router.Pick(llm.TrackQuality), validator)
	exec := executor.NewExecutor(db, store, fewshots, executor.Options{
		RowCap:           cfg.Query.RowCap,
		StatementTimeout: config.Duration(cfg.Query.StatementTimeout, 10*time.Second),
	})
	classifier := intent.NewClassifier(router.Pick(llm.TrackFast), sem)
	pipeline := workflow.NewPipeline(classifier, generator, validator, corrector, exec, workflow.PipelineOptions{
		MaxCorrections: cfg.Query.MaxCorrections,
	})

	svc := retrieval.NewService(store, engine, retrieval.Options{
		ScoreThreshold:   cfg.Retrieval.ScoreThreshold,
		StrategyOverride: cfg.Retrieval.StrategyOverride,
	})

	registry := skills.NewRegistry()
	skills.RegisterBuiltins(registry, svc, store, router.Pick(llm.TrackQuality))

	toolReg := tools.NewRegistry()
	if err := registerSkillTools(toolReg, registry); err != nil {
		return fmt.Errorf("tool registry: %w", err)
	}
	gateway := tools.NewGateway(toolReg, costs)

	wfEngine := workflow.NewEngine(observer)
	templates := workflow.NewTemplates(registry, router.Pick(llm.TrackQuality))

	srv := server.New(server.Deps{
		Pipeline:   pipeline,
		Engine:     wfEngine,
		Templates:  templates,
		Skills:     registry,
		Retrieval:  svc,
		Store:      store,
		Gateway:    gateway,
		FastLLM:    fast,
		QualityLLM: quality,
		Collector:  collector,
		Costs:      costs,
	}, server.Options{
		RequestTimeout: config.Duration(cfg.Server.RequestTimeout, server.DefaultRequestTimeout),
	})

	httpSrv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("server listening",
			zap.String("addr", cfg.Server.Addr),
			zap.Int("skills", len(registry.Names())),
			zap.Int("tools", toolReg.Count()))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(),
			config.Duration(cfg.Server.ShutdownTimeout, 10*time.Second))
		defer cancel()
		log.Info("shutting down")
		return httpSrv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// buildLLMClients constructs the fast and quality tier clients. Missing
// credentials leave both nil and the rule-based paths carry the load.
func buildLLMClients(ctx context.Context, cfg *config.Config, costs *observability.CostTracker) (fast, quality llm.Client, err error) {
	log := logging.L(logging.CategoryBoot)

	switch cfg.LLM.Provider {
	case "genai", "":
		if cfg.LLM.APIKey == "" {
			log.Warn("no LLM API key configured, running rule-based only")
			return nil, nil, nil
		}
		fastModel := cfg.LLM.FastModelPath
		if fastModel == "" {
			fastModel = "gemini-2.0-flash"
		}
		qualityModel := cfg.LLM.ModelPath
		if qualityModel == "" {
			qualityModel = "gemini-2.5-pro"
		}
		fast, err = llm.NewGenAIClient(ctx, llm.GenAIOptions{
			APIKey:      cfg.LLM.APIKey,
			Model:       fastModel,
			MaxTokens:   cfg.LLM.MaxTokens,
			Temperature: cfg.LLM.Temperature,
			TopP:        cfg.LLM.TopP,
			Sink:        costs,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("fast LLM client: %w", err)
		}
		quality, err = llm.NewGenAIClient(ctx, llm.GenAIOptions{
			APIKey:      cfg.LLM.APIKey,
			Model:       qualityModel,
			MaxTokens:   cfg.LLM.MaxTokens,
			Temperature: cfg.LLM.Temperature,
			TopP:        cfg.LLM.TopP,
			Sink:        costs,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("quality LLM client: %w", err)
		}
		return fast, quality, nil
	case "stub":
		// Deterministic canned client for local development.
		return llm.NewStubClient(), llm.NewStubClient(), nil
	default:
		return nil, nil, fmt.Errorf("unsupported llm provider: %s", cfg.LLM.Provider)
	}
}

func buildSemanticLayer(cfg *config.Config) (*semantic.Layer, error) {
	if cfg.Semantic.MDLPath == "" {
		return semantic.NewLayer(semantic.DefaultMDL()), nil
	}
	return semantic.NewLayerFromFile(cfg.Semantic.MDLPath, cfg.Semantic.HotReload)
}

// registerSkillTools exposes every registered skill through the tool gateway
// so external callers get the same auth, rate-limit and audit treatment as
// workflow-internal skill calls.
func registerSkillTools(toolReg *tools.Registry, reg *skills.Registry) error {
	for _, name := range reg.Names() {
		s := reg.Get(name)
		if s == nil {
			continue
		}
		skillName := s.Name
		tool := &tools.Tool{
			Name:        skillName,
			Description: s.Description,
			Category:    toolCategoryFor(s.Category),
			Schema:      s.InputSchema,
			Public:      true,
			Handler: func(ctx context.Context, args map[string]any) (any, error) {
				out, err := reg.Execute(ctx, skillName, args)
				if err != nil {
					return nil, err
				}
				if out.Failed() {
					return nil, errors.New(out.Error)
				}
				return out, nil
			},
		}
		if err := toolReg.Register(tool, nil); err != nil {
			return err
		}
	}
	return nil
}

func toolCategoryFor(c skills.Category) tools.ToolCategory {
	switch c {
	case skills.CategoryRetrieve:
		return tools.CategoryRetrieve
	case skills.CategoryAnalyze:
		return tools.CategoryAnalyze
	case skills.CategoryGenerate:
		return tools.CategoryGenerate
	case skills.CategoryValidate:
		return tools.CategoryValidate
	default:
		return tools.CategoryGeneral
	}
}
