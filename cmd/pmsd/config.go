package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long: `Prints the merged configuration after defaults, the config file and
PMS_* environment overrides are applied. Secrets are redacted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadedConfig

		out := map[string]any{
			"name":    cfg.Name,
			"version": cfg.Version,
			"server": map[string]any{
				"addr":             cfg.Server.Addr,
				"request_timeout":  cfg.Server.RequestTimeout,
				"shutdown_timeout": cfg.Server.ShutdownTimeout,
			},
			"relational": map[string]any{
				"host":     cfg.Relational.Host,
				"port":     cfg.Relational.Port,
				"database": cfg.Relational.Database,
				"user":     cfg.Relational.User,
				"password": redact(cfg.Relational.Password),
				"sslmode":  cfg.Relational.SSLMode,
			},
			"graph": map[string]any{
				"path": cfg.Graph.Path,
			},
			"embedding": map[string]any{
				"provider":   cfg.Embedding.Provider,
				"dimensions": cfg.Embedding.Dimensions,
			},
			"llm": map[string]any{
				"provider":        cfg.LLM.Provider,
				"api_key":         redact(cfg.LLM.APIKey),
				"model_path":      cfg.LLM.ModelPath,
				"fast_model_path": cfg.LLM.FastModelPath,
				"max_tokens":      cfg.LLM.MaxTokens,
				"temperature":     cfg.LLM.Temperature,
			},
			"retrieval": map[string]any{
				"top_k":             cfg.Retrieval.TopK,
				"score_threshold":   cfg.Retrieval.ScoreThreshold,
				"strategy_override": cfg.Retrieval.StrategyOverride,
			},
			"query": map[string]any{
				"row_cap":           cfg.Query.RowCap,
				"max_joins":         cfg.Query.MaxJoins,
				"max_corrections":   cfg.Query.MaxCorrections,
				"statement_timeout": cfg.Query.StatementTimeout,
			},
			"budget": map[string]any{
				"daily_usd":   cfg.Budget.DailyUSD,
				"monthly_usd": cfg.Budget.MonthlyUSD,
			},
			"semantic": map[string]any{
				"mdl_path":   cfg.Semantic.MDLPath,
				"hot_reload": cfg.Semantic.HotReload,
			},
		}

		b, err := yaml.Marshal(out)
		if err != nil {
			return err
		}
		fmt.Print(string(b))
		return nil
	},
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "(redacted)"
}
