// Package logging provides categorized structured logging for the PMS
// assistant core. Each subsystem gets a named zap logger; categories can be
// silenced individually through config without touching call sites.
package logging

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category names a logging subsystem.
type Category string

const (
	CategoryBoot          Category = "boot"
	CategorySchema        Category = "schema"
	CategorySemantic      Category = "semantic"
	CategoryFewShot       Category = "fewshot"
	CategoryEmbedding     Category = "embedding"
	CategoryRetrieval     Category = "retrieval"
	CategoryIntent        Category = "intent"
	CategoryGenerator     Category = "generator"
	CategoryValidator     Category = "validator"
	CategoryCorrector     Category = "corrector"
	CategoryExecutor      Category = "executor"
	CategoryGateway       Category = "gateway"
	CategorySkills        Category = "skills"
	CategoryWorkflow      Category = "workflow"
	CategoryObservability Category = "observability"
	CategoryServer        Category = "server"
	CategoryLLM           Category = "llm"
)

// Config controls global logging behaviour.
type Config struct {
	// Level is one of debug, info, warn, error.
	Level string `koanf:"level"`

	// JSON switches to JSON-lines output (production). Console encoding
	// otherwise.
	JSON bool `koanf:"json"`

	// Disabled categories are mapped to zap.NewNop().
	DisabledCategories []string `koanf:"disabled_categories"`
}

var (
	mu       sync.RWMutex
	root     *zap.Logger
	loggers  map[Category]*zap.Logger
	disabled map[Category]bool
)

func init() {
	root = zap.NewNop()
	loggers = make(map[Category]*zap.Logger)
	disabled = make(map[Category]bool)
}

// Init builds the root logger from config. Safe to call more than once; the
// last call wins and cached category loggers are rebuilt lazily.
func Init(cfg Config) error {
	level := zapcore.InfoLevel
	if err := level.Set(cfg.Level); err != nil && cfg.Level != "" {
		return err
	}

	zc := zap.NewProductionConfig()
	if !cfg.JSON {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.DisableStacktrace = true

	logger, err := zc.Build()
	if err != nil {
		return err
	}

	mu.Lock()
	defer mu.Unlock()
	root = logger
	loggers = make(map[Category]*zap.Logger)
	disabled = make(map[Category]bool)
	for _, c := range cfg.DisabledCategories {
		disabled[Category(c)] = true
	}
	return nil
}

// L returns the logger for a category. Never nil.
func L(category Category) *zap.Logger {
	mu.RLock()
	if l, ok := loggers[category]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}
	var l *zap.Logger
	if disabled[category] {
		l = zap.NewNop()
	} else {
		l = root.Named(string(category))
	}
	loggers[category] = l
	return l
}

// S returns the sugared logger for a category.
func S(category Category) *zap.SugaredLogger {
	return L(category).Sugar()
}

// Sync flushes buffered log entries. Call on shutdown.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	_ = root.Sync()
}

// ResetForTests restores the no-op root logger. Tests that assert on log
// output install their own observer core via SetRootForTests.
func ResetForTests() {
	mu.Lock()
	root = zap.NewNop()
	loggers = make(map[Category]*zap.Logger)
	disabled = make(map[Category]bool)
	mu.Unlock()
	ResetAuditForTests()
}

// SetRootForTests replaces the root logger, invalidating cached category
// loggers.
func SetRootForTests(l *zap.Logger) {
	mu.Lock()
	root = l
	loggers = make(map[Category]*zap.Logger)
	mu.Unlock()
	ResetAuditForTests()
}
