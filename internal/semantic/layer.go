package semantic

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/DanielHyeon/pms-ic-sub000/internal/logging"
)

// Relevance scoring constants. A model is included when its score reaches
// MinRelevanceScore AND at least ScoreDropRatio of the top score, capped at
// MaxModels.
const (
	MinRelevanceScore = 2.0
	ScoreDropRatio    = 0.5
	MaxModels         = 5

	keywordWeight    = 2.0
	calculatedWeight = 3.0
	metricWeight     = 3.0
)

// Layer answers business-term questions about the model catalogue.
type Layer struct {
	mu  sync.RWMutex
	mdl *MDL

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewLayer wraps a parsed MDL document.
func NewLayer(mdl *MDL) *Layer {
	return &Layer{mdl: mdl}
}

// NewLayerFromFile loads the MDL file and optionally hot-reloads on change.
func NewLayerFromFile(path string, hotReload bool) (*Layer, error) {
	mdl, err := LoadMDL(path)
	if err != nil {
		return nil, err
	}
	l := &Layer{mdl: mdl}
	if hotReload {
		if err := l.watch(path); err != nil {
			logging.L(logging.CategorySemantic).Warn("MDL watch unavailable", zap.Error(err))
		}
	}
	return l, nil
}

func (l *Layer) watch(path string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(path); err != nil {
		w.Close()
		return err
	}
	l.watcher = w
	l.done = make(chan struct{})

	go func() {
		log := logging.L(logging.CategorySemantic)
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				mdl, err := LoadMDL(path)
				if err != nil {
					log.Warn("MDL reload failed, keeping previous definitions", zap.Error(err))
					continue
				}
				l.mu.Lock()
				l.mdl = mdl
				l.mu.Unlock()
				log.Info("MDL reloaded", zap.Int("models", len(mdl.Models)))
			case <-w.Errors:
			case <-l.done:
				return
			}
		}
	}()
	return nil
}

// Close stops the hot-reload watcher.
func (l *Layer) Close() error {
	if l.watcher != nil {
		close(l.done)
		return l.watcher.Close()
	}
	return nil
}

// scored pairs a model with its relevance score.
type scored struct {
	model Model
	score float64
}

// FindRelevantModels scores every model against the question and returns the
// dynamic-top-k selection, most relevant first. Relationship triggers expand
// the set before the cut.
func (l *Layer) FindRelevantModels(question string) []Model {
	l.mu.RLock()
	mdl := l.mdl
	l.mu.RUnlock()

	q := strings.ToLower(question)

	scores := make(map[string]float64, len(mdl.Models))
	for _, m := range mdl.Models {
		var s float64
		for _, kw := range m.Keywords {
			if strings.Contains(q, strings.ToLower(kw)) {
				s += keywordWeight
			}
		}
		for _, col := range m.Columns {
			if col.IsCalculated() && strings.Contains(q, strings.ToLower(col.Name)) {
				s += calculatedWeight
			}
		}
		scores[m.Name] = s
	}
	for _, metric := range mdl.Metrics {
		if strings.Contains(q, strings.ToLower(metric.Name)) {
			scores[metric.BaseModel] += metricWeight
		}
	}

	// Relationship triggers fire before the top-k cut: both endpoints join
	// the candidate set at least at the inclusion floor.
	for _, rel := range mdl.Relationships {
		for _, trig := range rel.Triggers {
			if strings.Contains(q, strings.ToLower(trig)) {
				if scores[rel.Source] < MinRelevanceScore {
					scores[rel.Source] = MinRelevanceScore
				}
				if scores[rel.Target] < MinRelevanceScore {
					scores[rel.Target] = MinRelevanceScore
				}
			}
		}
	}

	var candidates []scored
	var top float64
	for _, m := range mdl.Models {
		s := scores[m.Name]
		if s > top {
			top = s
		}
		candidates = append(candidates, scored{model: m, score: s})
	}

	var out []Model
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	for _, c := range candidates {
		if c.score < MinRelevanceScore || c.score < top*ScoreDropRatio {
			continue
		}
		out = append(out, c.model)
		if len(out) == MaxModels {
			break
		}
	}
	return out
}

// FindJoinPath returns the declared relationship between two models, in
// either direction.
func (l *Layer) FindJoinPath(modelA, modelB string) *Relationship {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for i := range l.mdl.Relationships {
		rel := &l.mdl.Relationships[i]
		if (rel.Source == modelA && rel.Target == modelB) ||
			(rel.Source == modelB && rel.Target == modelA) {
			return rel
		}
	}
	return nil
}

// GenerateSchemaContext renders the prompt context for the named models:
// display name, columns (flagging calculated expressions) and join hints for
// every included pair with a declared relationship.
func (l *Layer) GenerateSchemaContext(modelNames []string) string {
	l.mu.RLock()
	mdl := l.mdl
	l.mu.RUnlock()

	byName := make(map[string]Model, len(mdl.Models))
	for _, m := range mdl.Models {
		byName[m.Name] = m
	}

	var sb strings.Builder
	included := make([]string, 0, len(modelNames))
	for _, name := range modelNames {
		m, ok := byName[name]
		if !ok {
			continue
		}
		included = append(included, name)

		fmt.Fprintf(&sb, "## %s (%s)\n", m.DisplayName, m.Table)
		if m.Description != "" {
			sb.WriteString(m.Description + "\n")
		}
		for _, col := range m.Columns {
			if col.IsCalculated() {
				fmt.Fprintf(&sb, "- %s (%s, calculated: %s)\n", col.Name, col.Type, col.Expression)
			} else {
				fmt.Fprintf(&sb, "- %s (%s)\n", col.Name, col.Type)
			}
		}
		sb.WriteString("\n")
	}

	var hints []string
	for i := 0; i < len(included); i++ {
		for j := i + 1; j < len(included); j++ {
			if rel := l.FindJoinPath(included[i], included[j]); rel != nil {
				hints = append(hints, fmt.Sprintf("- %s <-> %s: JOIN ON %s (%s)",
					rel.Source, rel.Target, rel.JoinOn, rel.Cardinality))
			}
		}
	}
	if len(hints) > 0 {
		sb.WriteString("## Join hints\n")
		sb.WriteString(strings.Join(hints, "\n"))
		sb.WriteString("\n")
	}
	return sb.String()
}

// ModelSummary renders a one-line-per-model catalogue overview for intent
// classification prompts.
func (l *Layer) ModelSummary() string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var sb strings.Builder
	for _, m := range l.mdl.Models {
		fmt.Fprintf(&sb, "- %s: %s\n", m.Name, m.Description)
	}
	for _, metric := range l.mdl.Metrics {
		fmt.Fprintf(&sb, "- metric %s on %s: %s\n", metric.Name, metric.BaseModel, metric.Expression)
	}
	return sb.String()
}

// Models returns a snapshot of the declared models.
func (l *Layer) Models() []Model {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Model(nil), l.mdl.Models...)
}
