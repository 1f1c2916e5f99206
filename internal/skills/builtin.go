package skills

import (
	"github.com/DanielHyeon/pms-ic-sub000/internal/graph"
	"github.com/DanielHyeon/pms-ic-sub000/internal/llm"
	"github.com/DanielHyeon/pms-ic-sub000/internal/retrieval"
)

// RegisterBuiltins wires the shipped skill set. Any dependency may be nil;
// skills needing it then return error outputs at call time, which keeps
// partial deployments (no LLM, no graph store) bootable.
func RegisterBuiltins(reg *Registry, svc *retrieval.Service, store graph.Store, client llm.Client) error {
	builtins := []*Skill{
		RetrieveDocs(svc),
		RetrieveGraph(svc),
		RetrieveMetrics(store),
		AnalyzeRisk(),
		AnalyzeDependency(),
		AnalyzeSentiment(),
		GenerateSummary(client),
		GenerateReport(client),
		ValidateEvidence(),
		ValidatePolicy(),
		CriticalPath(),
	}
	for _, s := range builtins {
		if err := reg.Register(s); err != nil {
			return err
		}
	}
	return nil
}
