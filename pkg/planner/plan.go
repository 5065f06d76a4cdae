package planner

// Plan captures the classifier's decision about which domains a query
// requires and whether tool-backed evidence is mandatory. Created once per
// request and immutable thereafter.
type Plan struct {
	Domains          []Domain `json:"domains"`
	MustUseTools     bool     `json:"must_use_tools"`
	AllowRetrieval   bool     `json:"allow_rag"`
	Confidence       float64  `json:"confidence"`
	ReasoningSummary string   `json:"reasoning_summary"`
}

// PlanResult is the parse-or-fallback boundary around classification.
// Fallback is true when the plan is the fixed fallback rather than a
// parsed classifier response; callers always receive a valid plan.
type PlanResult struct {
	Plan     Plan
	Fallback bool
}

// HasDomain reports whether the plan selects the given domain.
func (p Plan) HasDomain(d Domain) bool {
	for _, got := range p.Domains {
		if got == d {
			return true
		}
	}
	return false
}

// ToolBackedDomains returns the selected domains that require tool evidence.
func (p Plan) ToolBackedDomains() []Domain {
	var out []Domain
	for _, d := range p.Domains {
		if d.IsToolBacked() {
			out = append(out, d)
		}
	}
	return out
}

// FallbackPlan returns the fixed plan used when classification fails.
func FallbackPlan() Plan {
	return Plan{
		Domains:          nil,
		MustUseTools:     false,
		AllowRetrieval:   false,
		Confidence:       0.2,
		ReasoningSummary: "router_failed",
	}
}

// normalize enforces the plan invariants: unknown domains are dropped,
// confidence is clamped to [0,1], and any tool-backed domain forces
// MustUseTools regardless of what the classifier returned.
func normalize(p Plan) Plan {
	var domains []Domain
	for _, d := range p.Domains {
		if d.IsValid() {
			domains = append(domains, d)
		}
	}
	p.Domains = domains

	if p.Confidence < 0 {
		p.Confidence = 0
	}
	if p.Confidence > 1 {
		p.Confidence = 1
	}

	for _, d := range p.Domains {
		if d.IsToolBacked() {
			p.MustUseTools = true
			break
		}
	}
	return p
}
