// Package policy checks executed tool calls against the routing plan that
// authorized them. Validation is advisory: a violation selects a safer
// execution path, it never fails the request.
package policy

import (
	"fmt"
	"sort"
	"strings"

	"github.com/zen-systems/taskflow/pkg/planner"
)

// Violation rule identifiers.
const (
	RuleRequiredToolCallMissing  = "required_tool_call_missing"
	RuleMissingSelectedDomains   = "missing_selected_domains"
	RuleUnexpectedDomains        = "unexpected_domains"
	RuleRAGInvokedWhenDisallowed = "rag_invoked_when_disallowed"
)

// Result captures the outcome of validating one execution against its plan.
type Result struct {
	Violations        []string         `json:"violations,omitempty"`
	MissingDomains    []planner.Domain `json:"missing_domains,omitempty"`
	UnexpectedDomains []planner.Domain `json:"unexpected_domains,omitempty"`
	InvokedDomains    []planner.Domain `json:"invoked_domains,omitempty"`
}

// Clean reports whether no violations were found.
func (r Result) Clean() bool {
	return len(r.Violations) == 0
}

// Validator maps invoked tool names back to domains and compares them with
// the plan's selection.
type Validator struct {
	catalog *Catalog
}

// NewValidator creates a Validator over the given catalog.
func NewValidator(catalog *Catalog) *Validator {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	return &Validator{catalog: catalog}
}

// Validate compares the plan against the tools actually invoked. It is a
// pure function of its inputs: the same plan and tool list always produce
// the same violation set.
func (v *Validator) Validate(plan planner.Plan, invokedTools []string, retrievalUsed bool) Result {
	var result Result

	invoked := make(map[planner.Domain]bool)
	meaningful := 0
	for _, tool := range invokedTools {
		tool = strings.TrimSpace(tool)
		if tool == "" || strings.HasPrefix(tool, TransferPrefix) {
			continue
		}
		meaningful++
		if domain, ok := v.catalog.DomainFor(tool); ok {
			invoked[domain] = true
		}
	}
	result.InvokedDomains = sortedDomains(invoked)

	if plan.MustUseTools && meaningful == 0 {
		result.Violations = append(result.Violations, RuleRequiredToolCallMissing)
	}

	// A selected domain with no registered tools has nothing to invoke, so
	// it can never be "missing".
	var missing []planner.Domain
	for _, domain := range plan.ToolBackedDomains() {
		if v.catalog.HasTools(domain) && !invoked[domain] {
			missing = append(missing, domain)
		}
	}
	if len(missing) > 0 {
		result.MissingDomains = missing
		result.Violations = append(result.Violations,
			fmt.Sprintf("%s:%s", RuleMissingSelectedDomains, joinDomains(missing)))
	}

	var unexpected []planner.Domain
	for _, domain := range result.InvokedDomains {
		if !plan.HasDomain(domain) {
			unexpected = append(unexpected, domain)
		}
	}
	if len(unexpected) > 0 {
		result.UnexpectedDomains = unexpected
		result.Violations = append(result.Violations,
			fmt.Sprintf("%s:%s", RuleUnexpectedDomains, joinDomains(unexpected)))
	}

	if retrievalUsed && !plan.AllowRetrieval {
		result.Violations = append(result.Violations, RuleRAGInvokedWhenDisallowed)
	}

	return result
}

func sortedDomains(set map[planner.Domain]bool) []planner.Domain {
	if len(set) == 0 {
		return nil
	}
	out := make([]planner.Domain, 0, len(set))
	for d := range set {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func joinDomains(domains []planner.Domain) string {
	parts := make([]string, len(domains))
	for i, d := range domains {
		parts[i] = string(d)
	}
	return strings.Join(parts, ",")
}
