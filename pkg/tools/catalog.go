package tools

import (
	"strings"

	"github.com/zen-systems/taskflow/pkg/planner"
	"github.com/zen-systems/taskflow/pkg/policy"
)

// BuildCatalog groups a live tool listing into per-domain tool-name sets by
// the domain prefix convention (jira_*, github_*, ...). Tools that match no
// domain are dropped; the validator can only reason about tools it can
// attribute.
func BuildCatalog(tools []Tool) *policy.Catalog {
	byDomain := make(map[planner.Domain][]string)
	for _, tool := range tools {
		if domain, ok := domainForName(tool.Name); ok {
			byDomain[domain] = append(byDomain[domain], tool.Name)
		}
	}
	return policy.NewCatalog(byDomain)
}

func domainForName(name string) (planner.Domain, bool) {
	for _, domain := range planner.AllDomains() {
		if !domain.IsToolBacked() {
			continue
		}
		if strings.HasPrefix(name, string(domain)+"_") {
			return domain, true
		}
	}
	return "", false
}
