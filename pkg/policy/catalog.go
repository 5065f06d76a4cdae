package policy

import (
	"sort"
	"strings"

	"github.com/zen-systems/taskflow/pkg/planner"
)

// TransferPrefix marks tool names that are internal routing artifacts
// rather than domain evidence. Calls with this prefix are ignored by the
// validator.
const TransferPrefix = "transfer_to_"

// Catalog maps tool names to domains. Built once at startup from the
// available tool listing and read-only afterwards.
type Catalog struct {
	byDomain map[planner.Domain][]string
	byTool   map[string]planner.Domain
}

// NewCatalog builds a catalog from per-domain tool-name sets. Transfer
// tools and tools for unknown domains are dropped.
func NewCatalog(tools map[planner.Domain][]string) *Catalog {
	c := &Catalog{
		byDomain: make(map[planner.Domain][]string),
		byTool:   make(map[string]planner.Domain),
	}
	for domain, names := range tools {
		if !domain.IsValid() {
			continue
		}
		for _, name := range names {
			name = strings.TrimSpace(name)
			if name == "" || strings.HasPrefix(name, TransferPrefix) {
				continue
			}
			if _, seen := c.byTool[name]; seen {
				continue
			}
			c.byTool[name] = domain
			c.byDomain[domain] = append(c.byDomain[domain], name)
		}
	}
	for domain := range c.byDomain {
		sort.Strings(c.byDomain[domain])
	}
	return c
}

// DomainFor resolves a tool name to its domain.
func (c *Catalog) DomainFor(tool string) (planner.Domain, bool) {
	d, ok := c.byTool[tool]
	return d, ok
}

// Tools returns the registered tool names for a domain.
func (c *Catalog) Tools(domain planner.Domain) []string {
	return c.byDomain[domain]
}

// HasTools reports whether any tool is registered for the domain.
func (c *Catalog) HasTools(domain planner.Domain) bool {
	return len(c.byDomain[domain]) > 0
}

// DefaultCatalog returns the static tool sets used when no live tool
// listing is available.
func DefaultCatalog() *Catalog {
	return NewCatalog(map[planner.Domain][]string{
		planner.DomainJira: {
			"jira_search_issues",
			"jira_get_issue",
			"jira_list_sprints",
		},
		planner.DomainGitHub: {
			"github_search_code",
			"github_get_pull_request",
			"github_list_commits",
		},
		planner.DomainNotion: {
			"notion_search_pages",
			"notion_get_page",
		},
		planner.DomainCalendar: {
			"calendar_list_events",
			"calendar_find_availability",
		},
	})
}
