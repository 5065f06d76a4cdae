package planner

// Domain identifies a knowledge source a query may require.
type Domain string

const (
	// DomainJira covers issue tracker queries.
	DomainJira Domain = "jira"
	// DomainGitHub covers code hosting queries.
	DomainGitHub Domain = "github"
	// DomainNotion covers wiki and documentation queries.
	DomainNotion Domain = "notion"
	// DomainCalendar covers scheduling queries.
	DomainCalendar Domain = "calendar"
	// DomainRAG covers document retrieval queries.
	DomainRAG Domain = "rag"
)

// AllDomains lists every known domain in a stable order.
func AllDomains() []Domain {
	return []Domain{DomainJira, DomainGitHub, DomainNotion, DomainCalendar, DomainRAG}
}

// IsValid reports whether d belongs to the fixed domain enumeration.
func (d Domain) IsValid() bool {
	switch d {
	case DomainJira, DomainGitHub, DomainNotion, DomainCalendar, DomainRAG:
		return true
	}
	return false
}

// IsToolBacked reports whether answers about d require tool evidence.
// Retrieval is the only domain answered without a tool call.
func (d Domain) IsToolBacked() bool {
	return d.IsValid() && d != DomainRAG
}
