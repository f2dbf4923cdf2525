package service

import (
	"github.com/Strob0t/reactor/internal/domain/agent"
	"github.com/Strob0t/reactor/internal/domain/principal"
)

// isServicePrincipal reports whether p is the configured service principal.
func isServicePrincipal(service, p *principal.Principal) bool {
	return service != nil && p != nil && service.ID != "" && p.ID == service.ID
}

// filterForPrincipal narrows f to the agents p may see. The service
// principal sees every agent; everyone else only the agents executing as them.
func filterForPrincipal(service, p *principal.Principal, f agent.Filter) agent.Filter {
	if isServicePrincipal(service, p) {
		return f
	}
	f.Owner = p.ID
	return f
}
