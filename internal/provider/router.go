package provider

// Provider kind tags. This is a closed set: routing happens through one
// switch-equivalent lookup at call initiation and is never re-checked per
// frame.
const (
	KindBridge   = "bridge"
	KindSipAI    = "sipai"
	KindPipeline = "pipeline"
)

// Router selects the adapter for an agent's configured provider kind.
type Router struct {
	providers map[string]CallProvider
}

func NewRouter(providers ...CallProvider) *Router {
	r := &Router{providers: make(map[string]CallProvider, len(providers))}
	for _, p := range providers {
		r.providers[p.Name()] = p
	}
	return r
}

// Route returns the adapter for the agent's provider kind. An unknown kind is
// a permanent configuration error, never retried.
func (r *Router) Route(agent AgentConfig) (CallProvider, error) {
	p, ok := r.providers[agent.Provider]
	if !ok {
		return nil, Permanentf("no provider registered for kind %q (agent %s)", agent.Provider, agent.ID)
	}
	return p, nil
}

// ByName looks an adapter up directly, for operations that already know the
// owning provider of a call (hangup, transcript).
func (r *Router) ByName(name string) (CallProvider, bool) {
	p, ok := r.providers[name]
	return p, ok
}
