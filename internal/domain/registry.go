package domain

// Static routing table. Emergency fans out to both real agents; anything
// unclassifiable goes to the dead-letter path.
var kindAgents = map[Kind][]Agent{
	KindAssist:    {AgentAxis},
	KindPolicy:    {AgentM},
	KindEmergency: {AgentM, AgentAxis},
	KindUnknown:   {AgentDLQ},
}

// agentPaths maps each real agent to its endpoint path relative to the agents
// base URL. DLQ deliberately has no entry.
var agentPaths = map[Agent]string{
	AgentAxis: "/route",
	AgentM:    "/process",
}

// AgentsForKind returns the ordered agent list for a kind. The returned slice
// is a copy; callers may mutate it.
func AgentsForKind(k Kind) []Agent {
	agents, ok := kindAgents[k]
	if !ok {
		return nil
	}
	out := make([]Agent, len(agents))
	copy(out, agents)
	return out
}

// EndpointPath resolves an agent to its endpoint path. The second return is
// false for DLQ and for anything outside the closed agent set.
func (a Agent) EndpointPath() (string, bool) {
	p, ok := agentPaths[a]
	return p, ok
}

// RoutableAgents lists the agents that have real endpoints, in a stable order.
func RoutableAgents() []Agent {
	return []Agent{AgentAxis, AgentM}
}
