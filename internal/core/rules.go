package core

import "pharmanet/pkg/domain"

// NewDefaultRulesEngine builds a rules engine with the built-in custody policy set.
func NewDefaultRulesEngine() *domain.RulesEngine {
	engine := domain.NewRulesEngine()
	engine.Register(CustodyTransitionRule())
	engine.Register(ShipmentLifecycleRule())
	engine.Register(ShipmentQuantityRule())
	return engine
}

func toSet(values ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}
