package phase

import (
	"vortex-ramp/internal/model"
)

// Registry maps (direction, phase) to the handler that executes it. The
// graphs are static: each handler is constructed with the phase it moves to,
// so the only runtime dispatch is a map lookup.
type Registry struct {
	graphs map[model.RampDirection]map[model.Phase]Handler
}

// NewRegistry wires the onramp and offramp execution graphs.
//
//	BUY:  initial -> fundEphemeral -> distributeFees -> swap -> payout -> complete
//	SELL: initial -> fundEphemeral -> distributeFees -> swap -> settle -> complete
func NewRegistry(deps Deps) *Registry {
	buy := map[model.Phase]Handler{
		model.PhaseInitial:        newAwaitPaymentHandler(deps, model.PhaseFundEphemeral),
		model.PhaseFundEphemeral:  newFundEphemeralHandler(deps, model.PhaseDistributeFees),
		model.PhaseDistributeFees: newDistributeFeesHandler(deps, model.PhaseSwap),
		model.PhaseSwap:           newSubmitPresignedHandler(deps, model.PhaseSwap, model.PhasePayout),
		model.PhasePayout:         newSubmitPresignedHandler(deps, model.PhasePayout, model.PhaseComplete),
	}
	sell := map[model.Phase]Handler{
		model.PhaseInitial:        newAwaitDepositHandler(deps, model.PhaseFundEphemeral),
		model.PhaseFundEphemeral:  newFundEphemeralHandler(deps, model.PhaseDistributeFees),
		model.PhaseDistributeFees: newDistributeFeesHandler(deps, model.PhaseSwap),
		model.PhaseSwap:           newSubmitPresignedHandler(deps, model.PhaseSwap, model.PhaseSettle),
		model.PhaseSettle:         newSettleHandler(deps, model.PhaseComplete),
	}
	return &Registry{graphs: map[model.RampDirection]map[model.Phase]Handler{
		model.RampBuy:  buy,
		model.RampSell: sell,
	}}
}

// Handler returns the handler for a (direction, phase) pair.
func (r *Registry) Handler(direction model.RampDirection, phase model.Phase) (Handler, bool) {
	graph, ok := r.graphs[direction]
	if !ok {
		return nil, false
	}
	handler, ok := graph[phase]
	return handler, ok
}
