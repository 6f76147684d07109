package swapbase

import "github.com/atomicbridge/swapserver/internal/models"

// ServiceInfo is one handler's static discovery info (spec.md §4.8): fee
// schedule, per-chain allowed tokens, and any handler-specific extras a
// client needs before it commits to a quote from this service.
type ServiceInfo struct {
	Kind        string                                `json:"kind"`
	FeePPM      int64                                 `json:"feePPM"`
	BaseFeeSats int64                                 `json:"baseFee"`
	MinSats     int64                                 `json:"min"`
	MaxSats     int64                                 `json:"max"`
	Tokens      map[models.ChainIdentifier][]string    `json:"tokens"`
	Extra       map[string]any                         `json:"extra,omitempty"`
}

// BuildServiceInfo assembles a ServiceInfo from this base's registry and
// fee schedule, the shared half of every handler's GetInfo().
func (b *SwapHandlerBase) BuildServiceInfo(sched FeeSchedule, extra map[string]any) ServiceInfo {
	tokens := make(map[models.ChainIdentifier][]string)
	for _, chain := range b.Registry.Chains() {
		addrs := make([]string, 0)
		for _, t := range b.Registry.Tokens(chain) {
			addrs = append(addrs, t.Address)
		}
		tokens[chain] = addrs
	}
	return ServiceInfo{
		Kind:        b.Kind,
		FeePPM:      sched.FeePPM,
		BaseFeeSats: sched.BaseFeeSats,
		MinSats:     sched.MinSats,
		MaxSats:     sched.MaxSats,
		Tokens:      tokens,
		Extra:       extra,
	}
}
