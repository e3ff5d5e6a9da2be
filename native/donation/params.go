package donation

import "fmt"

// Params holds the owner-tunable knobs of the service.
type Params struct {
	FeePercent            uint64 `toml:"FeePercent" yaml:"fee_percent" json:"feePercent"`
	FeeExemptionThreshold uint64 `toml:"FeeExemptionThreshold" yaml:"fee_exemption_threshold" json:"feeExemptionThreshold"`
	CancellationThreshold uint64 `toml:"CancellationThreshold" yaml:"cancellation_threshold" json:"cancellationThreshold"`
	RewardPeriod          uint64 `toml:"RewardPeriod" yaml:"reward_period" json:"rewardPeriod"`
	RewardAmount          uint64 `toml:"RewardAmount" yaml:"reward_amount" json:"rewardAmount"`
}

// DefaultParams mirrors the launch configuration: a 1% fee and a daily reward round.
func DefaultParams() Params {
	return Params{
		FeePercent:            1,
		FeeExemptionThreshold: 1,
		CancellationThreshold: 1_000,
		RewardPeriod:          86_400,
		RewardAmount:          1_000,
	}
}

// Validate ensures the parameters fall within acceptable bounds.
func (p Params) Validate() error {
	if p.FeePercent > PercentDenominator {
		return fmt.Errorf("%w: fee percent must be <= %d", ErrInvalidParams, PercentDenominator)
	}
	return nil
}

// ParamsPatch is a partial update; nil fields keep their current value.
type ParamsPatch struct {
	FeePercent            *uint64 `json:"feePercent,omitempty"`
	FeeExemptionThreshold *uint64 `json:"feeExemptionThreshold,omitempty"`
	CancellationThreshold *uint64 `json:"cancellationThreshold,omitempty"`
	RewardPeriod          *uint64 `json:"rewardPeriod,omitempty"`
	RewardAmount          *uint64 `json:"rewardAmount,omitempty"`
}

// Apply returns base with the set fields of p overlaid.
func (p ParamsPatch) Apply(base Params) Params {
	overlay := func(dst *uint64, src *uint64) {
		if src != nil {
			*dst = *src
		}
	}
	overlay(&base.FeePercent, p.FeePercent)
	overlay(&base.FeeExemptionThreshold, p.FeeExemptionThreshold)
	overlay(&base.CancellationThreshold, p.CancellationThreshold)
	overlay(&base.RewardPeriod, p.RewardPeriod)
	overlay(&base.RewardAmount, p.RewardAmount)
	return base
}
