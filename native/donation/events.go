package donation

import (
	"strconv"

	"charityledger/core/events"
	"charityledger/crypto"
)

const (
	// EventTypeServiceInitialized is emitted once when the service ledger is created.
	EventTypeServiceInitialized = "donation.service.initialized"
	// EventTypeParamsUpdated is emitted when the owner retunes the service.
	EventTypeParamsUpdated = "donation.service.params_updated"
	// EventTypeCampaignCreated is emitted when a campaign is opened.
	EventTypeCampaignCreated = "donation.campaign.created"
	// EventTypeContributed is emitted for each currency contribution.
	EventTypeContributed = "donation.campaign.contributed"
	// EventTypeTokenContributed is emitted for each loyalty token deposit.
	EventTypeTokenContributed = "donation.campaign.token_contributed"
	// EventTypeWithdrawn is emitted when a campaign owner collects the funds.
	EventTypeWithdrawn = "donation.campaign.withdrawn"
	// EventTypeCanceled is emitted when a campaign is canceled and its pool redistributed.
	EventTypeCanceled = "donation.campaign.canceled"
	// EventTypeRewardsPaid is emitted after a reward round.
	EventTypeRewardsPaid = "donation.rewards.paid"
	// EventTypeFeeWithdrawn is emitted when the owner collects the accumulated fee.
	EventTypeFeeWithdrawn = "donation.fee.withdrawn"
)

func fmtAddr(a [20]byte) string { return crypto.FormatAddress(a) }

func u64(v uint64) string { return strconv.FormatUint(v, 10) }

// ServiceInitializedEvent announces the creation of the service ledger.
func ServiceInitializedEvent(owner [20]byte, params Params) events.Event {
	return events.Event{
		Type: EventTypeServiceInitialized,
		Attributes: map[string]string{
			"owner":                 fmtAddr(owner),
			"feePercent":            u64(params.FeePercent),
			"feeExemptionThreshold": u64(params.FeeExemptionThreshold),
			"cancellationThreshold": u64(params.CancellationThreshold),
			"rewardPeriod":          u64(params.RewardPeriod),
			"rewardAmount":          u64(params.RewardAmount),
		},
	}
}

// ParamsUpdatedEvent captures a parameter change.
func ParamsUpdatedEvent(params Params) events.Event {
	return events.Event{
		Type: EventTypeParamsUpdated,
		Attributes: map[string]string{
			"feePercent":            u64(params.FeePercent),
			"feeExemptionThreshold": u64(params.FeeExemptionThreshold),
			"cancellationThreshold": u64(params.CancellationThreshold),
			"rewardPeriod":          u64(params.RewardPeriod),
			"rewardAmount":          u64(params.RewardAmount),
		},
	}
}

// CampaignCreatedEvent announces a new campaign.
func CampaignCreatedEvent(id uint64, owner [20]byte) events.Event {
	return events.Event{
		Type: EventTypeCampaignCreated,
		Attributes: map[string]string{
			"campaignId": u64(id),
			"owner":      fmtAddr(owner),
		},
	}
}

// ContributedEvent captures a currency contribution and its split.
func ContributedEvent(id uint64, contributor, wallet [20]byte, amount, fee, net, reward uint64, exempt bool) events.Event {
	return events.Event{
		Type: EventTypeContributed,
		Attributes: map[string]string{
			"campaignId":  u64(id),
			"contributor": fmtAddr(contributor),
			"wallet":      fmtAddr(wallet),
			"amount":      u64(amount),
			"fee":         u64(fee),
			"net":         u64(net),
			"reward":      u64(reward),
			"feeExempt":   strconv.FormatBool(exempt),
		},
	}
}

// TokenContributedEvent captures a loyalty token deposit.
func TokenContributedEvent(id uint64, contributor [20]byte, amount uint64, purpose TokenPurpose, total uint64) events.Event {
	return events.Event{
		Type: EventTypeTokenContributed,
		Attributes: map[string]string{
			"campaignId":  u64(id),
			"contributor": fmtAddr(contributor),
			"amount":      u64(amount),
			"purpose":     purpose.String(),
			"total":       u64(total),
		},
	}
}

// WithdrawnEvent captures a campaign payout to its owner.
func WithdrawnEvent(id uint64, owner [20]byte, amount uint64) events.Event {
	return events.Event{
		Type: EventTypeWithdrawn,
		Attributes: map[string]string{
			"campaignId": u64(id),
			"owner":      fmtAddr(owner),
			"amount":     u64(amount),
		},
	}
}

// CanceledEvent captures a cancellation and the outcome of redistribution.
func CanceledEvent(id uint64, caller [20]byte, pool, distributed, recipients uint64) events.Event {
	return events.Event{
		Type: EventTypeCanceled,
		Attributes: map[string]string{
			"campaignId":    u64(id),
			"caller":        fmtAddr(caller),
			"pool":          u64(pool),
			"redistributed": u64(distributed),
			"remainder":     u64(pool - distributed),
			"recipients":    u64(recipients),
		},
	}
}

// RewardsPaidEvent captures a reward round.
func RewardsPaidEvent(winners []RankEntry, amount, cooldownUntil uint64) events.Event {
	attrs := map[string]string{
		"winners":       strconv.Itoa(len(winners)),
		"amount":        u64(amount),
		"cooldownUntil": u64(cooldownUntil),
	}
	for i, winner := range winners {
		attrs["wallet"+strconv.Itoa(i)] = fmtAddr(winner.Wallet)
	}
	return events.Event{Type: EventTypeRewardsPaid, Attributes: attrs}
}

// FeeWithdrawnEvent captures a fee collection by the owner.
func FeeWithdrawnEvent(owner [20]byte, amount uint64) events.Event {
	return events.Event{
		Type: EventTypeFeeWithdrawn,
		Attributes: map[string]string{
			"owner":  fmtAddr(owner),
			"amount": u64(amount),
		},
	}
}
