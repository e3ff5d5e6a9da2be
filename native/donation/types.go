package donation

// TokenPurpose selects which campaign threshold a loyalty token deposit counts toward.
type TokenPurpose uint8

const (
	// PurposeFeeExemption counts toward waiving the service fee.
	PurposeFeeExemption TokenPurpose = iota + 1
	// PurposeCancellation counts toward making the campaign cancellable.
	PurposeCancellation
)

// String implements fmt.Stringer.
func (p TokenPurpose) String() string {
	switch p {
	case PurposeFeeExemption:
		return "fee_exemption"
	case PurposeCancellation:
		return "cancellation"
	default:
		return "unknown"
	}
}

// ParseTokenPurpose resolves the wire name of a purpose.
func ParseTokenPurpose(raw string) (TokenPurpose, error) {
	switch raw {
	case "fee_exemption", "fee-exemption", "fee":
		return PurposeFeeExemption, nil
	case "cancellation", "cancel":
		return PurposeCancellation, nil
	default:
		return 0, errInvalidPurpose
	}
}

// ServiceLedger is the process-wide donation service state.
type ServiceLedger struct {
	Owner                 [20]byte           `json:"owner"`
	CampaignCount         uint64             `json:"campaignCount"`
	AccumulatedFee        uint64             `json:"accumulatedFee"`
	TotalDonations        uint64             `json:"totalDonations"`
	TotalDroppedFee       uint64             `json:"totalDroppedFee"`
	TotalCanceledFunds    uint64             `json:"totalCanceledFunds"`
	FeePercent            uint64             `json:"feePercent"`
	FeeExemptionThreshold uint64             `json:"feeExemptionThreshold"`
	CancellationThreshold uint64             `json:"cancellationThreshold"`
	RewardPeriod          uint64             `json:"rewardPeriod"`
	RewardAmount          uint64             `json:"rewardAmount"`
	RewardCooldownUntil   uint64             `json:"rewardCooldownUntil"`
	GlobalTop             TopKRanking        `json:"globalTop"`
	ActiveBalances        ActiveBalanceIndex `json:"activeBalances"`
}

func newServiceLedger(owner [20]byte, params Params, now uint64) *ServiceLedger {
	svc := &ServiceLedger{
		Owner:     owner,
		GlobalTop: *NewTopKRanking(GlobalRankingSize),
	}
	svc.applyParams(params)
	svc.RewardCooldownUntil = now + params.RewardPeriod
	return svc
}

func (s *ServiceLedger) applyParams(params Params) {
	s.FeePercent = params.FeePercent
	s.FeeExemptionThreshold = params.FeeExemptionThreshold
	s.CancellationThreshold = params.CancellationThreshold
	s.RewardPeriod = params.RewardPeriod
	s.RewardAmount = params.RewardAmount
}

// Params returns the tunable parameters currently in force.
func (s *ServiceLedger) Params() Params {
	return Params{
		FeePercent:            s.FeePercent,
		FeeExemptionThreshold: s.FeeExemptionThreshold,
		CancellationThreshold: s.CancellationThreshold,
		RewardPeriod:          s.RewardPeriod,
		RewardAmount:          s.RewardAmount,
	}
}

// Clone returns a deep copy of the ledger.
func (s *ServiceLedger) Clone() *ServiceLedger {
	if s == nil {
		return nil
	}
	clone := *s
	clone.GlobalTop = *s.GlobalTop.Clone()
	clone.ActiveBalances = s.ActiveBalances.Clone()
	return &clone
}

// Campaign is the state of a single fundraising effort.
type Campaign struct {
	ID                     uint64      `json:"id"`
	Owner                  [20]byte    `json:"owner"`
	CollectedAmount        uint64      `json:"collectedAmount"`
	FeeExemptTokenTotal    uint64      `json:"feeExemptTokenTotal"`
	CancellationTokenTotal uint64      `json:"cancellationTokenTotal"`
	IsFinished             bool        `json:"isFinished"`
	LocalTop               TopKRanking `json:"localTop"`
}

func newCampaign(id uint64, owner [20]byte) *Campaign {
	return &Campaign{
		ID:       id,
		Owner:    owner,
		LocalTop: *NewTopKRanking(CampaignRankingSize),
	}
}

// Clone returns a deep copy of the campaign.
func (c *Campaign) Clone() *Campaign {
	if c == nil {
		return nil
	}
	clone := *c
	clone.LocalTop = *c.LocalTop.Clone()
	return &clone
}

// ContributorRecord tracks what one contributor has given to one campaign.
type ContributorRecord struct {
	CampaignID       uint64   `json:"campaignId"`
	Contributor      [20]byte `json:"contributor"`
	CumulativeAmount uint64   `json:"cumulativeAmount"`
	RewardWallet     [20]byte `json:"rewardWallet"`
}

func newContributorRecord(campaignID uint64, contributor [20]byte) *ContributorRecord {
	return &ContributorRecord{CampaignID: campaignID, Contributor: contributor}
}
