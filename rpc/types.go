package rpc

import (
	"math/big"

	"charityledger/core"
	"charityledger/core/events"
	"charityledger/crypto"
	"charityledger/indexer"
	"charityledger/native/bank"
	"charityledger/native/donation"
)

// ServiceResult is the public view of the service ledger.
type ServiceResult struct {
	Owner               string          `json:"owner"`
	Vault               string          `json:"vault"`
	CampaignCount       uint64          `json:"campaignCount"`
	ActiveCampaigns     int             `json:"activeCampaigns"`
	ActiveBalance       string          `json:"activeBalance"`
	AccumulatedFee      uint64          `json:"accumulatedFee"`
	TotalDonations      uint64          `json:"totalDonations"`
	TotalDroppedFee     uint64          `json:"totalDroppedFee"`
	TotalCanceledFunds  uint64          `json:"totalCanceledFunds"`
	RewardCooldownUntil uint64          `json:"rewardCooldownUntil"`
	Params              donation.Params `json:"params"`
}

// RankResult is one leaderboard row.
type RankResult struct {
	Rank   int    `json:"rank"`
	Wallet string `json:"wallet"`
	Amount uint64 `json:"amount"`
}

// CampaignResult is the public view of a campaign.
type CampaignResult struct {
	ID                     uint64       `json:"id"`
	Owner                  string       `json:"owner"`
	Escrow                 string       `json:"escrow"`
	CollectedAmount        uint64       `json:"collectedAmount"`
	FeeExemptTokenTotal    uint64       `json:"feeExemptTokenTotal"`
	CancellationTokenTotal uint64       `json:"cancellationTokenTotal"`
	IsFinished             bool         `json:"isFinished"`
	TopContributors        []RankResult `json:"topContributors"`
}

// ContributorResult is the public view of a contributor record.
type ContributorResult struct {
	CampaignID       uint64 `json:"campaignId"`
	Contributor      string `json:"contributor"`
	CumulativeAmount uint64 `json:"cumulativeAmount"`
	RewardWallet     string `json:"rewardWallet,omitempty"`
}

// BalanceResult lists the balances held by an address.
type BalanceResult struct {
	Address  string   `json:"address"`
	Balances []Amount `json:"balances"`
}

// Amount is a symbol and a decimal value.
type Amount struct {
	Symbol string `json:"symbol"`
	Value  string `json:"value"`
}

// EffectResult renders a value movement with bech32 endpoints.
type EffectResult struct {
	Kind   string `json:"kind"`
	From   string `json:"from,omitempty"`
	To     string `json:"to"`
	Amount uint64 `json:"amount"`
}

// ReceiptResult is returned by every mutating endpoint.
type ReceiptResult struct {
	ID            string         `json:"id"`
	Sequence      uint64         `json:"sequence"`
	Operation     string         `json:"operation"`
	Timestamp     int64          `json:"timestamp"`
	CampaignID    *uint64        `json:"campaignId,omitempty"`
	Fee           uint64         `json:"fee,omitempty"`
	Net           uint64         `json:"net,omitempty"`
	DroppedFee    uint64         `json:"droppedFee,omitempty"`
	Reward        uint64         `json:"reward,omitempty"`
	Withdrawn     uint64         `json:"withdrawn,omitempty"`
	Redistributed uint64         `json:"redistributed,omitempty"`
	Remainder     uint64         `json:"remainder,omitempty"`
	Effects       []EffectResult `json:"effects"`
	Events        []events.Event `json:"events"`
}

// EventResult is one archived event.
type EventResult struct {
	ID         uint64            `json:"id"`
	Sequence   uint64            `json:"sequence"`
	Receipt    string            `json:"receipt"`
	Type       string            `json:"type"`
	CampaignID *uint64           `json:"campaignId,omitempty"`
	Timestamp  int64             `json:"timestamp"`
	Attributes map[string]string `json:"attributes"`
}

func serviceResult(svc *donation.ServiceLedger) ServiceResult {
	return ServiceResult{
		Owner:               crypto.FormatAddress(svc.Owner),
		Vault:               bank.FormatCustody(bank.ServiceAddress()),
		CampaignCount:       svc.CampaignCount,
		ActiveCampaigns:     svc.ActiveBalances.Len(),
		ActiveBalance:       svc.ActiveBalances.TotalBalance().Dec(),
		AccumulatedFee:      svc.AccumulatedFee,
		TotalDonations:      svc.TotalDonations,
		TotalDroppedFee:     svc.TotalDroppedFee,
		TotalCanceledFunds:  svc.TotalCanceledFunds,
		RewardCooldownUntil: svc.RewardCooldownUntil,
		Params:              svc.Params(),
	}
}

func rankResults(entries []donation.RankEntry) []RankResult {
	out := make([]RankResult, 0, len(entries))
	for i, entry := range entries {
		out = append(out, RankResult{Rank: i + 1, Wallet: crypto.FormatAddress(entry.Wallet), Amount: entry.Amount})
	}
	return out
}

func campaignResult(c *donation.Campaign) CampaignResult {
	return CampaignResult{
		ID:                     c.ID,
		Owner:                  crypto.FormatAddress(c.Owner),
		Escrow:                 bank.FormatCustody(bank.CampaignAddress(c.ID)),
		CollectedAmount:        c.CollectedAmount,
		FeeExemptTokenTotal:    c.FeeExemptTokenTotal,
		CancellationTokenTotal: c.CancellationTokenTotal,
		IsFinished:             c.IsFinished,
		TopContributors:        rankResults(c.LocalTop.Top(donation.CampaignRankingSize)),
	}
}

func contributorResult(rec *donation.ContributorRecord) ContributorResult {
	out := ContributorResult{
		CampaignID:       rec.CampaignID,
		Contributor:      crypto.FormatAddress(rec.Contributor),
		CumulativeAmount: rec.CumulativeAmount,
	}
	if rec.RewardWallet != ([20]byte{}) {
		out.RewardWallet = crypto.FormatAddress(rec.RewardWallet)
	}
	return out
}

func balanceResult(addr [20]byte, balances map[string]*big.Int) BalanceResult {
	out := BalanceResult{Address: crypto.FormatAddress(addr)}
	for _, symbol := range []string{bank.SymbolNative, bank.SymbolLoyalty} {
		value := balances[symbol]
		if value == nil {
			value = new(big.Int)
		}
		out.Balances = append(out.Balances, Amount{Symbol: symbol, Value: value.String()})
	}
	return out
}

func custodyString(c donation.Custody) string {
	switch c.Kind {
	case donation.CustodyAccount:
		return crypto.FormatAddress(c.Account)
	case donation.CustodyCampaign, donation.CustodyService:
		addr, err := bank.Resolve(c)
		if err != nil {
			return ""
		}
		return bank.FormatCustody(addr)
	default:
		return ""
	}
}

func receiptResult(receipt *core.Receipt) ReceiptResult {
	out := ReceiptResult{
		ID:        receipt.ID,
		Sequence:  receipt.Sequence,
		Operation: receipt.Operation,
		Timestamp: receipt.Timestamp,
		Effects:   []EffectResult{},
		Events:    receipt.Events,
	}
	if outcome := receipt.Outcome; outcome != nil {
		out.Fee = outcome.Fee
		out.Net = outcome.Net
		out.DroppedFee = outcome.DroppedFee
		out.Reward = outcome.Reward
		out.Withdrawn = outcome.Withdrawn
		out.Redistributed = outcome.Redistributed
		out.Remainder = outcome.Remainder
		for _, effect := range outcome.Effects {
			out.Effects = append(out.Effects, EffectResult{
				Kind:   string(effect.Kind),
				From:   custodyString(effect.From),
				To:     custodyString(effect.To),
				Amount: effect.Amount,
			})
		}
	}
	if out.Events == nil {
		out.Events = []events.Event{}
	}
	return out
}

func eventResults(records []indexer.EventRecord) []EventResult {
	out := make([]EventResult, 0, len(records))
	for _, record := range records {
		out = append(out, EventResult{
			ID:         record.ID,
			Sequence:   record.Sequence,
			Receipt:    record.Receipt,
			Type:       record.Type,
			CampaignID: record.CampaignID,
			Timestamp:  record.Timestamp,
			Attributes: record.Attrs(),
		})
	}
	return out
}
