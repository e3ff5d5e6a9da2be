package donation

import "fmt"

// CustodyKind identifies who holds funds on either side of an effect.
type CustodyKind uint8

const (
	// CustodyAccount is a caller or wallet owned balance.
	CustodyAccount CustodyKind = iota + 1
	// CustodyCampaign is the escrow of a single campaign.
	CustodyCampaign
	// CustodyService is the service fee vault.
	CustodyService
)

// Custody is a source or destination of funds.
type Custody struct {
	Kind       CustodyKind `json:"kind"`
	Account    [20]byte    `json:"account,omitempty"`
	CampaignID uint64      `json:"campaignId,omitempty"`
}

// AccountCustody addresses a balance owned by addr.
func AccountCustody(addr [20]byte) Custody { return Custody{Kind: CustodyAccount, Account: addr} }

// CampaignCustody addresses the escrow of campaign id.
func CampaignCustody(id uint64) Custody { return Custody{Kind: CustodyCampaign, CampaignID: id} }

// ServiceCustody addresses the fee vault.
func ServiceCustody() Custody { return Custody{Kind: CustodyService} }

// String implements fmt.Stringer.
func (c Custody) String() string {
	switch c.Kind {
	case CustodyAccount:
		return fmt.Sprintf("account:%x", c.Account)
	case CustodyCampaign:
		return fmt.Sprintf("campaign:%d", c.CampaignID)
	case CustodyService:
		return "service"
	default:
		return "none"
	}
}

// EffectKind names an external side effect the host must execute.
type EffectKind string

const (
	// EffectCurrencyTransfer moves settlement currency between custodies.
	EffectCurrencyTransfer EffectKind = "currency.transfer"
	// EffectTokenMint creates loyalty tokens in the destination.
	EffectTokenMint EffectKind = "token.mint"
	// EffectTokenTransfer moves loyalty tokens between custodies.
	EffectTokenTransfer EffectKind = "token.transfer"
)

// Effect is an intent to move value, executed by the host atomically with the
// state commit. From is unset for mints.
type Effect struct {
	Kind   EffectKind `json:"kind"`
	From   Custody    `json:"from"`
	To     Custody    `json:"to"`
	Amount uint64     `json:"amount"`
}

// Outcome reports the effects of an operation together with the figures callers
// usually want to display.
type Outcome struct {
	CampaignID    uint64   `json:"campaignId"`
	Fee           uint64   `json:"fee"`
	Net           uint64   `json:"net"`
	DroppedFee    uint64   `json:"droppedFee"`
	Reward        uint64   `json:"reward"`
	Withdrawn     uint64   `json:"withdrawn"`
	Redistributed uint64   `json:"redistributed"`
	Remainder     uint64   `json:"remainder"`
	Effects       []Effect `json:"effects"`
}

func (o *Outcome) add(kind EffectKind, from, to Custody, amount uint64) {
	if amount == 0 {
		return
	}
	o.Effects = append(o.Effects, Effect{Kind: kind, From: from, To: to, Amount: amount})
}
