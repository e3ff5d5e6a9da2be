package donation

import (
	"fmt"
	"time"

	"charityledger/core/events"
)

type engineState interface {
	DonationServiceGet() (*ServiceLedger, bool, error)
	DonationServicePut(svc *ServiceLedger) error
	DonationCampaignGet(id uint64) (*Campaign, bool, error)
	DonationCampaignPut(campaign *Campaign) error
	DonationContributorGet(campaignID uint64, contributor [20]byte) (*ContributorRecord, bool, error)
	DonationContributorPut(record *ContributorRecord) error
}

// Engine wires the donation ledger rules with persistence and event emission.
// Every operation validates its preconditions before writing anything back to
// state; effects are returned to the caller for execution alongside the commit.
type Engine struct {
	state   engineState
	emitter events.Emitter
	nowFn   func() int64
}

// NewEngine constructs a donation engine with default dependencies.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn: func() int64 {
			return time.Now().Unix()
		},
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetEmitter configures the event emitter used by the engine.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used for deterministic testing.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) emit(evt events.Event) {
	if e == nil || e.emitter == nil {
		return
	}
	e.emitter.Emit(evt)
}

func (e *Engine) now() uint64 {
	var ts int64
	if e == nil || e.nowFn == nil {
		ts = time.Now().Unix()
	} else {
		ts = e.nowFn()
	}
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

func (e *Engine) loadService() (*ServiceLedger, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	svc, ok, err := e.state.DonationServiceGet()
	if err != nil {
		return nil, err
	}
	if !ok || svc == nil {
		return nil, ErrNotInitialized
	}
	return svc, nil
}

func (e *Engine) loadCampaign(id uint64) (*Campaign, error) {
	campaign, ok, err := e.state.DonationCampaignGet(id)
	if err != nil {
		return nil, err
	}
	if !ok || campaign == nil {
		return nil, fmt.Errorf("%w: %d", ErrCampaignNotFound, id)
	}
	return campaign, nil
}

// InitializeService creates the service ledger owned by owner.
func (e *Engine) InitializeService(owner [20]byte, params Params) (*ServiceLedger, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if existing, ok, err := e.state.DonationServiceGet(); err != nil {
		return nil, err
	} else if ok && existing != nil {
		return nil, ErrAlreadyInitialized
	}
	svc := newServiceLedger(owner, params, e.now())
	if err := e.state.DonationServicePut(svc); err != nil {
		return nil, err
	}
	e.emit(ServiceInitializedEvent(owner, params))
	return svc.Clone(), nil
}

// UpdateParams retunes the fee and reward knobs. Only the service owner may call it.
func (e *Engine) UpdateParams(caller [20]byte, params Params) (*ServiceLedger, error) {
	svc, err := e.loadService()
	if err != nil {
		return nil, err
	}
	if caller != svc.Owner {
		return nil, ErrNotOwner
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	svc.applyParams(params)
	if err := e.state.DonationServicePut(svc); err != nil {
		return nil, err
	}
	e.emit(ParamsUpdatedEvent(params))
	return svc.Clone(), nil
}

// CreateCampaign opens a new campaign owned by caller.
func (e *Engine) CreateCampaign(caller [20]byte) (*Campaign, error) {
	svc, err := e.loadService()
	if err != nil {
		return nil, err
	}
	if svc.ActiveBalances.Full() {
		return nil, ErrActiveLimitExceeded
	}
	id := svc.CampaignCount
	if err := svc.ActiveBalances.Insert(id, 0); err != nil {
		return nil, err
	}
	svc.CampaignCount++
	campaign := newCampaign(id, caller)
	if err := e.state.DonationCampaignPut(campaign); err != nil {
		return nil, err
	}
	if err := e.state.DonationServicePut(svc); err != nil {
		return nil, err
	}
	e.emit(CampaignCreatedEvent(id, caller))
	return campaign.Clone(), nil
}

// ContributeCurrency donates amount of settlement currency to campaign id. The
// fee is waived once the campaign's fee exemption tokens exceed the threshold.
func (e *Engine) ContributeCurrency(caller [20]byte, id uint64, amount uint64, rewardWallet [20]byte) (*Outcome, error) {
	svc, err := e.loadService()
	if err != nil {
		return nil, err
	}
	if amount == 0 {
		return nil, ErrZeroAmount
	}
	campaign, err := e.loadCampaign(id)
	if err != nil {
		return nil, err
	}
	if campaign.IsFinished {
		return nil, ErrCampaignFinished
	}
	reward, err := ComputeRewardMint(amount)
	if err != nil {
		return nil, err
	}

	fee, net := ComputeFee(amount, svc.FeePercent)
	var dropped uint64
	exempt := campaign.FeeExemptTokenTotal > svc.FeeExemptionThreshold
	if exempt {
		dropped, fee, net = fee, 0, amount
	}

	record, ok, err := e.state.DonationContributorGet(id, caller)
	if err != nil {
		return nil, err
	}
	if !ok || record == nil {
		record = newContributorRecord(id, caller)
	}

	if campaign.CollectedAmount, err = addAmount(campaign.CollectedAmount, net); err != nil {
		return nil, err
	}
	if svc.AccumulatedFee, err = addAmount(svc.AccumulatedFee, fee); err != nil {
		return nil, err
	}
	if svc.TotalDroppedFee, err = addAmount(svc.TotalDroppedFee, dropped); err != nil {
		return nil, err
	}
	if svc.TotalDonations, err = addAmount(svc.TotalDonations, amount); err != nil {
		return nil, err
	}
	if record.CumulativeAmount, err = addAmount(record.CumulativeAmount, amount); err != nil {
		return nil, err
	}
	if err := svc.ActiveBalances.AddToBalance(id, net); err != nil {
		return nil, err
	}
	record.RewardWallet = rewardWallet
	campaign.LocalTop.Offer(record.CumulativeAmount, rewardWallet)
	svc.GlobalTop.Offer(record.CumulativeAmount, rewardWallet)

	if err := e.state.DonationContributorPut(record); err != nil {
		return nil, err
	}
	if err := e.state.DonationCampaignPut(campaign); err != nil {
		return nil, err
	}
	if err := e.state.DonationServicePut(svc); err != nil {
		return nil, err
	}

	outcome := &Outcome{CampaignID: id, Fee: fee, Net: net, DroppedFee: dropped, Reward: reward}
	outcome.add(EffectCurrencyTransfer, AccountCustody(caller), CampaignCustody(id), net)
	outcome.add(EffectCurrencyTransfer, AccountCustody(caller), ServiceCustody(), fee)
	outcome.add(EffectTokenMint, Custody{}, AccountCustody(rewardWallet), reward)
	e.emit(ContributedEvent(id, caller, rewardWallet, amount, fee, net, reward, exempt))
	return outcome, nil
}

// ContributeToken deposits loyalty tokens into campaign id toward the threshold
// selected by purpose. Finished campaigns still accept deposits.
func (e *Engine) ContributeToken(caller [20]byte, id uint64, amount uint64, purpose TokenPurpose) (*Outcome, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	campaign, err := e.loadCampaign(id)
	if err != nil {
		return nil, err
	}
	var total uint64
	switch purpose {
	case PurposeFeeExemption:
		if campaign.FeeExemptTokenTotal, err = addAmount(campaign.FeeExemptTokenTotal, amount); err != nil {
			return nil, err
		}
		total = campaign.FeeExemptTokenTotal
	case PurposeCancellation:
		if campaign.CancellationTokenTotal, err = addAmount(campaign.CancellationTokenTotal, amount); err != nil {
			return nil, err
		}
		total = campaign.CancellationTokenTotal
	default:
		return nil, errInvalidPurpose
	}
	if err := e.state.DonationCampaignPut(campaign); err != nil {
		return nil, err
	}
	outcome := &Outcome{CampaignID: id}
	outcome.add(EffectTokenTransfer, AccountCustody(caller), CampaignCustody(id), amount)
	e.emit(TokenContributedEvent(id, caller, amount, purpose, total))
	return outcome, nil
}

// Withdraw finishes campaign id and pays its collected funds to the owner. A
// repeated withdrawal succeeds and pays nothing.
func (e *Engine) Withdraw(caller [20]byte, id uint64) (*Outcome, error) {
	svc, err := e.loadService()
	if err != nil {
		return nil, err
	}
	campaign, err := e.loadCampaign(id)
	if err != nil {
		return nil, err
	}
	if caller != campaign.Owner {
		return nil, ErrNotCampaignOwner
	}
	if !campaign.IsFinished {
		if _, err := svc.ActiveBalances.Remove(id); err != nil {
			return nil, err
		}
		if err := e.state.DonationServicePut(svc); err != nil {
			return nil, err
		}
	}
	amount := campaign.CollectedAmount
	campaign.CollectedAmount = 0
	campaign.IsFinished = true
	if err := e.state.DonationCampaignPut(campaign); err != nil {
		return nil, err
	}
	outcome := &Outcome{CampaignID: id, Withdrawn: amount}
	outcome.add(EffectCurrencyTransfer, CampaignCustody(id), AccountCustody(caller), amount)
	e.emit(WithdrawnEvent(id, caller, amount))
	return outcome, nil
}

// Cancel finishes campaign id and spreads its pooled balance over the remaining
// active campaigns in proportion to their balances. Each share moves from the
// canceled escrow to the recipient escrow in the same commit, so recipients can
// withdraw it. Shares are floored; the remainder stays collected on the
// canceled campaign and its owner can still withdraw it.
func (e *Engine) Cancel(caller [20]byte, id uint64) (*Outcome, error) {
	svc, err := e.loadService()
	if err != nil {
		return nil, err
	}
	campaign, err := e.loadCampaign(id)
	if err != nil {
		return nil, err
	}
	if campaign.IsFinished {
		return nil, ErrCampaignFinished
	}
	if campaign.CancellationTokenTotal <= svc.CancellationThreshold {
		return nil, ErrInsufficientCancellationTokens
	}

	pool, err := svc.ActiveBalances.Remove(id)
	if err != nil {
		return nil, err
	}
	remaining := svc.ActiveBalances.TotalBalance()
	outcome := &Outcome{CampaignID: id}
	recipients := make([]*Campaign, 0, svc.ActiveBalances.Len())
	if pool > 0 && !remaining.IsZero() {
		for i := range svc.ActiveBalances.Entries {
			entry := &svc.ActiveBalances.Entries[i]
			share, err := RedistributeShare(pool, entry.Balance, remaining)
			if err != nil {
				return nil, err
			}
			if share == 0 {
				continue
			}
			recipient, err := e.loadCampaign(entry.CampaignID)
			if err != nil {
				return nil, err
			}
			if entry.Balance, err = addAmount(entry.Balance, share); err != nil {
				return nil, err
			}
			if recipient.CollectedAmount, err = addAmount(recipient.CollectedAmount, share); err != nil {
				return nil, err
			}
			outcome.Redistributed += share
			outcome.add(EffectCurrencyTransfer, CampaignCustody(id), CampaignCustody(entry.CampaignID), share)
			recipients = append(recipients, recipient)
		}
	}
	if outcome.Redistributed > campaign.CollectedAmount {
		return nil, fmt.Errorf("%w: campaign %d redistributed %d of %d collected", ErrBalanceMismatch, id, outcome.Redistributed, campaign.CollectedAmount)
	}
	campaign.CollectedAmount -= outcome.Redistributed
	outcome.Remainder = pool - outcome.Redistributed
	if svc.TotalCanceledFunds, err = addAmount(svc.TotalCanceledFunds, pool); err != nil {
		return nil, err
	}
	campaign.IsFinished = true

	for _, recipient := range recipients {
		if err := e.state.DonationCampaignPut(recipient); err != nil {
			return nil, err
		}
	}
	if err := e.state.DonationCampaignPut(campaign); err != nil {
		return nil, err
	}
	if err := e.state.DonationServicePut(svc); err != nil {
		return nil, err
	}
	e.emit(CanceledEvent(id, caller, pool, outcome.Redistributed, uint64(len(recipients))))
	return outcome, nil
}

// RewardTopDonaters mints the configured reward to each of the leading global
// contributors. wallets must list the expected destination for each paid rank in
// order; empty ranks are skipped.
func (e *Engine) RewardTopDonaters(caller [20]byte, wallets [][20]byte) (*Outcome, error) {
	svc, err := e.loadService()
	if err != nil {
		return nil, err
	}
	if caller != svc.Owner {
		return nil, ErrNotOwner
	}
	now := e.now()
	if now < svc.RewardCooldownUntil {
		return nil, ErrTooEarly
	}
	winners := svc.GlobalTop.Top(RewardedRanks)
	for i, winner := range winners {
		if i >= len(wallets) || wallets[i] != winner.Wallet {
			return nil, fmt.Errorf("%w: rank %d", ErrInvalidWalletAccount, i)
		}
	}
	outcome := &Outcome{}
	for _, winner := range winners {
		outcome.add(EffectTokenMint, Custody{}, AccountCustody(winner.Wallet), svc.RewardAmount)
		outcome.Reward += svc.RewardAmount
	}
	// The cooldown is reset to the payout time, not extended by the reward period.
	svc.RewardCooldownUntil = now
	if err := e.state.DonationServicePut(svc); err != nil {
		return nil, err
	}
	e.emit(RewardsPaidEvent(winners, svc.RewardAmount, svc.RewardCooldownUntil))
	return outcome, nil
}

// WithdrawFee pays the accumulated service fee to the owner.
func (e *Engine) WithdrawFee(caller [20]byte) (*Outcome, error) {
	svc, err := e.loadService()
	if err != nil {
		return nil, err
	}
	if caller != svc.Owner {
		return nil, ErrNotOwner
	}
	amount := svc.AccumulatedFee
	svc.AccumulatedFee = 0
	if err := e.state.DonationServicePut(svc); err != nil {
		return nil, err
	}
	outcome := &Outcome{Withdrawn: amount}
	outcome.add(EffectCurrencyTransfer, ServiceCustody(), AccountCustody(caller), amount)
	e.emit(FeeWithdrawnEvent(caller, amount))
	return outcome, nil
}

// Service returns the service ledger without mutating state.
func (e *Engine) Service() (*ServiceLedger, error) {
	svc, err := e.loadService()
	if err != nil {
		return nil, err
	}
	return svc.Clone(), nil
}

// Campaign returns campaign id without mutating state.
func (e *Engine) Campaign(id uint64) (*Campaign, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	campaign, err := e.loadCampaign(id)
	if err != nil {
		return nil, err
	}
	return campaign.Clone(), nil
}

// Contributor returns the record of contributor within campaign id. Unknown pairs
// yield a zero record.
func (e *Engine) Contributor(id uint64, contributor [20]byte) (*ContributorRecord, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	record, ok, err := e.state.DonationContributorGet(id, contributor)
	if err != nil {
		return nil, err
	}
	if !ok || record == nil {
		record = newContributorRecord(id, contributor)
	}
	copied := *record
	return &copied, nil
}
