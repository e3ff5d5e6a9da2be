package donation

import (
	"errors"
	"reflect"
	"testing"

	"charityledger/core/events"
)

type mockState struct {
	service      *ServiceLedger
	campaigns    map[uint64]*Campaign
	contributors map[string]*ContributorRecord
	puts         int
}

func newMockState() *mockState {
	return &mockState{
		campaigns:    make(map[uint64]*Campaign),
		contributors: make(map[string]*ContributorRecord),
	}
}

func (m *mockState) DonationServiceGet() (*ServiceLedger, bool, error) {
	if m.service == nil {
		return nil, false, nil
	}
	return m.service.Clone(), true, nil
}

func (m *mockState) DonationServicePut(svc *ServiceLedger) error {
	m.puts++
	m.service = svc.Clone()
	return nil
}

func (m *mockState) DonationCampaignGet(id uint64) (*Campaign, bool, error) {
	campaign, ok := m.campaigns[id]
	if !ok {
		return nil, false, nil
	}
	return campaign.Clone(), true, nil
}

func (m *mockState) DonationCampaignPut(campaign *Campaign) error {
	m.puts++
	m.campaigns[campaign.ID] = campaign.Clone()
	return nil
}

func contributorKey(id uint64, contributor [20]byte) string {
	return string(append([]byte{byte(id >> 8), byte(id)}, contributor[:]...))
}

func (m *mockState) DonationContributorGet(id uint64, contributor [20]byte) (*ContributorRecord, bool, error) {
	record, ok := m.contributors[contributorKey(id, contributor)]
	if !ok {
		return nil, false, nil
	}
	clone := *record
	return &clone, true, nil
}

func (m *mockState) DonationContributorPut(record *ContributorRecord) error {
	m.puts++
	clone := *record
	m.contributors[contributorKey(record.CampaignID, record.Contributor)] = &clone
	return nil
}

type harness struct {
	engine *Engine
	state  *mockState
	events *events.Buffer
	now    int64
	owner  [20]byte
}

func newHarness(t *testing.T, params Params) *harness {
	t.Helper()
	h := &harness{
		engine: NewEngine(),
		state:  newMockState(),
		events: &events.Buffer{},
		now:    1_000,
		owner:  wallet(0xEE),
	}
	h.engine.SetState(h.state)
	h.engine.SetEmitter(h.events)
	h.engine.SetNowFunc(func() int64 { return h.now })
	if _, err := h.engine.InitializeService(h.owner, params); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	h.events.Drain()
	return h
}

func (h *harness) create(t *testing.T, owner [20]byte) uint64 {
	t.Helper()
	campaign, err := h.engine.CreateCampaign(owner)
	if err != nil {
		t.Fatalf("create campaign: %v", err)
	}
	return campaign.ID
}

func (h *harness) contribute(t *testing.T, from [20]byte, id, amount uint64) *Outcome {
	t.Helper()
	outcome, err := h.engine.ContributeCurrency(from, id, amount, from)
	if err != nil {
		t.Fatalf("contribute %d to %d: %v", amount, id, err)
	}
	return outcome
}

type snapshot struct {
	service      *ServiceLedger
	campaigns    map[uint64]*Campaign
	contributors map[string]ContributorRecord
}

func (m *mockState) snapshot() snapshot {
	snap := snapshot{
		service:      m.service.Clone(),
		campaigns:    make(map[uint64]*Campaign),
		contributors: make(map[string]ContributorRecord),
	}
	for id, c := range m.campaigns {
		snap.campaigns[id] = c.Clone()
	}
	for key, r := range m.contributors {
		snap.contributors[key] = *r
	}
	return snap
}

func zeroFeeParams() Params {
	params := DefaultParams()
	params.FeePercent = 0
	params.CancellationThreshold = 10
	params.RewardPeriod = 100
	return params
}

func TestInitializeServiceOnce(t *testing.T) {
	h := newHarness(t, DefaultParams())
	if _, err := h.engine.InitializeService(h.owner, DefaultParams()); !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("expected already initialized, got %v", err)
	}
	svc, err := h.engine.Service()
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	if svc.RewardCooldownUntil != 1_000+DefaultParams().RewardPeriod {
		t.Fatalf("unexpected cooldown %d", svc.RewardCooldownUntil)
	}
	if svc.GlobalTop.Capacity != GlobalRankingSize {
		t.Fatalf("unexpected ranking capacity %d", svc.GlobalTop.Capacity)
	}
}

func TestOperationsRequireService(t *testing.T) {
	engine := NewEngine()
	engine.SetState(newMockState())
	if _, err := engine.CreateCampaign(wallet(1)); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected not initialized, got %v", err)
	}
	if _, err := NewEngine().CreateCampaign(wallet(1)); !errors.Is(err, errNilState) {
		t.Fatalf("expected nil state, got %v", err)
	}
}

func TestInitializeRejectsInvalidParams(t *testing.T) {
	engine := NewEngine()
	engine.SetState(newMockState())
	params := DefaultParams()
	params.FeePercent = 101
	if _, err := engine.InitializeService(wallet(1), params); !errors.Is(err, ErrInvalidParams) {
		t.Fatalf("expected invalid params, got %v", err)
	}
}

func TestContributeCurrencyScenario(t *testing.T) {
	params := DefaultParams()
	params.FeePercent = 5
	h := newHarness(t, params)
	id := h.create(t, wallet(1))

	donor := wallet(2)
	rewardWallet := wallet(3)
	outcome, err := h.engine.ContributeCurrency(donor, id, 1000, rewardWallet)
	if err != nil {
		t.Fatalf("contribute: %v", err)
	}
	if outcome.Fee != 50 || outcome.Net != 950 || outcome.Reward != 101_000 {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
	want := []Effect{
		{Kind: EffectCurrencyTransfer, From: AccountCustody(donor), To: CampaignCustody(id), Amount: 950},
		{Kind: EffectCurrencyTransfer, From: AccountCustody(donor), To: ServiceCustody(), Amount: 50},
		{Kind: EffectTokenMint, To: AccountCustody(rewardWallet), Amount: 101_000},
	}
	if !reflect.DeepEqual(outcome.Effects, want) {
		t.Fatalf("unexpected effects %+v", outcome.Effects)
	}

	svc, _ := h.engine.Service()
	if svc.AccumulatedFee != 50 || svc.TotalDonations != 1000 || svc.TotalDroppedFee != 0 {
		t.Fatalf("unexpected service totals %+v", svc)
	}
	if balance, _ := svc.ActiveBalances.Balance(id); balance != 950 {
		t.Fatalf("unexpected active balance %d", balance)
	}
	campaign, _ := h.engine.Campaign(id)
	if campaign.CollectedAmount != 950 {
		t.Fatalf("unexpected collected amount %d", campaign.CollectedAmount)
	}
	if top := campaign.LocalTop.Top(1); len(top) != 1 || top[0].Wallet != rewardWallet || top[0].Amount != 1000 {
		t.Fatalf("unexpected local ranking %+v", top)
	}
	record, _ := h.engine.Contributor(id, donor)
	if record.CumulativeAmount != 1000 || record.RewardWallet != rewardWallet {
		t.Fatalf("unexpected record %+v", record)
	}
	emitted := h.events.Drain()
	if len(emitted) != 1 || emitted[0].Type != EventTypeContributed || emitted[0].Attributes["fee"] != "50" {
		t.Fatalf("unexpected events %+v", emitted)
	}
}

func TestContributeCurrencyFeeExemption(t *testing.T) {
	params := DefaultParams()
	params.FeePercent = 5
	params.FeeExemptionThreshold = 1
	h := newHarness(t, params)
	id := h.create(t, wallet(1))

	if _, err := h.engine.ContributeToken(wallet(2), id, 1, PurposeFeeExemption); err != nil {
		t.Fatalf("token: %v", err)
	}
	if outcome := h.contribute(t, wallet(2), id, 1000); outcome.Fee != 50 {
		t.Fatalf("threshold reached but not exceeded should still charge: %+v", outcome)
	}
	if _, err := h.engine.ContributeToken(wallet(2), id, 1, PurposeFeeExemption); err != nil {
		t.Fatalf("token: %v", err)
	}
	outcome := h.contribute(t, wallet(2), id, 1000)
	if outcome.Fee != 0 || outcome.Net != 1000 || outcome.DroppedFee != 50 {
		t.Fatalf("unexpected exempt outcome %+v", outcome)
	}
	svc, _ := h.engine.Service()
	if svc.TotalDroppedFee != 50 || svc.AccumulatedFee != 50 {
		t.Fatalf("unexpected fee totals %+v", svc)
	}
}

func TestContributeCurrencyRejects(t *testing.T) {
	h := newHarness(t, DefaultParams())
	id := h.create(t, wallet(1))

	before := h.state.snapshot()
	if _, err := h.engine.ContributeCurrency(wallet(2), id, 0, wallet(2)); !errors.Is(err, ErrZeroAmount) {
		t.Fatalf("expected zero amount, got %v", err)
	}
	if _, err := h.engine.ContributeCurrency(wallet(2), 42, 10, wallet(2)); !errors.Is(err, ErrCampaignNotFound) {
		t.Fatalf("expected campaign not found, got %v", err)
	}
	if _, err := h.engine.ContributeCurrency(wallet(2), id, ^uint64(0), wallet(2)); !errors.Is(err, ErrArithmeticOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
	if !reflect.DeepEqual(before, h.state.snapshot()) {
		t.Fatalf("rejected contributions mutated state")
	}
	if len(h.events.Drain()) != 0 {
		t.Fatalf("rejected contributions emitted events")
	}

	if _, err := h.engine.Withdraw(wallet(1), id); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if _, err := h.engine.ContributeCurrency(wallet(2), id, 10, wallet(2)); !errors.Is(err, ErrCampaignFinished) {
		t.Fatalf("expected campaign finished, got %v", err)
	}
}

func TestContributeTokenAcceptsFinishedCampaign(t *testing.T) {
	h := newHarness(t, DefaultParams())
	id := h.create(t, wallet(1))
	if _, err := h.engine.Withdraw(wallet(1), id); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	outcome, err := h.engine.ContributeToken(wallet(2), id, 7, PurposeCancellation)
	if err != nil {
		t.Fatalf("token on finished campaign: %v", err)
	}
	if len(outcome.Effects) != 1 || outcome.Effects[0].Kind != EffectTokenTransfer || outcome.Effects[0].Amount != 7 {
		t.Fatalf("unexpected effects %+v", outcome.Effects)
	}
	campaign, _ := h.engine.Campaign(id)
	if campaign.CancellationTokenTotal != 7 || campaign.FeeExemptTokenTotal != 0 {
		t.Fatalf("unexpected token totals %+v", campaign)
	}
	if _, err := h.engine.ContributeToken(wallet(2), id, 7, TokenPurpose(9)); !errors.Is(err, errInvalidPurpose) {
		t.Fatalf("expected invalid purpose, got %v", err)
	}
}

func TestWithdrawTwiceIsSafe(t *testing.T) {
	h := newHarness(t, zeroFeeParams())
	owner := wallet(1)
	id := h.create(t, owner)
	h.contribute(t, wallet(2), id, 500)

	if _, err := h.engine.Withdraw(wallet(9), id); !errors.Is(err, ErrNotCampaignOwner) {
		t.Fatalf("expected not campaign owner, got %v", err)
	}
	first, err := h.engine.Withdraw(owner, id)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if first.Withdrawn != 500 || len(first.Effects) != 1 || first.Effects[0].To != AccountCustody(owner) {
		t.Fatalf("unexpected first withdrawal %+v", first)
	}
	second, err := h.engine.Withdraw(owner, id)
	if err != nil {
		t.Fatalf("second withdraw: %v", err)
	}
	if second.Withdrawn != 0 || len(second.Effects) != 0 {
		t.Fatalf("second withdrawal moved funds %+v", second)
	}
	svc, _ := h.engine.Service()
	if svc.ActiveBalances.Len() != 0 {
		t.Fatalf("finished campaign still indexed")
	}
}

func TestActiveCampaignLimit(t *testing.T) {
	h := newHarness(t, DefaultParams())
	for i := 0; i < MaxActiveCampaigns; i++ {
		h.create(t, wallet(1))
	}
	if _, err := h.engine.CreateCampaign(wallet(1)); !errors.Is(err, ErrActiveLimitExceeded) {
		t.Fatalf("expected active limit, got %v", err)
	}
	if _, err := h.engine.Withdraw(wallet(1), 17); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	id := h.create(t, wallet(1))
	if id != MaxActiveCampaigns {
		t.Fatalf("expected fresh id %d, got %d", MaxActiveCampaigns, id)
	}
}

func TestCancelRedistributesScenario(t *testing.T) {
	h := newHarness(t, zeroFeeParams())
	ids := []uint64{h.create(t, wallet(1)), h.create(t, wallet(2)), h.create(t, wallet(3))}
	for i, amount := range []uint64{100, 200, 300} {
		h.contribute(t, wallet(0x10), ids[i], amount)
	}

	if _, err := h.engine.Cancel(wallet(9), ids[2]); !errors.Is(err, ErrInsufficientCancellationTokens) {
		t.Fatalf("expected insufficient tokens, got %v", err)
	}
	if _, err := h.engine.ContributeToken(wallet(9), ids[2], 11, PurposeCancellation); err != nil {
		t.Fatalf("token: %v", err)
	}
	h.events.Drain()

	outcome, err := h.engine.Cancel(wallet(9), ids[2])
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if outcome.Redistributed != 300 || outcome.Remainder != 0 {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
	want := []Effect{
		{Kind: EffectCurrencyTransfer, From: CampaignCustody(ids[2]), To: CampaignCustody(ids[0]), Amount: 100},
		{Kind: EffectCurrencyTransfer, From: CampaignCustody(ids[2]), To: CampaignCustody(ids[1]), Amount: 200},
	}
	if !reflect.DeepEqual(outcome.Effects, want) {
		t.Fatalf("unexpected effects %+v", outcome.Effects)
	}

	svc, _ := h.engine.Service()
	if _, err := svc.ActiveBalances.Find(ids[2]); !errors.Is(err, ErrNotFound) {
		t.Fatalf("canceled campaign still indexed")
	}
	for i, expected := range []uint64{200, 400} {
		if balance, _ := svc.ActiveBalances.Balance(ids[i]); balance != expected {
			t.Fatalf("campaign %d: expected balance %d, got %d", ids[i], expected, balance)
		}
		campaign, _ := h.engine.Campaign(ids[i])
		if campaign.CollectedAmount != expected {
			t.Fatalf("campaign %d: expected collected %d, got %d", ids[i], expected, campaign.CollectedAmount)
		}
	}
	if svc.TotalCanceledFunds != 300 {
		t.Fatalf("unexpected canceled funds %d", svc.TotalCanceledFunds)
	}
	canceled, _ := h.engine.Campaign(ids[2])
	if !canceled.IsFinished || canceled.CollectedAmount != 0 {
		t.Fatalf("unexpected canceled campaign %+v", canceled)
	}
	if _, err := h.engine.Cancel(wallet(9), ids[2]); !errors.Is(err, ErrCampaignFinished) {
		t.Fatalf("expected finished, got %v", err)
	}
	emitted := h.events.Drain()
	if len(emitted) != 1 || emitted[0].Type != EventTypeCanceled || emitted[0].Attributes["recipients"] != "2" {
		t.Fatalf("unexpected events %+v", emitted)
	}
}

func TestCancelRoundingStaysWithinPool(t *testing.T) {
	h := newHarness(t, zeroFeeParams())
	ids := []uint64{h.create(t, wallet(1)), h.create(t, wallet(2)), h.create(t, wallet(3)), h.create(t, wallet(4))}
	for i, amount := range []uint64{1, 1, 1, 10} {
		h.contribute(t, wallet(0x10), ids[i], amount)
	}
	if _, err := h.engine.ContributeToken(wallet(9), ids[3], 11, PurposeCancellation); err != nil {
		t.Fatalf("token: %v", err)
	}
	before, _ := h.engine.Service()
	outcome, err := h.engine.Cancel(wallet(9), ids[3])
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if outcome.Redistributed != 9 || outcome.Remainder != 1 {
		t.Fatalf("unexpected rounding outcome %+v", outcome)
	}
	if len(outcome.Effects) != 3 {
		t.Fatalf("expected one escrow transfer per recipient, got %+v", outcome.Effects)
	}
	after, _ := h.engine.Service()
	remaining := before.ActiveBalances.TotalBalance().Uint64() - 10
	if grown := after.ActiveBalances.TotalBalance().Uint64() - remaining; grown != outcome.Redistributed {
		t.Fatalf("index grew by %d, expected %d", grown, outcome.Redistributed)
	}
	canceled, _ := h.engine.Campaign(ids[3])
	if canceled.CollectedAmount != outcome.Remainder {
		t.Fatalf("expected remainder %d to stay collected, got %d", outcome.Remainder, canceled.CollectedAmount)
	}

	withdrawal, err := h.engine.Withdraw(wallet(4), ids[3])
	if err != nil {
		t.Fatalf("withdraw remainder: %v", err)
	}
	if withdrawal.Withdrawn != 1 {
		t.Fatalf("expected remainder to be withdrawable, got %d", withdrawal.Withdrawn)
	}
	want := []Effect{{Kind: EffectCurrencyTransfer, From: CampaignCustody(ids[3]), To: AccountCustody(wallet(4)), Amount: 1}}
	if !reflect.DeepEqual(withdrawal.Effects, want) {
		t.Fatalf("unexpected withdrawal effects %+v", withdrawal.Effects)
	}
}

func TestCancelWithNoRemainingCampaignsKeepsFunds(t *testing.T) {
	h := newHarness(t, zeroFeeParams())
	owner := wallet(1)
	id := h.create(t, owner)
	h.contribute(t, wallet(2), id, 250)
	if _, err := h.engine.ContributeToken(wallet(9), id, 11, PurposeCancellation); err != nil {
		t.Fatalf("token: %v", err)
	}
	outcome, err := h.engine.Cancel(wallet(9), id)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if len(outcome.Effects) != 0 || outcome.Redistributed != 0 || outcome.Remainder != 250 {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
	withdrawal, err := h.engine.Withdraw(owner, id)
	if err != nil {
		t.Fatalf("withdraw after lone cancel: %v", err)
	}
	if withdrawal.Withdrawn != 250 {
		t.Fatalf("expected retained funds to be withdrawable, got %d", withdrawal.Withdrawn)
	}
}

func TestRewardTopDonaters(t *testing.T) {
	params := zeroFeeParams()
	params.RewardAmount = 77
	h := newHarness(t, params)
	id := h.create(t, wallet(1))
	for i := 1; i <= 4; i++ {
		h.contribute(t, wallet(byte(0x20+i)), id, uint64(i*10))
	}
	winners := [][20]byte{wallet(0x24), wallet(0x23), wallet(0x22)}

	h.now = 1_050
	h.events.Drain()
	if _, err := h.engine.RewardTopDonaters(h.owner, winners); !errors.Is(err, ErrTooEarly) {
		t.Fatalf("expected too early, got %v", err)
	}
	if len(h.events.Drain()) != 0 {
		t.Fatalf("early payout emitted events")
	}

	h.now = 1_100
	if _, err := h.engine.RewardTopDonaters(wallet(0x24), winners); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected not owner, got %v", err)
	}
	swapped := [][20]byte{winners[1], winners[0], winners[2]}
	if _, err := h.engine.RewardTopDonaters(h.owner, swapped); !errors.Is(err, ErrInvalidWalletAccount) {
		t.Fatalf("expected wallet mismatch, got %v", err)
	}
	if _, err := h.engine.RewardTopDonaters(h.owner, winners[:2]); !errors.Is(err, ErrInvalidWalletAccount) {
		t.Fatalf("expected wallet mismatch for short list, got %v", err)
	}

	outcome, err := h.engine.RewardTopDonaters(h.owner, winners)
	if err != nil {
		t.Fatalf("reward: %v", err)
	}
	if len(outcome.Effects) != RewardedRanks || outcome.Reward != 3*77 {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
	for i, effect := range outcome.Effects {
		if effect.Kind != EffectTokenMint || effect.To != AccountCustody(winners[i]) || effect.Amount != 77 {
			t.Fatalf("unexpected effect %d: %+v", i, effect)
		}
	}
	svc, _ := h.engine.Service()
	if svc.RewardCooldownUntil != 1_100 {
		t.Fatalf("cooldown should reset to payout time, got %d", svc.RewardCooldownUntil)
	}
}

func TestRewardWalletFollowsLatestContribution(t *testing.T) {
	h := newHarness(t, zeroFeeParams())
	id := h.create(t, wallet(1))
	donor := wallet(2)
	if _, err := h.engine.ContributeCurrency(donor, id, 10, wallet(3)); err != nil {
		t.Fatalf("contribute: %v", err)
	}
	if _, err := h.engine.ContributeCurrency(donor, id, 10, wallet(4)); err != nil {
		t.Fatalf("contribute: %v", err)
	}
	record, _ := h.engine.Contributor(id, donor)
	if record.RewardWallet != wallet(4) || record.CumulativeAmount != 20 {
		t.Fatalf("unexpected record %+v", record)
	}
	svc, _ := h.engine.Service()
	top := svc.GlobalTop.Top(2)
	if len(top) != 2 || top[0].Wallet != wallet(4) || top[0].Amount != 20 || top[1].Wallet != wallet(3) {
		t.Fatalf("unexpected ranking %+v", top)
	}
}

func TestWithdrawFeeAndUpdateParams(t *testing.T) {
	params := DefaultParams()
	params.FeePercent = 10
	h := newHarness(t, params)
	id := h.create(t, wallet(1))
	h.contribute(t, wallet(2), id, 1_000)

	if _, err := h.engine.WithdrawFee(wallet(2)); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected not owner, got %v", err)
	}
	outcome, err := h.engine.WithdrawFee(h.owner)
	if err != nil {
		t.Fatalf("withdraw fee: %v", err)
	}
	if outcome.Withdrawn != 100 || outcome.Effects[0].From != ServiceCustody() {
		t.Fatalf("unexpected outcome %+v", outcome)
	}

	updated := params
	updated.FeePercent = 0
	if _, err := h.engine.UpdateParams(wallet(2), updated); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected not owner, got %v", err)
	}
	svc, err := h.engine.UpdateParams(h.owner, updated)
	if err != nil {
		t.Fatalf("update params: %v", err)
	}
	if svc.FeePercent != 0 || svc.AccumulatedFee != 0 {
		t.Fatalf("unexpected service %+v", svc)
	}
	if outcome := h.contribute(t, wallet(2), id, 1_000); outcome.Fee != 0 {
		t.Fatalf("fee charged after update: %+v", outcome)
	}
}

func TestContributorUnknownReturnsZeroRecord(t *testing.T) {
	h := newHarness(t, DefaultParams())
	record, err := h.engine.Contributor(3, wallet(5))
	if err != nil {
		t.Fatalf("contributor: %v", err)
	}
	if record.CumulativeAmount != 0 || record.CampaignID != 3 || record.Contributor != wallet(5) {
		t.Fatalf("unexpected record %+v", record)
	}
}
