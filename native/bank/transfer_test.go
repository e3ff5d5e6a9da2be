package bank

import (
	"errors"
	"math/big"
	"testing"

	ledgerstate "charityledger/core/state"
	"charityledger/native/donation"
	"charityledger/storage"
)

func newTestExecutor(t *testing.T) (*Executor, *ledgerstate.Manager) {
	t.Helper()
	mgr := ledgerstate.NewManager(storage.NewMemDB())
	if err := RegisterTokens(mgr); err != nil {
		t.Fatalf("register tokens: %v", err)
	}
	if err := RegisterTokens(mgr); err != nil {
		t.Fatalf("re-register tokens: %v", err)
	}
	return NewExecutor(mgr), mgr
}

func account(last byte) [20]byte {
	var out [20]byte
	out[19] = last
	return out
}

func balanceOf(t *testing.T, mgr *ledgerstate.Manager, addr [20]byte, symbol string) int64 {
	t.Helper()
	balance, err := mgr.Balance(addr[:], symbol)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return balance.Int64()
}

func TestCustodyAddressesAreDistinct(t *testing.T) {
	if CampaignAddress(1) == CampaignAddress(2) {
		t.Fatalf("campaign custodies collide")
	}
	if CampaignAddress(0) == ServiceAddress() {
		t.Fatalf("campaign custody collides with the vault")
	}
	resolved, err := Resolve(donation.CampaignCustody(7))
	if err != nil || resolved != CampaignAddress(7) {
		t.Fatalf("unexpected resolution %x err %v", resolved, err)
	}
	if _, err := Resolve(donation.Custody{}); err == nil {
		t.Fatalf("expected empty custody to fail")
	}
}

func TestApplyContributionEffects(t *testing.T) {
	exec, mgr := newTestExecutor(t)
	donor := account(1)
	if err := exec.Credit(SymbolNative, donor, big.NewInt(1_000)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	effects := []donation.Effect{
		{Kind: donation.EffectCurrencyTransfer, From: donation.AccountCustody(donor), To: donation.CampaignCustody(3), Amount: 950},
		{Kind: donation.EffectCurrencyTransfer, From: donation.AccountCustody(donor), To: donation.ServiceCustody(), Amount: 50},
		{Kind: donation.EffectTokenMint, To: donation.AccountCustody(donor), Amount: 101_000},
	}
	if err := exec.Apply(effects); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got := balanceOf(t, mgr, donor, SymbolNative); got != 0 {
		t.Fatalf("donor balance %d", got)
	}
	if got := balanceOf(t, mgr, CampaignAddress(3), SymbolNative); got != 950 {
		t.Fatalf("campaign escrow %d", got)
	}
	if got := balanceOf(t, mgr, ServiceAddress(), SymbolNative); got != 50 {
		t.Fatalf("vault %d", got)
	}
	if got := balanceOf(t, mgr, donor, SymbolLoyalty); got != 101_000 {
		t.Fatalf("loyalty balance %d", got)
	}
	supply, err := mgr.Supply(SymbolLoyalty)
	if err != nil || supply.Int64() != 101_000 {
		t.Fatalf("unexpected supply %v err %v", supply, err)
	}
}

func TestApplyRejectsInsufficientBalance(t *testing.T) {
	exec, mgr := newTestExecutor(t)
	donor := account(1)
	if err := exec.Credit(SymbolLoyalty, donor, big.NewInt(5)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	err := exec.Apply([]donation.Effect{
		{Kind: donation.EffectTokenTransfer, From: donation.AccountCustody(donor), To: donation.CampaignCustody(0), Amount: 6},
	})
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	if got := balanceOf(t, mgr, donor, SymbolLoyalty); got != 5 {
		t.Fatalf("failed transfer changed the source: %d", got)
	}
}

func TestMintRequiresVaultAuthority(t *testing.T) {
	exec, mgr := newTestExecutor(t)
	if err := mgr.SetTokenMintPaused(SymbolLoyalty, true); err != nil {
		t.Fatalf("pause: %v", err)
	}
	err := exec.Apply([]donation.Effect{
		{Kind: donation.EffectTokenMint, To: donation.AccountCustody(account(2)), Amount: 1},
	})
	if !errors.Is(err, ErrMintUnauthorized) {
		t.Fatalf("expected unauthorised mint, got %v", err)
	}
}
