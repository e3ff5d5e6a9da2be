package bank

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	ledgerstate "charityledger/core/state"
	"charityledger/crypto"
	"charityledger/native/donation"
)

const (
	// SymbolNative is the settlement currency contributions are made in.
	SymbolNative = "NATIVE"
	// SymbolLoyalty is the loyalty token minted as contribution rewards.
	SymbolLoyalty = "CHRT"
)

var (
	// ErrInsufficientBalance is returned when a transfer source cannot cover the amount.
	ErrInsufficientBalance = errors.New("bank: insufficient balance")
	// ErrMintUnauthorized is returned when the loyalty token is not mintable by the service vault.
	ErrMintUnauthorized = errors.New("bank: mint not authorised")

	serviceLabel        = []byte("donation/service")
	campaignLabelPrefix = []byte("donation/campaign/")
)

// Ledger is the balance store the executor mutates.
type Ledger interface {
	Balance(addr []byte, symbol string) (*big.Int, error)
	SetBalance(addr []byte, symbol string, amount *big.Int) error
	AdjustSupply(symbol string, delta *big.Int) error
	Token(symbol string) (*ledgerstate.TokenMetadata, error)
	TokenExists(symbol string) bool
	RegisterToken(symbol, name string, decimals uint8) error
	SetTokenMintAuthority(symbol string, authority []byte) error
}

// ServiceAddress is the custody address of the fee vault. It is also the mint
// authority of the loyalty token.
func ServiceAddress() [20]byte {
	return crypto.DeriveCustodyAddress(serviceLabel)
}

// CampaignAddress is the custody address escrowing campaign id.
func CampaignAddress(id uint64) [20]byte {
	label := make([]byte, len(campaignLabelPrefix)+8)
	copy(label, campaignLabelPrefix)
	binary.BigEndian.PutUint64(label[len(campaignLabelPrefix):], id)
	return crypto.DeriveCustodyAddress(label)
}

// Resolve maps a custody to the address whose balance backs it.
func Resolve(c donation.Custody) ([20]byte, error) {
	switch c.Kind {
	case donation.CustodyAccount:
		return c.Account, nil
	case donation.CustodyCampaign:
		return CampaignAddress(c.CampaignID), nil
	case donation.CustodyService:
		return ServiceAddress(), nil
	default:
		return [20]byte{}, fmt.Errorf("bank: unresolvable custody %s", c)
	}
}

// FormatCustody renders a custody address with the custody prefix so it cannot
// be mistaken for a participant address.
func FormatCustody(addr [20]byte) string {
	return crypto.NewAddress(crypto.CustodyPrefix, addr[:]).String()
}

// RegisterTokens registers the settlement currency and loyalty token and hands
// loyalty minting to the service vault. Already registered tokens are skipped.
func RegisterTokens(ledger Ledger) error {
	if ledger == nil {
		return fmt.Errorf("bank: state manager required")
	}
	if !ledger.TokenExists(SymbolNative) {
		if err := ledger.RegisterToken(SymbolNative, "Settlement Currency", 0); err != nil {
			return err
		}
	}
	if !ledger.TokenExists(SymbolLoyalty) {
		if err := ledger.RegisterToken(SymbolLoyalty, "Charity Loyalty Token", 0); err != nil {
			return err
		}
		vault := ServiceAddress()
		if err := ledger.SetTokenMintAuthority(SymbolLoyalty, vault[:]); err != nil {
			return err
		}
	}
	return nil
}

// Executor applies donation effects to a ledger. Effects are applied in order;
// the caller must discard the surrounding journal when Apply fails.
type Executor struct {
	ledger Ledger
}

// NewExecutor binds an executor to ledger.
func NewExecutor(ledger Ledger) *Executor {
	return &Executor{ledger: ledger}
}

// Apply executes every effect.
func (e *Executor) Apply(effects []donation.Effect) error {
	if e == nil || e.ledger == nil {
		return fmt.Errorf("bank: state manager required")
	}
	for i, effect := range effects {
		if err := e.apply(effect); err != nil {
			return fmt.Errorf("bank: effect %d (%s): %w", i, effect.Kind, err)
		}
	}
	return nil
}

func (e *Executor) apply(effect donation.Effect) error {
	amount := new(big.Int).SetUint64(effect.Amount)
	if amount.Sign() == 0 {
		return nil
	}
	to, err := Resolve(effect.To)
	if err != nil {
		return err
	}
	switch effect.Kind {
	case donation.EffectCurrencyTransfer:
		from, err := Resolve(effect.From)
		if err != nil {
			return err
		}
		return e.transfer(SymbolNative, from, to, amount)
	case donation.EffectTokenTransfer:
		from, err := Resolve(effect.From)
		if err != nil {
			return err
		}
		return e.transfer(SymbolLoyalty, from, to, amount)
	case donation.EffectTokenMint:
		return e.mint(SymbolLoyalty, to, amount)
	default:
		return fmt.Errorf("unknown effect kind %q", effect.Kind)
	}
}

// Transfer moves amount of symbol between two addresses, failing without any
// write when the source balance is short.
func (e *Executor) Transfer(symbol string, from, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return nil
	}
	return e.transfer(symbol, from, to, amount)
}

func (e *Executor) transfer(symbol string, from, to [20]byte, amount *big.Int) error {
	source, err := e.ledger.Balance(from[:], symbol)
	if err != nil {
		return err
	}
	if source.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s has %s %s, needs %s", ErrInsufficientBalance, crypto.FormatAddress(from), source, symbol, amount)
	}
	if from == to {
		return nil
	}
	if err := e.ledger.SetBalance(from[:], symbol, new(big.Int).Sub(source, amount)); err != nil {
		return err
	}
	dest, err := e.ledger.Balance(to[:], symbol)
	if err != nil {
		return err
	}
	return e.ledger.SetBalance(to[:], symbol, new(big.Int).Add(dest, amount))
}

func (e *Executor) mint(symbol string, to [20]byte, amount *big.Int) error {
	meta, err := e.ledger.Token(symbol)
	if err != nil {
		return err
	}
	vault := ServiceAddress()
	if meta == nil || meta.MintPaused || !bytes.Equal(meta.MintAuthority, vault[:]) {
		return ErrMintUnauthorized
	}
	dest, err := e.ledger.Balance(to[:], symbol)
	if err != nil {
		return err
	}
	if err := e.ledger.SetBalance(to[:], symbol, new(big.Int).Add(dest, amount)); err != nil {
		return err
	}
	return e.ledger.AdjustSupply(symbol, amount)
}

// Credit adds amount of symbol to addr and records it as new supply. It is used
// to seed genesis balances.
func (e *Executor) Credit(symbol string, addr [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return nil
	}
	current, err := e.ledger.Balance(addr[:], symbol)
	if err != nil {
		return err
	}
	if err := e.ledger.SetBalance(addr[:], symbol, new(big.Int).Add(current, amount)); err != nil {
		return err
	}
	return e.ledger.AdjustSupply(symbol, amount)
}
