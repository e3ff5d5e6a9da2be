package core

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"lukechampine.com/blake3"

	"charityledger/core/events"
	ledgerstate "charityledger/core/state"
	"charityledger/native/bank"
	"charityledger/native/donation"
	"charityledger/observability"
	telemetry "charityledger/observability/otel"
	"charityledger/storage"
)

var (
	receiptSeqKey = []byte("receipt/sequence")
	lastNowKey    = []byte("clock/last")
	genesisKey    = []byte("genesis/applied")
)

// Receipt describes one committed request.
type Receipt struct {
	ID        string            `json:"id"`
	Sequence  uint64            `json:"sequence"`
	Operation string            `json:"operation"`
	Timestamp int64             `json:"timestamp"`
	Outcome   *donation.Outcome `json:"outcome"`
	Events    []events.Event    `json:"events"`
}

// Node is the single writer of the donation ledger. Every request runs on a
// fresh journal: the engine mutates state, the bank executes the returned
// effects, and both commit together or not at all. Events are released to the
// emitter only after the commit succeeded.
type Node struct {
	db      storage.Database
	clock   clockwork.Clock
	emitter events.Emitter
	logger  *slog.Logger

	stateMu sync.RWMutex
}

// Option customises a Node.
type Option func(*Node)

// WithClock overrides the wall clock.
func WithClock(clock clockwork.Clock) Option {
	return func(n *Node) {
		if clock != nil {
			n.clock = clock
		}
	}
}

// WithEmitter installs the downstream event subscriber.
func WithEmitter(emitter events.Emitter) Option {
	return func(n *Node) {
		if emitter != nil {
			n.emitter = emitter
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(n *Node) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// NewNode wraps db. The database must outlive the node.
func NewNode(db storage.Database, opts ...Option) (*Node, error) {
	if db == nil {
		return nil, errors.New("core: database required")
	}
	n := &Node{
		db:      db,
		clock:   clockwork.NewRealClock(),
		emitter: events.NoopEmitter{},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// GenesisAccount seeds a balance on first start.
type GenesisAccount struct {
	Address [20]byte
	Native  uint64
	Loyalty uint64
}

// Bootstrap registers the ledger tokens, creates the service ledger when it
// does not exist yet and credits the genesis accounts exactly once.
func (n *Node) Bootstrap(ctx context.Context, owner [20]byte, params donation.Params, accounts []GenesisAccount) error {
	_, err := n.run(ctx, "bootstrap", func(mgr *ledgerstate.Manager, engine *donation.Engine) (*donation.Outcome, error) {
		if err := bank.RegisterTokens(mgr); err != nil {
			return nil, err
		}
		if _, err := engine.Service(); errors.Is(err, donation.ErrNotInitialized) {
			if _, err := engine.InitializeService(owner, params); err != nil {
				return nil, err
			}
		} else if err != nil {
			return nil, err
		}
		var applied bool
		if _, err := mgr.KVGet(genesisKey, &applied); err != nil {
			return nil, err
		}
		if applied {
			return &donation.Outcome{}, nil
		}
		exec := bank.NewExecutor(mgr)
		for _, acct := range accounts {
			if err := exec.Credit(bank.SymbolNative, acct.Address, new(big.Int).SetUint64(acct.Native)); err != nil {
				return nil, err
			}
			if err := exec.Credit(bank.SymbolLoyalty, acct.Address, new(big.Int).SetUint64(acct.Loyalty)); err != nil {
				return nil, err
			}
		}
		if err := mgr.KVPut(genesisKey, true); err != nil {
			return nil, err
		}
		return &donation.Outcome{}, nil
	})
	return err
}

// PatchParams overlays patch on the parameters committed at the time the write
// lock is held.
func (n *Node) PatchParams(ctx context.Context, caller [20]byte, patch donation.ParamsPatch) (*Receipt, error) {
	return n.run(ctx, "update_params", func(_ *ledgerstate.Manager, engine *donation.Engine) (*donation.Outcome, error) {
		svc, err := engine.Service()
		if err != nil {
			return nil, err
		}
		if _, err := engine.UpdateParams(caller, patch.Apply(svc.Params())); err != nil {
			return nil, err
		}
		return &donation.Outcome{}, nil
	})
}

// CreateCampaign opens a campaign owned by caller. The receipt outcome carries
// the new campaign id.
func (n *Node) CreateCampaign(ctx context.Context, caller [20]byte) (*Receipt, error) {
	return n.run(ctx, "create_campaign", func(_ *ledgerstate.Manager, engine *donation.Engine) (*donation.Outcome, error) {
		campaign, err := engine.CreateCampaign(caller)
		if err != nil {
			return nil, err
		}
		return &donation.Outcome{CampaignID: campaign.ID}, nil
	})
}

// ContributeCurrency records a settlement currency contribution to campaign id.
func (n *Node) ContributeCurrency(ctx context.Context, caller [20]byte, id, amount uint64, rewardWallet [20]byte) (*Receipt, error) {
	return n.run(ctx, "contribute_currency", func(_ *ledgerstate.Manager, engine *donation.Engine) (*donation.Outcome, error) {
		return engine.ContributeCurrency(caller, id, amount, rewardWallet)
	})
}

// ContributeToken escrows loyalty tokens toward a campaign threshold.
func (n *Node) ContributeToken(ctx context.Context, caller [20]byte, id, amount uint64, purpose donation.TokenPurpose) (*Receipt, error) {
	return n.run(ctx, "contribute_token", func(_ *ledgerstate.Manager, engine *donation.Engine) (*donation.Outcome, error) {
		return engine.ContributeToken(caller, id, amount, purpose)
	})
}

// Withdraw pays a campaign's collected funds to its owner.
func (n *Node) Withdraw(ctx context.Context, caller [20]byte, id uint64) (*Receipt, error) {
	return n.run(ctx, "withdraw", func(_ *ledgerstate.Manager, engine *donation.Engine) (*donation.Outcome, error) {
		return engine.Withdraw(caller, id)
	})
}

// Cancel redistributes a campaign's pool across the active campaigns.
func (n *Node) Cancel(ctx context.Context, caller [20]byte, id uint64) (*Receipt, error) {
	receipt, err := n.run(ctx, "cancel", func(_ *ledgerstate.Manager, engine *donation.Engine) (*donation.Outcome, error) {
		return engine.Cancel(caller, id)
	})
	if err == nil && receipt.Outcome.Redistributed > 0 {
		observability.Donation().RecordDust(receipt.Outcome.Remainder)
	}
	return receipt, err
}

// RewardTopDonaters mints the reward to the leading global contributors.
func (n *Node) RewardTopDonaters(ctx context.Context, caller [20]byte, wallets [][20]byte) (*Receipt, error) {
	return n.run(ctx, "reward_top_donaters", func(_ *ledgerstate.Manager, engine *donation.Engine) (*donation.Outcome, error) {
		return engine.RewardTopDonaters(caller, wallets)
	})
}

// WithdrawFee pays the accumulated service fee to the owner.
func (n *Node) WithdrawFee(ctx context.Context, caller [20]byte) (*Receipt, error) {
	return n.run(ctx, "withdraw_fee", func(_ *ledgerstate.Manager, engine *donation.Engine) (*donation.Outcome, error) {
		return engine.WithdrawFee(caller)
	})
}

// Service returns the committed service ledger.
func (n *Node) Service() (*donation.ServiceLedger, error) {
	n.stateMu.RLock()
	defer n.stateMu.RUnlock()
	return n.readEngine().Service()
}

// Campaign returns committed campaign id.
func (n *Node) Campaign(id uint64) (*donation.Campaign, error) {
	n.stateMu.RLock()
	defer n.stateMu.RUnlock()
	return n.readEngine().Campaign(id)
}

// Contributor returns the committed record of contributor in campaign id.
func (n *Node) Contributor(id uint64, contributor [20]byte) (*donation.ContributorRecord, error) {
	n.stateMu.RLock()
	defer n.stateMu.RUnlock()
	return n.readEngine().Contributor(id, contributor)
}

// Rankings returns the service-wide leaderboard, highest first.
func (n *Node) Rankings() ([]donation.RankEntry, error) {
	svc, err := n.Service()
	if err != nil {
		return nil, err
	}
	return svc.GlobalTop.Top(donation.GlobalRankingSize), nil
}

// Balances returns the settlement and loyalty balances held by addr.
func (n *Node) Balances(addr [20]byte) (map[string]*big.Int, error) {
	n.stateMu.RLock()
	defer n.stateMu.RUnlock()
	mgr := ledgerstate.NewManager(n.db)
	out := make(map[string]*big.Int, 2)
	for _, symbol := range []string{bank.SymbolNative, bank.SymbolLoyalty} {
		balance, err := mgr.Balance(addr[:], symbol)
		if err != nil {
			return nil, err
		}
		out[symbol] = balance
	}
	return out, nil
}

func (n *Node) readEngine() *donation.Engine {
	engine := donation.NewEngine()
	engine.SetState(ledgerstate.NewManager(n.db))
	return engine
}

type operation func(mgr *ledgerstate.Manager, engine *donation.Engine) (*donation.Outcome, error)

func (n *Node) run(ctx context.Context, name string, op operation) (*Receipt, error) {
	ctx, span := telemetry.Tracer("charityledger/core").Start(ctx, "donation."+name)
	defer span.End()

	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	start := n.clock.Now()
	receipt, err := n.execute(name, op)
	observability.Donation().RecordOperation(name, err, n.clock.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		level := slog.LevelInfo
		if donation.IsInternal(err) {
			level = slog.LevelError
		}
		n.logger.Log(ctx, level, "operation rejected", "operation", name, "error", err)
		return nil, err
	}
	span.SetAttributes(
		attribute.String("receipt", receipt.ID),
		attribute.Int("effects", len(receipt.Outcome.Effects)),
	)
	n.logger.Debug("operation committed", "operation", name, "receipt", receipt.ID, "effects", len(receipt.Outcome.Effects))

	for _, evt := range receipt.Events {
		n.emitter.Emit(evt)
	}
	if svc, _, err := ledgerstate.NewManager(n.db).DonationServiceGet(); err == nil && svc != nil {
		observability.Donation().ObserveLedger(svc.ActiveBalances.Len(), svc.AccumulatedFee, svc.TotalDonations, svc.TotalCanceledFunds)
	}
	return receipt, nil
}

// execute runs op against a journal. Nothing reaches the database unless every
// step succeeds.
func (n *Node) execute(name string, op operation) (*Receipt, error) {
	journal := storage.NewJournal(n.db)
	mgr := ledgerstate.NewManager(journal)
	buffer := &events.Buffer{}

	now, err := n.monotonicNow(mgr)
	if err != nil {
		return nil, err
	}
	engine := donation.NewEngine()
	engine.SetState(mgr)
	engine.SetEmitter(buffer)
	engine.SetNowFunc(func() int64 { return now })

	outcome, err := op(mgr, engine)
	if err != nil {
		journal.Discard()
		return nil, err
	}
	if err := bank.NewExecutor(mgr).Apply(outcome.Effects); err != nil {
		journal.Discard()
		return nil, err
	}

	var seq uint64
	if _, err := mgr.KVGet(receiptSeqKey, &seq); err != nil {
		journal.Discard()
		return nil, err
	}
	seq++
	if err := mgr.KVPut(receiptSeqKey, seq); err != nil {
		journal.Discard()
		return nil, err
	}
	if err := journal.Commit(); err != nil {
		journal.Discard()
		return nil, fmt.Errorf("core: commit %s: %w", name, err)
	}
	id := receiptID(seq, name, now, outcome)
	emitted := buffer.Drain()
	for i := range emitted {
		if emitted[i].Attributes == nil {
			emitted[i].Attributes = make(map[string]string, 3)
		}
		emitted[i].Attributes["receipt"] = id
		emitted[i].Attributes["sequence"] = strconv.FormatUint(seq, 10)
		emitted[i].Attributes["timestamp"] = strconv.FormatInt(now, 10)
	}
	return &Receipt{
		ID:        id,
		Sequence:  seq,
		Operation: name,
		Timestamp: now,
		Outcome:   outcome,
		Events:    emitted,
	}, nil
}

// monotonicNow reads the clock and never returns less than the last time handed
// to the engine, even if the wall clock steps backwards.
func (n *Node) monotonicNow(mgr *ledgerstate.Manager) (int64, error) {
	now := n.clock.Now().Unix()
	var last uint64
	if _, err := mgr.KVGet(lastNowKey, &last); err != nil {
		return 0, err
	}
	if now < int64(last) {
		now = int64(last)
	}
	if err := mgr.KVPut(lastNowKey, uint64(now)); err != nil {
		return 0, err
	}
	return now, nil
}

func receiptID(seq uint64, name string, now int64, outcome *donation.Outcome) string {
	hasher := blake3.New(32, nil)
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], seq)
	hasher.Write(buf[:])
	hasher.Write([]byte(name))
	binary.BigEndian.PutUint64(buf[:], uint64(now))
	hasher.Write(buf[:])
	for _, effect := range outcome.Effects {
		hasher.Write([]byte(effect.Kind))
		hasher.Write([]byte(effect.From.String()))
		hasher.Write([]byte(effect.To.String()))
		binary.BigEndian.PutUint64(buf[:], effect.Amount)
		hasher.Write(buf[:])
	}
	return hex.EncodeToString(hasher.Sum(nil))
}

// Now returns the node clock reading.
func (n *Node) Now() time.Time { return n.clock.Now() }
