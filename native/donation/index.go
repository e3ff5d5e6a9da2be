package donation

import (
	"fmt"
	"sort"

	"github.com/holiman/uint256"
)

// MaxActiveCampaigns bounds the number of unfinished campaigns tracked at once.
const MaxActiveCampaigns = 100

// BalanceEntry is the pooled settlement balance of one active campaign.
type BalanceEntry struct {
	CampaignID uint64 `json:"campaignId"`
	Balance    uint64 `json:"balance"`
}

// ActiveBalanceIndex maps active campaign ids to their pooled balances. Entries are
// kept sorted by campaign id so lookups can binary search.
type ActiveBalanceIndex struct {
	Entries []BalanceEntry `json:"entries"`
}

func (x *ActiveBalanceIndex) search(id uint64) (int, bool) {
	pos := sort.Search(len(x.Entries), func(i int) bool {
		return x.Entries[i].CampaignID >= id
	})
	return pos, pos < len(x.Entries) && x.Entries[pos].CampaignID == id
}

// Len returns the number of tracked campaigns.
func (x *ActiveBalanceIndex) Len() int { return len(x.Entries) }

// Full reports whether another campaign can be inserted.
func (x *ActiveBalanceIndex) Full() bool { return len(x.Entries) >= MaxActiveCampaigns }

// Insert tracks a new campaign at its sorted position.
func (x *ActiveBalanceIndex) Insert(id, balance uint64) error {
	if x.Full() {
		return ErrCapacityExceeded
	}
	pos, found := x.search(id)
	if found {
		return fmt.Errorf("%w: campaign %d", ErrDuplicateEntry, id)
	}
	x.Entries = append(x.Entries, BalanceEntry{})
	copy(x.Entries[pos+1:], x.Entries[pos:])
	x.Entries[pos] = BalanceEntry{CampaignID: id, Balance: balance}
	return nil
}

// Find returns the position of id within the index.
func (x *ActiveBalanceIndex) Find(id uint64) (int, error) {
	pos, found := x.search(id)
	if !found {
		return 0, fmt.Errorf("%w: campaign %d", ErrNotFound, id)
	}
	return pos, nil
}

// Balance returns the pooled balance tracked for id.
func (x *ActiveBalanceIndex) Balance(id uint64) (uint64, error) {
	pos, err := x.Find(id)
	if err != nil {
		return 0, err
	}
	return x.Entries[pos].Balance, nil
}

// AddToBalance increases the pooled balance of id by delta.
func (x *ActiveBalanceIndex) AddToBalance(id, delta uint64) error {
	pos, err := x.Find(id)
	if err != nil {
		return err
	}
	updated, err := addAmount(x.Entries[pos].Balance, delta)
	if err != nil {
		return err
	}
	x.Entries[pos].Balance = updated
	return nil
}

// Remove deletes id from the index and returns the balance it held.
func (x *ActiveBalanceIndex) Remove(id uint64) (uint64, error) {
	pos, err := x.Find(id)
	if err != nil {
		return 0, err
	}
	balance := x.Entries[pos].Balance
	x.Entries = append(x.Entries[:pos], x.Entries[pos+1:]...)
	return balance, nil
}

// TotalBalance sums every pooled balance without risk of overflow.
func (x *ActiveBalanceIndex) TotalBalance() *uint256.Int {
	total := new(uint256.Int)
	for _, entry := range x.Entries {
		total.Add(total, uint256.NewInt(entry.Balance))
	}
	return total
}

// IDs returns the tracked campaign ids in ascending order.
func (x *ActiveBalanceIndex) IDs() []uint64 {
	ids := make([]uint64, len(x.Entries))
	for i, entry := range x.Entries {
		ids[i] = entry.CampaignID
	}
	return ids
}

// Clone returns a deep copy of the index.
func (x *ActiveBalanceIndex) Clone() ActiveBalanceIndex {
	clone := ActiveBalanceIndex{Entries: make([]BalanceEntry, len(x.Entries))}
	copy(clone.Entries, x.Entries)
	return clone
}
