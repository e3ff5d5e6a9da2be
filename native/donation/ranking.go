package donation

import "sort"

const (
	// CampaignRankingSize bounds the per-campaign leaderboard.
	CampaignRankingSize = 3
	// GlobalRankingSize bounds the service-wide leaderboard.
	GlobalRankingSize = 10
	// RewardedRanks is the number of global leaders paid on each reward round.
	RewardedRanks = 3
)

// RankEntry pairs a cumulative contribution with the wallet that receives rewards for it.
type RankEntry struct {
	Amount uint64   `json:"amount"`
	Wallet [20]byte `json:"wallet"`
}

// TopKRanking keeps the largest entries offered so far, sorted descending by amount.
// Entries with equal amounts keep the order in which they were admitted. Entries are
// not de-duplicated by wallet.
type TopKRanking struct {
	Capacity uint64      `json:"capacity"`
	Entries  []RankEntry `json:"entries"`
}

// NewTopKRanking returns an empty ranking holding at most capacity entries.
func NewTopKRanking(capacity int) *TopKRanking {
	if capacity < 0 {
		capacity = 0
	}
	return &TopKRanking{Capacity: uint64(capacity), Entries: make([]RankEntry, 0, capacity)}
}

// Offer admits the candidate when a slot is free or it beats the lowest held amount.
// It reports whether the ranking changed.
func (r *TopKRanking) Offer(amount uint64, wallet [20]byte) bool {
	if r == nil || r.Capacity == 0 {
		return false
	}
	if uint64(len(r.Entries)) >= r.Capacity && amount <= r.Entries[len(r.Entries)-1].Amount {
		return false
	}
	r.Entries = append(r.Entries, RankEntry{Amount: amount, Wallet: wallet})
	sort.SliceStable(r.Entries, func(i, j int) bool {
		return r.Entries[i].Amount > r.Entries[j].Amount
	})
	if uint64(len(r.Entries)) > r.Capacity {
		r.Entries = r.Entries[:r.Capacity]
	}
	return true
}

// Top returns a copy of the first n entries, or fewer when slots are empty.
func (r *TopKRanking) Top(n int) []RankEntry {
	if r == nil || n <= 0 {
		return nil
	}
	if n > len(r.Entries) {
		n = len(r.Entries)
	}
	out := make([]RankEntry, n)
	copy(out, r.Entries[:n])
	return out
}

// Len returns the number of occupied slots.
func (r *TopKRanking) Len() int {
	if r == nil {
		return 0
	}
	return len(r.Entries)
}

// Clone returns a deep copy of the ranking.
func (r *TopKRanking) Clone() *TopKRanking {
	if r == nil {
		return nil
	}
	clone := &TopKRanking{Capacity: r.Capacity, Entries: make([]RankEntry, len(r.Entries))}
	copy(clone.Entries, r.Entries)
	return clone
}
