package donation

import "testing"

func wallet(last byte) [20]byte {
	var out [20]byte
	out[19] = last
	return out
}

func TestTopKRankingKeepsLargest(t *testing.T) {
	ranking := NewTopKRanking(GlobalRankingSize)
	for i := 1; i <= 11; i++ {
		ranking.Offer(uint64(i*100), wallet(byte(i)))
	}
	if ranking.Len() != GlobalRankingSize {
		t.Fatalf("expected %d entries, got %d", GlobalRankingSize, ranking.Len())
	}
	for i, entry := range ranking.Entries {
		want := uint64((11 - i) * 100)
		if entry.Amount != want {
			t.Fatalf("slot %d: expected %d, got %d", i, want, entry.Amount)
		}
		if entry.Wallet != wallet(byte(11-i)) {
			t.Fatalf("slot %d: wallet mismatch", i)
		}
	}
}

func TestTopKRankingRejectsNotBetter(t *testing.T) {
	ranking := NewTopKRanking(2)
	ranking.Offer(50, wallet(1))
	ranking.Offer(40, wallet(2))
	if ranking.Offer(40, wallet(3)) {
		t.Fatalf("equal to the lowest entry must be rejected when full")
	}
	if ranking.Offer(10, wallet(4)) {
		t.Fatalf("smaller entry must be rejected when full")
	}
	if !ranking.Offer(45, wallet(5)) {
		t.Fatalf("larger entry must be admitted")
	}
	top := ranking.Top(3)
	if len(top) != 2 || top[0].Wallet != wallet(1) || top[1].Wallet != wallet(5) {
		t.Fatalf("unexpected ranking %+v", top)
	}
}

func TestTopKRankingTiesKeepAdmissionOrder(t *testing.T) {
	ranking := NewTopKRanking(3)
	ranking.Offer(10, wallet(1))
	ranking.Offer(10, wallet(2))
	ranking.Offer(20, wallet(3))
	top := ranking.Top(3)
	if top[0].Wallet != wallet(3) || top[1].Wallet != wallet(1) || top[2].Wallet != wallet(2) {
		t.Fatalf("unexpected tie order %+v", top)
	}
}

func TestTopKRankingDoesNotDeduplicate(t *testing.T) {
	ranking := NewTopKRanking(CampaignRankingSize)
	ranking.Offer(10, wallet(1))
	ranking.Offer(30, wallet(1))
	if ranking.Len() != 2 {
		t.Fatalf("expected both cumulative snapshots to be held, got %d", ranking.Len())
	}
}

func TestTopKRankingInvariantsUnderSequence(t *testing.T) {
	ranking := NewTopKRanking(GlobalRankingSize)
	seed := uint64(7)
	for i := 0; i < 500; i++ {
		seed = seed*6364136223846793005 + 1442695040888963407
		ranking.Offer(seed%1000, wallet(byte(i)))
		if uint64(ranking.Len()) > ranking.Capacity {
			t.Fatalf("ranking grew beyond capacity at step %d", i)
		}
		for j := 1; j < ranking.Len(); j++ {
			if ranking.Entries[j-1].Amount < ranking.Entries[j].Amount {
				t.Fatalf("ranking unsorted at step %d: %+v", i, ranking.Entries)
			}
		}
	}
}

func TestTopKRankingCloneIsIndependent(t *testing.T) {
	ranking := NewTopKRanking(3)
	ranking.Offer(5, wallet(1))
	clone := ranking.Clone()
	clone.Offer(9, wallet(2))
	if ranking.Len() != 1 {
		t.Fatalf("clone mutated the original")
	}
}
