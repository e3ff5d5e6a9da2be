package donation

import (
	"errors"
	"math"
	"testing"

	"github.com/holiman/uint256"
)

func TestComputeFeeScenario(t *testing.T) {
	fee, net := ComputeFee(1000, 5)
	if fee != 50 || net != 950 {
		t.Fatalf("unexpected split: fee=%d net=%d", fee, net)
	}
	reward, err := ComputeRewardMint(1000)
	if err != nil {
		t.Fatalf("reward: %v", err)
	}
	if reward != 101_000 {
		t.Fatalf("unexpected reward %d", reward)
	}
}

func TestComputeFeeDividesFirst(t *testing.T) {
	fee, net := ComputeFee(199, 50)
	if fee != 50 || net != 149 {
		t.Fatalf("expected floor(199/100)*50: fee=%d net=%d", fee, net)
	}
	fee, net = ComputeFee(99, 100)
	if fee != 0 || net != 99 {
		t.Fatalf("amounts below the denominator carry no fee: fee=%d net=%d", fee, net)
	}
}

func TestComputeFeeConserves(t *testing.T) {
	amounts := []uint64{0, 1, 99, 100, 101, 12_345, 1 << 40, math.MaxUint64 - 1, math.MaxUint64}
	for _, amount := range amounts {
		for pct := uint64(0); pct <= 110; pct++ {
			fee, net := ComputeFee(amount, pct)
			if fee+net != amount {
				t.Fatalf("fee+net != amount for amount=%d pct=%d", amount, pct)
			}
			if fee > amount {
				t.Fatalf("fee exceeds amount for amount=%d pct=%d", amount, pct)
			}
		}
	}
}

func TestComputeRewardMintOverflow(t *testing.T) {
	if _, err := ComputeRewardMint(math.MaxUint64 / 100); !errors.Is(err, ErrArithmeticOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
	reward, err := ComputeRewardMint(math.MaxUint64 / RewardMintRatio)
	if err != nil {
		t.Fatalf("largest safe amount rejected: %v", err)
	}
	if reward != (math.MaxUint64/RewardMintRatio)*RewardMintRatio {
		t.Fatalf("unexpected reward %d", reward)
	}
}

func TestRedistributeShareBounds(t *testing.T) {
	balances := []uint64{1, 7, 13, 999, 1 << 33, math.MaxUint64 / 4}
	total := new(uint256.Int)
	for _, b := range balances {
		total.Add(total, uint256.NewInt(b))
	}
	pools := []uint64{0, 1, 17, 1_000_003, math.MaxUint64}
	for _, pool := range pools {
		var sum uint64
		for _, b := range balances {
			share, err := RedistributeShare(pool, b, total)
			if err != nil {
				t.Fatalf("share for pool=%d balance=%d: %v", pool, b, err)
			}
			if share > pool {
				t.Fatalf("share %d exceeds pool %d", share, pool)
			}
			sum += share
		}
		if sum > pool {
			t.Fatalf("shares sum %d exceeds pool %d", sum, pool)
		}
	}
}

func TestRedistributeShareZeroTotal(t *testing.T) {
	if _, err := RedistributeShare(10, 0, new(uint256.Int)); !errors.Is(err, errZeroDenominator) {
		t.Fatalf("expected zero denominator error, got %v", err)
	}
}

func TestAddAmountOverflow(t *testing.T) {
	if _, err := addAmount(math.MaxUint64, 1); !errors.Is(err, ErrArithmeticOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
	if sum, err := addAmount(40, 2); err != nil || sum != 42 {
		t.Fatalf("unexpected sum %d err %v", sum, err)
	}
}
