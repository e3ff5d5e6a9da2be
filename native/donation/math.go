package donation

import (
	"math/bits"

	"github.com/holiman/uint256"
)

const (
	// PercentDenominator is the divisor applied before the fee percentage.
	PercentDenominator = 100
	// RewardMintRatio is the number of loyalty units minted per unit of currency donated.
	RewardMintRatio = 101
)

// ComputeFee splits a gross amount into the service fee and the net amount. The
// amount is divided before multiplying, so the realised percentage never exceeds
// feePercent.
func ComputeFee(amount, feePercent uint64) (fee, net uint64) {
	if feePercent > PercentDenominator {
		feePercent = PercentDenominator
	}
	fee = (amount / PercentDenominator) * feePercent
	return fee, amount - fee
}

// ComputeRewardMint returns the loyalty reward owed for a gross contribution.
func ComputeRewardMint(amount uint64) (uint64, error) {
	reward, overflow := new(uint256.Int).MulOverflow(uint256.NewInt(amount), uint256.NewInt(RewardMintRatio))
	if overflow || !reward.IsUint64() {
		return 0, ErrArithmeticOverflow
	}
	return reward.Uint64(), nil
}

// RedistributeShare computes floor(pool*balance/total) with a 256-bit intermediate.
func RedistributeShare(pool, balance uint64, total *uint256.Int) (uint64, error) {
	if total == nil || total.IsZero() {
		return 0, errZeroDenominator
	}
	share := new(uint256.Int).Mul(uint256.NewInt(pool), uint256.NewInt(balance))
	share.Div(share, total)
	if !share.IsUint64() {
		return 0, ErrArithmeticOverflow
	}
	return share.Uint64(), nil
}

func addAmount(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, ErrArithmeticOverflow
	}
	return sum, nil
}
