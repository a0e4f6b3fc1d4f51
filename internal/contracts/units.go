package contracts

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// Decimals of ether and of the wrapped ether token.
const Decimals = 18

// WeiToEther scales a smallest-unit amount to ether.
func WeiToEther(wei *big.Int) decimal.Decimal {
	if wei == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(wei, -Decimals)
}

// EtherToWei scales an ether amount to wei. Digits beyond the 18th decimal are dropped.
func EtherToWei(ether decimal.Decimal) *big.Int {
	return ether.Shift(Decimals).BigInt()
}
