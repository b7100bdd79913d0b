// Package wallet holds the local signing key and broadcasts prepared
// transactions: the approval step when one is pending, then the trade
// itself.
package wallet

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

type Signer interface {
	Address() common.Address
	SignTx(chainID *big.Int, tx *types.Transaction) (*types.Transaction, error)
}
