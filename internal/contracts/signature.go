package contracts

import (
	"context"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"moff.io/use-wallet/internal/connector"
)

// SignMessage requests a personal_sign signature of message from the account's wallet.
func SignMessage(ctx context.Context, p connector.Provider, account common.Address, message []byte) (string, error) {
	var sig hexutil.Bytes
	if err := p.CallContext(ctx, &sig, "personal_sign", hexutil.Encode(message), strings.ToLower(account.Hex())); err != nil {
		return "", err
	}
	return sig.String(), nil
}

// VerifySignature reports whether signatureHex is account's personal_sign signature
// of msg.
func VerifySignature(account common.Address, signatureHex string, msg []byte) bool {
	sig, err := hexutil.Decode(signatureHex)
	if err != nil || len(sig) != crypto.SignatureLength {
		return false
	}
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27 // Transform yellow paper V from 27/28 to 0/1
	}
	recovered, err := crypto.SigToPub(accounts.TextHash(msg), sig)
	if err != nil {
		return false
	}
	return crypto.PubkeyToAddress(*recovered) == account
}
