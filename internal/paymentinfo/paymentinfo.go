// Package paymentinfo models the PaymentInfo value object that identifies an
// escrow session and provides a local, test/fallback recomputation of its
// keccak256 session id. The canonical source of truth for session ids is
// always the escrow contract's getHash (see internal/chainadapter); this
// package's Hash method exists for the Chain Adapter to sanity-check results
// against and for tests that run without a live RPC endpoint.
package paymentinfo

import (
	"errors"
	"math/big"
	"time"

	"facilitator/internal/atomicunits"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// paymentInfoTypeHash is keccak256 of the canonical PaymentInfo struct
// signature used by the escrow contract's getHash.
var paymentInfoTypeHash = crypto.Keccak256([]byte(
	"PaymentInfo(address operator,address payer,address receiver,address token,uint120 maxAmount,uint48 preApprovalExpiry,uint48 authorizationExpiry,uint48 refundExpiry,uint16 minFeeBps,uint16 maxFeeBps,address feeReceiver,uint256 salt)",
))

// PaymentInfo is the tuple defining an escrow session: parties, token,
// amount bounds, expiries, fees, and a salt.
type PaymentInfo struct {
	Operator            common.Address
	Payer               common.Address
	Receiver            common.Address
	Token               common.Address
	MaxAmount           atomicunits.Amount
	PreApprovalExpiry   time.Time
	AuthorizationExpiry time.Time
	RefundExpiry        time.Time
	MinFeeBps           uint16
	MaxFeeBps           uint16
	FeeReceiver         common.Address
	Salt                *big.Int
}

// Validate checks the invariants from §3: fee bounds and expiry ordering.
func (p PaymentInfo) Validate() error {
	if p.MinFeeBps > p.MaxFeeBps {
		return errors.New("paymentinfo: minFeeBps must be <= maxFeeBps")
	}
	if p.MaxFeeBps > 10000 {
		return errors.New("paymentinfo: maxFeeBps must be <= 10000")
	}
	if p.PreApprovalExpiry.After(p.AuthorizationExpiry) {
		return errors.New("paymentinfo: preApprovalExpiry must be <= authorizationExpiry")
	}
	if p.AuthorizationExpiry.After(p.RefundExpiry) {
		return errors.New("paymentinfo: authorizationExpiry must be <= refundExpiry")
	}
	if p.MaxAmount.Cmp(atomicunits.FromBigInt(atomicunits.MaxAmount)) > 0 {
		return errors.New("paymentinfo: maxAmount exceeds 2^120-1")
	}
	return nil
}

// Hash locally recomputes the payer-agnostic session id:
//
//	keccak256(chainId ‖ escrow ‖ keccak256(PAYMENT_INFO_TYPEHASH ‖ paymentInfoWithPayer=0))
//
// The payer field is zeroed before hashing, so the same PaymentInfo
// authorization produces the same session id regardless of which payer
// address ultimately signs it. This makes the session id a property of the
// offer, not of any one payer.
func (p PaymentInfo) Hash(chainID int64, escrow common.Address) ([32]byte, error) {
	if err := p.Validate(); err != nil {
		return [32]byte{}, err
	}

	structHash := p.structHashWithZeroPayer()

	buf := make([]byte, 0, 32+32+32)
	buf = append(buf, common.LeftPadBytes(big.NewInt(chainID).Bytes(), 32)...)
	buf = append(buf, common.LeftPadBytes(escrow.Bytes(), 32)...)
	buf = append(buf, structHash...)

	return [32]byte(crypto.Keccak256(buf)), nil
}

// structHashWithZeroPayer ABI-encodes the PaymentInfo struct (each field as
// a left-padded 32-byte word, matching Solidity's abi.encode for a static
// tuple) prefixed with the type hash, with Payer forced to the zero address.
func (p PaymentInfo) structHashWithZeroPayer() []byte {
	zero := common.Address{}

	words := [][]byte{
		paymentInfoTypeHash,
		common.LeftPadBytes(p.Operator.Bytes(), 32),
		common.LeftPadBytes(zero.Bytes(), 32),
		common.LeftPadBytes(p.Receiver.Bytes(), 32),
		common.LeftPadBytes(p.Token.Bytes(), 32),
		common.LeftPadBytes(p.MaxAmount.BigInt().Bytes(), 32),
		common.LeftPadBytes(big.NewInt(p.PreApprovalExpiry.Unix()).Bytes(), 32),
		common.LeftPadBytes(big.NewInt(p.AuthorizationExpiry.Unix()).Bytes(), 32),
		common.LeftPadBytes(big.NewInt(p.RefundExpiry.Unix()).Bytes(), 32),
		common.LeftPadBytes(big.NewInt(int64(p.MinFeeBps)).Bytes(), 32),
		common.LeftPadBytes(big.NewInt(int64(p.MaxFeeBps)).Bytes(), 32),
		common.LeftPadBytes(p.FeeReceiver.Bytes(), 32),
		common.LeftPadBytes(saltBytes(p.Salt), 32),
	}

	buf := make([]byte, 0, len(words)*32)
	for _, w := range words {
		buf = append(buf, w...)
	}
	return crypto.Keccak256(buf)
}

func saltBytes(salt *big.Int) []byte {
	if salt == nil {
		return []byte{}
	}
	return salt.Bytes()
}

// SessionIDHex renders a [32]byte session id as a 0x-prefixed hex string.
func SessionIDHex(id [32]byte) string {
	return hexutil.Encode(id[:])
}
