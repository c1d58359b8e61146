package chainadapter

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"encoding/asn1"
	"errors"
	"fmt"
	"math/big"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// kmsClient is the subset of *kms.Client this package depends on, so tests
// can substitute a fake without dialing AWS.
type kmsClient interface {
	Sign(ctx context.Context, params *kms.SignInput, optFns ...func(*kms.Options)) (*kms.SignOutput, error)
	GetPublicKey(ctx context.Context, params *kms.GetPublicKeyInput, optFns ...func(*kms.Options)) (*kms.GetPublicKeyOutput, error)
}

// CustodialProvider is an OperatorWallet backed by an AWS KMS asymmetric
// ECC_SECG_P256K1 signing key. KMS never releases the private key; every
// signature is produced by KMS's Sign API as a DER-encoded (r,s) pair, which
// this wallet then converts into go-ethereum's 65-byte (r,s,v) form by
// brute-forcing the recovery id against the key's known public key.
//
// There is no single production precedent in this codebase's history for
// this exact KMS-to-secp256k1-recovery conversion; it is built directly from
// AWS KMS's documented asymmetric-signing contract and go-ethereum's existing
// ECDSA recovery primitives (see DESIGN.md).
type CustodialProvider struct {
	client   kmsClient
	keyID    string
	address  common.Address
	pubKey   *ecdsa.PublicKey
	clients  *ClientSet
	nonces   *nonceManager
}

// NewCustodialProvider constructs a CustodialProvider for the KMS key keyID,
// fetching and caching its public key to derive the operator's address and
// to disambiguate signature recovery ids.
func NewCustodialProvider(ctx context.Context, client kmsClient, keyID string, clients *ClientSet) (*CustodialProvider, error) {
	out, err := client.GetPublicKey(ctx, &kms.GetPublicKeyInput{KeyId: aws.String(keyID)})
	if err != nil {
		return nil, fmt.Errorf("chainadapter: failed to fetch KMS public key: %w", err)
	}
	if out.KeySpec != types.KeySpecEccSecgP256k1 {
		return nil, fmt.Errorf("chainadapter: KMS key %s is not ECC_SECG_P256K1", keyID)
	}

	pubKey, err := parseKMSPublicKey(out.PublicKey)
	if err != nil {
		return nil, err
	}

	return &CustodialProvider{
		client:  client,
		keyID:   keyID,
		address: crypto.PubkeyToAddress(*pubKey),
		pubKey:  pubKey,
		clients: clients,
		nonces:  newNonceManager(),
	}, nil
}

// Address implements OperatorWallet.
func (c *CustodialProvider) Address() common.Address {
	return c.address
}

// SignMessage implements OperatorWallet.
func (c *CustodialProvider) SignMessage(ctx context.Context, data []byte) ([]byte, error) {
	return c.signHash(ctx, crypto.Keccak256(data))
}

// SendContractTx implements OperatorWallet.
func (c *CustodialProvider) SendContractTx(ctx context.Context, network Network, to common.Address, callData []byte) TxResult {
	return withNetworkLock(network.ID, func() TxResult {
		return sendAndWait(ctx, c.clients, network, c.signerFor(network), c.address, c.nonces, to, big.NewInt(0), callData)
	})
}

// SendMulticall implements OperatorWallet.
func (c *CustodialProvider) SendMulticall(ctx context.Context, network Network, calls []MulticallCall) (TxResult, []MulticallResult) {
	var result TxResult
	var perCall []MulticallResult
	withNetworkLock(network.ID, func() TxResult {
		result, perCall = sendMulticall3(ctx, c.clients, network, c.signerFor(network), c.address, c.nonces, calls)
		return result
	})
	return result, perCall
}

func (c *CustodialProvider) signerFor(network Network) txSigner {
	return func(tx *ethtypes.Transaction) (*ethtypes.Transaction, error) {
		signer := ethtypes.LatestSignerForChainID(big.NewInt(network.ChainID))
		hash := signer.Hash(tx)
		sig, err := c.signHash(context.Background(), hash[:])
		if err != nil {
			return nil, err
		}
		return tx.WithSignature(signer, sig)
	}
}

// signHash requests a signature from KMS over hash (already the final
// 32-byte digest; KMS is asked to sign the digest directly, not re-hash it)
// and returns it in go-ethereum's 65-byte (r || s || v) form.
func (c *CustodialProvider) signHash(ctx context.Context, hash []byte) ([]byte, error) {
	out, err := c.client.Sign(ctx, &kms.SignInput{
		KeyId:            aws.String(c.keyID),
		Message:          hash,
		MessageType:      types.MessageTypeDigest,
		SigningAlgorithm: types.SigningAlgorithmSpecEcdsaSha256,
	})
	if err != nil {
		return nil, fmt.Errorf("chainadapter: KMS sign failed: %w", err)
	}

	r, s, err := decodeDERSignature(out.Signature)
	if err != nil {
		return nil, err
	}
	s = canonicalizeS(s)

	sig, err := addRecoveryID(hash, r, s, c.pubKey)
	if err != nil {
		return nil, err
	}
	return sig, nil
}

// kmsECDSASignature is the ASN.1 DER structure KMS's Sign API returns for
// ECDSA signing algorithms.
type kmsECDSASignature struct {
	R, S *big.Int
}

func decodeDERSignature(der []byte) (r, s *big.Int, err error) {
	var sig kmsECDSASignature
	if _, err := asn1.Unmarshal(der, &sig); err != nil {
		return nil, nil, fmt.Errorf("chainadapter: failed to parse KMS signature: %w", err)
	}
	return sig.R, sig.S, nil
}

// secp256k1HalfOrder is half of the curve order; go-ethereum and most EVM
// chains require the low-S form of a signature.
var secp256k1HalfOrder = new(big.Int).Rsh(crypto.S256().Params().N, 1)

func canonicalizeS(s *big.Int) *big.Int {
	if s.Cmp(secp256k1HalfOrder) > 0 {
		return new(big.Int).Sub(crypto.S256().Params().N, s)
	}
	return s
}

// addRecoveryID brute-forces the recovery id (0 or 1) that recovers hash/r/s
// back to pubKey, since KMS's Sign API does not report one.
func addRecoveryID(hash []byte, r, s *big.Int, pubKey *ecdsa.PublicKey) ([]byte, error) {
	rBytes := common.LeftPadBytes(r.Bytes(), 32)
	sBytes := common.LeftPadBytes(s.Bytes(), 32)
	wantAddress := crypto.PubkeyToAddress(*pubKey)

	for recID := byte(0); recID < 2; recID++ {
		sig := append(append(append([]byte{}, rBytes...), sBytes...), recID)
		recovered, err := crypto.SigToPub(hash, sig)
		if err != nil {
			continue
		}
		if crypto.PubkeyToAddress(*recovered) == wantAddress {
			return sig, nil
		}
	}
	return nil, errors.New("chainadapter: could not determine signature recovery id")
}

// parseKMSPublicKey decodes the DER-encoded SubjectPublicKeyInfo KMS returns
// into an uncompressed secp256k1 public key.
func parseKMSPublicKey(der []byte) (*ecdsa.PublicKey, error) {
	var spki struct {
		Algorithm struct {
			Algorithm  asn1.ObjectIdentifier
			Parameters asn1.ObjectIdentifier
		}
		PublicKey asn1.BitString
	}
	if _, err := asn1.Unmarshal(der, &spki); err != nil {
		return nil, fmt.Errorf("chainadapter: failed to parse KMS public key: %w", err)
	}

	x, y := elliptic.Unmarshal(crypto.S256(), spki.PublicKey.Bytes)
	if x == nil {
		return nil, errors.New("chainadapter: KMS public key is not a valid uncompressed secp256k1 point")
	}
	return &ecdsa.PublicKey{Curve: crypto.S256(), X: x, Y: y}, nil
}
