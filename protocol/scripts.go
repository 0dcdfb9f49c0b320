package protocol

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"math/big"
	"sort"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// genMultiSigScript builds the non-P2SH 2-of-2 multisig redeem script
// backing the lock output (spec §4.1 "Lock"). Adapted from the
// teacher's lnwallet.genMultiSigScript: pubkeys are sorted
// lexicographically so both parties derive byte-identical scripts.
func genMultiSigScript(aPub, bPub []byte) ([]byte, error) {
	if len(aPub) != 33 || len(bPub) != 33 {
		return nil, fmt.Errorf("protocol: compressed pubkeys only")
	}
	if bytes.Compare(aPub, bPub) == -1 {
		aPub, bPub = bPub, aPub
	}

	bldr := txscript.NewScriptBuilder()
	bldr.AddOp(txscript.OP_2)
	bldr.AddData(aPub)
	bldr.AddData(bPub)
	bldr.AddOp(txscript.OP_2)
	bldr.AddOp(txscript.OP_CHECKMULTISIG)
	return bldr.Script()
}

// witnessScriptHash wraps a redeem script as a P2WSH output script.
func witnessScriptHash(redeemScript []byte) ([]byte, error) {
	bldr := txscript.NewScriptBuilder()
	bldr.AddOp(txscript.OP_0)
	scriptHash := sha256.Sum256(redeemScript)
	bldr.AddData(scriptHash[:])
	return bldr.Script()
}

// genFundingPkScript returns the lock output script and the TxOut ready
// to be placed in the lock transaction, spendable by 2-of-2 multisig of
// maker and taker identity keys (spec invariant 3a).
func genFundingPkScript(makerPub, takerPub []byte, amt btcutil.Amount) ([]byte, *wire.TxOut, error) {
	multiSigScript, err := genMultiSigScript(makerPub, takerPub)
	if err != nil {
		return nil, nil, err
	}
	pkScript, err := witnessScriptHash(multiSigScript)
	if err != nil {
		return nil, nil, err
	}
	return multiSigScript, wire.NewTxOut(int64(amt), pkScript), nil
}

// commitScript constructs the commit output descriptor of spec
// invariant 3: a refund-timelock joint-signature branch, a
// publish-secret adaptor/CET branch selectable by either party's
// publish key, and a revocation (punish) branch selectable by either
// party's revocation key. Unlike a lightning commitment output
// (teacher's commitScriptToSelf, two branches keyed to one side only,
// because lnd gives each party its own mirrored commitment
// transaction) this is a single joint transaction either party could
// rebroadcast stale after a rollover, so both the punish and the
// CET/close branch must be spendable against whichever side's key
// matches the generation actually being punished or settled — an
// extra selector bit picks maker or taker within each branch.
//
//	OP_IF
//	    OP_IF
//	        <makerRevocationPub> OP_CHECKSIG
//	    OP_ELSE
//	        <takerRevocationPub> OP_CHECKSIG
//	    OP_ENDIF
//	OP_ELSE
//	    OP_IF
//	        OP_IF
//	            <makerPublishPub> OP_CHECKSIG
//	        OP_ELSE
//	            <takerPublishPub> OP_CHECKSIG
//	        OP_ENDIF
//	    OP_ELSE
//	        <refundTimelock> OP_CHECKSEQUENCEVERIFY OP_DROP
//	        <makerPub> OP_CHECKSIGVERIFY
//	        <takerPub> OP_CHECKSIG
//	    OP_ENDIF
//	OP_ENDIF
func commitScript(refundTimelock uint32, makerPub, takerPub,
	makerRevocationPub, takerRevocationPub, makerPublishPub, takerPublishPub *btcec.PublicKey) ([]byte, error) {

	bldr := txscript.NewScriptBuilder()

	bldr.AddOp(txscript.OP_IF)
	bldr.AddOp(txscript.OP_IF)
	bldr.AddData(makerRevocationPub.SerializeCompressed())
	bldr.AddOp(txscript.OP_CHECKSIG)
	bldr.AddOp(txscript.OP_ELSE)
	bldr.AddData(takerRevocationPub.SerializeCompressed())
	bldr.AddOp(txscript.OP_CHECKSIG)
	bldr.AddOp(txscript.OP_ENDIF)
	bldr.AddOp(txscript.OP_ELSE)

	bldr.AddOp(txscript.OP_IF)
	bldr.AddOp(txscript.OP_IF)
	bldr.AddData(makerPublishPub.SerializeCompressed())
	bldr.AddOp(txscript.OP_CHECKSIG)
	bldr.AddOp(txscript.OP_ELSE)
	bldr.AddData(takerPublishPub.SerializeCompressed())
	bldr.AddOp(txscript.OP_CHECKSIG)
	bldr.AddOp(txscript.OP_ENDIF)
	bldr.AddOp(txscript.OP_ELSE)

	bldr.AddInt64(int64(refundTimelock))
	bldr.AddOp(txscript.OP_CHECKSEQUENCEVERIFY)
	bldr.AddOp(txscript.OP_DROP)
	bldr.AddData(makerPub.SerializeCompressed())
	bldr.AddOp(txscript.OP_CHECKSIGVERIFY)
	bldr.AddData(takerPub.SerializeCompressed())
	bldr.AddOp(txscript.OP_CHECKSIG)

	bldr.AddOp(txscript.OP_ENDIF)
	bldr.AddOp(txscript.OP_ENDIF)

	return bldr.Script()
}

// commitWitnessRevocation returns the witness spending a commit
// output's revocation branch: selector bits choosing the maker/taker
// sub-branch, then the punishing signature, then the redeem script.
func commitWitnessRevocation(sig []byte, isMakerBranch bool, redeemScript []byte) wire.TxWitness {
	return wire.TxWitness{
		sig,
		boolScriptNum(isMakerBranch),
		boolScriptNum(true),
		redeemScript,
	}
}

// commitWitnessPublish returns the witness spending a commit output's
// publish (CET/close) branch: the outer selector takes the ELSE arm
// (false), the middle selector takes the publish-structure IF arm
// (true), then the maker/taker sub-selector, matching the three
// nesting levels the publish branch sits under.
func commitWitnessPublish(sig []byte, isMakerBranch bool, redeemScript []byte) wire.TxWitness {
	return wire.TxWitness{
		sig,
		boolScriptNum(isMakerBranch),
		boolScriptNum(true),
		boolScriptNum(false),
		redeemScript,
	}
}

// lockMultiSigWitness spends the lock output's 2-of-2 multisig,
// ordering the two signatures to match genMultiSigScript's
// lexicographic (descending) pubkey sort and prefixing the empty
// dummy element CHECKMULTISIG's off-by-one bug consumes.
func lockMultiSigWitness(redeemScript []byte, makerSig []byte, makerPub *btcec.PublicKey,
	takerSig []byte, takerPub *btcec.PublicKey) wire.TxWitness {

	makerBytes, takerBytes := makerPub.SerializeCompressed(), takerPub.SerializeCompressed()
	first, second := makerSig, takerSig
	if bytes.Compare(makerBytes, takerBytes) == -1 {
		first, second = takerSig, makerSig
	}
	return wire.TxWitness{{}, first, second, redeemScript}
}

// commitWitnessJoint returns the witness spending a commit output's
// refund branch via both parties' joint signatures (taker's then
// maker's, matching OP_CHECKSIGVERIFY <makerPub> ... <takerPub>
// OP_CHECKSIG evaluation order).
func commitWitnessJoint(takerSig, makerSig []byte, redeemScript []byte) wire.TxWitness {
	return wire.TxWitness{
		takerSig,
		makerSig,
		boolScriptNum(false),
		boolScriptNum(false),
		redeemScript,
	}
}

// boolScriptNum renders a boolean as the minimal script-number pushed
// onto the stack for an OP_IF selector.
func boolScriptNum(b bool) []byte {
	if b {
		return []byte{1}
	}
	return []byte{}
}

// deriveRevocationPubkey derives the punish branch's public key from a
// party's per-DLC commit key and a revocation preimage, exploiting the
// secp256k1 group homomorphism so the counterparty can later compute
// the matching private key once the preimage is disclosed. Lifted
// directly from the teacher's lnwallet.deriveRevocationPubkey.
func deriveRevocationPubkey(commitPubKey *btcec.PublicKey, revokePreimage []byte) *btcec.PublicKey {
	curve := btcec.S256()

	revokePointX, revokePointY := curve.ScalarBaseMult(revokePreimage)
	cx, cy := pubKeyCoords(commitPubKey)
	revokeX, revokeY := curve.Add(cx, cy, revokePointX, revokePointY)

	return pointFromCoords(revokeX, revokeY)
}

// deriveRevocationPrivKey derives the matching private key once the
// revocation preimage is known, enabling the punish spend. Lifted
// directly from the teacher's lnwallet.deriveRevocationPrivKey.
func deriveRevocationPrivKey(commitPrivKey *btcec.PrivateKey, revokePreimage []byte) *btcec.PrivateKey {
	_, n := curveParams()

	revokeScalar := new(big.Int).SetBytes(revokePreimage)
	commitScalar := new(big.Int).SetBytes(commitPrivKey.Serialize())

	revokePriv := new(big.Int).Add(revokeScalar, commitScalar)
	revokePriv.Mod(revokePriv, n)

	return btcec.PrivKeyFromBytes(padTo32(revokePriv.Bytes()))
}

func padTo32(b []byte) []byte {
	if len(b) >= 32 {
		return b
	}
	out := make([]byte, 32)
	copy(out[32-len(b):], b)
	return out
}

// sortTxIns orders the lock transaction's inputs lexicographically by
// txid||vout so both wallets independently produce byte-identical
// bodies (spec §4.1 "deterministic input ordering").
func sortTxIns(ins []*wire.TxIn) {
	sort.Slice(ins, func(i, j int) bool {
		oi, oj := ins[i].PreviousOutPoint, ins[j].PreviousOutPoint
		c := bytes.Compare(oi.Hash[:], oj.Hash[:])
		if c != 0 {
			return c < 0
		}
		return oi.Index < oj.Index
	})
}

// sortTxOuts orders transaction outputs lexicographically by
// pkScript, then value (spec §4.1 "deterministic output ordering").
func sortTxOuts(outs []*wire.TxOut) {
	sort.Slice(outs, func(i, j int) bool {
		c := bytes.Compare(outs[i].PkScript, outs[j].PkScript)
		if c != 0 {
			return c < 0
		}
		return outs[i].Value < outs[j].Value
	})
}
