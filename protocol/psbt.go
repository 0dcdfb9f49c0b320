package protocol

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/wire"
)

// NewLockPSBT wraps the deterministically-built lock transaction in an
// unsigned PSBT packet, the transport envelope each wallet fills in
// with its own funding inputs' signatures (spec §4.2 "PSBT-signed lock
// inputs"). Both parties build lockTx identically, so both start from
// an identical unsigned packet.
func NewLockPSBT(lockTx *wire.MsgTx) (*psbt.Packet, error) {
	packet, err := psbt.NewFromUnsignedTx(lockTx)
	if err != nil {
		return nil, fmt.Errorf("protocol: new lock psbt: %w", err)
	}
	return packet, nil
}

// InputSigner signs a single funding input, returning the witness
// stack that spends it. Supplied by the wallet capability so this
// package never holds private keys for arbitrary UTXOs (spec §1
// "the wallet" is an external collaborator).
type InputSigner func(in UtxoInput) (wire.TxWitness, error)

// SignLockPSBT fills in the witness for every input in own, identified
// by matching each UtxoInput's outpoint against packet's unsigned
// transaction (spec §4.2 step 2).
func SignLockPSBT(packet *psbt.Packet, own []UtxoInput, sign InputSigner) error {
	for _, in := range own {
		idx := findTxIn(packet.UnsignedTx, in.OutPoint)
		if idx < 0 {
			return fmt.Errorf("protocol: funding input %s not present in lock psbt", in.OutPoint)
		}
		witness, err := sign(in)
		if err != nil {
			return fmt.Errorf("protocol: sign lock input %s: %w", in.OutPoint, err)
		}
		packet.Inputs[idx].WitnessUtxo = wire.NewTxOut(int64(in.Value), in.PkScript)
		packet.Inputs[idx].FinalScriptWitness = serializeWitness(witness)
	}
	return nil
}

func findTxIn(tx *wire.MsgTx, outPoint wire.OutPoint) int {
	for i, txIn := range tx.TxIn {
		if txIn.PreviousOutPoint == outPoint {
			return i
		}
	}
	return -1
}

// MergeLockPSBTs combines two independently-signed copies of the same
// unsigned lock PSBT (maker's and taker's), each carrying only the
// witnesses for the inputs its own wallet funded, into one packet
// carrying every input's finalized witness.
func MergeLockPSBTs(own, theirs *psbt.Packet) (*psbt.Packet, error) {
	if own.UnsignedTx.TxHash() != theirs.UnsignedTx.TxHash() {
		return nil, fmt.Errorf("protocol: counterparty lock psbt does not match the locally-built lock transaction")
	}
	for i := range own.Inputs {
		if len(own.Inputs[i].FinalScriptWitness) == 0 {
			own.Inputs[i].FinalScriptWitness = theirs.Inputs[i].FinalScriptWitness
			own.Inputs[i].WitnessUtxo = theirs.Inputs[i].WitnessUtxo
		}
	}
	return own, nil
}

// ExtractLockWitnesses copies every input's finalized witness from
// packet onto lockTx in place, completing the lock transaction for
// broadcast once both parties' PSBTs have been merged.
func ExtractLockWitnesses(lockTx *wire.MsgTx, packet *psbt.Packet) error {
	for i, pin := range packet.Inputs {
		if len(pin.FinalScriptWitness) == 0 {
			return fmt.Errorf("protocol: lock input %d missing a finalized witness", i)
		}
		witness, err := deserializeWitness(pin.FinalScriptWitness)
		if err != nil {
			return fmt.Errorf("protocol: parse witness for lock input %d: %w", i, err)
		}
		lockTx.TxIn[i].Witness = witness
	}
	return nil
}

// serializeWitness renders w in the BIP-144 witness wire format used
// by PSBT's final_scriptwitness field.
func serializeWitness(w wire.TxWitness) []byte {
	var buf bytes.Buffer
	_ = wire.WriteVarInt(&buf, 0, uint64(len(w)))
	for _, item := range w {
		_ = wire.WriteVarBytes(&buf, 0, item)
	}
	return buf.Bytes()
}

func deserializeWitness(b []byte) (wire.TxWitness, error) {
	r := bytes.NewReader(b)
	count, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return nil, err
	}
	witness := make(wire.TxWitness, count)
	for i := range witness {
		item, err := wire.ReadVarBytes(r, 0, wire.MaxMessagePayload, "witness item")
		if err != nil {
			return nil, err
		}
		witness[i] = item
	}
	return witness, nil
}
