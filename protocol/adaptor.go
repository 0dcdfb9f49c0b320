package protocol

import (
	"crypto/sha256"
	"errors"
	"math/big"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
)

// OracleAnnouncement carries the per-digit Schnorr nonce points an
// oracle published ahead of attesting to a price (spec §6: "nonces").
type OracleAnnouncement struct {
	PublicKey *btcec.PublicKey
	Nonces    []*btcec.PublicKey
}

// curveParams exposes the secp256k1 group order and field prime; kept
// as a helper since btcec/v2's PublicKey type represents coordinates as
// FieldVal rather than math/big.Int, but the adaptor-signature math
// below is most legible worked in big.Int.
func curveParams() (p, n *big.Int) {
	curve := btcec.S256()
	return curve.P, curve.N
}

func pubKeyCoords(pk *btcec.PublicKey) (x, y *big.Int) {
	xb := pk.X().Bytes()
	yb := pk.Y().Bytes()
	return new(big.Int).SetBytes(xb[:]), new(big.Int).SetBytes(yb[:])
}

func pointFromCoords(x, y *big.Int) *btcec.PublicKey {
	var fx, fy btcec.FieldVal
	fx.SetByteSlice(x.Bytes())
	fy.SetByteSlice(y.Bytes())
	return btcec.NewPublicKey(&fx, &fy)
}

// digitChallenge is the Fiat-Shamir-style challenge binding a nonce
// point to a specific attested digit value, used identically on both
// the encrypt (adaptor point derivation) and decrypt (scalar
// reconstruction) sides.
func digitChallenge(nonce *btcec.PublicKey, digit uint8) *big.Int {
	h := sha256.New()
	h.Write(nonce.SerializeCompressed())
	h.Write([]byte{digit})
	return new(big.Int).SetBytes(h.Sum(nil))
}

// AdaptorPointForPrefix derives the encryption point for a digit prefix
// by summing, for each attested digit position covered by the prefix,
// the point R_i + H(R_i||b_i)*P_oracle. This is the point whose
// discrete log is known only once the oracle has attested to digits
// matching the prefix (spec §4.1's "adaptor point derived from oracle
// nonces").
func (o OracleAnnouncement) AdaptorPointForPrefix(prefix DigitPrefix) (*btcec.PublicKey, error) {
	if prefix.Length > len(o.Nonces) {
		return nil, errors.New("protocol: prefix longer than available oracle nonces")
	}

	curve := btcec.S256()
	_, n := curveParams()
	var sumX, sumY *big.Int
	ox, oy := pubKeyCoords(o.PublicKey)

	for i := 0; i < prefix.Length; i++ {
		nonce := o.Nonces[i]
		challenge := digitChallenge(nonce, prefix.Digits[i])
		challenge.Mod(challenge, n)

		px, py := pubKeyCoords(nonce)
		cx, cy := curve.ScalarMult(ox, oy, challenge.Bytes())
		px, py = curve.Add(px, py, cx, cy)

		if sumX == nil {
			sumX, sumY = px, py
			continue
		}
		sumX, sumY = curve.Add(sumX, sumY, px, py)
	}

	if sumX == nil {
		return nil, errors.New("protocol: empty prefix has no adaptor point")
	}

	return pointFromCoords(sumX, sumY), nil
}

// SchnorrAttestationToScalar sums the oracle's per-digit attestation
// scalars for the first len(digits) nonces into the single decryption
// scalar that unlocks the adaptor signature for the matching prefix
// (spec: "schnorr_attestation_to_scalar"). scalars[i] must be the
// oracle's disclosed discrete log of (nonces[i] + H(nonces[i]||digits[i])*P).
func SchnorrAttestationToScalar(scalars []*big.Int, digits []uint8, nonces []*btcec.PublicKey) (*btcec.ModNScalar, error) {
	if len(scalars) < len(digits) || len(nonces) < len(digits) {
		return nil, errors.New("protocol: insufficient attestation material")
	}

	_, n := curveParams()
	sum := new(big.Int)
	for i := range digits {
		sum.Add(sum, scalars[i])
	}
	sum.Mod(sum, n)

	var out btcec.ModNScalar
	out.SetByteSlice(sum.Bytes())
	return &out, nil
}

// AdaptorSignature is an ECDSA signature encrypted under EncryptionPoint.
type AdaptorSignature struct {
	R               *btcec.PublicKey
	S               *big.Int
	EncryptionPoint *btcec.PublicKey
}

// EncryptedSign produces an ECDSA adaptor signature: an otherwise
// normal ECDSA signature whose nonce point is tweaked by encryptionPoint,
// such that only a party who later learns that point's discrete log can
// decrypt it into a valid ECDSA signature (ecdsa_adaptor_sign, §4.1).
//
// This is hand-built on btcec/v2 curve primitives: no library in the
// example pack implements ECDSA adaptor signatures directly (see
// DESIGN.md).
func EncryptedSign(sk *btcec.PrivateKey, message [32]byte, encryptionPoint *btcec.PublicKey) (*AdaptorSignature, error) {
	curve := btcec.S256()
	_, n := curveParams()

	nonce := deterministicNonce(sk, message[:], encryptionPoint.SerializeCompressed())

	Rx, Ry := curve.ScalarBaseMult(nonce.Bytes())
	ex, ey := pubKeyCoords(encryptionPoint)
	Rx, Ry = curve.Add(Rx, Ry, ex, ey)

	r := new(big.Int).Mod(Rx, n)
	if r.Sign() == 0 {
		return nil, errors.New("protocol: zero r, retry with different nonce")
	}

	e := hashToScalar(message[:])
	skScalar := new(big.Int).SetBytes(sk.Serialize())
	s := new(big.Int).Mul(r, skScalar)
	s.Add(s, e)
	kInv := new(big.Int).ModInverse(nonce, n)
	s.Mul(s, kInv)
	s.Mod(s, n)

	return &AdaptorSignature{
		R:               pointFromCoords(Rx, Ry),
		S:               s,
		EncryptionPoint: encryptionPoint,
	}, nil
}

// Verify checks the adaptor signature against the signer's public key
// and message without needing the encryption point's discrete log
// (ecdsa_adaptor_verify, spec §4.1).
func (a *AdaptorSignature) Verify(pk *btcec.PublicKey, message [32]byte) bool {
	curve := btcec.S256()
	p, n := curveParams()

	rx, _ := pubKeyCoords(a.R)
	rx = new(big.Int).Mod(rx, n)
	if rx.Sign() == 0 || a.S.Sign() == 0 {
		return false
	}

	e := hashToScalar(message[:])
	sInv := new(big.Int).ModInverse(a.S, n)

	u1 := new(big.Int).Mul(e, sInv)
	u1.Mod(u1, n)
	u2 := new(big.Int).Mul(rx, sInv)
	u2.Mod(u2, n)

	x1, y1 := curve.ScalarBaseMult(u1.Bytes())
	pkx, pky := pubKeyCoords(pk)
	x2, y2 := curve.ScalarMult(pkx, pky, u2.Bytes())
	x, y := curve.Add(x1, y1, x2, y2)

	// Un-tweak by subtracting the encryption point before comparing: a
	// valid adaptor signature satisfies R' = R - EncryptionPoint where
	// R' is the recovered point above.
	ex, ey := pubKeyCoords(a.EncryptionPoint)
	ey = new(big.Int).Neg(ey)
	ey.Mod(ey, p)
	aRx, aRy := pubKeyCoords(a.R)
	rx2, ry2 := curve.Add(aRx, aRy, ex, ey)

	return rx2.Cmp(x) == 0 && ry2.Cmp(y) == 0
}

// Decrypt un-blinds the adaptor signature with the discrete log of the
// encryption point, yielding a standard ECDSA signature
// (ecdsa_adaptor_decrypt, spec §4.1).
func (a *AdaptorSignature) Decrypt(decryptionScalar *btcec.ModNScalar) (*ecdsa.Signature, error) {
	curve := btcec.S256()
	p, n := curveParams()

	scalarBytes := decryptionScalar.Bytes()
	scalarBig := new(big.Int).SetBytes(scalarBytes[:])

	ex, ey := pubKeyCoords(a.EncryptionPoint)
	ey = new(big.Int).Neg(ey)
	ey.Mod(ey, p)
	aRx, aRy := pubKeyCoords(a.R)
	rx, _ := curve.Add(aRx, aRy, ex, ey)
	r := new(big.Int).Mod(rx, n)
	if r.Sign() == 0 {
		return nil, errors.New("protocol: degenerate decrypted r")
	}

	s := new(big.Int).Mul(a.S, scalarBig)
	s.Mod(s, n)
	if s.Cmp(new(big.Int).Rsh(n, 1)) > 0 {
		s.Sub(n, s)
	}

	var modR, modS btcec.ModNScalar
	modR.SetByteSlice(r.Bytes())
	modS.SetByteSlice(s.Bytes())

	return ecdsa.NewSignature(&modR, &modS), nil
}

func hashToScalar(b []byte) *big.Int {
	h := sha256.Sum256(b)
	return new(big.Int).SetBytes(h[:])
}

func deterministicNonce(sk *btcec.PrivateKey, message, salt []byte) *big.Int {
	h := sha256.New()
	h.Write(sk.Serialize())
	h.Write(message)
	h.Write(salt)
	sum := h.Sum(nil)
	_, n := curveParams()
	nn := new(big.Int).SetBytes(sum)
	nn.Mod(nn, n)
	if nn.Sign() == 0 {
		nn.SetInt64(1)
	}
	return nn
}
