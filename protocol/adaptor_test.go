package protocol

import (
	"crypto/sha256"
	"math/big"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/require"
)

// buildOracleFixture constructs a tiny oracle announcement/attestation
// pair for n digits, returning the announcement, the attested digits,
// and the per-digit attestation scalars (the scalar whose base-point
// multiple is nonce_i + H(nonce_i||digit_i)*oraclePub).
func buildOracleFixture(t *testing.T, n int, attestedPrice uint64) (OracleAnnouncement, []uint8, []*big.Int) {
	t.Helper()

	curve := btcec.S256()
	_, order := curveParams()

	oracleSK, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	oraclePub := oracleSK.PubKey()

	digits := make([]uint8, n)
	for i := 0; i < n; i++ {
		shift := n - 1 - i
		digits[i] = uint8((attestedPrice >> uint(shift)) & 1)
	}

	nonces := make([]*btcec.PublicKey, n)
	scalars := make([]*big.Int, n)

	for i := 0; i < n; i++ {
		kSK, err := btcec.NewPrivateKey()
		require.NoError(t, err)
		nonces[i] = kSK.PubKey()

		// challenge = H(R_i || digit_i), matching digitChallenge.
		h := sha256.New()
		h.Write(nonces[i].SerializeCompressed())
		h.Write([]byte{digits[i]})
		challenge := new(big.Int).SetBytes(h.Sum(nil))
		challenge.Mod(challenge, order)

		// scalar_i = k_i + challenge*oracleSK (mod N), so that
		// scalar_i*G = R_i + challenge*oraclePub.
		kScalar := new(big.Int).SetBytes(kSK.Serialize())
		oScalar := new(big.Int).SetBytes(oracleSK.Serialize())
		term := new(big.Int).Mul(challenge, oScalar)
		s := new(big.Int).Add(kScalar, term)
		s.Mod(s, order)
		scalars[i] = s
	}

	_ = curve
	return OracleAnnouncement{PublicKey: oraclePub, Nonces: nonces}, digits, scalars
}

func TestAdaptorSignRoundTrip(t *testing.T) {
	const n = 8
	const price = 0xAB // 171, fits in 8 bits

	ann, digits, scalars := buildOracleFixture(t, n, price)

	// Full-length prefix identifies exactly this price.
	prefix := DigitPrefix{Digits: digits, Length: n}
	adaptorPoint, err := ann.AdaptorPointForPrefix(prefix)
	require.NoError(t, err)

	sk, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	var msg [32]byte
	copy(msg[:], []byte("cet-spend-message-cet-spend-msg!"))

	sig, err := EncryptedSign(sk, msg, adaptorPoint)
	require.NoError(t, err)
	require.True(t, sig.Verify(sk.PubKey(), msg), "adaptor sig must verify before decryption")

	decryptionScalar, err := SchnorrAttestationToScalar(scalars, digits, ann.Nonces)
	require.NoError(t, err)

	ecdsaSig, err := sig.Decrypt(decryptionScalar)
	require.NoError(t, err)
	require.True(t, ecdsaSig.Verify(msg[:], sk.PubKey()), "decrypted signature must verify under the normal ECDSA rules")
}

func TestAdaptorVerifyRejectsWrongKey(t *testing.T) {
	const n = 4
	ann, digits, _ := buildOracleFixture(t, n, 0b1010)
	prefix := DigitPrefix{Digits: digits, Length: n}
	adaptorPoint, err := ann.AdaptorPointForPrefix(prefix)
	require.NoError(t, err)

	sk, _ := btcec.NewPrivateKey()
	other, _ := btcec.NewPrivateKey()

	var msg [32]byte
	copy(msg[:], []byte("some-other-spend-message-here!!"))

	sig, err := EncryptedSign(sk, msg, adaptorPoint)
	require.NoError(t, err)
	require.False(t, sig.Verify(other.PubKey(), msg))
}
