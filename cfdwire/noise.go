package cfdwire

import (
	"fmt"

	"github.com/cfdlabs/cfd-core/cfderr"
	"github.com/flynn/noise"
)

// cipherSuite fixes the Noise_IK instantiation named in spec §6:
// Curve25519 DH, ChaCha20-Poly1305 AEAD, BLAKE2s hash.
var cipherSuite = noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashBLAKE2s)

// maxFrameSize is the largest ciphertext frame the wire protocol will
// send or accept (spec §6 "maximum ciphertext frame 65535 bytes").
const maxFrameSize = 65535

// StaticKeypair is a Curve25519 keypair used as the Noise static key.
// Nothing in this module derives it from a seed or persists it.
type StaticKeypair = noise.DHKey

// GenerateStaticKeypair generates a fresh random Noise static keypair;
// the daemon binaries call it on every start.
func GenerateStaticKeypair() (StaticKeypair, error) {
	kp, err := noise.DH25519.GenerateKeypair(nil)
	if err != nil {
		return StaticKeypair{}, cfderr.New(cfderr.KindConfiguration, fmt.Errorf("generate noise keypair: %w", err))
	}
	return kp, nil
}

// handshakeCodec carries the two per-direction cipher states produced
// once a Noise_IK handshake completes.
type handshakeCodec struct {
	send *noise.CipherState
	recv *noise.CipherState
}

// frameIO is the minimal capability a handshake needs: send and
// receive one length-framed plaintext blob. It is implemented by the
// raw frame reader/writer used during the handshake; Conn does not
// implement it.
type frameIO interface {
	readFrame() ([]byte, error)
	writeFrame(b []byte) error
}

// handshakeInitiator runs the two-message IK exchange as the side that
// knows the responder's static public key out-of-band (spec §6 "the
// responder's long-term public key is known to the initiator
// out-of-band"). This is always the taker connecting out to a maker.
func handshakeInitiator(rw frameIO, local StaticKeypair, remoteStatic []byte, prologue []byte) (*handshakeCodec, error) {
	hs, err := noise.NewHandshakeState(noise.Config{
		CipherSuite:   cipherSuite,
		Pattern:       noise.HandshakeIK,
		Initiator:     true,
		StaticKeypair: local,
		PeerStatic:    remoteStatic,
		Prologue:      prologue,
	})
	if err != nil {
		return nil, cfderr.New(cfderr.KindConfiguration, fmt.Errorf("init handshake state: %w", err))
	}

	msg1, _, _, err := hs.WriteMessage(nil, nil)
	if err != nil {
		return nil, cfderr.New(cfderr.KindIO, fmt.Errorf("write handshake message 1: %w", err))
	}
	if err := rw.writeFrame(msg1); err != nil {
		return nil, err
	}

	msg2, err := rw.readFrame()
	if err != nil {
		return nil, err
	}
	_, csSend, csRecv, err := hs.ReadMessage(nil, msg2)
	if err != nil {
		return nil, cfderr.New(cfderr.KindVerificationFailure, fmt.Errorf("read handshake message 2: %w", err))
	}

	return &handshakeCodec{send: csSend, recv: csRecv}, nil
}

// handshakeResponder runs the IK exchange as the side being connected
// to (always the maker, accepting inbound taker connections).
func handshakeResponder(rw frameIO, local StaticKeypair, prologue []byte) (*handshakeCodec, []byte, error) {
	hs, err := noise.NewHandshakeState(noise.Config{
		CipherSuite:   cipherSuite,
		Pattern:       noise.HandshakeIK,
		Initiator:     false,
		StaticKeypair: local,
		Prologue:      prologue,
	})
	if err != nil {
		return nil, nil, cfderr.New(cfderr.KindConfiguration, fmt.Errorf("init handshake state: %w", err))
	}

	msg1, err := rw.readFrame()
	if err != nil {
		return nil, nil, err
	}
	_, _, _, err = hs.ReadMessage(nil, msg1)
	if err != nil {
		return nil, nil, cfderr.New(cfderr.KindVerificationFailure, fmt.Errorf("read handshake message 1: %w", err))
	}
	remoteStatic := hs.PeerStatic()

	msg2, csRecv, csSend, err := hs.WriteMessage(nil, nil)
	if err != nil {
		return nil, nil, cfderr.New(cfderr.KindIO, fmt.Errorf("write handshake message 2: %w", err))
	}
	if err := rw.writeFrame(msg2); err != nil {
		return nil, nil, err
	}

	return &handshakeCodec{send: csSend, recv: csRecv}, remoteStatic, nil
}
