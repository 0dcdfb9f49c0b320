package contractcourt

import (
	"testing"
	"time"

	"github.com/cfdlabs/cfd-core/cfderr"
	"github.com/cfdlabs/cfd-core/protocol"
	"github.com/stretchr/testify/require"
)

func fixedNow(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func contractInState(kind StateKind, dlc *protocol.DLC) Contract {
	return Contract{
		Offer:    Offer{ID: NewOfferID()},
		Current:  State{Kind: kind, DLC: dlc},
	}
}

func TestApplyHappyPathFullSetupThroughClose(t *testing.T) {
	now := fixedNow(time.Unix(1_700_000_000, 0))
	dlc := &protocol.DLC{IsMaker: true}

	c := contractInState(KindOutgoingRequest, nil)

	s, eff, err := Apply(c, Event{Kind: EventPeerAccept}, now)
	require.NoError(t, err)
	require.Equal(t, KindContractSetup, s.Kind)
	require.Equal(t, EffectBeginSetup, eff.Kind)
	c.Current = s

	s, eff, err = Apply(c, Event{Kind: EventSetupOK, DLC: dlc}, now)
	require.NoError(t, err)
	require.Equal(t, KindPendingOpen, s.Kind)
	require.Equal(t, EffectBroadcastLock, eff.Kind)
	require.Same(t, dlc, eff.DLC)
	c.Current = s

	s, eff, err = Apply(c, Event{Kind: EventLockFinality}, now)
	require.NoError(t, err)
	require.Equal(t, KindOpen, s.Kind)
	require.Equal(t, EffectSubscribeMonitor, eff.Kind)
	c.Current = s

	s, eff, err = Apply(c, Event{Kind: EventCollabCloseAgreed, Close: &CloseInfo{}}, now)
	require.NoError(t, err)
	require.Equal(t, KindOpen, s.Kind)
	require.Equal(t, EffectBroadcastClose, eff.Kind)
	require.NotNil(t, s.Close)
	c.Current = s

	s, _, err = Apply(c, Event{Kind: EventCollabCloseFinality}, now)
	require.NoError(t, err)
	require.Equal(t, KindClosed, s.Kind)
	require.True(t, s.IsTerminal())
}

func TestApplyAttestationThenCetPath(t *testing.T) {
	now := fixedNow(time.Unix(1_700_000_000, 0))
	dlc := &protocol.DLC{}
	c := contractInState(KindOpen, dlc)

	s, eff, err := Apply(c, Event{Kind: EventAttestation, Attestation: &Attestation{Price: 40000}}, now)
	require.NoError(t, err)
	require.Equal(t, KindPendingCommit, s.Kind)
	require.Equal(t, EffectBroadcastCommit, eff.Kind)
	require.Equal(t, uint64(40000), s.Attestation.Price)
	c.Current = s

	s, _, err = Apply(c, Event{Kind: EventCommitFinality}, now)
	require.NoError(t, err)
	require.Equal(t, KindOpenCommitted, s.Kind)
	require.NotNil(t, s.Attestation)
	c.Current = s

	s, eff, err = Apply(c, Event{Kind: EventAttestation, Attestation: &Attestation{Price: 40000}}, now)
	require.NoError(t, err)
	require.Equal(t, KindPendingCet, s.Kind)
	require.Equal(t, EffectBroadcastCET, eff.Kind)
	c.Current = s

	s, _, err = Apply(c, Event{Kind: EventCetFinality}, now)
	require.NoError(t, err)
	require.Equal(t, KindClosed, s.Kind)
	require.True(t, s.IsTerminal())
}

func TestApplyRefundPath(t *testing.T) {
	now := fixedNow(time.Unix(1_700_000_000, 0))
	c := contractInState(KindOpenCommitted, &protocol.DLC{})

	s, eff, err := Apply(c, Event{Kind: EventRefundTimelockExpiry}, now)
	require.NoError(t, err)
	require.Equal(t, KindMustRefund, s.Kind)
	require.Equal(t, EffectBroadcastRefund, eff.Kind)
	c.Current = s

	s, _, err = Apply(c, Event{Kind: EventRefundFinality}, now)
	require.NoError(t, err)
	require.Equal(t, KindRefunded, s.Kind)
	require.True(t, s.IsTerminal())
}

func TestApplyRejectsEventNotLegalFromCurrentState(t *testing.T) {
	now := fixedNow(time.Unix(1_700_000_000, 0))
	c := contractInState(KindOutgoingRequest, nil)

	s, eff, err := Apply(c, Event{Kind: EventCetFinality}, now)
	require.Error(t, err)
	require.True(t, cfderr.Is(err, cfderr.KindStateViolation))
	require.Equal(t, KindOutgoingRequest, s.Kind)
	require.Equal(t, EffectNone, eff.Kind)
}

func TestApplyRejectsAnyEventFromTerminalState(t *testing.T) {
	now := fixedNow(time.Unix(1_700_000_000, 0))

	for _, kind := range []StateKind{KindRejected, KindSetupFailed, KindRefunded, KindClosed} {
		c := contractInState(kind, nil)
		_, _, err := Apply(c, Event{Kind: EventAttestation}, now)
		require.Error(t, err, "kind %s", kind)
		require.True(t, cfderr.Is(err, cfderr.KindStateViolation))
	}
}

func TestApplyCounterpartyStaleCommitBroadcastsPunishWithoutStateChange(t *testing.T) {
	now := fixedNow(time.Unix(1_700_000_000, 0))
	dlc := &protocol.DLC{}

	for _, kind := range []StateKind{KindOpen, KindOpenCommitted} {
		c := contractInState(kind, dlc)
		s, eff, err := Apply(c, Event{Kind: EventCounterpartyStaleCommit}, now)
		require.NoError(t, err)
		require.Equal(t, kind, s.Kind)
		require.Equal(t, EffectBroadcastPunish, eff.Kind)
		require.Same(t, dlc, eff.DLC)
	}
}

func TestApplyDuplicateLockFinalityIsRejectedOnceOpen(t *testing.T) {
	now := fixedNow(time.Unix(1_700_000_000, 0))
	c := contractInState(KindOpen, &protocol.DLC{})

	_, _, err := Apply(c, Event{Kind: EventLockFinality}, now)
	require.Error(t, err)
	require.True(t, cfderr.Is(err, cfderr.KindStateViolation))
}

func TestApplySetupFailureRecordsReason(t *testing.T) {
	now := fixedNow(time.Unix(1_700_000_000, 0))
	c := contractInState(KindContractSetup, nil)

	s, eff, err := Apply(c, Event{Kind: EventSetupFail, Reason: "peer disconnected mid-handshake"}, now)
	require.NoError(t, err)
	require.Equal(t, KindSetupFailed, s.Kind)
	require.Equal(t, EffectNone, eff.Kind)
	require.Equal(t, "peer disconnected mid-handshake", s.Reason)
	require.True(t, s.IsTerminal())
}

func TestApplySetupOkWithoutDlcIsProtocolViolation(t *testing.T) {
	now := fixedNow(time.Unix(1_700_000_000, 0))
	c := contractInState(KindContractSetup, nil)

	_, _, err := Apply(c, Event{Kind: EventSetupOK}, now)
	require.Error(t, err)
	require.True(t, cfderr.Is(err, cfderr.KindProtocolViolation))
}

func TestValidateEventForActiveProtocolRejectsSecondProtocol(t *testing.T) {
	require.NoError(t, ValidateEventForActiveProtocol(false))

	err := ValidateEventForActiveProtocol(true)
	require.Error(t, err)
	require.True(t, cfderr.Is(err, cfderr.KindStateViolation))
}

func TestValidateRolloverAllowedRejectsDuringInFlightCollabClose(t *testing.T) {
	open := contractInState(KindOpen, &protocol.DLC{})
	require.NoError(t, ValidateRolloverAllowed(open))

	withClose := open
	withClose.Current.Close = &CloseInfo{Confirmed: false}
	err := ValidateRolloverAllowed(withClose)
	require.Error(t, err)
	require.True(t, cfderr.Is(err, cfderr.KindStateViolation))

	withConfirmedClose := open
	withConfirmedClose.Current.Close = &CloseInfo{Confirmed: true}
	require.NoError(t, ValidateRolloverAllowed(withConfirmedClose))
}
