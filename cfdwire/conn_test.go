package cfdwire

import (
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/cfdlabs/cfd-core/contractcourt"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestHandshakeThenSendRoundTripsAMessage(t *testing.T) {
	makerKey, err := GenerateStaticKeypair()
	require.NoError(t, err)
	takerKey, err := GenerateStaticKeypair()
	require.NoError(t, err)

	makerSide, takerSide := net.Pipe()

	type result struct {
		conn *Conn
		err  error
	}
	makerCh := make(chan result, 1)
	takerCh := make(chan result, 1)

	go func() {
		c, err := AcceptTaker(makerSide, makerKey)
		makerCh <- result{c, err}
	}()
	go func() {
		raw := &rawFramer{rw: takerSide}
		codec, err := handshakeInitiator(raw, takerKey, makerKey.Public, nil)
		if err != nil {
			takerCh <- result{nil, err}
			return
		}
		takerCh <- result{newConn(takerSide, codec, makerKey.Public), nil}
	}()

	makerRes := <-makerCh
	takerRes := <-takerCh
	require.NoError(t, makerRes.err)
	require.NoError(t, takerRes.err)
	defer makerRes.conn.Close()
	defer takerRes.conn.Close()

	offerID := contractcourt.NewOfferID()
	msg := NewTakeOrder(offerID, decimal.NewFromInt(25))
	require.NoError(t, takerRes.conn.Send(msg))

	select {
	case raw := <-makerRes.conn.Inbound:
		var got TakerToMaker
		require.NoError(t, json.Unmarshal(raw, &got))
		require.Equal(t, TakerTakeOrder, got.Kind)
		body, err := got.AsTakeOrder()
		require.NoError(t, err)
		require.Equal(t, offerID, body.OfferID)
		require.True(t, decimal.NewFromInt(25).Equal(body.Quantity))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for inbound message")
	}
}

func TestOfferIDRoundTripsThroughJSONAsUUIDString(t *testing.T) {
	id := contractcourt.NewOfferID()
	raw, err := json.Marshal(id)
	require.NoError(t, err)
	require.Equal(t, `"`+id.String()+`"`, string(raw))

	var got contractcourt.OfferID
	require.NoError(t, json.Unmarshal(raw, &got))
	require.Equal(t, id, got)
}

func TestMakerToTakerCurrentOrderRoundTripsNilOffer(t *testing.T) {
	msg := NewCurrentOrder(nil)
	raw, err := json.Marshal(msg)
	require.NoError(t, err)

	var got MakerToTaker
	require.NoError(t, json.Unmarshal(raw, &got))
	require.Equal(t, MakerCurrentOrder, got.Kind)
	offer, err := got.AsCurrentOrder()
	require.NoError(t, err)
	require.Nil(t, offer)
}
