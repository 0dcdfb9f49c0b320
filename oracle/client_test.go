package oracle

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/require"
)

func startTestOracle(t *testing.T, eventID string, nonces []*btcec.PublicKey, attestation *attestationEnvelope) *httptest.Server {
	t.Helper()

	nonceHex := make([]string, len(nonces))
	for i, n := range nonces {
		nonceHex[i] = hex.EncodeToString(n.SerializeCompressed())
	}

	data := oracleEventData{
		ID:                  eventID,
		ExpectedOutcomeTime: "2026-08-01T00:00:00",
	}
	data.Schemes.OliviaV1.Nonces = nonceHex
	rawData, err := json.Marshal(data)
	require.NoError(t, err)

	envelope := eventEnvelope{
		Announcement: announcementEnvelope{
			OracleEvent: oracleEventEnvelope{Data: string(rawData)},
			Signature:   "deadbeef",
		},
		Attestation: attestation,
	}

	mux := http.NewServeMux()
	mux.HandleFunc(fmt.Sprintf("/%s", eventID), func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(envelope))
	})
	return httptest.NewServer(mux)
}

func TestAnnouncementParsesNoncesFromEnvelope(t *testing.T) {
	sk, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	oraclePub := sk.PubKey()

	nonceKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	nonces := []*btcec.PublicKey{nonceKey.PubKey()}

	srv := startTestOracle(t, "x-BitMEX-BXBT-1", nonces, nil)
	defer srv.Close()

	client, err := NewClient(srv.URL, hex.EncodeToString(oraclePub.SerializeCompressed()), 0)
	require.NoError(t, err)

	ann, err := client.Announcement(context.Background(), "x-BitMEX-BXBT-1")
	require.NoError(t, err)
	require.Len(t, ann.Nonces, 1)
	require.True(t, ann.PublicKey.IsEqual(oraclePub))
	require.True(t, ann.Nonces[0].IsEqual(nonces[0]))
}

func TestAttestationReturnsFalseBeforeOracleAttests(t *testing.T) {
	sk, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	srv := startTestOracle(t, "x-BitMEX-BXBT-2", nil, nil)
	defer srv.Close()

	client, err := NewClient(srv.URL, hex.EncodeToString(sk.PubKey().SerializeCompressed()), 0)
	require.NoError(t, err)

	att, ok, err := client.Attestation(context.Background(), "x-BitMEX-BXBT-2")
	require.NoError(t, err)
	require.False(t, ok)
	require.Nil(t, att)
}

func TestAttestationParsesOutcomeAndScalars(t *testing.T) {
	sk, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	attestation := &attestationEnvelope{Outcome: 49262, Time: "2026-08-01T00:00:00"}
	attestation.Schemes.OliviaV1.Scalars = []string{hex.EncodeToString([]byte{0x01, 0x02}), hex.EncodeToString([]byte{0x03})}

	srv := startTestOracle(t, "x-BitMEX-BXBT-3", nil, attestation)
	defer srv.Close()

	client, err := NewClient(srv.URL, hex.EncodeToString(sk.PubKey().SerializeCompressed()), 0)
	require.NoError(t, err)

	att, ok, err := client.Attestation(context.Background(), "x-BitMEX-BXBT-3")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(49262), att.Price)
	require.Len(t, att.Scalars, 2)
	require.Equal(t, []byte{0x01, 0x02}, att.Scalars[0])
}

func TestAnnouncementIsCachedWithinTTL(t *testing.T) {
	sk, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	hits := 0
	mux := http.NewServeMux()
	data := oracleEventData{ID: "x-cached"}
	rawData, err := json.Marshal(data)
	require.NoError(t, err)
	envelope := eventEnvelope{Announcement: announcementEnvelope{OracleEvent: oracleEventEnvelope{Data: string(rawData)}}}

	mux.HandleFunc("/x-cached", func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(envelope))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, err := NewClient(srv.URL, hex.EncodeToString(sk.PubKey().SerializeCompressed()), 0)
	require.NoError(t, err)

	_, err = client.Announcement(context.Background(), "x-cached")
	require.NoError(t, err)
	_, err = client.Announcement(context.Background(), "x-cached")
	require.NoError(t, err)
	require.Equal(t, 1, hits)
}
