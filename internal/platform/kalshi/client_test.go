package kalshi

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/propdesk/internal/domain"
)

func newServer(t *testing.T, check func(*http.Request)) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/markets/PRES-24-DEM", func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			check(r)
		}
		_, _ = w.Write([]byte(`{"market":{"ticker":"PRES-24-DEM","event_ticker":"PRES-24","status":"open"}}`))
	})
	mux.HandleFunc("/markets/RAIN-NYC", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"market":{"ticker":"RAIN-NYC","event_ticker":"RAIN","status":"open"}}`))
	})
	mux.HandleFunc("/events/PRES-24", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"event":{"event_ticker":"PRES-24","title":"Winner","mutually_exclusive":true},
			"markets":[{"ticker":"PRES-24-DEM"},{"ticker":"PRES-24-REP"},{"ticker":"PRES-24-IND"}]}`))
	})
	mux.HandleFunc("/events/RAIN", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"event":{"event_ticker":"RAIN","mutually_exclusive":false},"markets":[{"ticker":"RAIN-NYC"}]}`))
	})
	mux.HandleFunc("/markets/GONE", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"code":"not_found","message":"market not found"}}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestEventInfoMultiOutcome(t *testing.T) {
	srv := newServer(t, nil)
	c := NewClient(srv.URL, "", 100, time.Second)

	ev, err := c.EventInfo(context.Background(), "PRES-24-DEM")
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, "PRES-24", ev.EventID)
	assert.True(t, ev.IsMultiOutcome)
	assert.Equal(t, []string{"PRES-24-DEM", "PRES-24-REP", "PRES-24-IND"}, ev.Outcomes)
}

func TestEventInfoStandaloneMarket(t *testing.T) {
	srv := newServer(t, nil)
	c := NewClient(srv.URL, "", 100, time.Second)

	ev, err := c.EventInfo(context.Background(), "RAIN-NYC")
	require.NoError(t, err)
	assert.Nil(t, ev)
}

func TestNotFoundMapsToDomainError(t *testing.T) {
	srv := newServer(t, nil)
	c := NewClient(srv.URL, "", 100, time.Second)

	_, err := c.GetMarket(context.Background(), "GONE")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Contains(t, err.Error(), "market not found")
}

func TestSignedRequests(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})

	var seen http.Header
	srv := newServer(t, func(r *http.Request) { seen = r.Header.Clone() })
	c := NewClient(srv.URL, "key-1", 100, time.Second)
	require.NoError(t, c.SetRSAPrivateKey(pemBytes))

	_, err = c.GetMarket(context.Background(), "PRES-24-DEM")
	require.NoError(t, err)

	assert.Equal(t, "key-1", seen.Get("KALSHI-ACCESS-KEY"))
	sig, err := base64.StdEncoding.DecodeString(seen.Get("KALSHI-ACCESS-SIGNATURE"))
	require.NoError(t, err)
	hash := sha256.Sum256([]byte(seen.Get("KALSHI-ACCESS-TIMESTAMP") + http.MethodGet + "/markets/PRES-24-DEM"))
	assert.NoError(t, rsa.VerifyPSS(&key.PublicKey, crypto.SHA256, hash[:], sig, &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash}))
}

func TestSetRSAPrivateKeyRejectsGarbage(t *testing.T) {
	c := NewClient("http://unused", "", 1, time.Second)
	assert.Error(t, c.SetRSAPrivateKey([]byte("not a key")))
}
