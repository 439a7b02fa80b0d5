package tee

import (
	"context"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	e, err := New(Config{})
	require.NoError(t, err)
	require.IsType(t, &DCAPEnclave{}, e)

	e, err = New(Config{Kind: "dummy"})
	require.NoError(t, err)
	require.IsType(t, &DummyEnclave{}, e)

	_, err = New(Config{Kind: "remote"})
	require.Error(t, err)

	_, err = New(Config{Kind: "sgx"})
	require.ErrorIs(t, err, ErrUnsupportedEnclave)
}

func TestDummyEnclave(t *testing.T) {
	ctx := context.Background()
	e := DummyEnclave{}

	a, err := e.ReadRandom(ctx, 8)
	require.NoError(t, err)
	require.Len(t, a, 8)

	_, err = e.ReadRandom(ctx, 0)
	require.Error(t, err)
	_, err = e.ReadRandom(ctx, MaxRandomBytes+1)
	require.Error(t, err)

	quote, err := e.Quote(ctx, [32]byte{0xab})
	require.NoError(t, err)
	require.Contains(t, string(quote), "ab00")
}

func TestRemoteEnclave(t *testing.T) {
	var attested string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/attest/"):
			attested = strings.TrimPrefix(r.URL.Path, "/attest/")
			_, _ = w.Write([]byte("quote"))
		case r.URL.Path == "/random/4":
			_, _ = w.Write([]byte{1, 2, 3, 4})
		case r.URL.Path == "/random/5":
			_, _ = w.Write([]byte{1})
		default:
			http.Error(w, "nope", http.StatusTeapot)
		}
	}))
	defer server.Close()

	e := NewRemoteEnclave(server.URL+"/", nil)
	ctx := context.Background()

	payload := [32]byte{1, 2, 3}
	quote, err := e.Quote(ctx, payload)
	require.NoError(t, err)
	require.Equal(t, []byte("quote"), quote)

	rd, err := hex.DecodeString(attested)
	require.NoError(t, err)
	require.Len(t, rd, 64)
	require.Equal(t, payload[:], rd[:32])

	random, err := e.ReadRandom(ctx, 4)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3, 4}, random)

	_, err = e.ReadRandom(ctx, 5)
	require.Error(t, err)

	_, err = e.ReadRandom(ctx, 6)
	require.ErrorContains(t, err, "status 418")
}
