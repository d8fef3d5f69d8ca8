package api_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/certhand/api"
	"github.com/jmcleod/certhand/ca"
	"github.com/jmcleod/certhand/index"
)

func newTestServer(t *testing.T) (*ca.Authority, *httptest.Server) {
	t.Helper()
	a, err := ca.Init(filepath.Join(t.TempDir(), "acme"), ca.Config{
		Label:  "acme",
		Domain: "acme.example.com",
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	server := httptest.NewServer(api.New(a).Router())
	t.Cleanup(server.Close)
	return a, server
}

func TestHealth(t *testing.T) {
	_, server := newTestServer(t)

	resp, err := http.Get(server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCACertificate(t *testing.T) {
	a, server := newTestServer(t)

	resp, err := http.Get(server.URL + "/ca.pem")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, string(a.CertificatePEM()), string(body))
}

func TestCRL_NotBuiltYet(t *testing.T) {
	_, server := newTestServer(t)

	resp, err := http.Get(server.URL + "/crl.pem")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCRL_AfterBuild(t *testing.T) {
	a, server := newTestServer(t)

	_, err := a.BuildCRL(context.Background())
	require.NoError(t, err)

	resp, err := http.Get(server.URL + "/crl.pem")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/x-pem-file", resp.Header.Get("Content-Type"))
}

func TestIndexEntries(t *testing.T) {
	a, server := newTestServer(t)

	req, err := a.NewRequest(ca.TypeServer, "web.acme.example.com")
	require.NoError(t, err)
	require.NoError(t, a.Prepare(req))
	_, err = a.Sign(context.Background(), req)
	require.NoError(t, err)
	require.NoError(t, a.Revoke(1))

	resp, err := http.Get(server.URL + "/index.json")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var entries []index.Entry
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&entries))
	require.Len(t, entries, 1)
	assert.Equal(t, int64(1), entries[0].Serial)
	assert.Equal(t, index.StatusRevoked, entries[0].Status)
}
