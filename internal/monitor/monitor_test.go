package monitor

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/san-kum/pimd/internal/metrics"
	"github.com/san-kum/pimd/internal/properties"
	"github.com/san-kum/pimd/internal/sim"
)

type fixedStatus []sim.Status

func (f fixedStatus) Status() []sim.Status { return f }

func TestRouter(t *testing.T) {
	c := metrics.NewCollector("pimd", "run-1")
	c.RecordProperties(properties.Values{properties.Temperature: 300})
	status := fixedStatus{{RunID: "run-1", Phase: "running", Step: 7, TotalSteps: 20}}

	srv := httptest.NewServer(NewRouter(c.Handler(), status))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/status")
	require.NoError(t, err)
	var doc struct {
		Runs []sim.Status `json:"runs"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&doc))
	resp.Body.Close()
	require.Len(t, doc.Runs, 1)
	assert.Equal(t, 7, doc.Runs[0].Step)
	assert.Equal(t, "running", doc.Runs[0].Phase)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), "pimd_")

	resp, err = http.Post(srv.URL+"/status", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestNilSources(t *testing.T) {
	srv := httptest.NewServer(NewRouter(nil, nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/status")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.JSONEq(t, `{"runs":[]}`, string(body))

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStartShutdown(t *testing.T) {
	s, err := Start("127.0.0.1:0", NewRouter(nil, fixedStatus{}))
	require.NoError(t, err)

	resp, err := http.Get("http://" + s.Addr() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, s.Shutdown(context.Background()))
}
