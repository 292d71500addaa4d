package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantforge/bayesopt/internal/config"
	"github.com/quantforge/bayesopt/internal/logging"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()

	cfg := &config.Config{}
	cfg.Optimizer.MaxIterations = 20
	cfg.Optimizer.InitialPoints = 5
	cfg.Optimizer.CandidatePool = 100

	srv := NewServer(cfg, logging.New(logging.ErrorLevel, io.Discard), nil)
	r := chi.NewRouter()
	srv.RegisterRoutes(r)

	ts := httptest.NewServer(r)
	t.Cleanup(func() {
		ts.Close()
		_ = srv.Close()
	})
	return srv, ts
}

func postJSON(t *testing.T, url string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()

	payload, err := json.Marshal(body)
	require.NoError(t, err)

	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func getJSON(t *testing.T, url string) (*http.Response, map[string]interface{}) {
	t.Helper()

	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func waitForStatus(t *testing.T, ts *httptest.Server, id, want string) map[string]interface{} {
	t.Helper()

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		resp, body := getJSON(t, ts.URL+"/api/v1/status/"+id)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		if body["status"] == want {
			return body
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("job %s never reached status %q", id, want)
	return nil
}

func TestOptimizeEndpoint(t *testing.T) {
	_, ts := newTestServer(t)

	resp, body := postJSON(t, ts.URL+"/api/v1/optimize", JobRequest{
		Objective:     "sphere",
		Bounds:        [][2]float64{{-5, 5}, {-5, 5}},
		MaxIterations: 10,
		Seed:          42,
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	id, ok := body["optimization_id"].(string)
	require.True(t, ok, "response must carry the job id: %v", body)

	status := waitForStatus(t, ts, id, StatusCompleted)
	assert.Equal(t, "budget-exhausted", status["reason"])
	assert.EqualValues(t, 10, status["iterations"])

	best, ok := status["best_solution"].(map[string]interface{})
	require.True(t, ok, "completed job must report a best solution: %v", status)
	assert.Less(t, best["value"].(float64), 25.0)
	assert.Len(t, best["parameters"], 2)
}

func TestOptimizeEndpointRejectsBadRequests(t *testing.T) {
	_, ts := newTestServer(t)

	// malformed body
	resp, err := http.Post(ts.URL+"/api/v1/optimize", "application/json", bytes.NewReader([]byte("{not json")))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// unknown objective
	resp2, body := postJSON(t, ts.URL+"/api/v1/optimize", JobRequest{
		Objective: "ackley",
		Bounds:    [][2]float64{{-5, 5}},
	})
	assert.Equal(t, http.StatusBadRequest, resp2.StatusCode)
	assert.Contains(t, body["error"], "unknown objective")

	// missing bounds
	resp3, _ := postJSON(t, ts.URL+"/api/v1/optimize", JobRequest{
		Objective: "sphere",
	})
	assert.Equal(t, http.StatusBadRequest, resp3.StatusCode)
}

func TestStatusUnknownJob(t *testing.T) {
	_, ts := newTestServer(t)

	resp, body := getJSON(t, ts.URL+"/api/v1/status/opt_missing")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, body["error"], "not found")
}

func TestCancelTerminalJob(t *testing.T) {
	_, ts := newTestServer(t)

	_, body := postJSON(t, ts.URL+"/api/v1/optimize", JobRequest{
		Objective:     "sphere",
		Bounds:        [][2]float64{{-1, 1}},
		MaxIterations: 2,
		Seed:          1,
	})
	id := body["optimization_id"].(string)
	waitForStatus(t, ts, id, StatusCompleted)

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/api/v1/optimization/"+id, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestJSONRPCLifecycle(t *testing.T) {
	_, ts := newTestServer(t)

	resp, body := postJSON(t, ts.URL+"/rpc", map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "optimization.start",
		"params": JobRequest{
			Objective:     "rastrigin",
			Bounds:        [][2]float64{{-5.12, 5.12}},
			MaxIterations: 5,
			Seed:          9,
		},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Nil(t, body["error"], "start must succeed: %v", body)

	result := body["result"].(map[string]interface{})
	id := result["optimization_id"].(string)
	waitForStatus(t, ts, id, StatusCompleted)

	_, statusBody := postJSON(t, ts.URL+"/rpc", map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      2,
		"method":  "optimization.status",
		"params":  map[string]string{"optimization_id": id},
	})
	require.Nil(t, statusBody["error"])
	statusResult := statusBody["result"].(map[string]interface{})
	assert.Equal(t, StatusCompleted, statusResult["status"])
}

func TestJSONRPCErrors(t *testing.T) {
	_, ts := newTestServer(t)

	// unknown method
	_, body := postJSON(t, ts.URL+"/rpc", map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "optimization.pause",
	})
	rpcErr := body["error"].(map[string]interface{})
	assert.EqualValues(t, -32601, rpcErr["code"])

	// wrong protocol version
	_, body = postJSON(t, ts.URL+"/rpc", map[string]interface{}{
		"jsonrpc": "1.0",
		"id":      2,
		"method":  "optimization.status",
	})
	rpcErr = body["error"].(map[string]interface{})
	assert.EqualValues(t, -32600, rpcErr["code"])

	// unknown job id
	_, body = postJSON(t, ts.URL+"/rpc", map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      3,
		"method":  "optimization.status",
		"params":  map[string]string{"optimization_id": "opt_missing"},
	})
	rpcErr = body["error"].(map[string]interface{})
	assert.EqualValues(t, -32000, rpcErr["code"])
	assert.Contains(t, fmt.Sprint(rpcErr["message"]), "not found")
}

func TestObjectiveForName(t *testing.T) {
	for _, name := range []string{"sphere", "rosenbrock", "rastrigin"} {
		obj, err := objectiveForName(name)
		require.NoError(t, err)
		require.NotNil(t, obj)
	}

	_, err := objectiveForName("griewank")
	assert.Error(t, err)

	// rosenbrock rejects 1-D input
	obj, err := objectiveForName("rosenbrock")
	require.NoError(t, err)
	_, err = obj([]float64{1})
	assert.Error(t, err)

	// known minima
	obj, _ = objectiveForName("sphere")
	v, err := obj([]float64{0, 0})
	require.NoError(t, err)
	assert.Equal(t, 0.0, v)

	obj, _ = objectiveForName("rastrigin")
	v, err = obj([]float64{0, 0, 0})
	require.NoError(t, err)
	assert.InDelta(t, 0.0, v, 1e-12)
}
