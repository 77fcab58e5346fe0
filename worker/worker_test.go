package worker

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testWorker() *FitWorker {
	cfg := DefaultWorkerConfig()
	// Keep the test cache tiny regardless of machine memory.
	cfg.CacheFraction = 1e-9
	return NewFitWorker(cfg)
}

func marshalRequest(t *testing.T, req *FitRequest) []byte {
	t.Helper()
	data, err := json.Marshal(req)
	require.NoError(t, err)
	return data
}

func unmarshalResponse(t *testing.T, data []byte) *FitResponse {
	t.Helper()
	resp := &FitResponse{}
	require.NoError(t, json.Unmarshal(data, resp))
	return resp
}

func TestHandleRoundTrip(t *testing.T) {
	w := testWorker()
	data := marshalRequest(t, &FitRequest{
		ID:         "req-1",
		Categories: []string{"win", "draw", "loss"},
		Entities:   []string{"team-a", "team-b", "team-c"},
		Rows: [][]int{
			{50, 30, 20},
			{5, 3, 2},
			{500, 300, 200},
		},
		IncludeEstimates: true,
	})
	resp := unmarshalResponse(t, w.Handle(data))

	assert.Equal(t, "req-1", resp.ID)
	assert.Empty(t, resp.Error)
	require.Len(t, resp.Alpha, 3)
	require.NotNil(t, resp.Diagnostics)
	assert.True(t, resp.Diagnostics.Converged)
	require.Len(t, resp.ParameterTable, 3)
	assert.Equal(t, "win", resp.ParameterTable[0].Category)

	// All three rows share the proportions (0.5, 0.3, 0.2), so every
	// estimate row should be near them and must sum to one.
	require.Len(t, resp.Estimates, 3)
	for _, est := range resp.Estimates {
		require.Len(t, est, 3)
		sum := 0.0
		for _, v := range est {
			sum += v
		}
		assert.InDelta(t, 1.0, sum, 1e-9)
		assert.InDelta(t, 0.5, est[0], 0.05)
	}
}

func TestHandleCachesRepeatRequests(t *testing.T) {
	w := testWorker()
	data := marshalRequest(t, &FitRequest{
		ID:         "req-cache",
		Categories: []string{"a", "b"},
		Rows:       [][]int{{8, 2}, {7, 3}, {9, 1}, {6, 4}},
	})

	first := w.Handle(data)
	assert.Equal(t, uint64(0), w.cache.hits.Load())
	assert.Equal(t, uint64(1), w.cache.stores.Load())

	second := w.Handle(data)
	assert.Equal(t, uint64(1), w.cache.hits.Load())
	assert.True(t, bytes.Equal(first, second))
}

func TestHandleBadPayload(t *testing.T) {
	w := testWorker()
	resp := unmarshalResponse(t, w.Handle([]byte("{not json")))
	assert.Empty(t, resp.ID)
	assert.Contains(t, resp.Error, "could not parse request")
	assert.Nil(t, resp.Alpha)
	// Failures are not cached.
	assert.Equal(t, uint64(0), w.cache.stores.Load())
}

func TestHandleStructuralErrors(t *testing.T) {
	w := testWorker()
	for _, tc := range []struct {
		name string
		req  *FitRequest
	}{
		{"ragged rows", &FitRequest{
			ID:         "r",
			Categories: []string{"a", "b", "c"},
			Rows:       [][]int{{1, 2, 3}, {1, 2}},
		}},
		{"negative count", &FitRequest{
			ID:         "r",
			Categories: []string{"a", "b"},
			Rows:       [][]int{{1, -2}},
		}},
		{"one category", &FitRequest{
			ID:         "r",
			Categories: []string{"a"},
			Rows:       [][]int{{1}},
		}},
		{"all rows empty", &FitRequest{
			ID:         "r",
			Categories: []string{"a", "b"},
			Rows:       [][]int{{0, 0}, {0, 0}},
		}},
		{"weight length", &FitRequest{
			ID:         "r",
			Categories: []string{"a", "b", "c"},
			Rows:       [][]int{{1, 2, 3}},
			Weights:    []float64{1, 2},
		}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			resp := unmarshalResponse(t, w.Handle(marshalRequest(t, tc.req)))
			assert.Equal(t, "r", resp.ID)
			assert.NotEmpty(t, resp.Error)
			assert.Nil(t, resp.Alpha)
		})
	}
}

func TestHandleWeightedScores(t *testing.T) {
	w := testWorker()
	data := marshalRequest(t, &FitRequest{
		ID:               "req-scores",
		Categories:       []string{"win", "draw", "loss"},
		Rows:             [][]int{{50, 30, 20}, {5, 3, 2}, {500, 300, 200}},
		Weights:          []float64{1, 0, 0},
		IncludeEstimates: true,
	})
	resp := unmarshalResponse(t, w.Handle(data))
	require.Empty(t, resp.Error)
	require.Len(t, resp.Scores, 3)
	for i, score := range resp.Scores {
		// With weights (1,0,0) the score is the first estimate column.
		assert.InDelta(t, resp.Estimates[i][0], score, 1e-12)
	}
}

func TestHandleScoresWithoutEstimates(t *testing.T) {
	w := testWorker()
	data := marshalRequest(t, &FitRequest{
		ID:         "req-scores-only",
		Categories: []string{"a", "b"},
		Rows:       [][]int{{8, 2}, {7, 3}},
		Weights:    []float64{2, 1},
	})
	resp := unmarshalResponse(t, w.Handle(data))
	require.Empty(t, resp.Error)
	assert.Nil(t, resp.Estimates)
	require.Len(t, resp.Scores, 2)
	for _, score := range resp.Scores {
		// Estimates sum to one, so scores land between the two weights.
		assert.Greater(t, score, 1.0)
		assert.Less(t, score, 2.0)
	}
}

func TestHandleRequestOptions(t *testing.T) {
	w := testWorker()
	data := marshalRequest(t, &FitRequest{
		ID:            "req-opts",
		Categories:    []string{"a", "b"},
		Rows:          [][]int{{8, 2}, {7, 3}, {9, 1}},
		MaxIterations: 2,
	})
	resp := unmarshalResponse(t, w.Handle(data))
	require.Empty(t, resp.Error)
	require.NotNil(t, resp.Diagnostics)
	assert.False(t, resp.Diagnostics.Converged)
	assert.LessOrEqual(t, resp.Diagnostics.Iterations, 2)
}

func TestCacheCollisionOverwrites(t *testing.T) {
	c := &responseCache{}
	c.reset(1e-15) // floors at the minimum size

	stride := c.sizeMask + 1
	c.put(5, []byte("first"))
	c.put(5+stride, []byte("second"))

	_, ok := c.get(5)
	assert.False(t, ok)
	resp, ok := c.get(5 + stride)
	assert.True(t, ok)
	assert.Equal(t, []byte("second"), resp)
	assert.Equal(t, uint64(1), c.collisions.Load())
}

func TestFitEventRoundTrip(t *testing.T) {
	evt := &FitEvent{
		Request: FitRequest{
			ID:         "evt-1",
			Categories: []string{"a", "b"},
			Rows:       [][]int{{3, 1}},
		},
		ReplyChannel: "fits.replies.evt-1",
	}
	data, err := json.Marshal(evt)
	require.NoError(t, err)

	got := &FitEvent{}
	require.NoError(t, json.Unmarshal(data, got))
	assert.Equal(t, evt.Request.ID, got.Request.ID)
	assert.Equal(t, evt.ReplyChannel, got.ReplyChannel)
	assert.Equal(t, evt.Request.Rows, got.Request.Rows)
}
