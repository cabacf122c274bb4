package presidio

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transcript-pii-redactor/internal/logger"
	"transcript-pii-redactor/internal/pii"
)

func quietLogger() *logger.Logger {
	l := logger.New("PRESIDIO", "error")
	l.SetOutput(io.Discard)
	return l
}

func newAnalyzer(t *testing.T, handle func(req analyzeRequest) (int, any)) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("Presidio Analyzer service is up"))
	})
	mux.HandleFunc("POST /analyze", func(w http.ResponseWriter, r *http.Request) {
		var req analyzeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		code, body := handle(req)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(body)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestAnalyze_ConvertsOffsets(t *testing.T) {
	// "Zoë Smith" is 9 code points but 10 bytes.
	text := "Zoë Smith met José"
	srv := newAnalyzer(t, func(req analyzeRequest) (int, any) {
		assert.Equal(t, text, req.Text)
		assert.Equal(t, "en", req.Language)
		return http.StatusOK, []analyzerResult{
			{EntityType: "PERSON", Start: 0, End: 9, Score: 0.85},
			{EntityType: "PERSON", Start: 14, End: 18, Score: 0.85},
		}
	})

	c, err := New(context.Background(), Config{URL: srv.URL, Logger: quietLogger()})
	require.NoError(t, err)

	spans, err := c.Analyze(context.Background(), text, "en")
	require.NoError(t, err)
	require.Len(t, spans, 2)
	assert.Equal(t, "Zoë Smith", text[spans[0].Start:spans[0].End])
	assert.Equal(t, "José", text[spans[1].Start:spans[1].End])
	assert.Equal(t, pii.EntityPerson, spans[0].EntityType)
}

func TestAnalyze_SendsEntitiesAndThreshold(t *testing.T) {
	srv := newAnalyzer(t, func(req analyzeRequest) (int, any) {
		assert.Equal(t, []string{"PERSON"}, req.Entities)
		assert.InDelta(t, 0.4, req.ScoreThreshold, 1e-9)
		return http.StatusOK, []analyzerResult{}
	})
	c, err := New(context.Background(), Config{URL: srv.URL, Entities: []string{"PERSON"}, ScoreThreshold: 0.4, Logger: quietLogger()})
	require.NoError(t, err)
	assert.Equal(t, []string{"PERSON"}, c.SupportedEntities())

	spans, err := c.Analyze(context.Background(), "hello", "en")
	require.NoError(t, err)
	assert.Empty(t, spans)
}

func TestAnalyze_DropsBadOffsets(t *testing.T) {
	srv := newAnalyzer(t, func(analyzeRequest) (int, any) {
		return http.StatusOK, []analyzerResult{
			{EntityType: "PERSON", Start: 0, End: 99},
			{EntityType: "PERSON", Start: 3, End: 3},
			{EntityType: "PERSON", Start: 0, End: 3},
		}
	})
	c, err := New(context.Background(), Config{URL: srv.URL, Logger: quietLogger()})
	require.NoError(t, err)

	spans, err := c.Analyze(context.Background(), "Ann", "en")
	require.NoError(t, err)
	assert.Len(t, spans, 1)
}

func TestAnalyze_ServerError(t *testing.T) {
	srv := newAnalyzer(t, func(analyzeRequest) (int, any) {
		return http.StatusInternalServerError, map[string]string{"error": "model not loaded"}
	})
	c, err := New(context.Background(), Config{URL: srv.URL, Logger: quietLogger()})
	require.NoError(t, err)

	_, err = c.Analyze(context.Background(), "Ann", "en")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestAnalyze_EmptyTextSkipsRequest(t *testing.T) {
	called := false
	srv := newAnalyzer(t, func(analyzeRequest) (int, any) {
		called = true
		return http.StatusOK, []analyzerResult{}
	})
	c, err := New(context.Background(), Config{URL: srv.URL, Logger: quietLogger()})
	require.NoError(t, err)

	spans, err := c.Analyze(context.Background(), "   ", "en")
	require.NoError(t, err)
	assert.Nil(t, spans)
	assert.False(t, called)
}

func TestNew_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(context.Background(), Config{URL: url, Logger: quietLogger()})
	assert.ErrorIs(t, err, pii.ErrDetectionUnavailable)
}

func TestNew_UnhealthyStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := New(context.Background(), Config{URL: srv.URL, Logger: quietLogger()})
	assert.ErrorIs(t, err, pii.ErrDetectionUnavailable)
}

func TestNew_MissingURL(t *testing.T) {
	_, err := New(context.Background(), Config{Logger: quietLogger()})
	assert.ErrorIs(t, err, pii.ErrDetectionUnavailable)
}

func TestRuneOffsets(t *testing.T) {
	assert.Equal(t, []int{0, 1, 3, 4}, runeOffsets("aéb"))
	assert.Equal(t, []int{0}, runeOffsets(""))
}

func TestClient_WithAnalyzer(t *testing.T) {
	text := "Ann Lee is 47 years old"
	srv := newAnalyzer(t, func(analyzeRequest) (int, any) {
		return http.StatusOK, []analyzerResult{
			{EntityType: "PERSON", Start: 0, End: 7, Score: 0.85},
			{EntityType: "DATE_TIME", Start: 11, End: 23, Score: 0.85},
		}
	})
	c, err := New(context.Background(), Config{URL: srv.URL, Logger: quietLogger()})
	require.NoError(t, err)

	l := quietLogger()
	e := pii.NewEngine(pii.NewAnalyzer(c, pii.DefaultPatternRecognizers()...), pii.Options{Logger: l})
	res, err := e.Redact(context.Background(), text)
	require.NoError(t, err)
	assert.Equal(t, "[PERSON_1/Ann Lee] is [AGE/47 years old]", res.Text)
}
