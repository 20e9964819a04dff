package upstream

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livinlefevreloca/collector/internal/record"
	"github.com/livinlefevreloca/collector/internal/testutil"
)

var serverNow = time.Date(2025, 2, 27, 16, 0, 0, 0, time.Local)

func newTestServer(t *testing.T, cfg ServerConfig) *Server {
	t.Helper()
	gen := NewGenerator(cfg.SampleStep, func() time.Time { return serverNow }, 42)
	srv, err := NewServer(cfg, gen, testutil.DiscardLogger())
	require.NoError(t, err)
	return srv
}

func postData(t *testing.T, srv *Server, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, target, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) record.DataResponse {
	t.Helper()
	var resp record.DataResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestServer_LimitedResponse(t *testing.T) {
	srv := newTestServer(t, DefaultServerConfig())

	rec := postData(t, srv, "/api/data", `{"startTime":"2025-02-27T12:00:00","limitYn":"Y"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeResponse(t, rec)
	assert.Equal(t, record.CodeSuccess, resp.ResCode)
	assert.Equal(t, "2025-02-27T12:00:00", resp.StartTime)
	assert.Equal(t, 15, resp.DataCnt)
	assert.Len(t, resp.Data, 15)

	for i, r := range resp.Data {
		require.NoError(t, r.Validate())
		at, err := r.Time()
		require.NoError(t, err)
		assert.False(t, at.After(serverNow), "record %d is in the future", i)
		assert.GreaterOrEqual(t, r.Value, 1000)
		assert.LessOrEqual(t, r.Value, 9999)
	}
	assert.Equal(t, "DATA_0_20250227120000", resp.Data[0].ID)
	assert.Equal(t, "DATA_1_20250227121000", resp.Data[1].ID)
}

func TestServer_DefaultsToLimited(t *testing.T) {
	srv := newTestServer(t, DefaultServerConfig())

	rec := postData(t, srv, "/api/data", `{"startTime":"2025-02-27T12:00:00"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 15, decodeResponse(t, rec).DataCnt)
}

func TestServer_UnlimitedStopsAtNow(t *testing.T) {
	srv := newTestServer(t, DefaultServerConfig())

	// 12:00 to 16:00 in 10 minute steps is 25 samples
	rec := postData(t, srv, "/api/data", `{"startTime":"2025-02-27T12:00:00","limitYn":"N"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 25, decodeResponse(t, rec).DataCnt)
}

func TestServer_MaxRecordsQuery(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.MaxRecords = 20
	srv := newTestServer(t, cfg)

	rec := postData(t, srv, "/api/data?max_records=5", `{"startTime":"2025-02-27T00:00:00","limitYn":"N"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, decodeResponse(t, rec).DataCnt)

	// capped at the configured maximum
	rec = postData(t, srv, "/api/data?max_records=500", `{"startTime":"2025-02-27T00:00:00","limitYn":"N"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 20, decodeResponse(t, rec).DataCnt)

	rec = postData(t, srv, "/api/data?max_records=abc", `{"startTime":"2025-02-27T00:00:00","limitYn":"N"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_LegacyStartTimeIsNormalized(t *testing.T) {
	srv := newTestServer(t, DefaultServerConfig())

	rec := postData(t, srv, "/api/data", `{"startTime":"2025-02-27 12:00:00","limitYn":"Y"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeResponse(t, rec)
	assert.Equal(t, "2025-02-27T12:00:00", resp.StartTime)
	assert.Equal(t, "2025-02-27T12:00:00", resp.Data[0].Timestamp)
}

func TestServer_FutureStartReturnsEmpty(t *testing.T) {
	srv := newTestServer(t, DefaultServerConfig())

	rec := postData(t, srv, "/api/data", `{"startTime":"2025-02-28T12:00:00","limitYn":"Y"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeResponse(t, rec)
	assert.Equal(t, record.CodeSuccess, resp.ResCode)
	assert.Equal(t, 0, resp.DataCnt)
	assert.Empty(t, resp.Data)
}

func TestServer_BadRequests(t *testing.T) {
	srv := newTestServer(t, DefaultServerConfig())

	tests := []struct {
		name string
		body string
	}{
		{"malformed start time", `{"startTime":"27/02/2025 12:00","limitYn":"Y"}`},
		{"missing start time", `{"limitYn":"Y"}`},
		{"invalid limit flag", `{"startTime":"2025-02-27T12:00:00","limitYn":"maybe"}`},
		{"not json", `startTime=2025-02-27`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postData(t, srv, "/api/data", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)

			var body errorBody
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.NotEmpty(t, body.Detail)
		})
	}
}

func TestServer_PanicBecomesServerError(t *testing.T) {
	srv := newTestServer(t, DefaultServerConfig())
	srv.router.GET("/boom", func(c *gin.Context) { panic("boom") })

	req := httptest.NewRequest(http.MethodGet, "/boom", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "internal server error")
}

func TestServer_ClientEndToEnd(t *testing.T) {
	srv := newTestServer(t, DefaultServerConfig())
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	client := newClientFor(t, ts.URL, time.Second)

	resp, err := client.Fetch(context.Background(), serverNow.Add(-time.Hour), true)
	require.NoError(t, err)
	// 15:00 .. 16:00 inclusive
	assert.Equal(t, 7, resp.RecordCount())

	resp, err = client.Fetch(context.Background(), serverNow.Add(time.Hour), true)
	require.NoError(t, err)
	assert.Equal(t, 0, resp.RecordCount())
}

func TestServer_GzipWhenAccepted(t *testing.T) {
	tests := []struct {
		name       string
		compress   bool
		acceptGzip bool
		wantGzip   bool
	}{
		{name: "accepted", compress: true, acceptGzip: true, wantGzip: true},
		{name: "not accepted", compress: true, acceptGzip: false, wantGzip: false},
		{name: "disabled", compress: false, acceptGzip: true, wantGzip: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultServerConfig()
			cfg.Compress = tt.compress
			srv := newTestServer(t, cfg)

			req := httptest.NewRequest(http.MethodPost, "/api/data", bytes.NewBufferString(`{"startTime":"2025-02-27 12:00:00","limitYn":"Y"}`))
			req.Header.Set("Content-Type", "application/json")
			if tt.acceptGzip {
				req.Header.Set("Accept-Encoding", "gzip")
			}
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, req)
			require.Equal(t, http.StatusOK, rec.Code)

			body := rec.Body.Bytes()
			if tt.wantGzip {
				require.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))
				zr, err := gzip.NewReader(bytes.NewReader(body))
				require.NoError(t, err)
				body, err = io.ReadAll(zr)
				require.NoError(t, err)
			} else {
				assert.Empty(t, rec.Header().Get("Content-Encoding"))
			}

			var resp record.DataResponse
			require.NoError(t, json.Unmarshal(body, &resp))
			assert.Equal(t, 15, resp.DataCnt)
		})
	}
}

func TestNewServer_ValidatesConfig(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.LimitedCount = 0
	_, err := NewServer(cfg, NewGenerator(time.Minute, nil, 1), testutil.DiscardLogger())
	assert.Error(t, err)
}
