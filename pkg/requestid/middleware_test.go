package requestid_test

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/saasbilling/pkg/logger"
	"github.com/dmitrymomot/saasbilling/pkg/requestid"
)

func serve(t *testing.T, header string) (seen string, echoed string) {
	t.Helper()
	handler := requestid.Middleware(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = requestid.FromContext(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set(requestid.Header, header)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return seen, rec.Header().Get(requestid.Header)
}

func TestMiddleware(t *testing.T) {
	t.Parallel()

	t.Run("reuses a valid header", func(t *testing.T) {
		t.Parallel()
		seen, echoed := serve(t, "req-123_abc")
		assert.Equal(t, "req-123_abc", seen)
		assert.Equal(t, "req-123_abc", echoed)
	})

	for name, header := range map[string]string{
		"missing":  "",
		"invalid":  "bad id; drop table",
		"too long": strings.Repeat("a", 129),
	} {
		t.Run("generates when "+name, func(t *testing.T) {
			t.Parallel()
			seen, echoed := serve(t, header)
			require.NotEmpty(t, seen)
			assert.Equal(t, seen, echoed)
			_, err := ulid.ParseStrict(seen)
			assert.NoError(t, err)
		})
	}
}

func TestFromContext_Empty(t *testing.T) {
	t.Parallel()
	assert.Empty(t, requestid.FromContext(context.Background()))
}

func TestLoggerExtractor(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := logger.New(
		logger.WithOutput(&buf),
		logger.WithJSONFormatter(),
		logger.WithContextExtractors(requestid.LoggerExtractor()),
	)

	log.InfoContext(requestid.WithContext(context.Background(), "req-1"), "webhook received")
	assert.Contains(t, buf.String(), `"request_id":"req-1"`)

	buf.Reset()
	log.InfoContext(context.Background(), "no request")
	assert.NotContains(t, buf.String(), "request_id")
}
