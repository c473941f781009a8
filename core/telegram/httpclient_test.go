package telegram

import (
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedTransport struct {
	errs  []error
	calls int
	seen  []string
}

func (s *scriptedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	s.calls++
	if req.Body != nil {
		b, _ := io.ReadAll(req.Body)
		s.seen = append(s.seen, string(b))
	}
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader("{}"))}, nil
}

func TestRetryTransportReplaysBodyOnDialFailure(t *testing.T) {
	base := &scriptedTransport{errs: []error{&net.OpError{Op: "dial", Err: errors.New("refused")}}}
	rt := newRetryTransport(base, 2, 0)

	req, err := http.NewRequest(http.MethodPost, "http://telegram.test/bot/sendMessage", strings.NewReader("text=hi"))
	require.NoError(t, err)
	resp, err := rt.RoundTrip(req)
	require.NoError(t, err)
	_ = resp.Body.Close()

	assert.Equal(t, 2, base.calls)
	assert.Equal(t, []string{"text=hi", "text=hi"}, base.seen)
}

func TestRetryTransportStopsOnFinalError(t *testing.T) {
	final := errors.New("tls: bad certificate")
	base := &scriptedTransport{errs: []error{final}}
	rt := newRetryTransport(base, 3, 0)

	req, err := http.NewRequest(http.MethodGet, "http://telegram.test/bot/getMe", nil)
	require.NoError(t, err)
	_, err = rt.RoundTrip(req)
	assert.ErrorIs(t, err, final)
	assert.Equal(t, 1, base.calls)
}
