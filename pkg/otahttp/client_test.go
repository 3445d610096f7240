package otahttp

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/channelcore-backend/pkg/errors"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func respond(status int, body string) *http.Response {
	return &http.Response{StatusCode: status, Body: io.NopCloser(strings.NewReader(body)), Header: http.Header{}}
}

func TestClientDoSendsAuthAndBody(t *testing.T) {
	var captured *http.Request
	var capturedBody string
	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		captured = req
		b, _ := io.ReadAll(req.Body)
		capturedBody = string(b)
		return respond(http.StatusOK, `<ok/>`), nil
	})

	client, err := NewClient("http://ota.test/api/", WithHTTPClient(&http.Client{Transport: rt}), WithBasicAuth("hotel", "secret"))
	require.NoError(t, err)

	resp, err := client.Do(context.Background(), Request{
		Method:      http.MethodPost,
		Path:        "/avail",
		Query:       map[string]string{"hotel": "42"},
		ContentType: "application/xml",
		Body:        []byte("<rq/>"),
	})
	require.NoError(t, err)
	assert.Equal(t, "<ok/>", string(resp.Body))
	assert.Equal(t, "http://ota.test/api/avail?hotel=42", captured.URL.String())
	user, pass, ok := captured.BasicAuth()
	assert.True(t, ok)
	assert.Equal(t, "hotel", user)
	assert.Equal(t, "secret", pass)
	assert.Equal(t, "application/xml", captured.Header.Get("Content-Type"))
	assert.Equal(t, "<rq/>", capturedBody)
}

func TestClientDoWrapsStatusErrors(t *testing.T) {
	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return respond(http.StatusTooManyRequests, "slow down"), nil
	})
	client, err := NewClient("http://ota.test", WithHTTPClient(&http.Client{Transport: rt}), WithHeaderAuth("X-Api-Key", "k"))
	require.NoError(t, err)

	_, err = client.Do(context.Background(), Request{Path: "rates"})
	require.Error(t, err)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeDependency))
	assert.Equal(t, http.StatusTooManyRequests, StatusOf(err))
}

func TestClientDoWrapsTransportErrors(t *testing.T) {
	boom := errors.New("connection refused")
	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return nil, boom
	})
	client, err := NewClient("http://ota.test", WithHTTPClient(&http.Client{Transport: rt}))
	require.NoError(t, err)

	_, err = client.Do(context.Background(), Request{Path: "ping"})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, StatusOf(err))
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	_, err := NewClient("  ")
	require.Error(t, err)
}
