package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStub(cfg stubConfig) http.Handler {
	if cfg.Path == "" {
		cfg.Path = "/store/variants/lowest-prices"
	}
	return newStub(cfg, zerolog.Nop()).routes()
}

func post(h http.Handler, body string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodPost, "/store/variants/lowest-prices", strings.NewReader(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestStub_DeterministicAmounts(t *testing.T) {
	h := newTestStub(stubConfig{})

	body := `{"variant_ids":["var_a","var_b"],"currency_code":"pln","days":30}`
	w1 := post(h, body)
	w2 := post(h, body)
	require.Equal(t, http.StatusOK, w1.Code)
	assert.JSONEq(t, w1.Body.String(), w2.Body.String())

	var out struct {
		Results map[string]*lowestPriceEntry `json:"results"`
	}
	require.NoError(t, json.Unmarshal(w1.Body.Bytes(), &out))
	require.Len(t, out.Results, 2)
	for _, e := range out.Results {
		assert.True(t, e.Lowest30dAmount.LessThan(e.CurrentAmount))
	}
}

func TestStub_FailEvery(t *testing.T) {
	h := newTestStub(stubConfig{FailEvery: 2})

	body := `{"variant_ids":["var_a"]}`
	assert.Equal(t, http.StatusOK, post(h, body).Code)
	assert.Equal(t, http.StatusServiceUnavailable, post(h, body).Code)
	assert.Equal(t, http.StatusOK, post(h, body).Code)
}

func TestStub_RejectsEmptyRequest(t *testing.T) {
	h := newTestStub(stubConfig{})

	assert.Equal(t, http.StatusBadRequest, post(h, `{"variant_ids":[]}`).Code)
	assert.Equal(t, http.StatusBadRequest, post(h, `nope`).Code)
}

func TestStub_MissingEveryOmitsVariants(t *testing.T) {
	h := newTestStub(stubConfig{MissingEvery: 1})

	w := post(h, `{"variant_ids":["var_a","var_b"]}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"results":{}}`, w.Body.String())
}
