package bitable

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	authPath   = "/open-apis/auth/v3/tenant_access_token/internal"
	searchPath = "/open-apis/bitable/v1/apps/base1/tables/tbl1/records/search"
	recordPath = "/open-apis/bitable/v1/apps/base1/tables/tbl1/records"
)

// fakeLark is a minimal HTTP double for the store API.
type fakeLark struct {
	t         *testing.T
	authCalls int
	authCode  int
	handle    func(w http.ResponseWriter, r *http.Request, call int)
	calls     int
}

func (f *fakeLark) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == authPath {
		f.authCalls++
		json.NewEncoder(w).Encode(map[string]any{
			"code": f.authCode, "msg": "auth message",
			"tenant_access_token": "tok-123", "expire": 7200,
		})
		return
	}
	f.calls++
	assert.Equal(f.t, "Bearer tok-123", r.Header.Get("Authorization"))
	f.handle(w, r, f.calls)
}

func newTestClient(t *testing.T, fake *fakeLark) (Client, *httptest.Server) {
	t.Helper()
	fake.t = t
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	cfg := Config{
		Endpoint:  srv.URL,
		AppID:     "app",
		AppSecret: "secret",
		BaseID:    "base1",
		TableID:   "tbl1",
	}
	return NewClient(cfg, NoopObserver{}), srv
}

func searchResult(items ...map[string]any) map[string]any {
	return map[string]any{"code": 0, "msg": "success", "data": map[string]any{"items": items}}
}

func TestFindRecord_ReturnsFirstMatch(t *testing.T) {
	fake := &fakeLark{
		handle: func(w http.ResponseWriter, r *http.Request, _ int) {
			assert.Equal(t, searchPath, r.URL.Path)
			assert.Equal(t, http.MethodPost, r.Method)

			var req searchRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "and", req.Filter.Conjunction)
			require.Len(t, req.Filter.Conditions, 2)
			assert.Equal(t, "uid", req.Filter.Conditions[0].FieldName)
			assert.Equal(t, "is", req.Filter.Conditions[0].Operator)

			json.NewEncoder(w).Encode(searchResult(
				map[string]any{"record_id": "rec_a", "fields": map[string]any{"uid": "U1"}},
				map[string]any{"record_id": "rec_b", "fields": map[string]any{"uid": "U1"}},
			))
		},
	}
	client, _ := newTestClient(t, fake)

	rec, err := client.FindRecord(context.Background(),
		Is("uid", "U1"), Is("record_date", int64(1709564400000)))
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "rec_a", rec.ID)
	assert.Equal(t, "U1", rec.Fields["uid"])
}

func TestFindRecord_NoMatchReturnsNil(t *testing.T) {
	fake := &fakeLark{
		handle: func(w http.ResponseWriter, _ *http.Request, _ int) {
			json.NewEncoder(w).Encode(searchResult())
		},
	}
	client, _ := newTestClient(t, fake)

	rec, err := client.FindRecord(context.Background(), Is("uid", "U1"))
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestFindRecord_StoreCodePropagatesAsQueryError(t *testing.T) {
	fake := &fakeLark{
		handle: func(w http.ResponseWriter, _ *http.Request, _ int) {
			json.NewEncoder(w).Encode(map[string]any{"code": 1254005, "msg": "FieldNameNotFound"})
		},
	}
	client, _ := newTestClient(t, fake)

	_, err := client.FindRecord(context.Background(), Is("uid", "U1"))
	assert.ErrorIs(t, err, ErrQuery)
	assert.Contains(t, err.Error(), "FieldNameNotFound")
}

func TestAuthFailure(t *testing.T) {
	fake := &fakeLark{authCode: 10003}
	client, _ := newTestClient(t, fake)

	_, err := client.FindRecord(context.Background(), Is("uid", "U1"))
	assert.ErrorIs(t, err, ErrAuth)
	assert.NotErrorIs(t, err, ErrQuery)
}

func TestCreateRecord(t *testing.T) {
	fake := &fakeLark{
		handle: func(w http.ResponseWriter, r *http.Request, _ int) {
			assert.Equal(t, recordPath, r.URL.Path)
			assert.Equal(t, http.MethodPost, r.Method)

			var req recordRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "U1", req.Fields["uid"])

			json.NewEncoder(w).Encode(map[string]any{
				"code": 0, "msg": "success",
				"data": map[string]any{"record": map[string]any{"record_id": "rec_new"}},
			})
		},
	}
	client, _ := newTestClient(t, fake)

	id, err := client.CreateRecord(context.Background(), map[string]any{"uid": "U1"})
	require.NoError(t, err)
	assert.Equal(t, "rec_new", id)
}

func TestCreateRecord_StoreCodePropagatesAsWriteError(t *testing.T) {
	fake := &fakeLark{
		handle: func(w http.ResponseWriter, _ *http.Request, _ int) {
			json.NewEncoder(w).Encode(map[string]any{"code": 1254045, "msg": "table not found"})
		},
	}
	client, _ := newTestClient(t, fake)

	_, err := client.CreateRecord(context.Background(), map[string]any{"uid": "U1"})
	assert.ErrorIs(t, err, ErrWrite)
}

func TestUpdateRecord(t *testing.T) {
	fake := &fakeLark{
		handle: func(w http.ResponseWriter, r *http.Request, _ int) {
			assert.Equal(t, recordPath+"/rec_a", r.URL.Path)
			assert.Equal(t, http.MethodPut, r.Method)
			json.NewEncoder(w).Encode(map[string]any{"code": 0, "msg": "success"})
		},
	}
	client, _ := newTestClient(t, fake)

	err := client.UpdateRecord(context.Background(), "rec_a", map[string]any{"end_at": int64(1)})
	require.NoError(t, err)
}

func TestTokenCachedAcrossCalls(t *testing.T) {
	fake := &fakeLark{
		handle: func(w http.ResponseWriter, _ *http.Request, _ int) {
			json.NewEncoder(w).Encode(searchResult())
		},
	}
	client, _ := newTestClient(t, fake)

	for i := 0; i < 3; i++ {
		_, err := client.FindRecord(context.Background(), Is("uid", "U1"))
		require.NoError(t, err)
	}
	assert.Equal(t, 1, fake.authCalls)
}

func TestStaleTokenRefreshedAndRetriedOnce(t *testing.T) {
	fake := &fakeLark{
		handle: func(w http.ResponseWriter, _ *http.Request, call int) {
			if call == 1 {
				json.NewEncoder(w).Encode(map[string]any{"code": codeTokenInvalid, "msg": "Invalid access token"})
				return
			}
			json.NewEncoder(w).Encode(searchResult(
				map[string]any{"record_id": "rec_a", "fields": map[string]any{}},
			))
		},
	}
	client, _ := newTestClient(t, fake)

	rec, err := client.FindRecord(context.Background(), Is("uid", "U1"))
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 2, fake.authCalls)
	assert.Equal(t, 2, fake.calls)
}

func TestGateway401RefreshedAndRetriedOnce(t *testing.T) {
	fake := &fakeLark{
		handle: func(w http.ResponseWriter, _ *http.Request, call int) {
			if call == 1 {
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte("unauthorized"))
				return
			}
			json.NewEncoder(w).Encode(searchResult())
		},
	}
	client, _ := newTestClient(t, fake)

	_, err := client.FindRecord(context.Background(), Is("uid", "U1"))
	require.NoError(t, err)
	assert.Equal(t, 2, fake.authCalls)
}
