package sia

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPAPIRenterFiles(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/renter/files", r.URL.Path)
		assert.Equal(t, "Sia-Agent", r.UserAgent())
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"files":[{"siapath":"a/b.txt","localpath":"/data/a/b.txt","filesize":100,"uploadedbytes":300,"uploadprogress":42.5,"available":false,"redundancy":0.7}]}`))
	}))
	defer server.Close()

	api := NewHTTPAPI(server.URL, "", nil)
	files, err := api.RenterFiles(context.Background())
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, File{
		SiaPath:        "a/b.txt",
		LocalPath:      "/data/a/b.txt",
		FileSize:       100,
		UploadedBytes:  300,
		UploadProgress: 42.5,
		Redundancy:     0.7,
	}, files[0])
	assert.True(t, files[0].InProgress())
}

func TestHTTPAPINullFilesList(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"files":null}`))
	}))
	defer server.Close()

	files, err := NewHTTPAPI(server.URL, "", nil).RenterFiles(context.Background())
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestHTTPAPIUploadEscapesPathAndSendsSource(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/renter/upload/dir/my file.txt", r.URL.Path)
		assert.Equal(t, "/data/dir/my file.txt", r.URL.Query().Get("source"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	err := NewHTTPAPI(server.URL, "", nil).RenterUpload(context.Background(), "dir/my file.txt", "/data/dir/my file.txt")
	require.NoError(t, err)
}

func TestHTTPAPIBasicAuth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, pass, ok := r.BasicAuth()
		if !ok || pass != "hunter2" {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"message":"API authentication failed."}`))
			return
		}
		w.Write([]byte(`{"synced":true,"height":12}`))
	}))
	defer server.Close()

	info, err := NewHTTPAPI(server.URL, "hunter2", nil).Consensus(context.Background())
	require.NoError(t, err)
	assert.True(t, info.Synced)

	_, err = NewHTTPAPI(server.URL, "", nil).Consensus(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, "API authentication failed.", apiErr.Message)
}

func TestHTTPAPISetAllowanceQuery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/renter", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "1000", q.Get("funds"))
		assert.Equal(t, "50", q.Get("hosts"))
		assert.Equal(t, "12096", q.Get("period"))
		assert.Equal(t, "4032", q.Get("renewwindow"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	err := NewHTTPAPI(server.URL, "", nil).SetRenterAllowance(context.Background(), Allowance{
		Funds: "1000", Hosts: 50, Period: 12096, RenewWindow: 4032,
	})
	require.NoError(t, err)
}

func TestHTTPAPIContractCount(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"legacy", `{"contracts":[{},{},{}]}`, 3},
		{"active", `{"contracts":[{}],"activecontracts":[{},{}]}`, 2},
		{"none", `{"contracts":null}`, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			n, err := NewHTTPAPI(server.URL, "", nil).RenterContractCount(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want, n)
		})
	}
}

func TestHTTPAPIGetReturnsRawBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/renter/prices", r.URL.Path)
		w.Write([]byte(`{"storageterabytemonth":"1"}`))
	}))
	defer server.Close()

	raw, err := NewHTTPAPI(server.URL, "", nil).Get(context.Background(), "/renter/prices")
	require.NoError(t, err)
	var decoded map[string]string
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "1", decoded["storageterabytemonth"])
}

func TestHTTPAPIUnreachableIsTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := server.URL
	server.Close()

	_, err := NewHTTPAPI(addr, "", nil).Wallet(context.Background())
	require.Error(t, err)
	assert.True(t, IsTransportError(err))
}

func TestHTTPAPICancelledContextIsNotTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewHTTPAPI(server.URL, "", nil).Wallet(ctx)
	require.Error(t, err)
	assert.False(t, IsTransportError(err))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewHTTPAPIDefaultsAddress(t *testing.T) {
	api := NewHTTPAPI("", "", nil)
	assert.Equal(t, "http://localhost:9980", api.baseURL)

	api = NewHTTPAPI("10.0.0.2:9980/", "", nil)
	assert.Equal(t, "http://10.0.0.2:9980", api.baseURL)
}
