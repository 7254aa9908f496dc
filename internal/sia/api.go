package sia

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// API is the raw daemon surface. Implementations perform exactly one request
// per call and never retry; Client layers the retry policy on top.
type API interface {
	RenterFiles(ctx context.Context) ([]File, error)
	RenterUpload(ctx context.Context, siaPath, source string) error
	Renter(ctx context.Context) (RenterInfo, error)
	SetRenterAllowance(ctx context.Context, a Allowance) error
	RenterContractCount(ctx context.Context) (int, error)
	Wallet(ctx context.Context) (WalletInfo, error)
	Consensus(ctx context.Context) (ConsensusInfo, error)
	Get(ctx context.Context, path string) (json.RawMessage, error)
}

const (
	// DefaultAddress is where siad serves its API out of the box.
	DefaultAddress = "localhost:9980"
	userAgent      = "Sia-Agent"
)

// HTTPAPI talks to siad over its local HTTP API.
type HTTPAPI struct {
	baseURL  string
	password string
	client   *http.Client
}

// NewHTTPAPI builds an API for the daemon at address. An empty password
// disables basic auth. A nil client gets a default with a 30 second timeout.
func NewHTTPAPI(address, password string, client *http.Client) *HTTPAPI {
	if address == "" {
		address = DefaultAddress
	}
	if !strings.HasPrefix(address, "http://") && !strings.HasPrefix(address, "https://") {
		address = "http://" + address
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPAPI{
		baseURL:  strings.TrimRight(address, "/"),
		password: password,
		client:   client,
	}
}

func (a *HTTPAPI) RenterFiles(ctx context.Context) ([]File, error) {
	var resp renterFilesResponse
	if err := a.do(ctx, "renter files", http.MethodGet, "/renter/files", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Files, nil
}

func (a *HTTPAPI) RenterUpload(ctx context.Context, siaPath, source string) error {
	q := url.Values{}
	q.Set("source", source)
	path := "/renter/upload/" + escapeSiaPath(siaPath) + "?" + q.Encode()
	return a.do(ctx, "renter upload", http.MethodPost, path, nil, nil)
}

func (a *HTTPAPI) Renter(ctx context.Context) (RenterInfo, error) {
	var info RenterInfo
	err := a.do(ctx, "renter", http.MethodGet, "/renter", nil, &info)
	return info, err
}

func (a *HTTPAPI) SetRenterAllowance(ctx context.Context, al Allowance) error {
	q := url.Values{}
	q.Set("funds", al.Funds)
	q.Set("hosts", strconv.FormatUint(al.Hosts, 10))
	q.Set("period", strconv.FormatUint(al.Period, 10))
	if al.RenewWindow > 0 {
		q.Set("renewwindow", strconv.FormatUint(al.RenewWindow, 10))
	}
	return a.do(ctx, "set allowance", http.MethodPost, "/renter?"+q.Encode(), nil, nil)
}

func (a *HTTPAPI) RenterContractCount(ctx context.Context) (int, error) {
	var resp renterContractsResponse
	if err := a.do(ctx, "renter contracts", http.MethodGet, "/renter/contracts", nil, &resp); err != nil {
		return 0, err
	}
	return resp.count(), nil
}

func (a *HTTPAPI) Wallet(ctx context.Context) (WalletInfo, error) {
	var info WalletInfo
	err := a.do(ctx, "wallet", http.MethodGet, "/wallet", nil, &info)
	return info, err
}

func (a *HTTPAPI) Consensus(ctx context.Context) (ConsensusInfo, error) {
	var info ConsensusInfo
	err := a.do(ctx, "consensus", http.MethodGet, "/consensus", nil, &info)
	return info, err
}

// Get fetches path and returns the body undecoded.
func (a *HTTPAPI) Get(ctx context.Context, path string) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := a.do(ctx, "get "+path, http.MethodGet, path, nil, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func (a *HTTPAPI) do(ctx context.Context, op, method, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%s: create request: %w", op, err)
	}
	req.Header.Set("User-Agent", userAgent)
	if a.password != "" {
		req.SetBasicAuth("", a.password)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%s: %w", op, ctxErr)
		}
		return &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Op: op, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{Op: op, StatusCode: resp.StatusCode, Message: errorMessage(data)}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s: parse response: %w", op, err)
	}
	return nil
}

func errorMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Message != "" {
		return payload.Message
	}
	return strings.TrimSpace(string(body))
}

func escapeSiaPath(p string) string {
	parts := strings.Split(strings.TrimLeft(p, "/"), "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}

var _ API = (*HTTPAPI)(nil)
