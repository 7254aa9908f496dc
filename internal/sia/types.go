package sia

import (
	"encoding/json"
	"fmt"
	"math/big"
)

// File is one entry of GET /renter/files.
type File struct {
	SiaPath        string  `json:"siapath"`
	LocalPath      string  `json:"localpath"`
	FileSize       uint64  `json:"filesize"`
	Available      bool    `json:"available"`
	Renewing       bool    `json:"renewing"`
	Redundancy     float64 `json:"redundancy"`
	UploadedBytes  uint64  `json:"uploadedbytes"`
	UploadProgress float64 `json:"uploadprogress"` // percent, 0..100
	Expiration     uint64  `json:"expiration"`
}

// InProgress reports whether the daemon still considers the file uploading.
func (f File) InProgress() bool {
	return f.UploadProgress < 100
}

// Allowance mirrors the renter allowance settings. Funds is in hastings.
type Allowance struct {
	Funds       string `json:"funds"`
	Hosts       uint64 `json:"hosts"`
	Period      uint64 `json:"period"`
	RenewWindow uint64 `json:"renewwindow"`
}

// RenterInfo is the subset of GET /renter the load tester reads.
type RenterInfo struct {
	Settings struct {
		Allowance Allowance `json:"allowance"`
	} `json:"settings"`
}

// WalletInfo is the subset of GET /wallet the load tester reads.
type WalletInfo struct {
	Encrypted               bool   `json:"encrypted"`
	Unlocked                bool   `json:"unlocked"`
	ConfirmedSiacoinBalance string `json:"confirmedsiacoinbalance"`
}

// ConsensusInfo is the subset of GET /consensus the load tester reads.
type ConsensusInfo struct {
	Synced bool   `json:"synced"`
	Height uint64 `json:"height"`
}

type renterFilesResponse struct {
	Files []File `json:"files"`
}

// Older daemons report "contracts"; newer ones split into "activecontracts"
// and friends and keep "contracts" only for compatibility.
type renterContractsResponse struct {
	Contracts       []json.RawMessage `json:"contracts"`
	ActiveContracts []json.RawMessage `json:"activecontracts"`
}

func (r renterContractsResponse) count() int {
	if r.ActiveContracts != nil {
		return len(r.ActiveContracts)
	}
	return len(r.Contracts)
}

// Default allowance parameters used when the tester provisions its own budget.
const (
	DefaultAllowanceHosts       = 50
	DefaultAllowancePeriod      = 12096 // blocks, ~12 weeks
	DefaultAllowanceRenewWindow = 4032  // blocks, ~4 weeks
)

var hastingsPerSiacoin = new(big.Int).Exp(big.NewInt(10), big.NewInt(24), nil)

// ParseHastings parses a decimal hastings string. An empty string is zero.
func ParseHastings(s string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid hastings value %q", s)
	}
	return v, nil
}

// HastingsToSiacoins renders hastings as siacoins with one decimal place.
func HastingsToSiacoins(h *big.Int) string {
	if h == nil {
		return "0.0"
	}
	sc := new(big.Float).Quo(new(big.Float).SetInt(h), new(big.Float).SetInt(hastingsPerSiacoin))
	return sc.Text('f', 1)
}
