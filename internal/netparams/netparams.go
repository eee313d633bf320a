// Copyright (c) 2024 The exccidx developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package netparams selects the chain network an exccidx instance tracks.
// It carries over the Name/DefaultPort net-selection shape of
// chaincfg.Params (mainnet/testnet/simnet/regnet) without the
// wire/chainhash/dcrec dependency chain that backs chaincfg's genesis
// block and difficulty-retargeting fields: those belong to cryptographic
// block parsing, which is out of this indexer's scope.
package netparams

import "fmt"

// Params is the subset of chaincfg.Params this indexer actually
// consumes: enough to pick a default RPC port and to tag
// persisted/streamed data with which network produced it.
type Params struct {
	Name        string
	DefaultPort string
}

var (
	// MainNetParams mirrors chaincfg.MainNetParams()'s Name/DefaultPort.
	MainNetParams = Params{Name: "mainnet", DefaultPort: "9666"}
	// TestNetParams mirrors chaincfg.TestNetParams()'s Name/DefaultPort.
	TestNetParams = Params{Name: "testnet", DefaultPort: "11999"}
	// SimNetParams mirrors chaincfg.SimNetParams()'s Name/DefaultPort.
	SimNetParams = Params{Name: "simnet", DefaultPort: "11998"}
	// RegNetParams mirrors chaincfg.RegNetParams()'s Name/DefaultPort.
	RegNetParams = Params{Name: "regnet", DefaultPort: "11997"}
)

// ByName resolves one of the four supported network names, matching
// exccd's own mainnet/testnet/simnet/regnet selection switch.
func ByName(name string) (Params, error) {
	switch name {
	case "mainnet":
		return MainNetParams, nil
	case "testnet":
		return TestNetParams, nil
	case "simnet":
		return SimNetParams, nil
	case "regnet":
		return RegNetParams, nil
	default:
		return Params{}, fmt.Errorf("unknown network %q", name)
	}
}
