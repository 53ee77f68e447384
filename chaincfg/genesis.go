package chaincfg

import "github.com/ncnode/ncnode/wire"

// genesisMerkleRoot is the single coinbase transaction's id, identical
// across mainnet, testnet, and regtest — only the header fields around
// it (timestamp, bits, nonce) vary per network.
var genesisMerkleRoot = mustHash("4a5e1e4baab89f3a32518a88c31bc87f618f76673e2cc77ab2127b7afdeda33b")

func mustHash(s string) (h [32]byte) {
	b := mustHex(s)
	for i := 0; i < 32; i++ {
		h[i] = b[31-i]
	}
	return h
}

func mustHex(s string) []byte {
	b := make([]byte, len(s)/2)
	for i := range b {
		hi := hexVal(s[i*2])
		lo := hexVal(s[i*2+1])
		b[i] = hi<<4 | lo
	}
	return b
}

func hexVal(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10
	default:
		return 0
	}
}

// MainNetGenesis is the first block of the production chain.
var MainNetGenesis = wire.BlockHeader{
	Version:    1,
	MerkleRoot: genesisMerkleRoot,
	Timestamp:  1231006505,
	Bits:       0x1d00ffff,
	Nonce:      2083236893,
}

// TestNetGenesis is the first block of the public test chain.
var TestNetGenesis = wire.BlockHeader{
	Version:    1,
	MerkleRoot: genesisMerkleRoot,
	Timestamp:  1296688602,
	Bits:       0x1d00ffff,
	Nonce:      414098458,
}

// RegressionNetGenesis is the first block of the local regression-test
// chain: trivial proof of work lets it be mined instantly at the
// network's PowLimitBits difficulty.
var RegressionNetGenesis = wire.BlockHeader{
	Version:    1,
	MerkleRoot: genesisMerkleRoot,
	Timestamp:  1296688602,
	Bits:       0x207fffff,
	Nonce:      2,
}

// Genesis returns the network's genesis header by Params.Name.
func Genesis(name string) wire.BlockHeader {
	switch name {
	case "mainnet":
		return MainNetGenesis
	case "testnet":
		return TestNetGenesis
	default:
		return RegressionNetGenesis
	}
}
