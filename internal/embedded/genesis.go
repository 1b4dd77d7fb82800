package embedded

import (
	"time"

	"github.com/InsulaLabs/nodekeeper/chain"
)

var genesisTimes = map[chain.Type]time.Time{
	chain.Mainnet: time.Date(2019, 1, 15, 16, 1, 26, 0, time.UTC),
	chain.Testnet: time.Date(2018, 12, 28, 20, 48, 4, 0, time.UTC),
}

// GenesisHeader is the first header of a fresh chain store. Local testing
// chains share the mainnet timestamp.
func GenesisHeader(ct chain.Type) Header {
	ts, ok := genesisTimes[ct]
	if !ok {
		ts = genesisTimes[chain.Mainnet]
	}
	return Header{
		Height:     0,
		Hash:       "genesis-" + ct.ShortName(),
		Timestamp:  ts,
		Difficulty: 1,
	}
}
