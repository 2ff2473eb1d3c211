package ledger

import (
	"fmt"
	"math/big"
	"strings"
	"time"
)

const (
	// WeiPerEther is the smallest unit ratio (1 ETH = 10^18 wei).
	WeiPerEther = 1_000_000_000_000_000_000

	// DefaultTimeout is the escrow's TIMEOUT unless the deployment says otherwise.
	DefaultTimeout = 5 * time.Minute

	// PollInterval is how often escrow state is re-read while waiting on the opponent.
	PollInterval = 1 * time.Second

	// DefaultStake is offered to the initiator when nothing else is configured.
	DefaultStake = "0.001"

	// ConfirmTimeout bounds how long a single write waits to be mined.
	ConfirmTimeout = 2 * time.Minute
)

var weiPerEther = big.NewInt(WeiPerEther)

// ParseEther converts a decimal ether amount such as "0.25" to wei.
func ParseEther(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.HasPrefix(s, "-") {
		return nil, fmt.Errorf("invalid ether amount %q", s)
	}
	whole, frac, _ := strings.Cut(s, ".")
	if len(frac) > 18 {
		return nil, fmt.Errorf("ether amount %q has more than 18 decimals", s)
	}
	if whole == "" {
		whole = "0"
	}
	v, ok := new(big.Int).SetString(whole+frac+strings.Repeat("0", 18-len(frac)), 10)
	if !ok {
		return nil, fmt.Errorf("invalid ether amount %q", s)
	}
	return v, nil
}

// FormatEther renders wei as ether without trailing zeros.
func FormatEther(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	neg := wei.Sign() < 0
	abs := new(big.Int).Abs(wei)
	q, r := new(big.Int).QuoRem(abs, weiPerEther, new(big.Int))

	out := q.String()
	if r.Sign() != 0 {
		frac := fmt.Sprintf("%018s", r.String())
		out += "." + strings.TrimRight(frac, "0")
	}
	if neg {
		out = "-" + out
	}
	return out
}
