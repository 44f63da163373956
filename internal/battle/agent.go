package battle

// Agent is one side of a battle: a synthetic leveraged position whose
// health tracks the price feed.
type Agent struct {
	Wallet     string
	Side       Side
	Collateral int64 // quote cents
	Leverage   int64 // mirrors the battle's current leverage
	EntryPrice float64
	Health     float64 // clamped to [0,100]
	Alive      bool
	PnL        int64 // quote cents
}

func NewAgent(wallet string, side Side, collateral, leverage int64, entryPrice float64) *Agent {
	return &Agent{
		Wallet:     wallet,
		Side:       side,
		Collateral: collateral,
		Leverage:   leverage,
		EntryPrice: entryPrice,
		Health:     100,
		Alive:      true,
	}
}

// Kill flips the agent to not-alive exactly once; the transition never
// reverses. Returns true only on the first crossing.
func (a *Agent) Kill() bool {
	if !a.Alive {
		return false
	}
	a.Health = 0
	a.Alive = false
	return true
}
