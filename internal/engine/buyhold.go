package engine

// BuyHoldStrategy 买入并持有，用作基准对照
type BuyHoldStrategy struct {
	bought bool
}

// Init 无参数
func (s *BuyHoldStrategy) Init(params map[string]float64) error {
	s.bought = false
	return nil
}

// Next 第一根 K 线买入，此后一直持有
func (s *BuyHoldStrategy) Next(bar Bar) Signal {
	if !s.bought {
		s.bought = true
		return SignalBuy
	}
	return SignalHold
}
