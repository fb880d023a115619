package backtest

import "fmt"

// Position 单方向持仓（不支持做空）。entryPrice 是量加权平均成本，
// size 归零时 entryPrice/costBasis 一并清零。
type Position struct {
	Exchange   string  `json:"exchange"`
	Symbol     string  `json:"symbol"`
	Size       float64 `json:"size"`
	EntryPrice float64 `json:"entryPrice"`
	CostBasis  float64 `json:"costBasis"`
}

// TradeRecord 成交账目，只追加。卖出记录带已实现盈亏。
type TradeRecord struct {
	Timestamp    int64    `json:"timestamp"`
	Exchange     string   `json:"exchange"`
	Symbol       string   `json:"symbol"`
	Side         string   `json:"side"`
	Price        float64  `json:"price"`
	Amount       float64  `json:"amount"`
	Cost         float64  `json:"cost"`
	RealizedPnl  *float64 `json:"realizedPnl,omitempty"`
	BalanceAfter float64  `json:"balanceAfter"`
	Reason       string   `json:"reason,omitempty"`
}

// EquityPoint 权益曲线上的一个采样点。
type EquityPoint struct {
	Timestamp int64   `json:"timestamp"`
	Value     float64 `json:"value"`
}

// Portfolio 回测内的资金账本，只由引擎在单 goroutine 内推进。
type Portfolio struct {
	Balance   float64
	Positions map[string]*Position
	Trades    []TradeRecord
	Equity    []EquityPoint

	// 每个持仓键最近一次成功标记的价格，标记缺失时沿用。
	lastMarks map[string]float64
}

func NewPortfolio(initialBalance float64) *Portfolio {
	return &Portfolio{
		Balance:   initialBalance,
		Positions: make(map[string]*Position),
		lastMarks: make(map[string]float64),
	}
}

func positionKey(exchange, symbol string) string {
	return exchange + "|" + symbol
}

// ApplyBuy 按信号买入。余额不足时拒绝（无账目记录），返回 false。
func (p *Portfolio) ApplyBuy(sig Signal) bool {
	cost := sig.Price * sig.Amount
	if sig.Amount <= 0 || sig.Price <= 0 || p.Balance < cost {
		return false
	}
	key := positionKey(sig.Exchange, sig.Symbol)
	pos, ok := p.Positions[key]
	if !ok {
		pos = &Position{Exchange: sig.Exchange, Symbol: sig.Symbol}
		p.Positions[key] = pos
	}
	newSize := pos.Size + sig.Amount
	pos.CostBasis += cost
	pos.EntryPrice = pos.CostBasis / newSize
	pos.Size = newSize
	p.Balance -= cost
	p.lastMarks[key] = sig.Price
	p.Trades = append(p.Trades, TradeRecord{
		Timestamp: sig.EmittedAt,
		Exchange:  sig.Exchange, Symbol: sig.Symbol,
		Side: SideBuy, Price: sig.Price, Amount: sig.Amount, Cost: cost,
		BalanceAfter: p.Balance, Reason: sig.Reason,
	})
	return true
}

// ApplySell 按信号卖出。持仓不足时拒绝，返回 false。
func (p *Portfolio) ApplySell(sig Signal) bool {
	if sig.Amount <= 0 || sig.Price <= 0 {
		return false
	}
	key := positionKey(sig.Exchange, sig.Symbol)
	pos, ok := p.Positions[key]
	if !ok || pos.Size < sig.Amount {
		return false
	}
	pnl := (sig.Price - pos.EntryPrice) * sig.Amount
	pos.CostBasis -= pos.EntryPrice * sig.Amount
	pos.Size -= sig.Amount
	if pos.Size == 0 {
		pos.EntryPrice = 0
		pos.CostBasis = 0
	}
	proceeds := sig.Price * sig.Amount
	p.Balance += proceeds
	p.lastMarks[key] = sig.Price
	realized := pnl
	p.Trades = append(p.Trades, TradeRecord{
		Timestamp: sig.EmittedAt,
		Exchange:  sig.Exchange, Symbol: sig.Symbol,
		Side: SideSell, Price: sig.Price, Amount: sig.Amount, Cost: proceeds,
		RealizedPnl: &realized, BalanceAfter: p.Balance, Reason: sig.Reason,
	})
	return true
}

// MarkToMarket 计算当前权益并追加曲线点。marks 给出各持仓键的最新标记价，
// 缺失的键沿用上一次标记（首次标记缺失时用持仓均价兜底）。
func (p *Portfolio) MarkToMarket(ts int64, marks map[string]float64) float64 {
	value := p.Balance
	for key, pos := range p.Positions {
		if pos.Size <= 0 {
			continue
		}
		mark, ok := marks[key]
		if ok && mark > 0 {
			p.lastMarks[key] = mark
		} else if prev, seen := p.lastMarks[key]; seen && prev > 0 {
			mark = prev
		} else {
			mark = pos.EntryPrice
		}
		value += pos.Size * mark
	}
	p.Equity = append(p.Equity, EquityPoint{Timestamp: ts, Value: value})
	return value
}

// OpenPositions 返回 size>0 的持仓快照。
func (p *Portfolio) OpenPositions() []Position {
	out := make([]Position, 0, len(p.Positions))
	for _, pos := range p.Positions {
		if pos.Size > 0 {
			out = append(out, *pos)
		}
	}
	return out
}

func (p *Portfolio) String() string {
	return fmt.Sprintf("balance=%.2f positions=%d trades=%d", p.Balance, len(p.Positions), len(p.Trades))
}
