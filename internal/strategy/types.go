package strategy

import (
	"fmt"
	"strings"
	"time"

	"github.com/Pinman777/PBGui-TEST/internal/market"

	"github.com/google/uuid"
)

// Strategy 描述一段可回测的策略配置：信号生产器名称、参数与市场范围。
// 不携带可执行代码，生产器由回测引擎按名称解析。
type Strategy struct {
	ID          string         `json:"id" yaml:"id"`
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description,omitempty" yaml:"description"`
	Author      string         `json:"author,omitempty" yaml:"author"`
	Producer    string         `json:"producer" yaml:"producer"`
	Parameters  map[string]any `json:"parameters" yaml:"parameters"`
	Exchanges   []string       `json:"exchanges" yaml:"exchanges"`
	Symbols     []string       `json:"symbols" yaml:"symbols"`
	Timeframes  []string       `json:"timeframes" yaml:"timeframes"`
	MarketType  string         `json:"marketType" yaml:"market_type"`
	Limit       int            `json:"limit" yaml:"limit"`
	Since       int64          `json:"since,omitempty" yaml:"since"`
	CreatedAt   int64          `json:"createdAt" yaml:"created_at"`
	UpdatedAt   int64          `json:"updatedAt" yaml:"updated_at"`
}

// New 创建带默认值的策略配置。
func New(name, description, author string) Strategy {
	now := time.Now().UnixMilli()
	return Strategy{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		Author:      author,
		Parameters:  map[string]any{},
		Timeframes:  []string{"1h"},
		MarketType:  market.TypeSwap,
		Limit:       100,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Normalize 补齐缺省字段并校验基本约束。
func (s *Strategy) Normalize() error {
	s.Name = strings.TrimSpace(s.Name)
	if s.Name == "" {
		return &market.ValidationError{Field: "name", Reason: "不能为空"}
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.MarketType == "" {
		s.MarketType = market.TypeSwap
	}
	if s.MarketType != market.TypeSwap && s.MarketType != market.TypeSpot {
		return &market.ValidationError{Field: "market_type", Reason: fmt.Sprintf("未知市场类型 %s", s.MarketType)}
	}
	if s.Limit <= 0 {
		s.Limit = 100
	}
	if len(s.Timeframes) == 0 {
		s.Timeframes = []string{"1h"}
	}
	for _, tf := range s.Timeframes {
		if _, err := market.ParseTimeframe(tf); err != nil {
			return &market.ValidationError{Field: "timeframes", Reason: err.Error()}
		}
	}
	if s.Parameters == nil {
		s.Parameters = map[string]any{}
	}
	if s.CreatedAt == 0 {
		s.CreatedAt = time.Now().UnixMilli()
	}
	return nil
}
