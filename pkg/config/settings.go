package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Rebalance ranking methods.
const (
	MethodFoam               = "foam"
	MethodMultiFactorWeakest = "multi_factor_weakest"
)

// Settings is the trading configuration snapshot handed to the core.
// The core reads it and never writes it back.
type Settings struct {
	Leverage int `yaml:"leverage" json:"leverage"`

	LongCoinList            []string           `yaml:"long_coin_list" json:"long_coin_list"`
	ShortCoinList           []string           `yaml:"short_coin_list" json:"short_coin_list"`
	LongCustomWeights       map[string]float64 `yaml:"long_custom_weights" json:"long_custom_weights"`
	TotalLongPositionValue  float64            `yaml:"total_long_position_value" json:"total_long_position_value"`
	TotalShortPositionValue float64            `yaml:"total_short_position_value" json:"total_short_position_value"`
	EnableLongTrades        bool               `yaml:"enable_long_trades" json:"enable_long_trades"`
	EnableShortTrades       bool               `yaml:"enable_short_trades" json:"enable_short_trades"`
	QuotePreference         []string           `yaml:"quote_preference" json:"quote_preference"`

	EnableLongSLTP            bool    `yaml:"enable_long_sl_tp" json:"enable_long_sl_tp"`
	LongStopLossPercentage    float64 `yaml:"long_stop_loss_percentage" json:"long_stop_loss_percentage"`
	LongTakeProfitPercentage  float64 `yaml:"long_take_profit_percentage" json:"long_take_profit_percentage"`
	EnableShortSLTP           bool    `yaml:"enable_short_sl_tp" json:"enable_short_sl_tp"`
	ShortStopLossPercentage   float64 `yaml:"short_stop_loss_percentage" json:"short_stop_loss_percentage"`
	ShortTakeProfitPercentage float64 `yaml:"short_take_profit_percentage" json:"short_take_profit_percentage"`

	OpenMakerRetries             int `yaml:"open_maker_retries" json:"open_maker_retries"`
	OpenOrderFillTimeoutSeconds  int `yaml:"open_order_fill_timeout_seconds" json:"open_order_fill_timeout_seconds"`
	CloseMakerRetries            int `yaml:"close_maker_retries" json:"close_maker_retries"`
	CloseOrderFillTimeoutSeconds int `yaml:"close_order_fill_timeout_seconds" json:"close_order_fill_timeout_seconds"`

	RebalanceMethod           string  `yaml:"rebalance_method" json:"rebalance_method"`
	RebalanceTopN             int     `yaml:"rebalance_top_n" json:"rebalance_top_n"`
	RebalanceMinVolumeUSD     float64 `yaml:"rebalance_min_volume_usd" json:"rebalance_min_volume_usd"`
	RebalanceAbsMomentumDays  int     `yaml:"rebalance_abs_momentum_days" json:"rebalance_abs_momentum_days"`
	RebalanceRelStrengthDays  int     `yaml:"rebalance_rel_strength_days" json:"rebalance_rel_strength_days"`
	RebalanceFoamDays         int     `yaml:"rebalance_foam_days" json:"rebalance_foam_days"`
	RebalanceVolumeMADays     int     `yaml:"rebalance_volume_ma_days" json:"rebalance_volume_ma_days"`
	RebalanceVolumeSpikeRatio float64 `yaml:"rebalance_volume_spike_ratio" json:"rebalance_volume_spike_ratio"`
	RebalanceShortRatioMin    float64 `yaml:"rebalance_short_ratio_min" json:"rebalance_short_ratio_min"`
	RebalanceShortRatioMax    float64 `yaml:"rebalance_short_ratio_max" json:"rebalance_short_ratio_max"`
}

// DefaultSettings returns the built-in trading defaults.
func DefaultSettings() Settings {
	return Settings{
		Leverage:                     20,
		LongCoinList:                 []string{"BTC", "ETH"},
		ShortCoinList:                []string{},
		LongCustomWeights:            map[string]float64{},
		TotalLongPositionValue:       1000,
		TotalShortPositionValue:      500,
		EnableLongTrades:             true,
		EnableShortTrades:            true,
		QuotePreference:              []string{"USDC", "USDT"},
		EnableLongSLTP:               true,
		LongStopLossPercentage:       50,
		LongTakeProfitPercentage:     100,
		EnableShortSLTP:              true,
		ShortStopLossPercentage:      80,
		ShortTakeProfitPercentage:    150,
		OpenMakerRetries:             5,
		OpenOrderFillTimeoutSeconds:  120,
		CloseMakerRetries:            3,
		CloseOrderFillTimeoutSeconds: 12,
		RebalanceMethod:              MethodMultiFactorWeakest,
		RebalanceTopN:                50,
		RebalanceMinVolumeUSD:        20_000_000,
		RebalanceAbsMomentumDays:     30,
		RebalanceRelStrengthDays:     60,
		RebalanceFoamDays:            1,
		RebalanceVolumeMADays:        20,
		RebalanceVolumeSpikeRatio:    3.0,
		RebalanceShortRatioMin:       0.35,
		RebalanceShortRatioMax:       0.70,
	}
}

// LoadSettings reads a YAML settings file over the defaults. A missing file
// yields the defaults. LONG_COIN_LIST / SHORT_COIN_LIST env values override
// the file's coin lists.
func LoadSettings(path string) (Settings, error) {
	s := DefaultSettings()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &s); err != nil {
				return s, fmt.Errorf("parse settings %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return s, fmt.Errorf("read settings %s: %w", path, err)
		}
	}
	if v := os.Getenv("LONG_COIN_LIST"); v != "" {
		s.LongCoinList = splitAndTrim(v)
	}
	if v := os.Getenv("SHORT_COIN_LIST"); v != "" {
		s.ShortCoinList = splitAndTrim(v)
	}
	return s, s.Validate()
}

// Validate checks ranges that the core relies on.
func (s Settings) Validate() error {
	switch {
	case s.Leverage < 1 || s.Leverage > 125:
		return fmt.Errorf("leverage must be in [1,125], got %d", s.Leverage)
	case s.OpenMakerRetries < 0 || s.CloseMakerRetries < 0:
		return errors.New("maker retries must be >= 0")
	case s.OpenOrderFillTimeoutSeconds <= 0 || s.CloseOrderFillTimeoutSeconds <= 0:
		return errors.New("order fill timeouts must be > 0")
	case s.RebalanceShortRatioMin < 0 || s.RebalanceShortRatioMax > 1 || s.RebalanceShortRatioMin > s.RebalanceShortRatioMax:
		return fmt.Errorf("short ratio bounds invalid: min=%v max=%v", s.RebalanceShortRatioMin, s.RebalanceShortRatioMax)
	case s.RebalanceMethod != MethodFoam && s.RebalanceMethod != MethodMultiFactorWeakest:
		return fmt.Errorf("unknown rebalance method %q", s.RebalanceMethod)
	case s.RebalanceTopN <= 0:
		return errors.New("rebalance_top_n must be > 0")
	}
	return nil
}

// OpenTimeout is the per-attempt fill timeout for opening orders.
func (s Settings) OpenTimeout() time.Duration {
	return time.Duration(s.OpenOrderFillTimeoutSeconds) * time.Second
}

// CloseTimeout is the per-attempt fill timeout for closing orders.
func (s Settings) CloseTimeout() time.Duration {
	return time.Duration(s.CloseOrderFillTimeoutSeconds) * time.Second
}
