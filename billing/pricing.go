// Copyright 2025 Parlo
// SPDX-License-Identifier: Apache-2.0

package billing

import (
	"encoding/json"
	"os"
	"strings"
	"sync"
)

// TextRate is the price of a text model in micro-USD per 1K tokens,
// input and output priced independently.
type TextRate struct {
	InputPer1K  MicroUSD `json:"input_per_1k"`
	OutputPer1K MicroUSD `json:"output_per_1k"`
}

// Pricing maps consumption events to micro-USD costs. Cost is pure and
// total: unknown providers and non-positive quantities cost zero, and no
// call ever errors, so metering keeps producing deterministic prices even
// with no configuration present.
type Pricing struct {
	mu sync.RWMutex

	// textModels is keyed by model name with a "*" wildcard fallback.
	textModels map[string]TextRate

	ttsPer1KChars MicroUSD
	storagePerGiB MicroUSD
}

// Hard-coded default rates, micro-USD.
var defaultTextRates = map[string]TextRate{
	"gpt-4o":           {InputPer1K: 2500, OutputPer1K: 10000},
	"gpt-4o-mini":      {InputPer1K: 150, OutputPer1K: 600},
	"claude-3-5-haiku": {InputPer1K: 800, OutputPer1K: 4000},
	"*":                {InputPer1K: 3000, OutputPer1K: 15000},
}

const (
	defaultTTSPer1KChars MicroUSD = 15000
	defaultStoragePerGiB MicroUSD = 23000
)

// NewPricing returns the built-in price table.
func NewPricing() *Pricing {
	models := make(map[string]TextRate, len(defaultTextRates))
	for model, rate := range defaultTextRates {
		models[model] = rate
	}
	return &Pricing{
		textModels:    models,
		ttsPer1KChars: defaultTTSPer1KChars,
		storagePerGiB: defaultStoragePerGiB,
	}
}

// pricingOverrides is the JSON shape accepted from PARLO_PRICING_CONFIG.
type pricingOverrides struct {
	TextModels    map[string]TextRate `json:"text_models,omitempty"`
	TTSPer1KChars *MicroUSD           `json:"tts_per_1k_chars,omitempty"`
	StoragePerGiB *MicroUSD           `json:"storage_per_gib,omitempty"`
}

// LoadPricingFromEnv builds the price table from defaults merged with the
// PARLO_PRICING_CONFIG JSON blob, if set. A malformed blob is ignored so
// a bad deploy can never stop metering.
func LoadPricingFromEnv() *Pricing {
	p := NewPricing()

	raw := os.Getenv("PARLO_PRICING_CONFIG")
	if raw == "" {
		return p
	}

	var custom pricingOverrides
	if err := json.Unmarshal([]byte(raw), &custom); err != nil {
		return p
	}

	for model, rate := range custom.TextModels {
		p.textModels[strings.ToLower(model)] = rate
	}
	if custom.TTSPer1KChars != nil {
		p.ttsPer1KChars = *custom.TTSPer1KChars
	}
	if custom.StoragePerGiB != nil {
		p.storagePerGiB = *custom.StoragePerGiB
	}
	return p
}

// Cost returns the micro-USD price of one event.
func (p *Pricing) Cost(ev Event) MicroUSD {
	if ev.Quantity <= 0 {
		return 0
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	switch ev.Provider {
	case ProviderTextModel:
		rate := p.textRate(ev.Model)
		per1K := rate.InputPer1K
		if ev.Direction == DirectionOutput {
			per1K = rate.OutputPer1K
		}
		return MicroUSD(ev.Quantity) * per1K / 1000
	case ProviderTTS:
		return MicroUSD(ev.Quantity) * p.ttsPer1KChars / 1000
	case ProviderStorage:
		return MicroUSD(ev.Quantity) * p.storagePerGiB / (1 << 30)
	default:
		return 0
	}
}

func (p *Pricing) textRate(model string) TextRate {
	if rate, ok := p.textModels[model]; ok {
		return rate
	}
	if rate, ok := p.textModels[strings.ToLower(model)]; ok {
		return rate
	}
	return p.textModels["*"]
}

// SetTextRate overrides the rate for one text model.
func (p *Pricing) SetTextRate(model string, rate TextRate) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.textModels[strings.ToLower(model)] = rate
}

// TextRateFor returns the effective rate for a model, falling back to
// the wildcard entry.
func (p *Pricing) TextRateFor(model string) TextRate {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.textRate(model)
}
