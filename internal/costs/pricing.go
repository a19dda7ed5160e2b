package costs

import "strings"

const perMillion = 1_000_000.0

// Price is a USD rate per million tokens.
type Price struct {
	Input  float64
	Output float64
}

// modelPrices is matched in order against the model id, so more specific
// families come first.
var modelPrices = []struct {
	family string
	price  Price
}{
	{family: "haiku", price: Price{Input: 0.80, Output: 4.00}},
	{family: "sonnet", price: Price{Input: 3.00, Output: 15.00}},
	{family: "opus", price: Price{Input: 15.00, Output: 75.00}},
	{family: "gpt-4o-mini", price: Price{Input: 0.15, Output: 0.60}},
	{family: "gpt-4o", price: Price{Input: 2.50, Output: 10.00}},
	{family: "gemini-2.5-flash", price: Price{Input: 0.30, Output: 2.50}},
	{family: "deepseek-chat", price: Price{Input: 0.27, Output: 1.10}},
}

// PriceFor returns the fallback rate for a configured provider and model.
// Anthropic models are priced by Claude family. OpenRouter model ids carry
// a "vendor/" prefix, which is ignored. OpenRouter normally reports cost
// itself, so this only applies when a response omits it.
func PriceFor(providerName, model string) (Price, bool) {
	modelName := strings.ToLower(strings.TrimSpace(model))
	switch strings.ToLower(strings.TrimSpace(providerName)) {
	case "anthropic":
		if !strings.Contains(modelName, "claude") {
			return Price{}, false
		}
	case "openrouter":
		if _, name, found := strings.Cut(modelName, "/"); found {
			modelName = name
		}
	default:
		return Price{}, false
	}

	for _, entry := range modelPrices {
		if strings.Contains(modelName, entry.family) {
			return entry.price, true
		}
	}
	return Price{}, false
}

// EstimateUSD prices a call locally. It returns ok=false when no rate is
// known for the model.
func EstimateUSD(providerName, model string, inputTokens, outputTokens int) (usd float64, ok bool) {
	price, ok := PriceFor(providerName, model)
	if !ok {
		return 0, false
	}
	return float64(inputTokens)/perMillion*price.Input + float64(outputTokens)/perMillion*price.Output, true
}
