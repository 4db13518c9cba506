package catalog

import (
	"regexp"

	"akash-router/internal/models"
)

// Strategy pulls model descriptors out of the upstream's bundled script.
// An empty result means the strategy did not recognise the asset.
type Strategy struct {
	Name    string
	Extract func(script string) []models.ModelDescriptor
}

// DefaultStrategies is the ordered extraction chain; the first non-empty
// result wins and Fallback covers the rest.
var DefaultStrategies = []Strategy{
	{Name: "model-block", Extract: extractModelBlock},
	{Name: "known-ids", Extract: extractKnownIDs},
}

var (
	// The model list lives in a webpack module exporting $I and Jn:
	//   68382:(e,t,a)=>{a.d(t,{$I:()=>r,Jn:()=>o});var n=a(2818);let o=[{...}],r=...
	modelBlockRe = regexp.MustCompile(`(?s)68382:\([^)]*\)=>\{.*?\$I.*?Jn.*?\}\).*?let\s+o\s*=\s*(\[.*?\])(?:,r\s*=|;)`)

	// The availability flag is matched in both states so that an unavailable
	// entry cannot swallow the next one's flag.
	modelEntryRe = regexp.MustCompile(`(?s)\{id:"([^"]+)",name:"([^"]+)",description:"([^"]+)".*?available:(!0|!1|true|false)`)
)

// Extract runs strategies in order and reports which one produced the result.
// When every strategy comes back empty it returns Fallback and "fallback".
func Extract(script string, strategies []Strategy) ([]models.ModelDescriptor, string) {
	for _, s := range strategies {
		if found := s.Extract(script); len(found) > 0 {
			return found, s.Name
		}
	}
	return Fallback(), "fallback"
}

func extractModelBlock(script string) []models.ModelDescriptor {
	block := modelBlockRe.FindStringSubmatch(script)
	if block == nil {
		return nil
	}

	var out []models.ModelDescriptor
	for _, m := range modelEntryRe.FindAllStringSubmatch(block[1], -1) {
		if !truthy(m[4]) {
			continue
		}
		out = append(out, models.ModelDescriptor{ID: m[1], Name: m[2], Description: m[3]})
	}
	return out
}

func extractKnownIDs(script string) []models.ModelDescriptor {
	var out []models.ModelDescriptor
	for _, known := range builtin {
		re := regexp.MustCompile(`(?s)id:"` + regexp.QuoteMeta(known.ID) +
			`".*?name:"([^"]+)".*?description:"([^"]+)".*?available:(!0|true)`)
		if m := re.FindStringSubmatch(script); m != nil {
			out = append(out, models.ModelDescriptor{ID: known.ID, Name: m[1], Description: m[2]})
		}
	}
	return out
}

func truthy(v string) bool {
	return v == "!0" || v == "true"
}

var builtin = []models.ModelDescriptor{
	{ID: "DeepSeek-R1", Name: "DeepSeek R1 671B", Description: "Strong Mixture-of-Experts (MoE) LLM"},
	{ID: "Qwen3-235B-A22B-FP8", Name: "Qwen3 235B A22B", Description: "Advanced reasoning model with 235B parameters (22B active)"},
	{ID: "meta-llama-Llama-4-Maverick-17B-128E-Instruct-FP8", Name: "Llama 4 Maverick 17B 128E", Description: "400B parameter model (17B active) with 128 experts"},
	{ID: "nvidia-Llama-3-3-Nemotron-Super-49B-v1", Name: "Llama 3.3 Nemotron Super 49B", Description: "Great tradeoff between model accuracy and efficiency"},
	{ID: "Qwen-QwQ-32B", Name: "Qwen QwQ-32B", Description: "Medium-sized reasoning model with enhanced performance"},
	{ID: "Meta-Llama-3-3-70B-Instruct", Name: "Llama 3.3 70B", Description: "Well-rounded model with strong capabilities"},
	{ID: "Meta-Llama-3-1-405B-Instruct-FP8", Name: "Llama 3.1 405B", Description: "Most capable model for complex tasks"},
	{ID: "AkashGen", Name: "AkashGen", Description: "Generate images using AkashGen"},
}

// Fallback returns a copy of the built-in model list.
func Fallback() []models.ModelDescriptor {
	out := make([]models.ModelDescriptor, len(builtin))
	copy(out, builtin)
	return out
}
