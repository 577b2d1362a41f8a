package metadata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWorkflowExtractor() *workflowExtractor {
	catalog := DefaultCatalog()
	return newWorkflowExtractor(catalog, NewClassifier(catalog))
}

const ksamplerWorkflow = `{
	"nodes": [
		{"id": 1, "type": "CheckpointLoaderSimple", "widgets_values": ["dreamshaper_8.safetensors"]},
		{"id": 2, "type": "CLIPTextEncode", "title": "Positive Prompt",
			"widgets_values": ["a castle on a hill, best quality"]},
		{"id": 3, "type": "CLIPTextEncode", "title": "Negative Prompt",
			"widgets_values": ["worst quality, lowres"]},
		{"id": 4, "type": "KSampler",
			"widgets_values": [123456789, "randomize", 25, 7.5, "dpmpp_2m", "karras", 1]}
	]
}`

func TestWorkflowExtractorKSamplerLayout(t *testing.T) {
	r := newTestWorkflowExtractor().Extract(ksamplerWorkflow)

	assert.True(t, r.present)
	assert.Equal(t, "dreamshaper_8.safetensors", r.First(FieldModel))
	assert.Equal(t, "123456789", r.First(FieldSeed))
	assert.Equal(t, "25", r.First(FieldSteps))
	assert.Equal(t, "7.5", r.First(FieldCFGScale))
	assert.Equal(t, "dpmpp_2m", r.First(FieldSampler))
	assert.Equal(t, "karras", r.First(FieldScheduler))
	assert.Equal(t, "a castle on a hill, best quality", r.First(FieldPositive))
	assert.Equal(t, "worst quality, lowres", r.First(FieldNegative))
}

func TestWorkflowExtractorAcceptsParsedObject(t *testing.T) {
	parsed := map[string]any{
		"nodes": []any{
			map[string]any{
				"id": 4.0, "type": "KSampler",
				"widgets_values": []any{42.0, "fixed", 20.0, 7.0, "euler", "normal"},
			},
		},
	}
	r := newTestWorkflowExtractor().Extract(parsed)
	assert.Equal(t, "42", r.First(FieldSeed))
	assert.Equal(t, "euler", r.First(FieldSampler))
}

func TestWorkflowExtractorAmbiguousCandidatesStayAList(t *testing.T) {
	r := newTestWorkflowExtractor().Extract(`{
		"nodes": [
			{"id": 1, "type": "KSampler", "widgets_values": [1, "fixed", 20, 7, "euler", "normal"]},
			{"id": 2, "type": "KSampler", "widgets_values": [2, "fixed", 30, 8, "euler", "normal"]}
		]
	}`)

	// Distinct seeds are kept as an ordered candidate list, not merged.
	assert.Equal(t, []string{"1", "2"}, r.Candidates(FieldSeed))
	// Identical sampler values collapse through dedup.
	assert.Equal(t, []string{"euler"}, r.Candidates(FieldSampler))
}

func TestWorkflowExtractorColorInferencePass(t *testing.T) {
	// No exact titles: pass 2 must infer polarity from node colors.
	r := newTestWorkflowExtractor().Extract(`{
		"nodes": [
			{"id": 2, "type": "CLIPTextEncode", "color": "#232", "bgcolor": "#353",
				"widgets_values": ["a forest at dawn"]},
			{"id": 3, "type": "CLIPTextEncode", "color": "#322", "bgcolor": "#533",
				"widgets_values": ["deformed, extra digit"]}
		]
	}`)

	assert.Equal(t, "a forest at dawn", r.First(FieldPositive))
	assert.Equal(t, "deformed, extra digit", r.First(FieldNegative))
}

func TestWorkflowExtractorKeywordInferencePass(t *testing.T) {
	r := newTestWorkflowExtractor().Extract(`{
		"nodes": [
			{"id": 2, "type": "CLIPTextEncode", "title": "my positive conditioning",
				"widgets_values": ["a ship at sea"]}
		]
	}`)

	assert.Equal(t, "a ship at sea", r.First(FieldPositive))
	assert.Empty(t, r.First(FieldNegative))
}

func TestWorkflowExtractorUpstreamTextLink(t *testing.T) {
	// The titled encoder has no widget text of its own; its text input
	// is fed by link 7 from a text node. The link source is found via
	// the adjacency index.
	r := newTestWorkflowExtractor().Extract(`{
		"nodes": [
			{"id": 5, "type": "Text Multiline", "widgets_values": ["a quiet harbor, detailed"],
				"outputs": [{"links": [7]}]},
			{"id": 2, "type": "CLIPTextEncode", "title": "Positive Prompt",
				"inputs": [{"name": "text", "link": 7}]}
		]
	}`)

	assert.Equal(t, "a quiet harbor, detailed", r.First(FieldPositive))
}

func TestWorkflowExtractorDanglingLink(t *testing.T) {
	r := newTestWorkflowExtractor().Extract(`{
		"nodes": [
			{"id": 2, "type": "CLIPTextEncode", "title": "Positive Prompt",
				"inputs": [{"name": "text", "link": 99}]}
		]
	}`)

	assert.Empty(t, r.First(FieldPositive))
}

func TestWorkflowExtractorFaceDetailerLayout(t *testing.T) {
	r := newTestWorkflowExtractor().Extract(`{
		"nodes": [
			{"id": 8, "type": "FaceDetailerPipe",
				"widgets_values": [384, true, 1024, 4242, "fixed", 18, 6.5, "euler_ancestral", "normal", 0.5]}
		]
	}`)

	assert.Equal(t, "4242", r.First(FieldSeed))
	assert.Equal(t, "18", r.First(FieldSteps))
	assert.Equal(t, "6.5", r.First(FieldCFGScale))
	assert.Equal(t, "euler_ancestral", r.First(FieldSampler))
	assert.Equal(t, "normal", r.First(FieldScheduler))
}

func TestWorkflowExtractorLoras(t *testing.T) {
	r := newTestWorkflowExtractor().Extract(`{
		"nodes": [
			{"id": 1, "type": "LoraLoader", "widgets_values": ["add_detail.safetensors", 0.6, 0.6]},
			{"id": 2, "type": "LoraLoader", "widgets_values": ["add_detail.safetensors", 0.6, 0.6]},
			{"id": 3, "type": "Power Lora Loader (rgthree)", "widgets_values": [
				{"on": true, "lora": "film_grain.safetensors", "strength": 0.8},
				{"on": false, "lora": "unused.safetensors", "strength": 1}
			]}
		]
	}`)

	// Deduped by name across nodes.
	require.Len(t, r.loras, 2)
	assert.Equal(t, "add_detail.safetensors", r.loras[0].Name)
	assert.Equal(t, "film_grain.safetensors", r.loras[1].Name)
}

func TestWorkflowExtractorSimplifiedMapFallback(t *testing.T) {
	r := newTestWorkflowExtractor().Extract(`{
		"1": {"class_type": "CheckpointLoaderSimple", "inputs": {"ckpt_name": "legacy.ckpt"}},
		"2": {"class_type": "CLIPTextEncode", "inputs": {"text": "a red bicycle"}},
		"3": {"class_type": "CLIPTextEncode", "inputs": {"text": "ugly, blurry"}},
		"4": {"class_type": "KSampler", "inputs": {
			"sampler_name": "ddim", "scheduler": "normal", "steps": 15, "cfg": 6, "seed": 31337
		}}
	}`)

	assert.True(t, r.present)
	assert.Equal(t, "legacy.ckpt", r.First(FieldModel))
	assert.Equal(t, "a red bicycle", r.First(FieldPositive))
	assert.Equal(t, "ugly, blurry", r.First(FieldNegative))
	assert.Equal(t, "ddim", r.First(FieldSampler))
	assert.Equal(t, "15", r.First(FieldSteps))
	assert.Equal(t, "6", r.First(FieldCFGScale))
	assert.Equal(t, "31337", r.First(FieldSeed))
}

func TestWorkflowExtractorMalformedInput(t *testing.T) {
	for _, input := range []any{nil, "", "not json at all", "[]", 42} {
		r := newTestWorkflowExtractor().Extract(input)
		assert.False(t, r.present)
		assert.Empty(t, r.First(FieldModel))
	}
}
