package metadata

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseComfyMetadataMinimalPromptGraph(t *testing.T) {
	meta := &Metadata{
		FileInfo: FileInfo{
			Filename:   "ComfyUI_00001_.png",
			Resolution: "1024x1024",
			Size:       "1.2 MB",
			Date:       "2025-06-01 10:30:00",
		},
		Prompt: minimalPromptGraph,
	}

	out := ParseComfyMetadata(meta)

	assert.Equal(t, "ComfyUI_00001_.png", out[FieldFilename])
	assert.Equal(t, "1024x1024", out[FieldResolution])
	assert.Equal(t, "1.2 MB", out[FieldFileSize])
	assert.Equal(t, "2025-06-01 10:30:00", out[FieldDateCreated])
	assert.Equal(t, "sd_xl.safetensors", out[FieldModel])
	assert.Equal(t, "a cat, masterpiece", out[FieldPositive])
	assert.Equal(t, "blurry, worst quality", out[FieldNegative])
	assert.Equal(t, "42", out[FieldSeed])
	assert.Equal(t, "20", out[FieldSteps])
	assert.Equal(t, "7", out[FieldCFGScale])
	assert.Equal(t, "euler", out[FieldSampler])
	assert.Equal(t, "normal", out[FieldScheduler])
	assert.Equal(t, "N/A", out[FieldLoras])
}

func TestParseComfyMetadataTotalCoverage(t *testing.T) {
	inputs := []*Metadata{
		nil,
		{},
		{FileInfo: FileInfo{Filename: "x.png"}},
		{Prompt: "not json", Workflow: "also not json"},
		{Prompt: minimalPromptGraph},
		{Workflow: ksamplerWorkflow},
	}
	for _, meta := range inputs {
		out := ParseComfyMetadata(meta)
		require.Len(t, out, len(FieldNames))
		for _, f := range FieldNames {
			_, ok := out[f]
			assert.True(t, ok, "missing field %q", f)
		}
	}
}

func TestParseComfyMetadataEmptyMetadata(t *testing.T) {
	out := ParseComfyMetadata(&Metadata{})
	for _, f := range FieldNames {
		if f == FieldLoras {
			assert.Equal(t, "N/A", out[f])
		} else {
			assert.Equal(t, "", out[f])
		}
	}
}

func TestParseComfyMetadataIdempotence(t *testing.T) {
	meta := &Metadata{
		FileInfo: FileInfo{Filename: "a.png"},
		Prompt:   minimalPromptGraph,
		Workflow: ksamplerWorkflow,
	}
	first := ParseComfyMetadata(meta)
	second := ParseComfyMetadata(meta)
	assert.Equal(t, first, second)
}

func TestParseComfyMetadataJSONStringAndParsedFormsAgree(t *testing.T) {
	asString := &Metadata{Prompt: minimalPromptGraph}

	var parsed map[string]any
	require.NoError(t, json.Unmarshal([]byte(minimalPromptGraph), &parsed))
	asObject := &Metadata{Prompt: parsed}

	assert.Equal(t, ParseComfyMetadata(asString), ParseComfyMetadata(asObject))
}

func TestParseComfyMetadataIdenticalPositiveNegativeCollision(t *testing.T) {
	// Both sampler branches point at the same encoder; with no strong
	// keywords either way the engine must keep the text as positive
	// and clear negative.
	meta := &Metadata{
		Prompt: `{
			"2": {"class_type": "CLIPTextEncode", "inputs": {"text": "abstract art"}},
			"10": {"class_type": "KSampler", "inputs": {
				"positive": ["2", 0], "negative": ["2", 0]
			}}
		}`,
	}

	out := ParseComfyMetadata(meta)
	assert.Equal(t, "abstract art", out[FieldPositive])
	assert.Equal(t, "", out[FieldNegative])
}

func TestParseComfyMetadataCollisionWithAlternativeNegative(t *testing.T) {
	// Another node offers a usable negative; it must be picked up
	// instead of the field being cleared.
	meta := &Metadata{
		Prompt: `{
			"2": {"class_type": "CLIPTextEncode", "inputs": {"text": "abstract art"}},
			"3": {"class_type": "CLIPTextEncode", "inputs": {"text": "lowres, watermark"}},
			"10": {"class_type": "KSampler", "inputs": {
				"positive": ["2", 0], "negative": ["2", 0]
			}}
		}`,
	}

	out := ParseComfyMetadata(meta)
	assert.Equal(t, "abstract art", out[FieldPositive])
	assert.Equal(t, "lowres, watermark", out[FieldNegative])
}

func TestParseComfyMetadataWorkflowFallbackPerField(t *testing.T) {
	// The prompt graph only names the model; sampler parameters must
	// fall through to the workflow graph independently per field.
	meta := &Metadata{
		Prompt: `{
			"1": {"class_type": "CheckpointLoaderSimple", "inputs": {"ckpt_name": "mixed.safetensors"}}
		}`,
		Workflow: ksamplerWorkflow,
	}

	out := ParseComfyMetadata(meta)
	assert.Equal(t, "mixed.safetensors", out[FieldModel])
	assert.Equal(t, "123456789", out[FieldSeed])
	assert.Equal(t, "dpmpp_2m", out[FieldSampler])
}

func TestParseComfyMetadataLorasFormatting(t *testing.T) {
	meta := &Metadata{
		Prompt: `{
			"1": {"class_type": "LoraLoader", "inputs": {
				"lora_name": "detail.safetensors", "strength_model": 0.7, "strength_clip": 0.5
			}}
		}`,
	}
	out := ParseComfyMetadata(meta)
	assert.Equal(t, "detail.safetensors (model: 0.7, clip: 0.5)", out[FieldLoras])
}

func TestFormatLoras(t *testing.T) {
	assert.Equal(t, "N/A", FormatLoras(nil))
	assert.Equal(t, "N/A", FormatLoras([]LoraInfo{}))
	assert.Equal(t, "a.safetensors", FormatLoras([]LoraInfo{{Name: "a.safetensors"}}))
	assert.Equal(t, "a.safetensors (strength: 0.8)",
		FormatLoras([]LoraInfo{{Name: "a.safetensors", ModelStrength: 0.8}}))
}
