package metadata

// Catalog is the versioned node-type table both extractors dispatch
// on. The widget index layouts were reverse-engineered from the host
// ecosystem's node definitions; when an upstream pack reorders a
// node's widgets the corresponding layout entry is the only thing
// that needs to change.
type Catalog struct {
	// Node class names grouped by role.
	CheckpointLoaderTypes []string
	LoraLoaderTypes       []string
	MultiLoraLoaderTypes  []string
	SamplerTypes          []string
	PromptExpansionTypes  []string
	PromptTextTypes       []string
	TextEncodeTypes       []string

	// Positional widgets_values layouts keyed by node type. An index
	// of -1 means the node does not carry that parameter.
	WidgetLayouts map[string]WidgetLayout

	// Visual heuristics used by the workflow extractor's inference
	// pass.
	PositiveHints PromptHints
	NegativeHints PromptHints

	// Keyword lists driving the prompt classifier.
	PositiveKeywords []string
	NegativeKeywords []string
	StrongPositive   []string
	StrongNegative   []string
}

// WidgetLayout maps sampler parameters to widgets_values indices for
// one node type.
type WidgetLayout struct {
	Seed      int
	Steps     int
	CFG       int
	Sampler   int
	Scheduler int
}

// PromptHints are the per-polarity signals for inferring an untitled
// prompt node: node color prefixes and lowercase title substrings.
type PromptHints struct {
	ColorPrefixes []string
	Keywords      []string
}

// DefaultCatalog returns the catalog matching the node packs the
// gallery is commonly pointed at (core nodes, Impact Pack, rgthree,
// Comfyroll, pysssss).
func DefaultCatalog() *Catalog {
	return &Catalog{
		CheckpointLoaderTypes: []string{
			"CheckpointLoaderSimple",
			"CheckpointLoader|pysssss",
			"ModelLoader",
			"CheckpointLoader",
		},
		LoraLoaderTypes: []string{
			"LoraLoader",
			"LoraLoaderModelOnly",
		},
		MultiLoraLoaderTypes: []string{
			"Power Lora Loader (rgthree)",
		},
		SamplerTypes: []string{
			"KSampler",
			"SamplerCustom",
			"FaceDetailerPipe",
		},
		PromptExpansionTypes: []string{
			"FooocusV2Expansion",
		},
		PromptTextTypes: []string{
			"CR Prompt Text",
		},
		TextEncodeTypes: []string{
			"CLIPTextEncode",
			"CLIPTextEncodeSDXL",
			"CR Prompt Text",
		},
		WidgetLayouts: map[string]WidgetLayout{
			// seed, control_after_generate, steps, cfg, sampler_name, scheduler, denoise
			"KSampler": {Seed: 0, Steps: 2, CFG: 3, Sampler: 4, Scheduler: 5},
			// add_noise, noise_seed, control_after_generate, cfg
			"SamplerCustom": {Seed: 1, Steps: -1, CFG: 3, Sampler: -1, Scheduler: -1},
			// add_noise, noise_seed, control, steps, cfg, sampler_name, scheduler
			"KSamplerAdvanced": {Seed: 1, Steps: 3, CFG: 4, Sampler: 5, Scheduler: 6},
			// guide_size, guide_size_for, max_size, seed, control, steps, cfg, sampler_name, scheduler
			"FaceDetailerPipe": {Seed: 3, Steps: 5, CFG: 6, Sampler: 7, Scheduler: 8},
			// seed, control_after_generate, steps, cfg, sampler_name, scheduler, denoise, upscale_by
			"Ultimate SD Upscale": {Seed: 0, Steps: 2, CFG: 3, Sampler: 4, Scheduler: 5},
		},
		PositiveHints: PromptHints{
			ColorPrefixes: []string{"#232", "#2a", "#353"},
			Keywords:      []string{"positive", "pos prompt"},
		},
		NegativeHints: PromptHints{
			ColorPrefixes: []string{"#322", "#533", "#a22"},
			Keywords:      []string{"negative", "neg prompt"},
		},
		PositiveKeywords: []string{
			"masterpiece", "best quality", "high quality", "detailed",
			"professional", "photorealistic", "stunning", "beautiful",
			"intricate", "sharp focus", "award winning", "cinematic",
			"8k", "highres", "vibrant", "elegant",
		},
		NegativeKeywords: []string{
			"worst quality", "low quality", "bad", "ugly", "blurry",
			"distorted", "deformed", "amateur", "poor quality",
			"lowres", "bad anatomy", "bad hands", "missing fingers",
			"extra digit", "cropped", "jpeg artifacts", "watermark",
			"signature", "mutated", "disfigured", "grainy",
		},
		StrongPositive: []string{
			"masterpiece", "best quality", "high quality", "detailed",
			"professional", "photorealistic", "stunning", "beautiful",
		},
		StrongNegative: []string{
			"worst quality", "low quality", "bad", "ugly", "blurry",
			"distorted", "deformed", "amateur", "poor quality",
		},
	}
}

// containsType reports whether t appears in the given type list.
func containsType(list []string, t string) bool {
	for _, item := range list {
		if item == t {
			return true
		}
	}
	return false
}

// Layout returns the widget layout for a node type. ok is false for
// unknown types so callers can fall through to a no-op instead of
// guessing indices.
func (c *Catalog) Layout(nodeType string) (WidgetLayout, bool) {
	l, ok := c.WidgetLayouts[nodeType]
	return l, ok
}
