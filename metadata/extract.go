package metadata

import (
	"fmt"
	"strings"
)

// Extractor is the extraction orchestrator. It is stateless across
// calls and safe for concurrent use; every Parse call works on its own
// input and returns a fresh map.
type Extractor struct {
	catalog    *Catalog
	classifier *Classifier
	prompt     *promptExtractor
	workflow   *workflowExtractor
}

// NewExtractor builds an orchestrator around the given node-type
// catalog.
func NewExtractor(c *Catalog) *Extractor {
	cl := NewClassifier(c)
	return &Extractor{
		catalog:    c,
		classifier: cl,
		prompt:     newPromptExtractor(c, cl),
		workflow:   newWorkflowExtractor(c, cl),
	}
}

// ParseComfyMetadata extracts generation parameters from a file's
// metadata blob using the default catalog. The result always contains
// every field key with a display-ready string value; unresolved scalar
// fields are empty strings and unresolved LoRAs render as "N/A". No
// input, however malformed, makes this function fail.
func ParseComfyMetadata(meta *Metadata) map[string]string {
	return NewExtractor(DefaultCatalog()).Parse(meta)
}

// Parse runs both extractor passes per field in priority order
// (prompt graph first, then workflow graph, then placeholder) and
// applies cross-field conflict resolution once at the end.
func (x *Extractor) Parse(meta *Metadata) map[string]string {
	out := make(map[string]string, len(FieldNames))
	for _, f := range FieldNames {
		out[f] = ""
	}
	out[FieldLoras] = "N/A"
	if meta == nil {
		return out
	}

	out[FieldFilename] = meta.FileInfo.Filename
	out[FieldResolution] = meta.FileInfo.Resolution
	out[FieldFileSize] = meta.FileInfo.Size
	out[FieldDateCreated] = meta.FileInfo.Date

	g := decodePromptGraph(meta.Prompt)
	var pf graphFields
	if g != nil {
		pf = x.prompt.Extract(g)
	}
	wf := x.workflow.Extract(meta.Workflow)

	// Per-field priority: prompt-object result, then workflow result.
	// A field may be satisfied by one pass while its neighbor falls
	// through to the other.
	resolve := func(field, promptValue string) {
		if promptValue != "" {
			out[field] = promptValue
			return
		}
		out[field] = wf.First(field)
	}
	resolve(FieldModel, pf.Model)
	resolve(FieldSeed, pf.Seed)
	resolve(FieldPositive, pf.Positive)
	resolve(FieldNegative, pf.Negative)
	resolve(FieldSampler, pf.Sampler)
	resolve(FieldScheduler, pf.Scheduler)
	resolve(FieldSteps, pf.Steps)
	resolve(FieldCFGScale, pf.CFG)

	switch {
	case pf.Loras != nil:
		out[FieldLoras] = FormatLoras(pf.Loras)
	case wf.present:
		out[FieldLoras] = FormatLoras(wf.loras)
	}

	x.resolvePromptConflict(out, g)
	return out
}

// resolvePromptConflict is the single post-resolution disambiguation
// pass. When positive and negative landed on the same text it re-scans
// the prompt graph for an alternative negative and clears the field if
// none exists. A lone negative that reads positively is promoted.
func (x *Extractor) resolvePromptConflict(out map[string]string, g PromptGraph) {
	pos := out[FieldPositive]
	neg := out[FieldNegative]
	if pos != "" && pos == neg {
		out[FieldNegative] = x.prompt.AlternativeNegative(g, pos)
		neg = out[FieldNegative]
	}
	if pos == "" && neg != "" {
		if x.classifier.IsPositivePrompt(neg) && !x.classifier.IsNegativePrompt(neg) {
			out[FieldPositive] = neg
			out[FieldNegative] = ""
		}
	}
}

// FormatLoras renders a LoRA list as a single display string. An empty
// list renders as "N/A" so the info panel layout stays stable.
func FormatLoras(loras []LoraInfo) string {
	if len(loras) == 0 {
		return "N/A"
	}
	parts := make([]string, 0, len(loras))
	for _, l := range loras {
		ms := stringifyScalar(l.ModelStrength)
		cs := stringifyScalar(l.ClipStrength)
		switch {
		case ms == "" && cs == "":
			parts = append(parts, l.Name)
		case cs == "":
			parts = append(parts, fmt.Sprintf("%s (strength: %s)", l.Name, ms))
		default:
			parts = append(parts, fmt.Sprintf("%s (model: %s, clip: %s)", l.Name, ms, cs))
		}
	}
	return strings.Join(parts, ", ")
}
