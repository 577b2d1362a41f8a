package metadata

import (
	"sort"
	"strconv"
	"strings"
)

// promptExtractor recovers generation parameters from the execution
// graph form. All lookups are best effort: dangling references, wrong
// shapes and missing inputs resolve to the zero value, never an error.
type promptExtractor struct {
	catalog    *Catalog
	classifier *Classifier
}

func newPromptExtractor(c *Catalog, cl *Classifier) *promptExtractor {
	return &promptExtractor{catalog: c, classifier: cl}
}

// Extract runs every field heuristic over the graph. The input graph
// is never mutated.
func (e *promptExtractor) Extract(g PromptGraph) graphFields {
	var f graphFields
	if len(g) == 0 {
		return f
	}
	ids := g.orderedIDs()

	f.Model = e.extractModel(g, ids)

	sampler := e.findSampler(g, ids)
	f.Seed = e.extractSeed(g, sampler)
	if sampler != nil {
		// Sampler parameters are assumed literal; chained values are
		// intentionally not followed here.
		f.Sampler = literalScalar(sampler.Inputs["sampler_name"])
		f.Scheduler = literalScalar(sampler.Inputs["scheduler"])
		f.Steps = literalScalar(sampler.Inputs["steps"])
		f.CFG = literalScalar(sampler.Inputs["cfg"])
	}

	if sampler != nil {
		f.Positive = e.traceText(g, sampler.Inputs["positive"], "positive", map[string]bool{})
	}
	if f.Positive == "" {
		f.Positive = e.scanPromptCandidates(g, ids, false, "")
	}
	f.Negative = e.scanPromptCandidates(g, ids, true, "")
	if f.Negative == "" && sampler != nil {
		f.Negative = e.traceText(g, sampler.Inputs["negative"], "negative", map[string]bool{})
	}

	f.Loras = e.extractLoras(g, ids)
	return f
}

func (e *promptExtractor) findSampler(g PromptGraph, ids []string) *PromptNode {
	for _, id := range ids {
		if containsType(e.catalog.SamplerTypes, g[id].ClassType) {
			return g[id]
		}
	}
	return nil
}

// isModelFilename matches strings that name a checkpoint file.
func isModelFilename(s string) bool {
	lower := strings.ToLower(s)
	return strings.HasSuffix(lower, ".safetensors") || strings.HasSuffix(lower, ".ckpt")
}

// modelNameFromValue handles the literal shapes a ckpt_name input can
// take: a plain string or an object with a content field (pysssss
// loaders).
func modelNameFromValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case map[string]any:
		if s, ok := t["content"].(string); ok {
			return s
		}
	}
	return ""
}

func (e *promptExtractor) extractModel(g PromptGraph, ids []string) string {
	for _, id := range ids {
		n := g[id]
		if !containsType(e.catalog.CheckpointLoaderTypes, n.ClassType) {
			continue
		}
		v, ok := n.Inputs["ckpt_name"]
		if !ok || v == nil {
			continue
		}
		if s := modelNameFromValue(v); s != "" {
			return s
		}
		if ref, isRef := nodeRef(v); isRef {
			if s := e.resolveModelRef(g, ref, map[string]bool{}); s != "" {
				return s
			}
		}
	}
	return ""
}

// resolveModelRef follows a ckpt_name reference to the node that
// actually names the checkpoint. LoRA loaders are pass-through: their
// own lora_name must never be reported as the model, so the model
// input is chased instead. The visited set guards against graph
// cycles.
func (e *promptExtractor) resolveModelRef(g PromptGraph, id string, visited map[string]bool) string {
	if visited[id] {
		return ""
	}
	visited[id] = true
	n, ok := g[id]
	if !ok {
		// dangling reference
		return ""
	}
	if containsType(e.catalog.LoraLoaderTypes, n.ClassType) {
		// Pass-through only: a LoRA loader's own inputs must never be
		// reported as the model.
		if ref, isRef := nodeRef(n.Inputs["model"]); isRef {
			return e.resolveModelRef(g, ref, visited)
		}
		return ""
	}
	for _, key := range sortedInputKeys(n.Inputs) {
		s := modelNameFromValue(n.Inputs[key])
		if s != "" && isModelFilename(s) {
			return s
		}
	}
	return ""
}

func sortedInputKeys(inputs map[string]any) []string {
	keys := make([]string, 0, len(inputs))
	for k := range inputs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (e *promptExtractor) extractSeed(g PromptGraph, sampler *PromptNode) string {
	if sampler == nil {
		return ""
	}
	v, ok := sampler.Inputs["seed"]
	if !ok {
		v, ok = sampler.Inputs["noise_seed"]
	}
	if !ok {
		return ""
	}
	ref, isRef := nodeRef(v)
	if !isRef {
		return stringifyScalar(v)
	}
	up, found := g[ref]
	if !found {
		return ""
	}
	if containsType(e.catalog.PromptExpansionTypes, up.ClassType) {
		if s := literalScalar(up.Inputs["prompt_seed"]); s != "" {
			return s
		}
	}
	for _, key := range []string{"seed", "text", "value"} {
		if s := literalScalar(up.Inputs[key]); s != "" {
			return s
		}
	}
	return ""
}

// traceText follows a reference chain to a terminal prompt string. At
// each hop the preferred input key (positive/negative) is tried first,
// then text, then prompt. The visited set bounds traversal on cyclic
// graphs.
func (e *promptExtractor) traceText(g PromptGraph, v any, preferred string, visited map[string]bool) string {
	for {
		ref, isRef := nodeRef(v)
		if !isRef {
			if s, ok := v.(string); ok && IsPlainPromptString(s) {
				return s
			}
			return ""
		}
		if visited[ref] {
			return ""
		}
		visited[ref] = true
		n, found := g[ref]
		if !found {
			return ""
		}
		var next any
		for _, key := range []string{preferred, "text", "prompt"} {
			if nv, ok := n.Inputs[key]; ok && nv != nil {
				next = nv
				break
			}
		}
		if next == nil {
			return ""
		}
		v = next
	}
}

// resolveCandidate turns a prompt/text input value into plain text,
// following at most one reference chain.
func (e *promptExtractor) resolveCandidate(g PromptGraph, v any, preferred string) string {
	if s, ok := v.(string); ok {
		return s
	}
	if _, isRef := nodeRef(v); isRef {
		return e.traceText(g, v, preferred, map[string]bool{})
	}
	return ""
}

// scanPromptCandidates walks every node's prompt/text inputs looking
// for text of the requested polarity. Candidates are ranked: a
// CR Prompt Text node whose title names the polarity wins
// unconditionally (first writer), a bare CR Prompt Text node scores 5,
// a title substring match 3, a CLIP text encoder 2, anything else 0.
// Ties keep the first-encountered candidate in node-id order.
func (e *promptExtractor) scanPromptCandidates(g PromptGraph, ids []string, negative bool, exclude string) string {
	want := "Positive"
	preferred := "positive"
	classify := e.classifier.IsPositivePrompt
	if negative {
		want = "Negative"
		preferred = "negative"
		classify = e.classifier.IsNegativePrompt
	}

	best := ""
	bestScore := -1
	for _, id := range ids {
		n := g[id]
		for _, key := range []string{"prompt", "text"} {
			v, ok := n.Inputs[key]
			if !ok || v == nil {
				continue
			}
			text := e.resolveCandidate(g, v, preferred)
			if text == "" || !IsPlainPromptString(text) || text == exclude {
				continue
			}
			isPromptText := containsType(e.catalog.PromptTextTypes, n.ClassType)
			titled := strings.Contains(n.Title(), want)
			if isPromptText && titled {
				// Highest tier trusts the author's labeling over the
				// keyword classifier.
				return text
			}
			if !classify(text) {
				continue
			}
			score := 0
			switch {
			case isPromptText:
				score = 5
			case titled:
				score = 3
			case containsType(e.catalog.TextEncodeTypes, n.ClassType):
				score = 2
			}
			if score > bestScore {
				bestScore = score
				best = text
			}
		}
	}
	return best
}

// AlternativeNegative re-runs the candidate scan excluding the given
// string. Used by conflict resolution when positive and negative
// resolved to the same text.
func (e *promptExtractor) AlternativeNegative(g PromptGraph, exclude string) string {
	if len(g) == 0 {
		return ""
	}
	return e.scanPromptCandidates(g, g.orderedIDs(), true, exclude)
}

// extractLoras collects single-LoRA loader nodes and the rgthree
// multi-loader's numbered slots. Returns an empty (non-nil) slice when
// the graph has no LoRA nodes so callers can distinguish "no LoRAs"
// from "no graph".
func (e *promptExtractor) extractLoras(g PromptGraph, ids []string) []LoraInfo {
	loras := make([]LoraInfo, 0)
	for _, id := range ids {
		n := g[id]
		switch {
		case containsType(e.catalog.LoraLoaderTypes, n.ClassType):
			name, _ := n.Inputs["lora_name"].(string)
			if name == "" {
				name = modelNameFromValue(n.Inputs["lora_name"])
			}
			if name == "" {
				continue
			}
			loras = append(loras, LoraInfo{
				Name:          name,
				ModelStrength: n.Inputs["strength_model"],
				ClipStrength:  n.Inputs["strength_clip"],
			})
		case containsType(e.catalog.MultiLoraLoaderTypes, n.ClassType):
			loras = append(loras, multiLoraSlots(n)...)
		}
	}
	return loras
}

// multiLoraSlots reads the lora_1..lora_9 inputs of a Power Lora
// Loader node, keeping only slots switched on.
func multiLoraSlots(n *PromptNode) []LoraInfo {
	out := make([]LoraInfo, 0)
	for i := 1; i <= 9; i++ {
		slot, ok := n.Inputs["lora_"+strconv.Itoa(i)].(map[string]any)
		if !ok {
			continue
		}
		on, _ := slot["on"].(bool)
		if !on {
			continue
		}
		name, _ := slot["lora"].(string)
		if name == "" {
			continue
		}
		out = append(out, LoraInfo{
			Name:          name,
			ModelStrength: slot["strength"],
			ClipStrength:  slot["strengthTwo"],
		})
	}
	return out
}
