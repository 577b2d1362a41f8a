package metadata

import (
	"encoding/json"
	"strings"
)

// workflowExtractor recovers the same field set from the editor-time
// node-graph form, or from a bare node-keyed object when a legacy
// graph is all that was embedded.
type workflowExtractor struct {
	catalog    *Catalog
	classifier *Classifier
}

func newWorkflowExtractor(c *Catalog, cl *Classifier) *workflowExtractor {
	return &workflowExtractor{catalog: c, classifier: cl}
}

// workflowResult keeps the full deduplicated candidate list per field.
// More than one distinct candidate is a surfaced ambiguity, not an
// error; the orchestrator collapses to first-found at its boundary.
type workflowResult struct {
	present bool
	values  map[string][]string
	loras   []LoraInfo
}

func newWorkflowResult() *workflowResult {
	return &workflowResult{values: make(map[string][]string)}
}

// Candidates returns every distinct candidate found for a field.
func (r *workflowResult) Candidates(field string) []string {
	return r.values[field]
}

// First collapses a field to its first-found candidate, or "".
func (r *workflowResult) First(field string) string {
	if v := r.values[field]; len(v) > 0 {
		return v[0]
	}
	return ""
}

func (r *workflowResult) add(field, value string) {
	if value == "" {
		return
	}
	for _, existing := range r.values[field] {
		if existing == value {
			return
		}
	}
	r.values[field] = append(r.values[field], value)
}

// linkIndex is the adjacency built once per extraction call: link id
// to the node (and output slot) that feeds it, and node id to node.
type linkIndex struct {
	byNode map[int]*WorkflowNode
	source map[int]*WorkflowNode
}

func buildLinkIndex(wf *WorkflowGraph) *linkIndex {
	idx := &linkIndex{
		byNode: make(map[int]*WorkflowNode, len(wf.Nodes)),
		source: make(map[int]*WorkflowNode),
	}
	for _, n := range wf.Nodes {
		idx.byNode[n.ID] = n
		for _, out := range n.Outputs {
			for _, l := range out.Links {
				idx.source[l] = n
			}
		}
	}
	return idx
}

// Extract decodes and processes a workflow value of any accepted
// shape. Malformed input yields an absent result, never an error.
func (e *workflowExtractor) Extract(v any) *workflowResult {
	r := newWorkflowResult()
	raw := normalizeRaw(v)
	if raw == nil {
		return r
	}

	var wf WorkflowGraph
	if err := json.Unmarshal(raw, &wf); err == nil && len(wf.Nodes) > 0 {
		r.present = true
		e.extractFromNodes(&wf, r)
		return r
	}

	// Fallback: a bare node-keyed object in the simplified prompt-like
	// shape used by minimal or legacy graphs.
	if g := decodePromptGraph(raw); g != nil {
		r.present = true
		e.extractSimplified(g, r)
	}
	return r
}

func (e *workflowExtractor) extractFromNodes(wf *WorkflowGraph, r *workflowResult) {
	idx := buildLinkIndex(wf)

	for _, n := range wf.Nodes {
		if containsType(e.catalog.CheckpointLoaderTypes, n.Type) {
			r.add(FieldModel, modelNameFromValue(widgetAt(n, 0)))
		}
		if layout, ok := e.catalog.Layout(n.Type); ok {
			r.add(FieldSeed, widgetString(n, layout.Seed))
			r.add(FieldSteps, widgetString(n, layout.Steps))
			r.add(FieldCFGScale, widgetString(n, layout.CFG))
			r.add(FieldSampler, widgetString(n, layout.Sampler))
			r.add(FieldScheduler, widgetString(n, layout.Scheduler))
		}
		e.collectLoras(n, r)
	}

	// Pass 1 for prompts trusts only exact titles.
	for _, n := range wf.Nodes {
		if !e.isPromptCapable(n.Type) {
			continue
		}
		switch n.Title {
		case FieldPositive:
			r.add(FieldPositive, e.promptText(n, idx))
		case FieldNegative:
			r.add(FieldNegative, e.promptText(n, idx))
		}
	}

	// Pass 2 infers polarity from visual metadata for fields still
	// unresolved. CR Prompt Text nodes were already tried by title.
	if len(r.Candidates(FieldPositive)) == 0 {
		e.inferPrompts(wf, idx, r, FieldPositive, e.catalog.PositiveHints)
	}
	if len(r.Candidates(FieldNegative)) == 0 {
		e.inferPrompts(wf, idx, r, FieldNegative, e.catalog.NegativeHints)
	}
}

func (e *workflowExtractor) isPromptCapable(nodeType string) bool {
	return containsType(e.catalog.PromptTextTypes, nodeType) ||
		containsType(e.catalog.TextEncodeTypes, nodeType)
}

// promptText reads a node's prompt from its first string widget,
// following the text input link upstream when the node carries no
// widget of its own.
func (e *workflowExtractor) promptText(n *WorkflowNode, idx *linkIndex) string {
	for _, wv := range n.WidgetValues {
		if s, ok := wv.(string); ok {
			if IsPlainPromptString(s) {
				return s
			}
			return ""
		}
	}
	if up := e.upstreamText(n, idx, map[int]bool{}); up != "" {
		return up
	}
	return ""
}

// upstreamText resolves a text input fed by a link to the feeding
// node's widget value. The visited set terminates on cyclic link
// structures.
func (e *workflowExtractor) upstreamText(n *WorkflowNode, idx *linkIndex, visited map[int]bool) string {
	if visited[n.ID] {
		return ""
	}
	visited[n.ID] = true
	for _, in := range n.Inputs {
		if in.Link == nil {
			continue
		}
		if in.Name != "text" && in.Name != "prompt" && in.Name != "" {
			continue
		}
		src, ok := idx.source[*in.Link]
		if !ok {
			// dangling link id
			continue
		}
		for _, wv := range src.WidgetValues {
			if s, ok := wv.(string); ok && IsPlainPromptString(s) {
				return s
			}
		}
		if s := e.upstreamText(src, idx, visited); s != "" {
			return s
		}
	}
	return ""
}

// inferPrompts scores untitled prompt nodes by three independent
// signals: color prefix, bgcolor prefix and a lowercase title keyword.
// Any one match accepts the candidate.
func (e *workflowExtractor) inferPrompts(wf *WorkflowGraph, idx *linkIndex, r *workflowResult, field string, hints PromptHints) {
	for _, n := range wf.Nodes {
		if !containsType(e.catalog.TextEncodeTypes, n.Type) {
			continue
		}
		if containsType(e.catalog.PromptTextTypes, n.Type) {
			continue
		}
		if !matchesHints(n, hints) {
			continue
		}
		r.add(field, e.promptText(n, idx))
	}
}

func matchesHints(n *WorkflowNode, hints PromptHints) bool {
	for _, prefix := range hints.ColorPrefixes {
		if strings.HasPrefix(n.Color, prefix) || strings.HasPrefix(n.BGColor, prefix) {
			return true
		}
	}
	title := strings.ToLower(n.Title)
	for _, kw := range hints.Keywords {
		if strings.Contains(title, kw) {
			return true
		}
	}
	return false
}

func (e *workflowExtractor) collectLoras(n *WorkflowNode, r *workflowResult) {
	switch {
	case containsType(e.catalog.LoraLoaderTypes, n.Type):
		name := modelNameFromValue(widgetAt(n, 0))
		if name == "" {
			return
		}
		lora := LoraInfo{Name: name, ModelStrength: widgetAt(n, 1), ClipStrength: widgetAt(n, 2)}
		r.addLora(lora)
	case containsType(e.catalog.MultiLoraLoaderTypes, n.Type):
		for _, wv := range n.WidgetValues {
			slot, ok := wv.(map[string]any)
			if !ok {
				continue
			}
			on, _ := slot["on"].(bool)
			name, _ := slot["lora"].(string)
			if !on || name == "" {
				continue
			}
			r.addLora(LoraInfo{Name: name, ModelStrength: slot["strength"], ClipStrength: slot["strengthTwo"]})
		}
	}
}

// addLora dedups by name; LoRA results always stay a list.
func (r *workflowResult) addLora(l LoraInfo) {
	for _, existing := range r.loras {
		if existing.Name == l.Name {
			return
		}
	}
	r.loras = append(r.loras, l)
}

func widgetAt(n *WorkflowNode, i int) any {
	if i < 0 || i >= len(n.WidgetValues) {
		return nil
	}
	return n.WidgetValues[i]
}

func widgetString(n *WorkflowNode, i int) string {
	return stringifyScalar(widgetAt(n, i))
}

// extractSimplified is the degraded-confidence path for bare
// node-keyed objects: a single pass keyed on well-known input field
// names, with the historical child-key convention for prompt polarity
// ("2"/"7" positive, "3"/"8" negative).
func (e *workflowExtractor) extractSimplified(g PromptGraph, r *workflowResult) {
	for _, id := range g.orderedIDs() {
		n := g[id]
		if n.Inputs == nil {
			continue
		}
		if s := modelNameFromValue(n.Inputs["ckpt_name"]); s != "" {
			r.add(FieldModel, s)
		}
		r.add(FieldSampler, literalScalar(n.Inputs["sampler_name"]))
		r.add(FieldScheduler, literalScalar(n.Inputs["scheduler"]))
		r.add(FieldSteps, literalScalar(n.Inputs["steps"]))
		r.add(FieldCFGScale, literalScalar(n.Inputs["cfg"]))
		r.add(FieldSeed, literalScalar(n.Inputs["seed"]))
		if text, ok := n.Inputs["text"].(string); ok && IsPlainPromptString(text) {
			switch id {
			case "2", "7":
				r.add(FieldPositive, text)
			case "3", "8":
				r.add(FieldNegative, text)
			}
		}
	}
}
