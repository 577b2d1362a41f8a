package metadata

import (
	"encoding/json"
	"sort"
	"strconv"
)

// FileInfo carries the display-ready file attributes built by the
// scanner. These are passed through to the output map verbatim and are
// never inferred from graph contents.
type FileInfo struct {
	Filename   string `json:"filename"`
	Resolution string `json:"resolution"`
	Size       string `json:"size"`
	Date       string `json:"date"`
}

// Metadata is the per-file blob handed to an Extractor. Prompt and
// Workflow may independently be absent, a JSON-encoded string, or an
// already-parsed object; both are decoded defensively and treated as
// absent when malformed.
type Metadata struct {
	FileInfo FileInfo `json:"fileinfo"`
	Prompt   any      `json:"prompt,omitempty"`
	Workflow any      `json:"workflow,omitempty"`
}

// PromptNode is a single node in the execution-graph ("prompt") form.
// Input values are either literals or [nodeID, outputSlot] reference
// tuples into the same graph.
type PromptNode struct {
	ClassType string          `json:"class_type"`
	Inputs    map[string]any  `json:"inputs"`
	Meta      *PromptNodeMeta `json:"_meta,omitempty"`
}

type PromptNodeMeta struct {
	Title string `json:"title"`
}

// Title returns the node's user-assigned title, or "".
func (n *PromptNode) Title() string {
	if n == nil || n.Meta == nil {
		return ""
	}
	return n.Meta.Title
}

// PromptGraph is the flat node-id keyed execution graph.
type PromptGraph map[string]*PromptNode

// orderedIDs returns the graph's node ids sorted numeric-ascending with
// non-numeric ids after, lexicographic. This reproduces the key
// iteration order of the JSON object the graph was decoded from, which
// the extraction heuristics rely on for first-match tie breaking.
func (g PromptGraph) orderedIDs() []string {
	ids := make([]string, 0, len(g))
	for id := range g {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, aerr := strconv.Atoi(ids[i])
		b, berr := strconv.Atoi(ids[j])
		if aerr == nil && berr == nil {
			return a < b
		}
		if aerr == nil {
			return true
		}
		if berr == nil {
			return false
		}
		return ids[i] < ids[j]
	})
	return ids
}

// WorkflowGraph is the editor-time node-graph form.
type WorkflowGraph struct {
	Nodes []*WorkflowNode `json:"nodes"`
}

// WorkflowNode is a visual node with positionally-encoded widget
// values. Slot meaning of WidgetValues is specific to the node type.
type WorkflowNode struct {
	ID           int            `json:"id"`
	Type         string         `json:"type"`
	Title        string         `json:"title,omitempty"`
	Color        string         `json:"color,omitempty"`
	BGColor      string         `json:"bgcolor,omitempty"`
	WidgetValues []any          `json:"widgets_values,omitempty"`
	Inputs       []WorkflowSlot `json:"inputs,omitempty"`
	Outputs      []WorkflowSlot `json:"outputs,omitempty"`
}

// WorkflowSlot is a connection point. Link is set on input slots,
// Links on output slots; both hold edge identifiers.
type WorkflowSlot struct {
	Name  string `json:"name,omitempty"`
	Link  *int   `json:"link,omitempty"`
	Links []int  `json:"links,omitempty"`
}

// LoraInfo is one collected LoRA reference. Strengths keep whatever
// scalar type the graph carried; they are stringified at format time.
type LoraInfo struct {
	Name          string
	ModelStrength any
	ClipStrength  any
}

// Output map keys. Every extraction result contains exactly these.
const (
	FieldFilename    = "Filename"
	FieldResolution  = "Resolution"
	FieldFileSize    = "File Size"
	FieldDateCreated = "Date Created"
	FieldModel       = "Model"
	FieldPositive    = "Positive Prompt"
	FieldNegative    = "Negative Prompt"
	FieldSampler     = "Sampler"
	FieldScheduler   = "Scheduler"
	FieldSteps       = "Steps"
	FieldCFGScale    = "CFG Scale"
	FieldSeed        = "Seed"
	FieldLoras       = "LoRAs"
)

// FieldNames lists all output keys in display order.
var FieldNames = []string{
	FieldFilename,
	FieldResolution,
	FieldFileSize,
	FieldDateCreated,
	FieldModel,
	FieldPositive,
	FieldNegative,
	FieldSampler,
	FieldScheduler,
	FieldSteps,
	FieldCFGScale,
	FieldSeed,
	FieldLoras,
}

// graphFields is the per-graph extraction result before the
// orchestrator merges passes. Empty string means unresolved. Loras is
// nil when the graph was absent and empty (non-nil) when the graph
// exists but has no LoRA nodes.
type graphFields struct {
	Model     string
	Seed      string
	Positive  string
	Negative  string
	Sampler   string
	Scheduler string
	Steps     string
	CFG       string
	Loras     []LoraInfo
}

// nodeRef interprets a prompt-graph input value as a [nodeID, slot]
// reference tuple.
func nodeRef(v any) (string, bool) {
	arr, ok := v.([]any)
	if !ok || len(arr) < 2 {
		return "", false
	}
	switch id := arr[0].(type) {
	case string:
		return id, true
	case float64:
		return strconv.FormatInt(int64(id), 10), true
	}
	return "", false
}

// stringifyScalar renders a literal graph value as a display string.
// Integral floats lose their fraction part so seeds and step counts
// round-trip the way the host serializes them.
func stringifyScalar(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'g', -1, 64)
	case json.Number:
		return t.String()
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return ""
	}
}

// literalScalar stringifies v only when it is a non-reference scalar.
func literalScalar(v any) string {
	if _, isRef := nodeRef(v); isRef {
		return ""
	}
	return stringifyScalar(v)
}

// normalizeRaw coerces a prompt/workflow value that may be absent, a
// JSON-encoded string, or an already-parsed object into raw JSON
// bytes. Returns nil when the value is absent or cannot be
// re-serialized.
func normalizeRaw(v any) []byte {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		if t == "" {
			return nil
		}
		return []byte(t)
	case []byte:
		return t
	case json.RawMessage:
		return t
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil
		}
		return b
	}
}

// decodePromptGraph parses a prompt value defensively. Any failure
// yields nil, never an error.
func decodePromptGraph(v any) PromptGraph {
	raw := normalizeRaw(v)
	if raw == nil {
		return nil
	}
	var g PromptGraph
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil
	}
	for id, n := range g {
		if n == nil {
			delete(g, id)
		}
	}
	if len(g) == 0 {
		return nil
	}
	return g
}
