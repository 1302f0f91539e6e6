// Package snapshot implements the Snapshot Engine: builds a
// text rendering of the accessibility tree with stable-within-one-snapshot
// UIDs that input tools resolve back to backend node ids.
//
package snapshot

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tmc/misc/cdp-gateway/internal/cdpmsg"
	"github.com/tmc/misc/cdp-gateway/internal/session"
)

// Node is one entry of Accessibility.getFullAXTree's flat node list.
type Node struct {
	NodeID           string                 `json:"nodeId"`
	ParentID         string                 `json:"parentId"`
	ChildIDs         []string               `json:"childIds"`
	BackendDOMNodeID int64                  `json:"backendDOMNodeId"`
	Ignored          bool                   `json:"ignored"`
	Role             AXValue                `json:"role"`
	Name             AXValue                `json:"name"`
	Value            AXValue                `json:"value"`
	Description      AXValue                `json:"description"`
	Properties       []AXProperty           `json:"properties"`

	children []*Node
}

// AXValue is CDP's { type, value } wrapper used throughout the
// accessibility tree for role/name/value/description.
type AXValue struct {
	Type  string      `json:"type"`
	Value interface{} `json:"value"`
}

func (v AXValue) asString() string {
	if v.Value == nil {
		return ""
	}
	if s, ok := v.Value.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v.Value)
}

// AXProperty is one entry of a node's `properties` array (focused,
// disabled, expanded, selected, and others the tree reports).
type AXProperty struct {
	Name  string  `json:"name"`
	Value AXValue `json:"value"`
}

// excludedAttrs lists structural fields already represented elsewhere in
// the formatted line.
var excludedAttrs = map[string]bool{
	"nodeId": true, "parentId": true, "childIds": true, "backendDOMNodeId": true,
	"frameId": true, "children": true, "role": true, "name": true,
	"value": true, "description": true, "ignored": true,
}

// booleanPropertyNames maps tree-reported boolean properties to the
// attribute names emitted when true.
var booleanPropertyNames = map[string]string{
	"disabled": "disableable",
	"expanded": "expandable",
	"focused":  "focusable",
	"selected": "selectable",
}

// Builder accumulates UID assignments for one take_snapshot call.
type Builder struct {
	snapshotCounter int
	verbose         bool
	nextUID         int
	entries         map[string]session.SnapshotEntry
	backendIDs      map[string]int64
}

// NewBuilder starts a new snapshot numbered snapshotCounter (the session's
// per-session monotonic increment).
func NewBuilder(snapshotCounter int, verbose bool) *Builder {
	return &Builder{
		snapshotCounter: snapshotCounter,
		verbose:         verbose,
		entries:         make(map[string]session.SnapshotEntry),
		backendIDs:      make(map[string]int64),
	}
}

func (b *Builder) nextUIDString() string {
	uid := fmt.Sprintf("%d_%d", b.snapshotCounter, b.nextUID)
	b.nextUID++
	return uid
}

// BuildTree reconstructs parent/child structure from a flat node list.
func BuildTree(nodes []Node) []*Node {
	byID := make(map[string]*Node, len(nodes))
	owned := make([]*Node, len(nodes))
	for i := range nodes {
		owned[i] = &nodes[i]
		byID[nodes[i].NodeID] = owned[i]
	}

	var roots []*Node
	for _, n := range owned {
		if n.ParentID == "" {
			roots = append(roots, n)
			continue
		}
		if parent, ok := byID[n.ParentID]; ok {
			parent.children = append(parent.children, n)
		}
	}
	return roots
}

// FormatNode renders node and its children depth-first, skipping ignored
// nodes in non-verbose mode but still recursing into their children.
func (b *Builder) FormatNode(n *Node, depth int) string {
	if n.Ignored && !b.verbose {
		var lines []string
		for _, c := range n.children {
			if text := b.FormatNode(c, depth); text != "" {
				lines = append(lines, text)
			}
		}
		return strings.Join(lines, "\n")
	}

	uid := b.nextUIDString()
	b.entries[uid] = session.SnapshotEntry{
		BackendNodeID: n.BackendDOMNodeID,
		Role:          n.Role.asString(),
		Name:          n.Name.asString(),
		Value:         n.Value.asString(),
	}
	if n.BackendDOMNodeID != 0 {
		b.backendIDs[uid] = n.BackendDOMNodeID
	}

	attrs := b.formatAttributes(n, uid)
	indent := strings.Repeat("  ", depth)
	lines := []string{indent + strings.Join(attrs, " ")}

	for _, c := range n.children {
		if text := b.FormatNode(c, depth+1); text != "" {
			lines = append(lines, text)
		}
	}
	return strings.Join(lines, "\n")
}

func (b *Builder) formatAttributes(n *Node, uid string) []string {
	attrs := []string{"uid=" + uid}

	if role := n.Role.asString(); role != "" {
		if role == "none" {
			attrs = append(attrs, "ignored")
		} else {
			attrs = append(attrs, role)
		}
	}
	if name := n.Name.asString(); name != "" {
		attrs = append(attrs, fmt.Sprintf("%q", name))
	}
	if value := n.Value.asString(); value != "" {
		attrs = append(attrs, fmt.Sprintf("value=%q", value))
	}
	if desc := n.Description.asString(); desc != "" && b.verbose {
		attrs = append(attrs, fmt.Sprintf("description=%q", desc))
	}

	props := make([]AXProperty, len(n.Properties))
	copy(props, n.Properties)
	sort.Slice(props, func(i, j int) bool { return props[i].Name < props[j].Name })

	for _, p := range props {
		if excludedAttrs[p.Name] {
			continue
		}
		isTrue := p.Value.Value == true
		if label, ok := booleanPropertyNames[p.Name]; ok && isTrue {
			attrs = append(attrs, label, p.Name)
			continue
		}
		if isTrue {
			attrs = append(attrs, p.Name)
			continue
		}
		if b.verbose {
			if s := p.Value.asString(); s != "" {
				attrs = append(attrs, fmt.Sprintf("%s=%q", p.Name, s))
			}
		}
	}
	return attrs
}

// Result is the rendered snapshot plus the UID bookkeeping the session
// caches for later input-tool lookups.
type Result struct {
	Text          string
	ElementCount  int
	Entries       map[string]session.SnapshotEntry
	BackendNodeIDs map[string]int64
}

// Capture parses an Accessibility.getFullAXTree result into a rendered
// snapshot. Callers are responsible for issuing
// Accessibility.enable and Accessibility.getFullAXTree beforehand and
// incrementing the session's snapshot counter.
func Capture(raw cdpmsg.Result, snapshotCounter int, verbose bool) (Result, error) {
	var body struct {
		Nodes []Node `json:"nodes"`
	}
	if err := raw.Unmarshal(&body); err != nil {
		return Result{}, err
	}
	if len(body.Nodes) == 0 {
		return Result{Text: "No accessibility tree available."}, nil
	}

	builder := NewBuilder(snapshotCounter, verbose)
	roots := BuildTree(body.Nodes)

	var lines []string
	for _, root := range roots {
		if text := builder.FormatNode(root, 0); text != "" {
			lines = append(lines, text)
		}
	}

	text := fmt.Sprintf("%s\n\n[%d elements]", strings.Join(lines, "\n"), len(builder.entries))
	return Result{
		Text:           text,
		ElementCount:   len(builder.entries),
		Entries:        builder.entries,
		BackendNodeIDs: builder.backendIDs,
	}, nil
}
