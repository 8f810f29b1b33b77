package template

import (
	"fmt"
	"strings"
)

var htmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&#34;",
	"'", "&#39;",
)

// instance is one concrete repetition of a block definition, created by
// AddBlock. Instances of one definition form a chain in creation order
// through next; vals is a copy of the block-local variable values taken
// at creation time.
type instance struct {
	block  int // block definition index
	level  int // the definition's instance count at creation
	parent int // the parent definition's instance count at creation
	next   int // next instance of the same definition, None if last
	vals   []string
}

// defState is the per-definition dynamic record: how many instances
// exist, where the chain starts and ends, and the traversal cursor used
// during Generate.
type defState struct {
	count  int
	first  int
	last   int
	cursor int
}

// Output is a single render session over a shared compiled Template. It
// owns all mutable render state, so any number of sessions may use the
// same Template concurrently; one Output must not be shared between
// goroutines.
//
// A session is consumed in two phases: assign variable values and add
// block repetitions in any order (a block's variables before the block
// itself), then call Generate. Reset starts a fresh session over the
// same Template.
type Output struct {
	tpl   *Template
	vals  []string
	defs  []defState
	insts []instance
}

// NewOutput creates a render session for the given compiled template.
func NewOutput(tpl *Template) *Output {
	o := &Output{tpl: tpl}
	o.Reset()
	return o
}

// Reset discards all variable values and block instances, returning the
// session to its initial state.
func (o *Output) Reset() {
	o.vals = make([]string, len(o.tpl.Vars))
	o.defs = make([]defState, len(o.tpl.Blocks))
	for i := range o.defs {
		o.defs[i] = defState{first: None, last: None, cursor: None}
	}
	o.insts = o.insts[:0]
}

// formatValue renders a caller-supplied value as template output text.
// A nil value formats to the empty string.
func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	default:
		return fmt.Sprint(x)
	}
}

// SetVar assigns a value to the named variable. The value applies to
// block instances added afterwards and to the final text outside blocks;
// instances already added keep their snapshot. Returns ErrUnknownVar if
// the template has no such variable.
func (o *Output) SetVar(name string, value any) error {
	i, ok := o.tpl.VarIndex(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownVar, name)
	}
	o.vals[i] = formatValue(value)
	return nil
}

// SetVarOpt is SetVar for variables that may not exist: assigning to an
// unknown name is a silent no-op.
func (o *Output) SetVarOpt(name string, value any) {
	if i, ok := o.tpl.VarIndex(name); ok {
		o.vals[i] = formatValue(value)
	}
}

// SetVarEsc is SetVar with the formatted value HTML-escaped first
// (& < > " ' are encoded).
func (o *Output) SetVarEsc(name string, value any) error {
	i, ok := o.tpl.VarIndex(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownVar, name)
	}
	o.vals[i] = htmlEscaper.Replace(formatValue(value))
	return nil
}

// SetVarOptEsc is SetVarOpt with the formatted value HTML-escaped first.
func (o *Output) SetVarOptEsc(name string, value any) {
	if i, ok := o.tpl.VarIndex(name); ok {
		o.vals[i] = htmlEscaper.Replace(formatValue(value))
	}
}

// VarExists reports whether the template has a variable with this name.
func (o *Output) VarExists(name string) bool {
	_, ok := o.tpl.VarIndex(name)
	return ok
}

// BlockExists reports whether the template has a block with this name.
func (o *Output) BlockExists(name string) bool {
	_, ok := o.tpl.BlockIndex(name)
	return ok
}

// AddBlock creates one instance of every block definition with the given
// name, in definition order. Each instance snapshots the current values
// of the variables local to its definition; later SetVar calls do not
// affect it. Returns ErrUnknownBlock if no definition has this name.
func (o *Output) AddBlock(name string) error {
	defs := o.tpl.blockDefs(name)
	if defs == nil {
		return fmt.Errorf("%w: %q", ErrUnknownBlock, name)
	}
	for _, id := range defs {
		o.addInstance(id)
	}
	return nil
}

// AddBlockOpt is AddBlock for blocks that may not exist: adding an
// unknown name is a silent no-op.
func (o *Output) AddBlockOpt(name string) {
	_ = o.AddBlock(name)
}

func (o *Output) addInstance(id int) {
	b := &o.tpl.Blocks[id]
	vals := make([]string, len(b.Locals))
	for i, v := range b.Locals {
		vals[i] = o.vals[v]
	}
	parent := 0
	if b.Parent != None {
		parent = o.defs[b.Parent].count
	}

	d := &o.defs[id]
	idx := len(o.insts)
	o.insts = append(o.insts, instance{
		block:  id,
		level:  d.count,
		parent: parent,
		next:   None,
		vals:   vals,
	})
	if d.last != None {
		o.insts[d.last].next = idx
	} else {
		d.first = idx
	}
	d.last = idx
	d.count++
}

// Generate renders the final text. If the implicit root block was never
// added, one root instance is added automatically. Each definition's
// chain is walked through a cursor that only advances past instances
// recorded under the currently active parent repetition, which is what
// keeps interleaved child repetitions attached to the right parent.
func (o *Output) Generate() string {
	if o.defs[0].count == 0 {
		o.addInstance(0)
	}
	for i := range o.defs {
		o.defs[i].cursor = o.defs[i].first
	}

	var sb strings.Builder
	sb.Grow(len(o.tpl.Text))
	o.renderChain(&sb, 0, 0)
	return sb.String()
}

// renderChain emits instances of def from the current cursor while their
// recorded parent level matches parentLevel. The cursor stops at the
// first mismatch; a later parent repetition resumes from exactly there.
func (o *Output) renderChain(sb *strings.Builder, def, parentLevel int) {
	for {
		cur := o.defs[def].cursor
		if cur == None {
			return
		}
		in := &o.insts[cur]
		if in.parent != parentLevel {
			return
		}
		o.defs[def].cursor = in.next
		o.renderInstance(sb, in)
	}
}

// renderInstance replays the block's literal text, splicing in the
// instance's snapshotted values at their recorded positions and
// recursively rendering child instances at theirs. Dummy regions are
// skipped without output.
func (o *Output) renderInstance(sb *strings.Builder, in *instance) {
	b := &o.tpl.Blocks[in.block]
	text := o.tpl.Text
	pos := b.Start

	ri, ci := 0, 0
	for ri < len(b.refs) || ci < len(b.children) {
		refStart := b.End
		if ri < len(b.refs) {
			refStart = o.tpl.Refs[b.refs[ri]].Start
		}
		childStart := b.End
		if ci < len(b.children) {
			childStart = o.tpl.Blocks[b.children[ci]].Start
		}

		if ri < len(b.refs) && refStart < childStart {
			r := &o.tpl.Refs[b.refs[ri]]
			sb.WriteString(text[pos:r.Start])
			sb.WriteString(in.vals[r.Slot])
			pos = r.End
			ri++
		} else {
			c := b.children[ci]
			cb := &o.tpl.Blocks[c]
			sb.WriteString(text[pos:cb.Start])
			if !cb.Dummy {
				o.renderChain(sb, c, in.level)
			}
			pos = cb.End
			ci++
		}
	}
	sb.WriteString(text[pos:b.End])
}
