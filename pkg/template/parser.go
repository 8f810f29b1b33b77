package template

import (
	"bytes"
	"context"
	"fmt"
	"strings"
)

// Loader supplies raw template text by name. The same loader serves the
// main template and every $include target; implementations are expected
// to be I/O-bound and should honor the context.
type Loader interface {
	Load(ctx context.Context, name string) (string, error)
}

// LoaderFunc adapts a plain function to the Loader interface.
type LoaderFunc func(ctx context.Context, name string) (string, error)

// Load calls f.
func (f LoaderFunc) Load(ctx context.Context, name string) (string, error) {
	return f(ctx, name)
}

var (
	verboseOpen  = []byte("<!-- $")
	verboseClose = []byte("-->")
	terseOpen    = []byte("<$")
	varOpen      = []byte("${")
)

// Parse loads the named template through loader and compiles it into an
// immutable Template. Conditional branches are resolved against condVars
// at compile time; condition-variable values may be booleans, strings, or
// numbers. Parsing is all-or-nothing: any failure returns a nil Template,
// and structural failures are reported as a *SyntaxError carrying the
// character offset at which they were detected.
func Parse(ctx context.Context, name string, loader Loader, condVars map[string]any, opts Options) (*Template, error) {
	if loader == nil {
		return nil, fmt.Errorf("template: Parse requires a loader")
	}
	main, err := loader.Load(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to load template %q: %w", name, err)
	}

	p := &parser{
		loader:     loader,
		condVars:   condVars,
		lim:        opts.limits(),
		terse:      opts.Terse,
		text:       []byte(main),
		loaded:     len(main),
		varIdx:     make(map[string]int),
		blkIdx:     make(map[string]int),
		curEnabled: true,
		lastDummy:  None,
	}
	if p.loaded > p.lim.MaxExpansion {
		return nil, syntaxErr(0, "template %q exceeds the %d byte expansion limit", name, p.lim.MaxExpansion)
	}

	// The implicit root block spans the whole text and is always entry 0.
	p.blocks = append(p.blocks, Block{Parent: None, PrevName: None})
	p.stack = []int{0}

	if err := p.scan(ctx); err != nil {
		return nil, err
	}
	if err := p.scanVars(); err != nil {
		return nil, err
	}
	p.associate()

	return &Template{
		Text:       string(p.text),
		Vars:       p.vars,
		Refs:       p.refs,
		Blocks:     p.blocks,
		varIndex:   p.varIdx,
		blockIndex: p.blkIdx,
	}, nil
}

// parser is the positional state machine behind Parse. The working text
// is edited in place: command markers are stripped and include targets
// are spliced in at the scan position, so offsets recorded earlier never
// shift (every edit happens at or after the highest recorded offset).
type parser struct {
	loader   Loader
	condVars map[string]any
	lim      Limits
	terse    bool

	text []byte

	// loaded counts every byte of template text loaded so far, the main
	// template plus each include splice. The expansion limit is checked
	// against this total rather than the working-text length: a splice
	// that replaces a command with text of the same size keeps the text
	// from growing but must still count toward the cap, or a template
	// that includes itself would scan forever.
	loaded int

	blocks []Block
	vars   []string
	refs   []VarRef
	varIdx map[string]int
	blkIdx map[string]int

	// stack holds the open block indexes; stack[0] is the root.
	stack []int

	// conds is the conditional level stack, parallel to the block stack.
	conds []condLevel

	// curEnabled is true when the scan position is outside any disabled
	// conditional branch. While false, literal text accumulates into the
	// dummy region that began at dummyStart.
	curEnabled bool
	dummyStart int
	lastDummy  int
}

// condLevel tracks one $if/$elseIf/$else/$endIf level.
type condLevel struct {
	outer   bool // the enclosing context is enabled
	enabled bool // the branch currently being scanned is enabled
	taken   bool // some branch at this level has already been taken
}

// scan runs the structural pass: commands are recognized left to right,
// blocks and conditionals are tracked on their stacks, and includes are
// spliced in with scanning resuming at the splice point.
func (p *parser) scan(ctx context.Context) error {
	pos := 0
	for {
		vi := bytes.Index(p.text[pos:], verboseOpen)
		ti := -1
		if p.terse {
			ti = bytes.Index(p.text[pos:], terseOpen)
		}

		// Whichever delimiter occurs first wins; the verbose form wins
		// ties. Text before the delimiter is ordinary content.
		var cmdStart int
		var err error
		switch {
		case vi >= 0 && (ti < 0 || vi <= ti):
			cmdStart = pos + vi
			err = p.verboseCommand(ctx, cmdStart)
		case ti >= 0:
			cmdStart = pos + ti
			err = p.terseCommand(cmdStart)
		default:
			return p.finish()
		}
		if err != nil {
			return err
		}
		pos = cmdStart
	}
}

func (p *parser) finish() error {
	if len(p.conds) > 0 {
		return syntaxErr(len(p.text), "unterminated $if")
	}
	if top := p.stack[len(p.stack)-1]; top != 0 {
		return syntaxErr(len(p.text), "unterminated block %q", p.blocks[top].Name)
	}
	p.blocks[0].End = len(p.text)
	return nil
}

func (p *parser) verboseCommand(ctx context.Context, start int) error {
	rel := bytes.Index(p.text[start:], verboseClose)
	if rel < 0 {
		return syntaxErr(start, "unterminated command")
	}
	inner := strings.TrimSpace(string(p.text[start+len(verboseOpen)-1 : start+rel]))
	p.remove(start, start+rel+len(verboseClose))

	word, arg := inner, ""
	if i := strings.IndexAny(inner, " \t\r\n"); i >= 0 {
		word, arg = inner[:i], strings.TrimSpace(inner[i+1:])
	}
	switch word {
	case "$beginBlock":
		return p.beginBlock(arg, start)
	case "$endBlock":
		return p.endBlock(arg, start)
	case "$include":
		return p.include(ctx, arg, start)
	case "$if":
		return p.condIf(arg, start)
	case "$elseIf":
		return p.condElseIf(arg, start)
	case "$else":
		if arg != "" {
			return syntaxErr(start, "unexpected argument to $else")
		}
		return p.condElse(start)
	case "$endIf":
		if arg != "" {
			return syntaxErr(start, "unexpected argument to $endIf")
		}
		return p.condEndIf(start)
	default:
		return syntaxErr(start, "unknown command %q", word)
	}
}

// terseCommand handles the angle-bracket conditional aliases:
// <$? expr> opens a conditional, <$: expr> is a branch, <$:> (blank
// condition) is the else branch, and <$/?> closes the conditional.
func (p *parser) terseCommand(start int) error {
	end, err := p.terseEnd(start)
	if err != nil {
		return err
	}
	inner := string(p.text[start+len(terseOpen) : end])
	p.remove(start, end+1)

	switch {
	case strings.HasPrefix(inner, "?"):
		return p.condIf(strings.TrimSpace(inner[1:]), start)
	case strings.HasPrefix(inner, "/?"):
		if strings.TrimSpace(inner[2:]) != "" {
			return syntaxErr(start, "unexpected argument to <$/?>")
		}
		return p.condEndIf(start)
	case strings.HasPrefix(inner, ":"):
		arg := strings.TrimSpace(inner[1:])
		if arg == "" {
			return p.condElse(start)
		}
		return p.condElseIf(arg, start)
	default:
		return syntaxErr(start, "unknown command %q", "<$"+inner+">")
	}
}

// terseEnd finds the '>' closing the terse command at start. The
// condition may itself contain '>' or '>=' comparisons, so every
// unquoted '>' up to the next command opener is a candidate and the one
// enclosing the longest well-formed expression wins. When no candidate
// encloses a valid expression the first one closes the command and the
// bad expression is reported through the usual condition handling.
func (p *parser) terseEnd(start int) (int, error) {
	body := start + len(terseOpen)
	arg := body + 1 // skip the ?, :, or / form byte
	if bytes.HasPrefix(p.text[body:], []byte("/?")) {
		arg = body + 2
	}

	first, best := -1, -1
	var quote byte
scan:
	for i := body; i < len(p.text); i++ {
		switch c := p.text[i]; {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == '<':
			if i+1 < len(p.text) && (p.text[i+1] == '$' || p.text[i+1] == '!') {
				break scan
			}
		case c == '>':
			if first < 0 {
				first = i
			}
			if i < arg {
				continue
			}
			expr := strings.TrimSpace(string(p.text[arg:i]))
			if expr == "" || checkCondition(expr) {
				best = i
			}
		}
	}
	if first < 0 {
		return 0, syntaxErr(start, "unterminated command")
	}
	if best < 0 {
		best = first
	}
	return best, nil
}

// remove deletes [from, to) from the working text. The scan resumes at
// from, so content following a stripped command begins exactly there.
func (p *parser) remove(from, to int) {
	p.text = append(p.text[:from], p.text[to:]...)
}

// insert splices sub into the working text at the given offset.
func (p *parser) insert(at int, sub string) {
	p.text = append(p.text[:at], append([]byte(sub), p.text[at:]...)...)
}

func (p *parser) beginBlock(name string, at int) error {
	if name == "" {
		return syntaxErr(at, "$beginBlock requires a block name")
	}
	if !p.curEnabled {
		// Inside a disabled branch the command is stripped but the
		// block is never registered; the region stays an opaque dummy.
		return nil
	}
	for _, id := range p.stack[1:] {
		if p.blocks[id].Name == name {
			return syntaxErr(at, "block %q is already open", name)
		}
	}
	if len(p.stack) > p.lim.MaxBlockDepth {
		return syntaxErr(at, "block nesting exceeds %d levels", p.lim.MaxBlockDepth)
	}

	prev := None
	if i, ok := p.blkIdx[name]; ok {
		prev = i
	}
	id := len(p.blocks)
	p.blocks = append(p.blocks, Block{
		Name:     name,
		Parent:   p.stack[len(p.stack)-1],
		Depth:    len(p.stack),
		Start:    at,
		End:      None,
		PrevName: prev,
	})
	p.blkIdx[name] = id
	p.stack = append(p.stack, id)
	return nil
}

func (p *parser) endBlock(name string, at int) error {
	if name == "" {
		return syntaxErr(at, "$endBlock requires a block name")
	}
	if !p.curEnabled {
		return nil
	}
	top := p.stack[len(p.stack)-1]
	if top == 0 {
		return syntaxErr(at, "$endBlock %q without matching $beginBlock", name)
	}
	if p.blocks[top].Name != name {
		return syntaxErr(at, "$endBlock %q does not match open block %q", name, p.blocks[top].Name)
	}
	p.blocks[top].End = at
	p.stack = p.stack[:len(p.stack)-1]
	return nil
}

func (p *parser) include(ctx context.Context, arg string, at int) error {
	if !p.curEnabled {
		return nil
	}
	name := arg
	if strings.HasPrefix(arg, `"`) {
		if len(arg) < 2 || !strings.HasSuffix(arg[1:], `"`) {
			return syntaxErr(at, "unterminated $include target")
		}
		name = arg[1 : len(arg)-1]
	} else if strings.ContainsAny(arg, " \t") {
		return syntaxErr(at, "$include target with whitespace must be quoted")
	}
	if name == "" {
		return syntaxErr(at, "missing $include target")
	}

	sub, err := p.loader.Load(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to load include %q: %w", name, err)
	}
	if p.loaded+len(sub) > p.lim.MaxExpansion {
		return syntaxErr(at, "inclusion of %q exceeds the %d byte expansion limit", name, p.lim.MaxExpansion)
	}
	p.loaded += len(sub)
	// Scanning resumes at the splice point, so commands inside the
	// sub-template are parsed in place, includes included.
	p.insert(at, sub)
	return nil
}

func (p *parser) condIf(expr string, at int) error {
	if len(p.conds) >= p.lim.MaxCondDepth {
		return syntaxErr(at, "conditional nesting exceeds %d levels", p.lim.MaxCondDepth)
	}
	lvl := condLevel{outer: p.curEnabled}
	if lvl.outer {
		ok, err := evalCondition(expr, p.condVars)
		if err != nil {
			return &SyntaxError{Msg: fmt.Sprintf("invalid condition %q", expr), Offset: at, Err: err}
		}
		lvl.enabled = ok
		lvl.taken = ok
	}
	p.conds = append(p.conds, lvl)
	p.updateEnabled(at)
	return nil
}

func (p *parser) condElseIf(expr string, at int) error {
	if len(p.conds) == 0 {
		return syntaxErr(at, "$elseIf without $if")
	}
	lvl := &p.conds[len(p.conds)-1]
	lvl.enabled = false
	if lvl.outer && !lvl.taken {
		ok, err := evalCondition(expr, p.condVars)
		if err != nil {
			return &SyntaxError{Msg: fmt.Sprintf("invalid condition %q", expr), Offset: at, Err: err}
		}
		lvl.enabled = ok
		if ok {
			lvl.taken = true
		}
	}
	p.updateEnabled(at)
	return nil
}

func (p *parser) condElse(at int) error {
	if len(p.conds) == 0 {
		return syntaxErr(at, "$else without $if")
	}
	lvl := &p.conds[len(p.conds)-1]
	lvl.enabled = lvl.outer && !lvl.taken
	if lvl.enabled {
		lvl.taken = true
	}
	p.updateEnabled(at)
	return nil
}

func (p *parser) condEndIf(at int) error {
	if len(p.conds) == 0 {
		return syntaxErr(at, "$endIf without $if")
	}
	p.conds = p.conds[:len(p.conds)-1]
	p.updateEnabled(at)
	return nil
}

// updateEnabled recomputes the enabled state after a conditional command
// and opens or closes the current dummy region on a transition.
func (p *parser) updateEnabled(at int) {
	cur := true
	if n := len(p.conds); n > 0 {
		cur = p.conds[n-1].enabled
	}
	switch {
	case p.curEnabled && !cur:
		p.dummyStart = at
	case !p.curEnabled && cur:
		p.closeDummy(at)
	}
	p.curEnabled = cur
}

// closeDummy records [dummyStart, end) as a dummy block. Adjacent dummy
// regions under the same parent coalesce into one entry, so a chain of
// false branches leaves a single opaque region behind.
func (p *parser) closeDummy(end int) {
	start := p.dummyStart
	if end <= start {
		return
	}
	parent := p.stack[len(p.stack)-1]
	if p.lastDummy != None {
		if d := &p.blocks[p.lastDummy]; d.End == start && d.Parent == parent {
			d.End = end
			return
		}
	}
	p.lastDummy = len(p.blocks)
	p.blocks = append(p.blocks, Block{
		Parent:   parent,
		Depth:    len(p.stack),
		Start:    start,
		End:      end,
		Dummy:    true,
		PrevName: None,
	})
}

// scanVars runs the variable pass over the final text: every ${name}
// placeholder registers its variable (once per distinct name) and an
// ordered reference entry.
func (p *parser) scanVars() error {
	pos := 0
	for {
		i := bytes.Index(p.text[pos:], varOpen)
		if i < 0 {
			return nil
		}
		start := pos + i
		j := bytes.IndexByte(p.text[start+2:], '}')
		if j < 0 {
			return syntaxErr(start, "unterminated variable placeholder")
		}
		end := start + 2 + j + 1
		name := strings.TrimSpace(string(p.text[start+2 : end-1]))
		if name == "" {
			return syntaxErr(start, "empty variable placeholder")
		}
		idx, ok := p.varIdx[name]
		if !ok {
			idx = len(p.vars)
			p.vars = append(p.vars, name)
			p.varIdx[name] = idx
		}
		p.refs = append(p.refs, VarRef{Var: idx, Start: start, End: end, Block: None, Slot: None})
		pos = end
	}
}

// associate merges the start-ordered block table and the position-ordered
// reference table in one forward pass: each reference is assigned to its
// innermost containing block and given a local slot there, and each block
// learns its direct children and its own references in document order.
func (p *parser) associate() {
	slots := make([]map[int]int, len(p.blocks))
	var open []int
	bi := 0
	for ri := range p.refs {
		r := &p.refs[ri]
		for bi < len(p.blocks) && p.blocks[bi].Start <= r.Start {
			for len(open) > 0 && p.blocks[open[len(open)-1]].End <= p.blocks[bi].Start {
				open = open[:len(open)-1]
			}
			open = append(open, bi)
			bi++
		}
		for len(open) > 0 && p.blocks[open[len(open)-1]].End <= r.Start {
			open = open[:len(open)-1]
		}
		owner := 0
		if len(open) > 0 {
			owner = open[len(open)-1]
		}

		m := slots[owner]
		if m == nil {
			m = make(map[int]int)
			slots[owner] = m
		}
		slot, ok := m[r.Var]
		if !ok {
			slot = len(p.blocks[owner].Locals)
			p.blocks[owner].Locals = append(p.blocks[owner].Locals, r.Var)
			m[r.Var] = slot
		}
		r.Block, r.Slot = owner, slot
		p.blocks[owner].refs = append(p.blocks[owner].refs, ri)
	}

	for b := 1; b < len(p.blocks); b++ {
		parent := p.blocks[b].Parent
		p.blocks[parent].children = append(p.blocks[parent].children, b)
	}
}
