package template

// None is the sentinel index for "no entry" in the block and instance
// tables. Blocks, references, and instances link to each other through
// plain integer indexes rather than pointers.
const None = -1

// VarRef is one occurrence of a ${name} placeholder in the compiled text.
type VarRef struct {
	// Var is the index of the referenced variable in Template.Vars.
	Var int
	// Start and End delimit the placeholder, including the ${ and }.
	Start int
	End   int
	// Block is the innermost block containing the reference.
	Block int
	// Slot is the reference's index into the owning block's Locals.
	Slot int
}

// Block is one entry in the compiled block table. The root of the tree is
// always entry 0, an unnamed block spanning the whole text.
type Block struct {
	// Name is empty for the root block and for dummy regions.
	Name string
	// Parent is the index of the enclosing block, None for the root.
	Parent int
	// Depth is the nesting depth, 0 for the root.
	Depth int
	// Start and End delimit the block's content in Template.Text. The
	// command markers themselves are stripped during parsing, so the
	// range holds only renderable content.
	Start int
	End   int
	// Dummy marks an anonymous region excluded by a false conditional
	// branch. Dummy blocks are never instantiated and never rendered.
	Dummy bool
	// PrevName is the index of the previous block sharing this name,
	// None if this is the first. Name lookup resolves to the most
	// recently defined block; earlier ones are reachable via this chain.
	PrevName int
	// Locals maps block-local variable slots to Template.Vars indexes.
	// An added block instance snapshots exactly these variables.
	Locals []int

	children []int // direct child blocks, document order
	refs     []int // refs owned by this block directly, position order
}

// Template is the immutable result of a successful Parse. It is safe for
// concurrent use: any number of Output sessions may share one Template.
type Template struct {
	// Text is the final template text, after include splicing, command
	// stripping, and conditional resolution.
	Text string
	// Vars holds the distinct variable names in order of first
	// occurrence; a variable's index is its variable number.
	Vars []string
	// Refs holds every placeholder occurrence, ordered by position.
	Refs []VarRef
	// Blocks holds the block table, ordered by start position.
	Blocks []Block

	varIndex   map[string]int
	blockIndex map[string]int
}

// VarIndex returns the variable number for name.
func (t *Template) VarIndex(name string) (int, bool) {
	i, ok := t.varIndex[name]
	return i, ok
}

// BlockIndex returns the block table index for name. When several blocks
// share a name this is the most recently defined one.
func (t *Template) BlockIndex(name string) (int, bool) {
	i, ok := t.blockIndex[name]
	return i, ok
}

// blockDefs returns every block definition with the given name in
// definition order, or nil if the name is unknown.
func (t *Template) blockDefs(name string) []int {
	i, ok := t.blockIndex[name]
	if !ok {
		return nil
	}
	var defs []int
	for ; i != None; i = t.Blocks[i].PrevName {
		defs = append(defs, i)
	}
	// The chain runs newest to oldest; callers want definition order.
	for l, r := 0, len(defs)-1; l < r; l, r = l+1, r-1 {
		defs[l], defs[r] = defs[r], defs[l]
	}
	return defs
}
