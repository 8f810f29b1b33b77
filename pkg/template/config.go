package template

// Limits holds the parser's safety limits.
type Limits struct {
	// MaxBlockDepth is the maximum block nesting depth.
	MaxBlockDepth int

	// MaxCondDepth is the maximum conditional nesting depth.
	MaxCondDepth int

	// MaxExpansion caps the cumulative bytes of template text loaded
	// during one parse, the main template plus every include splice.
	// Include splicing is recursive, so without a cap a template could
	// keep splicing without bound.
	MaxExpansion int
}

// DefaultLimits returns the limits used when Options.Limits is zero.
func DefaultLimits() Limits {
	return Limits{
		MaxBlockDepth: 30,
		MaxCondDepth:  30,
		MaxExpansion:  1 << 20, // 1MB
	}
}

// Options controls optional parser behavior.
type Options struct {
	// Terse enables the angle-bracket conditional syntax
	// (<$? expr>, <$: expr>, <$:>, <$/?>) alongside the comment form.
	Terse bool

	// Limits overrides the parser safety limits. Each field left zero
	// falls back to its DefaultLimits value independently.
	Limits Limits
}

func (o Options) limits() Limits {
	lim := o.Limits
	def := DefaultLimits()
	if lim.MaxBlockDepth <= 0 {
		lim.MaxBlockDepth = def.MaxBlockDepth
	}
	if lim.MaxCondDepth <= 0 {
		lim.MaxCondDepth = def.MaxCondDepth
	}
	if lim.MaxExpansion <= 0 {
		lim.MaxExpansion = def.MaxExpansion
	}
	return lim
}
