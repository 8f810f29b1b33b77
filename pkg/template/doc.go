/*
Package template implements a block-oriented template compiler and renderer.

A template is plain text containing ${variable} placeholders, named nested
blocks, compile-time conditional branches, and sub-template inclusions:

	<h1>${title}</h1>
	<!-- $beginBlock row -->
	<tr><td>${cell}</td></tr>
	<!-- $endBlock row -->
	<!-- $if debug -->
	<p>debug build</p>
	<!-- $endIf -->
	<!-- $include "footer.tpl" -->

Parse compiles the text into an immutable Template: conditionals are
resolved against a compile-time set of condition variables, includes are
spliced in through a caller-supplied Loader, and tables of variables,
blocks, and placeholder positions are built. A compiled Template never
changes and may be shared by any number of concurrent renders.

Output is a single render session over a compiled Template. The caller
assigns variable values and adds block repetitions in any order (a block's
variables before the block itself), then calls Generate to produce the
final text. Each added block snapshots its local variables, so the same
block can repeat with different values, and nested repetitions stay
attached to the parent repetition that was current when they were added.
*/
package template
