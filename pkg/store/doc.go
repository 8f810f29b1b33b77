/*
Package store provides template sources and the compiled-template cache
for the blocktpl engine.

A source implements template.Loader: DirStore reads template files under
a root directory (with atomic saves for updates), SQLStore keeps template
text in a SQLite database, and MapStore is an in-memory source useful for
tests and embedded defaults.

Cache memoizes compiled templates per (template name, condition-variable
set) so each distinct combination is parsed at most once, including under
concurrent access.
*/
package store
