// Package substrate provides vocabulary predicates for substrate
// entities: units derived from captures, and the governance proposals
// that created them.
//
// Import this package to auto-register predicates:
//
//	import _ "github.com/c360studio/substrate/vocabulary/substrate"
package substrate
