// Package pbwire walks Protocol Buffers wire-format buffers without a schema.
//
// Only the subset needed to dig a string out of a nested message is supported:
// varint tags and wire types 0 (varint), 1 (64-bit), 2 (length-delimited) and
// 5 (32-bit). Group wire types and anything else stop the walk.
//
// All reads are bounds-checked. A truncated varint or a length that runs past
// the end of the buffer is reported as "not found" and never panics:
//
//	token, ok := pbwire.NestedString(record, 6, 1)
package pbwire
