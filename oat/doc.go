// Package oat implements a two-pass OAT file writer: it serializes a set of
// DEX files together with their ahead-of-time compiled native code, stubs,
// and metadata into a single linearly laid-out binary image.
//
// Construction (NewWriter) runs the offset-planning pass, computing every
// byte offset in the eventual file and interning deduplicated code and table
// blobs. Write then runs the writing pass, which performs no offset
// arithmetic of its own: it replays the plan.
package oat
