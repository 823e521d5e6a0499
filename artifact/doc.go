// Package artifact models the files that flow between pipeline stages.
//
// A Layout fixes where every artifact of one run lives: the binary path is
// shared by the raw, bound and optimized roles (each stage rewrites it in
// place) and the loader glue is a sibling with the same base name. Stages
// write into a scratch directory inside the staging directory and Commit
// results with a rename, so the next stage never observes a partial file.
//
// The staging directory must be owned by a single run. Layout performs no
// locking; callers serialize runs that share a directory and base name.
package artifact
