// Package store provides the byte-level persistence backends a workspace
// uses to keep cached resource values across sessions. The format of the
// stored bytes is opaque to this package; the workspace decides how to
// encode values. FileStore covers single-node deployments, RedisStore
// covers shared ones.
package store
