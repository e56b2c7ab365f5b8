// Package catalog persists the Casparian Flow data model to a single
// BoltDB file. Every table is a bucket; every row is JSON. There is no
// schema migration story pre-v1: a version mismatch between the binary
// and the on-disk meta bucket means the catalog gets rebuilt, not
// upgraded in place (see cmd/casparian's "catalog rebuild" subcommand).
package catalog
