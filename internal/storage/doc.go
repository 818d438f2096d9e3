// Package storage publishes finished compositions to S3 compatible object
// storage. When no bucket is configured the Noop publisher keeps the output
// on local disk only.
package storage
