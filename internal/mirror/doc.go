// Package mirror copies market store changes into Redis.
//
// Every market lives in one hash (field "platform:id", value JSON). A full
// list replaces the hash atomically via a staging key and RENAME; single
// records are merged with HSET. Each applied change is announced on a
// pub/sub channel with a compact notice.
package mirror
