// Package dedup provides first-seen stores for delivery identities.
//
// Every store implements Claim as an atomic check-and-insert: among any
// number of concurrent callers presenting the same key, exactly one is told
// it saw the key first. MemoryStore lives for the process; RedisStore
// survives restarts and is shared between instances.
package dedup
