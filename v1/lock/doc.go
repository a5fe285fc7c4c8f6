// Package lock provides a best effort distributed mutex on top of the store's
// atomic conditional set (SET key value NX EX seconds).
//
// The store expiry is the only eviction mechanism. Unlock deletes the key
// without checking who holds it, so any caller knowing the key name can
// release the lock.
package lock
