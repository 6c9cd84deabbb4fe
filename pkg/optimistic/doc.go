// Package optimistic applies claim-exclusivity toggles ahead of server
// confirmation.
//
// Exactly one item of a collection may hold an exclusive flag (the request
// currently being played). A Coordinator publishes a transient override the
// moment a toggle is requested, issues the server mutation, and reconciles:
//
//  1. Toggle publishes the override synchronously: the target item gets the
//     desired value and every other item is cleared.
//  2. The mutation runs (claim = set and clear others; release = unset).
//  3. On success the override stays until a confirmed snapshot agrees with
//     it, then the confirmed snapshot takes over.
//  4. On failure the override is dropped at once, the confirmed snapshot is
//     republished and failure handlers are notified.
//
// At most one override exists per collection. A new toggle replaces the
// pending one, and the completion of a replaced mutation is ignored.
// Mutations are identified by ULIDs.
package optimistic
