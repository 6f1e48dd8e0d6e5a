// Package authflow implements the client-side security-verification workflow
// engine behind account-sensitive operations: email verification, password
// reset, password change, and email change. It drives one-time verification
// codes through a fixed step topology, exchanges verified codes for
// short-lived operation tokens, and keeps every open tab of the application
// in agreement about pending and completed verifications.
//
// The package is designed for event-driven UI hosts: a [Flow] is owned by one
// screen at a time, while the [Engine] holds the shared pieces, which are
// safe for concurrent use after initialization through [Builder.Build]. The
// shared pieces are the single-slot pending-verification store, the cross-tab
// redirect notifier, and the duplicate-attempt registry.
//
// # Architecture boundaries
//
// authflow is the public surface. It exposes [Engine], [Flow], [Builder],
// [Config], the [AccountService] contract, and value types (FlowState,
// ErrorDetails, PendingVerification). Token encoding, code generation, and
// hashing live under internal/ and are never exported.
//
// # What this package must NOT do
//
//   - Render anything. Presentation reacts to [FlowState] and [ErrorDetails];
//     no error ever crosses the boundary unclassified.
//   - Generate verification codes or operation tokens on behalf of a remote
//     service. [LocalService] exists as a reference implementation only.
//   - Persist anything beyond the single pending-verification slot.
package authflow
