// Package jwt manages operation-token issuance and verification using configured signing keys
// and strict validation semantics suitable for short-lived privilege elevation.
package jwt
