// Package internal contains helper utilities that are intentionally private to authflow,
// including secure random code and link-token generation.
//
// # What this package must NOT do
//
//   - Export types that appear in the public authflow API.
//   - Be imported by any package outside the authflow module.
package internal
