// Package backend holds the fixed set of remote text-improvement endpoints.
// Every invocation yields exactly one CallResult; failures are reported in
// the result and never retried.
package backend
