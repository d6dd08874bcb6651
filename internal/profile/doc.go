// Package profile persists the single user profile and matches live
// transcriptions against it to raise speaker alerts.
package profile
