//go:build tools

// Package tools pins development tool versions. They are installed with
// `go install` and deliberately kept out of go.mod, since nothing at runtime
// imports them.
package tools

// Air - live reload during development
//   Install: go install github.com/air-verse/air@v1.63.0
//   Docs: https://github.com/air-verse/air
