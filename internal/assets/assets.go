// Package assets holds the prompts sent to the language model, embedded at
// build time so the Lambda binaries carry no loose files.
package assets
