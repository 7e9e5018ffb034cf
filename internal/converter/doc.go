// Package converter invokes the external document-conversion tool.
//
// A Runner builds the argv from the configured command and flags, inherits
// the operator's environment so accelerator selection variables such as
// CUDA_VISIBLE_DEVICES are respected, and captures the full stdout and
// stderr. Interpreting the output is left to the resolver.
package converter
