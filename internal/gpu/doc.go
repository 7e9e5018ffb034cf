// Package gpu queries attached NVIDIA accelerators through nvidia-smi.
//
// The probe never fails: a missing binary, a non-zero exit, or output that
// does not match the expected CSV shape all yield an empty Snapshot, which
// callers treat as "no accelerator knowable".
package gpu
