// Package readiness blocks a conversion job until every accelerator is below
// its temperature threshold and has enough free memory.
//
// A snapshot without devices is always ready: the gate never waits on
// telemetry it cannot observe.
package readiness
