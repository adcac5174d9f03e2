// Package kconfig loads the TOML boot configuration for a [kernel.Kernel],
// and the workload parameters of the kcoresim command.
//
// A minimal file:
//
//	[kernel]
//	cores = 4
//	quantum = "5ms"
//
//	[log]
//	level = "info"
//
// Unset fields take the values of [Default]. Unknown keys are rejected.
package kconfig
