// Package metrics defines the recorder contracts metrics backends implement.
// Backends register themselves in the sink registry under a type name.
package metrics
