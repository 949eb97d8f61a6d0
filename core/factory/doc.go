// Package factory instantiates pluggable modules (snapshot stores, metrics
// sinks) from configuration. A module is selected by a type string and
// receives its raw settings, which it decodes with Decode.
package factory
