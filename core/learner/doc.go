// Package learner estimates the baseline consumption of the house from
// temperature history. Idle draw and heater draw are kept as running
// averages per even-integer temperature bucket; heater recovery energy after
// an off period is kept per (off minutes, temperature) bucket.
package learner
