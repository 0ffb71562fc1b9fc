// Package adaptive learns per-target latency and recommends probe deadlines.
//
// Every destination address maps to a network class (LAN or WAN) derived from its
// address scope. Each class holds a latency model seeded with the class default.
// Once a host has contributed enough samples it gets its own model, and the
// recommendation for that host comes from it instead of from the class.
//
// A model keeps an exponentially weighted moving average of the round trip time and
// of its mean deviation. Observations far outside the current spread still count,
// with reduced weight, so one anomalous reply cannot poison the estimate.
//
// The recommended timeout follows an inverse AIMD policy:
//   - a timeout event multiplies it, capped at Config.Max
//   - Config.FastStreak consecutive fast, consistent replies subtract
//     Config.DecreaseStep, floored at Config.Min
//
// Each model is guarded by its own mutex; unrelated hosts never contend.
package adaptive
