// Package metering provides domain models for resource metering and quota
// enforcement in the VoxSuite backend.
//
// This package implements the usage metering bounded context, which is
// responsible for:
//   - Tracking consumption of the four metered resources (transcription
//     minutes, translation words, text-to-speech minutes, AI credits)
//   - Evaluating requested usage against subscription plan limits and
//     pay-as-you-go overflow balances
//   - Splitting deductions between plan allocation and overflow balance
//   - Rolling calendar-month billing periods over and archiving history
//
// Key Aggregates:
//   - Account: per-user subscription, counters, and overflow balances
//   - Plan: immutable per-plan resource limits
//
// Value Objects:
//   - UsageCounters: the four per-resource counters as one unit
//   - ResourceKind: closed enumeration of metered resources
//
// The metering domain integrates with:
//   - The identity layer: for caller identity and admin privileges
//   - The transcription/translation/speech pipelines: as consumers of the
//     validate/track/deduct operations
package metering
