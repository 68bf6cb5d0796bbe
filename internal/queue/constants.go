// Package queue delivers inbound voice messages per conversation with
// priority ordering, back-to-back grouping, preemption and retry.
package queue

import "time"

// Scheduling thresholds
const (
	// Gap below which consecutive messages from one sender form a
	// back-to-back group
	BackToBackThreshold = 2 * time.Second

	// Gap below which a back-to-back arrival is considered rapid enough
	// to warrant critical interruption
	RapidGap = 1 * time.Second

	// Window over which group activity is bucketed
	ActivityWindow = 1 * time.Minute

	// Playback never runs longer than this; hitting the ceiling counts
	// as normal completion
	PlaybackCeiling = 30 * time.Second

	// Retry budget for playback failures
	MaxRetries        = 3
	InitialRetryDelay = 1 * time.Second

	// A waiting message preempts the current one when its priority leads
	// by more than this margin
	PreemptionMargin = 50

	// Priority boost applied when a preempted entry re-enters the queue
	ResumeBoost = 25
)

// Priority weights. Exact values are tuning knobs; the load-bearing contract
// is the ordering recency > activity > back-to-back bonus > sender weight.
const (
	recencyFresh  = 100 // age < 10s
	recencyRecent = 80  // age < 1m
	recencyStale  = 50  // age < 5m
	recencyOld    = 20

	activityBurstBonus  = 40
	activityHighBonus   = 25
	activityMediumBonus = 10

	backToBackBonus = 30
	rapidBonus      = 20

	senderWeight = 15
)

// Activity bucket boundaries, messages within ActivityWindow
const (
	activityMediumCount = 2
	activityHighCount   = 5
	activityBurstCount  = 8
)
