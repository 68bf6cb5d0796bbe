package queue

import "time"

// computePriority scores an entry at enqueue time. Recency dominates, then
// activity level, then the back-to-back bonus, then sender weight.
func computePriority(age time.Duration, meta Metadata, highPrioritySender bool) int {
	p := recencyScore(age) + activityBonus(meta.ActivityLevel)

	if meta.IsBackToBack {
		p += backToBackBonus
		if meta.TimeSinceLast < RapidGap {
			p += rapidBonus
		}
	}
	if highPrioritySender {
		p += senderWeight
	}
	return p
}

func recencyScore(age time.Duration) int {
	switch {
	case age < 10*time.Second:
		return recencyFresh
	case age < time.Minute:
		return recencyRecent
	case age < 5*time.Minute:
		return recencyStale
	default:
		return recencyOld
	}
}

func activityBonus(level ActivityLevel) int {
	switch level {
	case ActivityBurst:
		return activityBurstBonus
	case ActivityHigh:
		return activityHighBonus
	case ActivityMedium:
		return activityMediumBonus
	default:
		return 0
	}
}

func activityLevelFor(recentCount int) ActivityLevel {
	switch {
	case recentCount >= activityBurstCount:
		return ActivityBurst
	case recentCount >= activityHighCount:
		return ActivityHigh
	case recentCount >= activityMediumCount:
		return ActivityMedium
	default:
		return ActivityLow
	}
}

// interruptionLevelFor derives urgency from the same enqueue signals.
func interruptionLevelFor(meta Metadata, highPrioritySender bool) InterruptionLevel {
	switch {
	case meta.IsBackToBack && meta.TimeSinceLast < RapidGap:
		return InterruptCritical
	case meta.IsBackToBack || meta.ActivityLevel == ActivityBurst:
		return InterruptHigh
	case highPrioritySender:
		return InterruptLow
	default:
		return InterruptNone
	}
}

// shouldInterrupt decides whether a waiting entry preempts the one playing.
func shouldInterrupt(waiting, current *Entry) bool {
	if waiting.Interruption == InterruptCritical && current.Interruption != InterruptCritical {
		return true
	}
	if waiting.Metadata.IsBackToBack && waiting.Message.SenderID == current.Message.SenderID {
		return true
	}
	return waiting.Priority-current.Priority > PreemptionMargin
}
