package tracking

// TierFor maps the session mode, pause state and battery snapshot to a
// precision tier. The policy is:
//
//	any mode, paused                          -> Low
//	Tracking, moving, on external power       -> Navigation
//	Tracking, moving, battery >= 30%          -> High
//	Tracking, moving, battery <  30%          -> Balanced
//	Normal, moving                            -> Balanced
func TierFor(mode Mode, paused bool, power PowerState) PrecisionTier {
	if paused {
		return TierLow
	}
	if mode == ModeTracking {
		if power.External {
			return TierNavigation
		}
		if power.Level >= 0.30 {
			return TierHigh
		}
		return TierBalanced
	}
	return TierBalanced
}
