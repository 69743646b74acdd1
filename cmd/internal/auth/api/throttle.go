package authapi

import (
	"context"
	"sort"
	"strings"
	"time"
)

// lockoutTier locks an identifier for Duration after its latest failure once it has
// Threshold failures. Threshold 0 disables the tier.
type lockoutTier struct {
	Threshold int
	Duration  time.Duration
}

// evaluateWindowThrottle blocks while at least max failures fall inside the window ending
// at now. retry is the time until enough of them age out.
func evaluateWindowThrottle(now time.Time, failures []time.Time, max int, window time.Duration) (bool, time.Duration) {
	if max <= 0 || window <= 0 {
		return false, 0
	}
	cut := now.Add(-window)
	inWindow := make([]time.Time, 0, len(failures))
	for _, f := range failures {
		if f.After(cut) && !f.After(now) {
			inWindow = append(inWindow, f)
		}
	}
	if len(inWindow) < max {
		return false, 0
	}
	sort.Slice(inWindow, func(i, j int) bool { return inWindow[i].After(inWindow[j]) })
	// Unblocked once the max-th newest failure leaves the window.
	retry := inWindow[max-1].Add(window).Sub(now)
	if retry <= 0 {
		return false, 0
	}
	return true, retry
}

// evaluateProgressiveLockout applies every tier whose threshold is reached and returns the
// longest remaining lock, measured from the most recent failure.
func evaluateProgressiveLockout(now time.Time, failures []time.Time, tiers []lockoutTier) (bool, time.Duration) {
	if len(failures) == 0 {
		return false, 0
	}
	latest := failures[0]
	for _, f := range failures[1:] {
		if f.After(latest) {
			latest = f
		}
	}

	var retry time.Duration
	for _, t := range tiers {
		if t.Threshold <= 0 || len(failures) < t.Threshold {
			continue
		}
		if left := latest.Add(t.Duration).Sub(now); left > retry {
			retry = left
		}
	}
	return retry > 0, retry
}

func (h *Handler) lockoutTiers() []lockoutTier {
	return []lockoutTier{
		{Threshold: h.cfg.LockoutSevereThreshold, Duration: h.cfg.LockoutSevereDuration},
		{Threshold: h.cfg.LockoutLongThreshold, Duration: h.cfg.LockoutLongDuration},
		{Threshold: h.cfg.LockoutShortThreshold, Duration: h.cfg.LockoutShortDuration},
	}
}

// checkLoginThrottle runs the per-IP window and then the per-identifier lockout.
func (h *Handler) checkLoginThrottle(ctx context.Context, ip, identifier string, now time.Time) (bool, time.Duration, error) {
	if ip != "" && h.cfg.LoginIPMax > 0 {
		failures, err := h.auditLog.LoginFailuresByIP(ctx, ip, now.Add(-h.cfg.LoginIPWindow))
		if err != nil {
			return false, 0, err
		}
		if blocked, retry := evaluateWindowThrottle(now, failures, h.cfg.LoginIPMax, h.cfg.LoginIPWindow); blocked {
			return true, retry, nil
		}
	}

	if strings.TrimSpace(identifier) == "" {
		return false, 0, nil
	}
	failures, err := h.auditLog.LoginFailuresByIdentifier(ctx, identifier, now.Add(-h.cfg.LoginIdentifierWindow))
	if err != nil {
		return false, 0, err
	}
	blocked, retry := evaluateProgressiveLockout(now, failures, h.lockoutTiers())
	return blocked, retry, nil
}
