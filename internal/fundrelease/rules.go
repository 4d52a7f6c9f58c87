package fundrelease

import "time"

// Ruleset decides when a Pending release becomes eligible for payout,
// and which trigger to stamp when it does. Policy lives here so the
// state machine never hard-codes a release schedule.
type Ruleset interface {
	Eligible(fr *FundRelease, now time.Time) bool
	Trigger(fr *FundRelease, now time.Time) (Trigger, bool)
}

// BaseRuleset is the production default: payment cleared, delivery
// confirmed, buyer protection window expired. BuyerProtectionExpired is
// set true at creation, so in practice this gates on payment + delivery.
type BaseRuleset struct{}

func (BaseRuleset) Eligible(fr *FundRelease, _ time.Time) bool {
	c := fr.Conditions
	return c.PaymentCleared && c.DeliveryConfirmed && c.BuyerProtectionExpired
}

// Trigger reports which rule tipped the release over. Delivery is the
// interesting gate under this ruleset; a release that became eligible
// without a delivery signal was promoted by protection expiry.
func (r BaseRuleset) Trigger(fr *FundRelease, now time.Time) (Trigger, bool) {
	if !r.Eligible(fr, now) {
		return "", false
	}
	if fr.Conditions.DeliveryConfirmed {
		return TriggerDeliveryConfirmed, true
	}
	return TriggerProtectionExpired, true
}

// ScheduledRuleset additionally requires seller verification and the
// business-days holding period to have elapsed. This is the richer
// policy for unverified or low-tier stores.
type ScheduledRuleset struct{}

func (ScheduledRuleset) Eligible(fr *FundRelease, now time.Time) bool {
	c := fr.Conditions
	if !c.PaymentCleared || !c.VerificationComplete {
		return false
	}
	if fr.Rules.DeliveryRequired && !c.DeliveryConfirmed {
		return false
	}
	return !now.Before(fr.ScheduledReleaseTime)
}

func (r ScheduledRuleset) Trigger(fr *FundRelease, now time.Time) (Trigger, bool) {
	if !r.Eligible(fr, now) {
		return "", false
	}
	if fr.Rules.DeliveryRequired && fr.Conditions.DeliveryConfirmed {
		return TriggerDeliveryConfirmed, true
	}
	return TriggerProtectionExpired, true
}
