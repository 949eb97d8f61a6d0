package balancer

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/kilianp07/wattbudget/core/device"
	"github.com/kilianp07/wattbudget/core/notify"
)

// rule is one row of the decision table.
type rule struct {
	name RuleName
	when func(*tick) bool
	do   func(*tick)
}

// decisionTable returns the rules in evaluation order. The last rule always
// matches.
func (b *Balancer) decisionTable() []rule {
	return []rule{
		{RuleOverTarget, b.isOverTarget, b.reduce},
		{RuleHeaterRestore, b.hasReducedHeaters, b.restoreHeaters},
		{RuleSurplus, b.inSurplus, b.divertSurplus},
		{RuleAfterSurplus, b.afterSurplus, b.unwindSurplus},
		{RuleUnderTarget, b.isUnderTarget, b.increase},
		{RuleHold, func(*tick) bool { return true }, func(*tick) {}},
	}
}

func (b *Balancer) isOverTarget(t *tick) bool {
	d := t.d
	return d.AccumulatedWh+d.ProjectedWh > b.cfg.UsableWh() || d.TargetBufferWh < 0
}

func (b *Balancer) hasReducedHeaters(t *tick) bool {
	if t.d.ProductionW > t.d.ConsumptionW {
		return false
	}
	for _, st := range b.heaters {
		if st.reduced {
			return true
		}
	}
	return false
}

func (b *Balancer) inSurplus(t *tick) bool { return t.d.ProductionW > t.d.ConsumptionW }

func (b *Balancer) afterSurplus(*tick) bool { return b.surplus }

func (b *Balancer) isUnderTarget(t *tick) bool {
	if t.d.AvailableWh <= b.cfg.ComfortSlackWh {
		return false
	}
	return b.lastReduction.IsZero() || t.now.Sub(b.lastReduction) >= b.cfg.SettleTime
}

// reduce handles OverTarget: admission first, then charger current, then
// heaters, then escalation.
func (b *Balancer) reduce(t *tick) {
	if b.deficitSince.IsZero() {
		b.deficitSince = t.now
	}
	deficit := b.deficitW(t)
	deficit -= b.refreshAdmission(t)
	if deficit > 0 {
		deficit = b.reduceAmps(t, b.activeChargers(), deficit)
	}
	if deficit > 0 && int(t.elapsedMin) >= b.cfg.HeaterReduceMinute {
		deficit = b.reduceHeaters(t, deficit)
	}
	if deficit <= 0 {
		return
	}
	ref := b.deficitSince
	if b.lastReduction.After(ref) {
		ref = b.lastReduction
	}
	if t.now.Sub(ref) > b.cfg.DeepDeficitAfter {
		b.escalate(t, deficit)
	}
}

// refreshAdmission stops chargers whose vehicle is no longer admitted and
// returns the freed power. Solar sessions are left to the surplus rules.
func (b *Balancer) refreshAdmission(t *tick) float64 {
	freed := 0.0
	for _, a := range b.activeChargers() {
		if b.isSolar(a.port.ID()) || b.deps.Queue.Admitted(a.vehicle) {
			continue
		}
		b.log.Infof("%s is outside its charging time, stopping %s", a.vehicle, a.port.ID())
		freed += b.stopCharging(t, a)
	}
	return freed
}

// reduceAmps lowers charger current starting from the end of list, which
// is ordered highest priority first. A charger already at its minimum
// passes the remaining deficit on to the next one.
func (b *Balancer) reduceAmps(t *tick, list []active, deficit float64) float64 {
	for i := len(list) - 1; i >= 0 && deficit > 0; i-- {
		a := list[i]
		vpp := a.port.VoltsPerPhase()
		if vpp <= 0 {
			continue
		}
		delta := int(math.Floor(deficit / vpp))
		target := a.amps - delta
		if target < a.port.MinAmps() {
			target = a.port.MinAmps()
		}
		applied := a.amps - target
		if applied <= 0 {
			continue
		}
		b.setAmps(t, a.port, target)
		deficit -= float64(applied) * vpp
	}
	return deficit
}

// raiseAmps spends budget watts on charger current, highest priority first.
func (b *Balancer) raiseAmps(t *tick, list []active, budget float64) float64 {
	for _, a := range list {
		vpp := a.port.VoltsPerPhase()
		if budget < vpp || vpp <= 0 {
			continue
		}
		add := int(math.Floor(budget / vpp))
		if room := a.port.MaxAmps() - a.amps; add > room {
			add = room
		}
		if add <= 0 {
			continue
		}
		b.setAmps(t, a.port, a.amps+add)
		budget -= float64(add) * vpp
	}
	return budget
}

func (b *Balancer) escalate(t *tick, deficit float64) {
	hour := t.now.Truncate(time.Hour)
	if b.cfg.ForceStop {
		list := b.activeChargers()
		for i := len(list) - 1; i >= 0 && deficit > 0; i-- {
			b.log.Warnf("sustained deficit of %.0f W, stopping %s", deficit, list[i].vehicle)
			deficit -= b.stopCharging(t, list[i])
		}
	}
	if b.cfg.Notify && !b.notifiedHour.Equal(hour) {
		msg := notify.Message{
			Title:      "Power budget exceeded",
			Text:       fmt.Sprintf("Usage this hour is heading %.0f Wh over the limit and %.0f W could not be shed.", t.overWh, deficit),
			Recipients: b.cfg.NotifyRecipients,
		}
		err := b.deps.Notifier.Notify(t.ctx, msg)
		if err != nil {
			b.log.Errorf("deficit notification: %v", err)
		}
		b.notifiedHour = hour
		t.add(ActionNotify, "", deficit, err)
	}
	if b.deps.Budget != nil && !b.stressedHour.Equal(hour) {
		b.deps.Budget.MarkStressed(t.now.Hour())
		b.stressedHour = hour
		t.add(ActionStressHour, "", float64(t.now.Hour()), nil)
	}
}

// divertSurplus handles ProductionExceedsConsumption.
func (b *Balancer) divertSurplus(t *tick) {
	b.surplus = true
	surplus := t.d.ProductionW - t.d.ConsumptionW

	for _, h := range b.reducedHeaters() {
		b.restoreHeater(t, h)
		surplus -= h.RatedWatts()
	}

	b.raiseChargeLimits(t)

	ids := make([]string, 0, len(b.devs.Chargers))
	for id := range b.devs.Chargers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		p := b.devs.Chargers[id]
		need := float64(p.MinAmps()) * p.VoltsPerPhase()
		if surplus < need {
			continue
		}
		car, ok := b.deps.Links.CarFor(id)
		if !ok || b.deps.Queue.IsCharging(car) {
			continue
		}
		if st, err := p.Status(); err != nil || st != device.StatusConnected {
			continue
		}
		if b.startCharging(t, car, p) {
			b.solar = append(b.solar, id)
			surplus -= need
		}
	}

	surplus = b.raiseAmps(t, b.activeChargers(), surplus)

	for _, h := range b.devs.Heaters {
		st := b.heaters[h.ID()]
		if st.boosted || st.reduced || h.RatedWatts() > surplus {
			continue
		}
		err := h.SetMode(t.ctx, device.ModeBoost)
		t.add(ActionHeaterBoost, h.ID(), h.RatedWatts(), err)
		if err != nil {
			b.log.Errorf("boost %s: %v", h.ID(), err)
			continue
		}
		st.boosted = true
		surplus -= h.RatedWatts()
	}
}

func (b *Balancer) raiseChargeLimits(t *tick) {
	ids := make([]string, 0, len(b.devs.Vehicles))
	for id := range b.devs.Vehicles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if _, done := b.limits[id]; done {
			continue
		}
		if _, ok := b.deps.Links.ChargerFor(id); !ok {
			continue
		}
		v := b.devs.Vehicles[id]
		cur, err := v.ChargeLimit()
		if err != nil || cur >= v.PreferredChargeLimit() {
			continue
		}
		err = v.SetChargeLimit(t.ctx, v.PreferredChargeLimit())
		t.add(ActionChargeLimit, id, v.PreferredChargeLimit(), err)
		if err != nil {
			b.log.Errorf("raise charge limit of %s: %v", id, err)
			continue
		}
		b.limits[id] = cur
	}
}

// unwindSurplus handles ConsumptionExceedsProductionAfterSurplus.
func (b *Balancer) unwindSurplus(t *tick) {
	deficit := t.d.ConsumptionW - t.d.ProductionW

	for _, h := range b.devs.Heaters {
		st := b.heaters[h.ID()]
		if !st.boosted {
			continue
		}
		err := h.SetMode(t.ctx, device.ModeNormal)
		t.add(ActionHeaterNormal, h.ID(), h.RatedWatts(), err)
		if err != nil {
			b.log.Errorf("unboost %s: %v", h.ID(), err)
			continue
		}
		st.boosted = false
		deficit -= h.RatedWatts()
	}

	if deficit > 0 {
		deficit = b.reduceAmps(t, b.solarChargers(), deficit)
	}

	for i := len(b.solar) - 1; i >= 0 && deficit > 0; i-- {
		id := b.solar[i]
		car, _ := b.deps.Links.CarFor(id)
		if car != "" && b.deps.Queue.Admitted(car) {
			b.dropSolar(id)
			continue
		}
		a := active{vehicle: car, port: b.devs.Chargers[id]}
		a.amps = b.currentAmps(a.port)
		deficit -= b.stopCharging(t, a)
	}

	if len(b.solar) > 0 {
		return
	}
	for _, st := range b.heaters {
		if st.boosted {
			return
		}
	}
	ids := make([]string, 0, len(b.limits))
	for id := range b.limits {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		prev := b.limits[id]
		err := b.devs.Vehicles[id].SetChargeLimit(t.ctx, prev)
		t.add(ActionChargeLimit, id, prev, err)
		if err != nil {
			b.log.Errorf("restore charge limit of %s: %v", id, err)
		}
		delete(b.limits, id)
	}
	b.surplus = false
}

// increase handles UnderTarget.
func (b *Balancer) increase(t *tick) {
	budget := t.d.AvailableW + b.refreshAdmission(t)

	if id, ok := b.deps.Queue.FindNextToStart(true); ok {
		if chargerID, linked := b.deps.Links.ChargerFor(id); linked {
			if p, known := b.devs.Chargers[chargerID]; known {
				need := float64(p.MinAmps()) * p.VoltsPerPhase()
				st, err := p.Status()
				if err == nil && st == device.StatusConnected && budget >= need && b.startCharging(t, id, p) {
					budget -= need
				}
			}
		}
	}

	b.raiseAmps(t, b.activeChargers(), budget)
}

func (b *Balancer) isSolar(chargerID string) bool {
	for _, id := range b.solar {
		if id == chargerID {
			return true
		}
	}
	return false
}

func (b *Balancer) solarChargers() []active {
	var out []active
	for _, a := range b.activeChargers() {
		if b.isSolar(a.port.ID()) {
			out = append(out, a)
		}
	}
	return out
}
