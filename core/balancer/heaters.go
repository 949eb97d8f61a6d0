package balancer

import (
	"sort"
	"time"

	"github.com/kilianp07/wattbudget/core/device"
)

// reduceHeaters puts heaters in save mode, largest first and the least
// recently reduced first among equals, until deficit is covered.
func (b *Balancer) reduceHeaters(t *tick, deficit float64) float64 {
	var cands []device.Heater
	for _, h := range b.devs.Heaters {
		if !b.heaters[h.ID()].reduced {
			cands = append(cands, h)
		}
	}
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].RatedWatts() != cands[j].RatedWatts() {
			return cands[i].RatedWatts() > cands[j].RatedWatts()
		}
		return b.heaters[cands[i].ID()].lastReduced.Before(b.heaters[cands[j].ID()].lastReduced)
	})

	for _, h := range cands {
		if deficit <= 0 {
			break
		}
		draw, err := h.Power()
		if err != nil {
			draw = h.RatedWatts()
		}
		if draw <= 0 {
			continue
		}
		err = h.SetMode(t.ctx, device.ModeSave)
		t.add(ActionHeaterSave, h.ID(), draw, err)
		if err != nil {
			b.log.Errorf("reduce heater %s: %v", h.ID(), err)
			continue
		}
		st := b.heaters[h.ID()]
		st.boosted = false
		st.reduced = true
		st.reducedAt = t.now
		st.lastReduced = t.now
		b.lastReduction = t.now
		if b.deps.Timers != nil {
			b.deps.Timers.Cancel(recoveryKey(h.ID()))
		}
		deficit -= draw
	}
	return deficit
}

// reducedHeaters returns heaters in save mode, earliest reduced first.
func (b *Balancer) reducedHeaters() []device.Heater {
	var out []device.Heater
	for _, h := range b.devs.Heaters {
		if b.heaters[h.ID()].reduced {
			out = append(out, h)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return b.heaters[out[i].ID()].reducedAt.Before(b.heaters[out[j].ID()].reducedAt)
	})
	return out
}

// restoreHeaters handles HeatersReduced: heaters are restored while the
// remaining budget can carry their rated draw.
func (b *Balancer) restoreHeaters(t *tick) {
	budget := t.d.AvailableW
	for _, h := range b.reducedHeaters() {
		if h.RatedWatts() > budget {
			continue
		}
		if b.restoreHeater(t, h) {
			budget -= h.RatedWatts()
		}
	}
}

func (b *Balancer) restoreHeater(t *tick, h device.Heater) bool {
	err := h.SetMode(t.ctx, device.ModeNormal)
	t.add(ActionHeaterNormal, h.ID(), h.RatedWatts(), err)
	if err != nil {
		b.log.Errorf("restore heater %s: %v", h.ID(), err)
		return false
	}
	st := b.heaters[h.ID()]
	st.reduced = false
	b.armRecovery(t.now, h, t.now.Sub(st.reducedAt))
	return true
}

func recoveryKey(heaterID string) string { return "heater-recovery:" + heaterID }

// armRecovery measures the heater's energy use over the recovery window
// after it was off for off, and feeds it to the learner.
func (b *Balancer) armRecovery(now time.Time, h device.Heater, off time.Duration) {
	if b.deps.Timers == nil || b.cfg.HeaterRecoveryWindow <= 0 || !b.sensors.haveTemp {
		return
	}
	start, err := h.Energy()
	if err != nil {
		b.log.Debugf("no energy counter for %s, recovery not measured", h.ID())
		return
	}
	temp := b.sensors.temperature
	b.deps.Timers.Schedule(recoveryKey(h.ID()), now.Add(b.cfg.HeaterRecoveryWindow), func() {
		b.finishRecovery(h, off, temp, start)
	})
}

func (b *Balancer) finishRecovery(h device.Heater, off time.Duration, temp, start float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	end, err := h.Energy()
	if err != nil || end < start || h.RatedWatts() <= 0 {
		b.log.Debugf("recovery measurement of %s discarded: %v", h.ID(), err)
		return
	}
	// the learner keeps whole-house recovery energy; the ledger scales it
	// back down by each heater's share
	kwh := (end - start) * b.heaterWatts() / h.RatedWatts()
	if err := b.deps.Learner.RecordHeaterRecoverySample(off, temp, kwh); err != nil {
		b.log.Debugf("recovery sample of %s: %v", h.ID(), err)
	}
}

// heaterWatts is the rated power of all heaters.
func (b *Balancer) heaterWatts() float64 {
	var w float64
	for _, h := range b.devs.Heaters {
		w += h.RatedWatts()
	}
	return w
}

// HeaterStates returns which heaters are reduced or boosted.
func (b *Balancer) HeaterStates() (reduced, boosted []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, h := range b.devs.Heaters {
		st := b.heaters[h.ID()]
		if st.reduced {
			reduced = append(reduced, h.ID())
		}
		if st.boosted {
			boosted = append(boosted, h.ID())
		}
	}
	return reduced, boosted
}

// ReducedSince returns when each reduced heater was put in save mode.
func (b *Balancer) ReducedSince() map[string]time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]time.Time)
	for id, st := range b.heaters {
		if st.reduced {
			out[id] = st.reducedAt
		}
	}
	return out
}
