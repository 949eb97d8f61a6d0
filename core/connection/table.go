package connection

import "sort"

// Entry is the persisted form of one car.
type Entry struct {
	Car         string `json:"car"`
	Charger     string `json:"charger,omitempty"`
	Onboard     string `json:"onboard,omitempty"`
	LastCharger string `json:"last_charger,omitempty"`
}

// Table is the persisted link table.
type Table struct {
	Cars     []Entry  `json:"cars"`
	Chargers []string `json:"chargers"`
}

// Export returns a copy of the table.
func (r *Registry) Export() Table {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t := Table{}
	for id, c := range r.cars {
		t.Cars = append(t.Cars, Entry{Car: id, Charger: c.charger, Onboard: c.onboard, LastCharger: c.last})
	}
	for id := range r.chargers {
		t.Chargers = append(t.Chargers, id)
	}
	sort.Slice(t.Cars, func(i, j int) bool { return t.Cars[i].Car < t.Cars[j].Car })
	sort.Strings(t.Chargers)
	return t
}

// Import merges a persisted table. Links that would give a charger two cars
// are dropped.
func (r *Registry) Import(t Table) {
	for _, id := range t.Chargers {
		r.RegisterCharger(id)
	}
	for _, e := range t.Cars {
		r.RegisterCar(e.Car)
		r.mu.Lock()
		c := r.cars[e.Car]
		if e.LastCharger != "" {
			c.last = e.LastCharger
		}
		if e.Onboard != "" {
			c.onboard = e.Onboard
		}
		if e.Onboard != "" {
			if _, ok := r.chargers[e.Onboard]; !ok {
				r.chargers[e.Onboard] = ""
			}
		}
		r.mu.Unlock()
		if e.Charger == "" {
			continue
		}
		r.RegisterCharger(e.Charger)
		if other, ok := r.CarFor(e.Charger); ok && other != e.Car {
			r.log.Warnf("dropping persisted link %s -> %s: charger already linked to %s", e.Car, e.Charger, other)
			continue
		}
		_ = r.Link(e.Car, e.Charger)
	}
}
