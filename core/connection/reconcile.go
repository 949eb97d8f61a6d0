package connection

// Observation is what a charger currently reports. CarID is empty when
// nothing is plugged in or the car could not be identified.
type Observation struct {
	ChargerID string
	Connected bool
	CarID     string
}

// Repair describes a link corrected by Reconcile.
type Repair struct {
	ChargerID string
	OldCar    string
	NewCar    string
}

// Reconcile compares charger observations with the table and fixes links
// that disagree. A connected charger without an identified car keeps its
// link; when it has none, the car last seen on that charger is relinked if
// it is not connected elsewhere.
func (r *Registry) Reconcile(obs []Observation) []Repair {
	var repairs []Repair
	for _, o := range obs {
		old, _ := r.CarFor(o.ChargerID)
		want := old
		switch {
		case !o.Connected:
			want = ""
		case o.CarID != "":
			want = o.CarID
		case old == "":
			want = r.lastCarOn(o.ChargerID)
		}
		if want == old {
			continue
		}
		var err error
		if want == "" {
			err = r.UnlinkByCharger(o.ChargerID)
		} else {
			err = r.Link(want, o.ChargerID)
		}
		if err != nil {
			r.log.Warnf("cannot reconcile charger %s: %v", o.ChargerID, err)
			continue
		}
		r.log.Warnf("reconciled charger %s: car %q -> %q", o.ChargerID, old, want)
		repairs = append(repairs, Repair{ChargerID: o.ChargerID, OldCar: old, NewCar: want})
	}
	return repairs
}

// lastCarOn returns the single unconnected car whose last charger is
// chargerID.
func (r *Registry) lastCarOn(chargerID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	found := ""
	for id, c := range r.cars {
		if c.last != chargerID || c.charger != "" {
			continue
		}
		if found != "" {
			return ""
		}
		found = id
	}
	return found
}
