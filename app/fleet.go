package app

import (
	"fmt"
	"sort"

	"github.com/kilianp07/wattbudget/config"
	"github.com/kilianp07/wattbudget/core/balancer"
	"github.com/kilianp07/wattbudget/core/connection"
	"github.com/kilianp07/wattbudget/core/device"
)

// port is a charger with its status entity.
type port struct {
	*device.Charger
	statusEntity string
	// onboardOf is the car owning a built-in charger.
	onboardOf string
}

// fleet holds the entity-backed devices.
type fleet struct {
	meter    *device.HouseMeter
	ports    map[string]*port
	heaters  []*device.EntityHeater
	cars     map[string]*device.Car
	portList []string
}

func newFleet(cfg config.DevicesConfig, e device.EntityLayer, reg *connection.Registry) (*fleet, error) {
	f := &fleet{
		meter: device.NewMeter(cfg.Meter, e),
		ports: make(map[string]*port),
		cars:  make(map[string]*device.Car),
	}
	for _, c := range cfg.Chargers {
		f.addPort(c, e, "")
		reg.RegisterCharger(c.ID)
	}
	for _, h := range cfg.Heaters {
		f.heaters = append(f.heaters, device.NewHeater(h, e))
	}
	for _, v := range cfg.Vehicles {
		v.SetDefaults()
		f.cars[v.ID] = device.NewCar(v, e)
		reg.RegisterCar(v.ID)
		if v.Onboard != nil {
			f.addPort(*v.Onboard, e, v.ID)
			if err := reg.SetOnboardLink(v.ID, v.Onboard.ID); err != nil {
				return nil, fmt.Errorf("vehicle %s: %w", v.ID, err)
			}
		}
		if v.Charger != "" {
			if err := reg.SeedLastCharger(v.ID, v.Charger); err != nil {
				return nil, fmt.Errorf("vehicle %s: %w", v.ID, err)
			}
		}
	}
	sort.Strings(f.portList)
	return f, nil
}

func (f *fleet) addPort(c device.ChargerConfig, e device.EntityLayer, owner string) {
	f.ports[c.ID] = &port{Charger: device.NewCharger(c, e), statusEntity: c.StatusEntity, onboardOf: owner}
	f.portList = append(f.portList, c.ID)
}

func (f *fleet) balancerDevices() balancer.Devices {
	d := balancer.Devices{
		Meter:    f.meter,
		Chargers: make(map[string]device.ChargingPort, len(f.ports)),
		Vehicles: make(map[string]device.Vehicle, len(f.cars)),
	}
	for id, p := range f.ports {
		d.Chargers[id] = p.Charger
	}
	for _, h := range f.heaters {
		d.Heaters = append(d.Heaters, h)
	}
	for id, c := range f.cars {
		d.Vehicles[id] = c
	}
	return d
}

func (f *fleet) totalHeaterWatts() float64 {
	var w float64
	for _, h := range f.heaters {
		w += h.RatedWatts()
	}
	return w
}

func (f *fleet) heater(id string) (*device.EntityHeater, bool) {
	for _, h := range f.heaters {
		if h.ID() == id {
			return h, true
		}
	}
	return nil, false
}
