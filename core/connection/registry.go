// Package connection tracks which car is plugged into which charger.
package connection

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/kilianp07/wattbudget/core/logger"
)

var (
	ErrUnknownCar     = errors.New("unknown car")
	ErrUnknownCharger = errors.New("unknown charger")
)

type car struct {
	charger string
	onboard string
	last    string
}

// Registry is the car↔charger association table. Every mutation updates
// both directions under one lock.
type Registry struct {
	log      logger.Logger
	mu       sync.RWMutex
	cars     map[string]*car
	chargers map[string]string
}

// NewRegistry returns an empty registry.
func NewRegistry(log logger.Logger) *Registry {
	if log == nil {
		log = logger.NopLogger{}
	}
	return &Registry{
		log:      log,
		cars:     make(map[string]*car),
		chargers: make(map[string]string),
	}
}

// RegisterCar adds a car. Registering twice keeps the existing links.
func (r *Registry) RegisterCar(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.cars[id]; !ok {
		r.cars[id] = &car{}
	}
}

// RegisterCharger adds a charger. Registering twice keeps the existing link.
func (r *Registry) RegisterCharger(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.chargers[id]; !ok {
		r.chargers[id] = ""
	}
}

// Link connects carID to chargerID, superseding any previous link of
// either side.
func (r *Registry) Link(carID, chargerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cars[carID]
	if !ok {
		return fmt.Errorf("link %s: %w", carID, ErrUnknownCar)
	}
	if _, ok := r.chargers[chargerID]; !ok {
		return fmt.Errorf("link %s: %w", chargerID, ErrUnknownCharger)
	}
	r.unlinkCar(carID)
	r.unlinkCharger(chargerID)
	c.charger = chargerID
	c.last = chargerID
	r.chargers[chargerID] = carID
	r.log.Infof("linked car %s to charger %s", carID, chargerID)
	return nil
}

// Unlink disconnects the car from its charger.
func (r *Registry) Unlink(carID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.cars[carID]; !ok {
		return fmt.Errorf("unlink %s: %w", carID, ErrUnknownCar)
	}
	r.unlinkCar(carID)
	return nil
}

// UnlinkByCharger disconnects whatever car the charger is linked to.
func (r *Registry) UnlinkByCharger(chargerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.chargers[chargerID]; !ok {
		return fmt.Errorf("unlink %s: %w", chargerID, ErrUnknownCharger)
	}
	r.unlinkCharger(chargerID)
	return nil
}

func (r *Registry) unlinkCar(carID string) {
	c := r.cars[carID]
	if c.charger == "" {
		return
	}
	r.chargers[c.charger] = ""
	c.charger = ""
}

func (r *Registry) unlinkCharger(chargerID string) {
	carID := r.chargers[chargerID]
	if carID == "" {
		return
	}
	if c, ok := r.cars[carID]; ok {
		c.charger = ""
	}
	r.chargers[chargerID] = ""
}

// SetOnboardLink declares the charger built into the car. The onboard
// charger is registered as a charger if needed.
func (r *Registry) SetOnboardLink(carID, chargerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cars[carID]
	if !ok {
		return fmt.Errorf("onboard link %s: %w", carID, ErrUnknownCar)
	}
	if _, ok := r.chargers[chargerID]; !ok {
		r.chargers[chargerID] = ""
	}
	c.onboard = chargerID
	return nil
}

// ChargerFor returns the charger the car is connected to.
func (r *Registry) ChargerFor(carID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.cars[carID]; ok && c.charger != "" {
		return c.charger, true
	}
	return "", false
}

// CarFor returns the car connected to the charger.
func (r *Registry) CarFor(chargerID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id := r.chargers[chargerID]
	return id, id != ""
}

// OnboardFor returns the car's built-in charger.
func (r *Registry) OnboardFor(carID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.cars[carID]; ok && c.onboard != "" {
		return c.onboard, true
	}
	return "", false
}

// LastCharger returns the charger the car was last linked to, even if it
// is disconnected now.
func (r *Registry) LastCharger(carID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.cars[carID]; ok && c.last != "" {
		return c.last, true
	}
	return "", false
}

// SeedLastCharger records chargerID as the car's usual charger when no
// link was ever seen, so Reconcile can identify it on first connect.
func (r *Registry) SeedLastCharger(carID, chargerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cars[carID]
	if !ok {
		return fmt.Errorf("seed %s: %w", carID, ErrUnknownCar)
	}
	if _, ok := r.chargers[chargerID]; !ok {
		return fmt.Errorf("seed %s: %w", chargerID, ErrUnknownCharger)
	}
	if c.last == "" {
		c.last = chargerID
	}
	return nil
}

// Cars returns registered car ids in sorted order.
func (r *Registry) Cars() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.cars))
	for id := range r.cars {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Chargers returns registered charger ids in sorted order.
func (r *Registry) Chargers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.chargers))
	for id := range r.chargers {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
