package connection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry(nil)
	r.RegisterCar("tesla")
	r.RegisterCar("leaf")
	r.RegisterCharger("easee")
	r.RegisterCharger("zaptec")
	return r
}

func TestLinkIsBidirectional(t *testing.T) {
	r := newRegistry(t)
	require.NoError(t, r.Link("tesla", "easee"))

	ch, ok := r.ChargerFor("tesla")
	require.True(t, ok)
	assert.Equal(t, "easee", ch)
	car, ok := r.CarFor("easee")
	require.True(t, ok)
	assert.Equal(t, "tesla", car)
	last, _ := r.LastCharger("tesla")
	assert.Equal(t, "easee", last)
}

func TestLinkSupersedesPreviousLinks(t *testing.T) {
	r := newRegistry(t)
	require.NoError(t, r.Link("tesla", "easee"))
	require.NoError(t, r.Link("tesla", "zaptec"))

	_, ok := r.CarFor("easee")
	assert.False(t, ok)
	car, _ := r.CarFor("zaptec")
	assert.Equal(t, "tesla", car)

	// Taking a charger away from another car unlinks that car.
	require.NoError(t, r.Link("leaf", "zaptec"))
	_, ok = r.ChargerFor("tesla")
	assert.False(t, ok)
	ch, _ := r.ChargerFor("leaf")
	assert.Equal(t, "zaptec", ch)
}

func TestUnlinkClearsBothSides(t *testing.T) {
	r := newRegistry(t)
	require.NoError(t, r.Link("tesla", "easee"))
	require.NoError(t, r.Unlink("tesla"))
	_, ok := r.CarFor("easee")
	assert.False(t, ok)
	_, ok = r.ChargerFor("tesla")
	assert.False(t, ok)

	require.NoError(t, r.Link("leaf", "easee"))
	require.NoError(t, r.UnlinkByCharger("easee"))
	_, ok = r.ChargerFor("leaf")
	assert.False(t, ok)

	// Unlinking twice is harmless.
	require.NoError(t, r.UnlinkByCharger("easee"))
}

func TestUnknownIDs(t *testing.T) {
	r := newRegistry(t)
	assert.ErrorIs(t, r.Link("golf", "easee"), ErrUnknownCar)
	assert.ErrorIs(t, r.Link("tesla", "wallbox"), ErrUnknownCharger)
	assert.ErrorIs(t, r.Unlink("golf"), ErrUnknownCar)
	assert.ErrorIs(t, r.UnlinkByCharger("wallbox"), ErrUnknownCharger)
	assert.ErrorIs(t, r.SetOnboardLink("golf", "obc"), ErrUnknownCar)
}

func TestOnboardLinkIsSeparate(t *testing.T) {
	r := newRegistry(t)
	require.NoError(t, r.SetOnboardLink("tesla", "tesla-obc"))
	require.NoError(t, r.Link("tesla", "easee"))

	ob, ok := r.OnboardFor("tesla")
	require.True(t, ok)
	assert.Equal(t, "tesla-obc", ob)
	ch, _ := r.ChargerFor("tesla")
	assert.Equal(t, "easee", ch)
	assert.Contains(t, r.Chargers(), "tesla-obc")
}

func TestReconcile(t *testing.T) {
	r := newRegistry(t)
	require.NoError(t, r.Link("tesla", "easee"))
	require.NoError(t, r.Unlink("tesla"))
	require.NoError(t, r.Link("leaf", "zaptec"))

	repairs := r.Reconcile([]Observation{
		{ChargerID: "easee", Connected: true},
		{ChargerID: "zaptec", Connected: false},
	})
	require.Len(t, repairs, 2)
	assert.Equal(t, Repair{ChargerID: "easee", OldCar: "", NewCar: "tesla"}, repairs[0])
	assert.Equal(t, Repair{ChargerID: "zaptec", OldCar: "leaf", NewCar: ""}, repairs[1])

	// A consistent table needs no repair.
	assert.Empty(t, r.Reconcile([]Observation{{ChargerID: "easee", Connected: true, CarID: "tesla"}}))
}

func TestExportImport(t *testing.T) {
	r := newRegistry(t)
	require.NoError(t, r.SetOnboardLink("leaf", "leaf-obc"))
	require.NoError(t, r.Link("tesla", "easee"))

	other := NewRegistry(nil)
	other.Import(r.Export())

	assert.Equal(t, r.Export(), other.Export())
	ch, _ := other.ChargerFor("tesla")
	assert.Equal(t, "easee", ch)
}

func TestSeedLastChargerOnlyFillsUnknown(t *testing.T) {
	r := NewRegistry(nil)
	r.RegisterCar("tesla")
	r.RegisterCharger("easee")
	r.RegisterCharger("garage")

	require.NoError(t, r.SeedLastCharger("tesla", "easee"))
	last, ok := r.LastCharger("tesla")
	require.True(t, ok)
	assert.Equal(t, "easee", last)

	require.NoError(t, r.Link("tesla", "garage"))
	require.NoError(t, r.SeedLastCharger("tesla", "easee"))
	last, _ = r.LastCharger("tesla")
	assert.Equal(t, "garage", last)

	assert.ErrorIs(t, r.SeedLastCharger("leaf", "easee"), ErrUnknownCar)
	assert.ErrorIs(t, r.SeedLastCharger("tesla", "nope"), ErrUnknownCharger)
}
