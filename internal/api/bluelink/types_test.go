package bluelink

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCarTypeCapability(t *testing.T) {
	cases := []struct {
		carType   string
		evCapable bool
		pureEV    bool
	}{
		{"EV", true, true},
		{"PHEV", true, false},
		{"FCEV", true, true},
		{"HEV", false, false},
		{"GN", false, false},
		{"ev", true, true},
		// 未知车型按具备充电能力处理
		{"FUTURE", true, false},
		{"", true, false},
	}

	for _, tc := range cases {
		normalized := NormalizeCarType(tc.carType)
		assert.Equal(t, tc.evCapable, IsEVCapable(normalized), "carType=%s", tc.carType)
		assert.Equal(t, tc.pureEV, IsPureEV(normalized), "carType=%s", tc.carType)
	}
}

func TestOdometerLatest(t *testing.T) {
	odo := &Odometer{
		Odometers: []OdometerEntry{
			{Value: 11000, Timestamp: "20260801120000"},
			{Value: 12000, Timestamp: "20260829120000"},
			{Value: 11500, Timestamp: "20260815120000"},
		},
	}

	latest := odo.Latest()
	require.NotNil(t, latest)
	assert.Equal(t, 12000.0, latest.Value)

	var empty *Odometer
	assert.Nil(t, empty.Latest())
	assert.Nil(t, (&Odometer{}).Latest())
}

func TestWarningBundleSet(t *testing.T) {
	bundle := &WarningBundle{}
	status := &WarningStatus{Status: true}

	bundle.Set(WarningEngineOil, status)
	bundle.Set(WarningBrakeOil, &WarningStatus{Status: false})

	assert.Equal(t, status, bundle.EngineOil)
	require.NotNil(t, bundle.BrakeOil)
	assert.False(t, bundle.BrakeOil.Status)
}
