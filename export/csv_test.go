package export

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mboers/homestore/events"
)

const sht31CSV = "ts,home/largebedroom/sht31/temperature,home/largebedroom/sht31/humidity\n" +
	"1700000000000,20.50,45.0\n" +
	"1700000005000,21.00,50.0\n" +
	"1700000010000,19.25,55.5\n"

func sht31(t *testing.T) *events.Device {
	t.Helper()
	dev, ok := events.DeviceByPath("home/largebedroom/sht31")
	require.True(t, ok)
	return dev
}

func TestCSVRoundTrip(t *testing.T) {
	dev := sht31(t)
	dir := t.TempDir()

	imported, skipped, err := Import(dev, dir, strings.NewReader(sht31CSV), false)
	require.NoError(t, err)
	assert.Equal(t, 3, imported)
	assert.Equal(t, 0, skipped)

	var out bytes.Buffer
	skipped, err = Export(dev, dir, &out, false)
	require.NoError(t, err)
	assert.Equal(t, 0, skipped)
	assert.Equal(t, sht31CSV, out.String())
}

func TestImportRejectsBackwardsTimeStrict(t *testing.T) {
	dev := sht31(t)
	csv := "ts,home/largebedroom/sht31/temperature,home/largebedroom/sht31/humidity\n" +
		"1700000005000,20.50,45.0\n" +
		"1700000000000,21.00,50.0\n"

	_, _, err := Import(dev, t.TempDir(), strings.NewReader(csv), false)
	assert.Error(t, err)
}

func TestLenientImportCountsSkippedLines(t *testing.T) {
	dev := sht31(t)
	csv := "ts,home/largebedroom/sht31/temperature,home/largebedroom/sht31/humidity\n" +
		"1700000000000,20.50,45.0\n" +
		"not-a-timestamp,21.00,50.0\n" +
		"1699999995000,21.00,50.0\n" +
		"1700000005000,21.50,51.0\n"

	imported, skipped, err := Import(dev, t.TempDir(), strings.NewReader(csv), true)
	require.NoError(t, err)
	assert.Equal(t, 2, imported)
	assert.Equal(t, 2, skipped)
}

func TestImportRejectsWrongHeader(t *testing.T) {
	dev := sht31(t)
	csv := "time,a,b\n1,2,3\n"

	_, _, err := Import(dev, t.TempDir(), strings.NewReader(csv), false)
	assert.Error(t, err)
}
