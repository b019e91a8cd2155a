package gnss

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/roadsense/internal/vehicle"
)

const (
	rmcMunich   = "$GPRMC,123519.00,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W*44"
	ggaMunich   = "$GPGGA,123519.00,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*69"
	rmcVoid     = "$GPRMC,123520.00,V,,,,,,,230394,,*17"
	rmcSydney   = "$GNRMC,000001.50,A,3351.000,S,15112.000,E,,,010126,,*32"
	ggaNoFix    = "$GPGGA,123519.00,,,,,0,00,,,M,,M,,*45"
	pmtkAck     = "$PMTK001,220,3*30"
	gsvSentence = "$GPGSV,3,1,11,03,03,111,00,04,15,270,00,06,01,010,00,13,06,292,00*74"
)

func TestCommand(t *testing.T) {
	assert.Equal(t, "$PMTK220,1000*1F", Command("PMTK220,1000"))
	assert.Equal(t, "$PMTK314,0,1,0,1,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0*28", Init[0])
}

func TestParse(t *testing.T) {
	tests := []struct {
		name       string
		line       string
		wantTalker string
		wantType   string
		wantErr    error
	}{
		{name: "rmc", line: rmcMunich, wantTalker: "GP", wantType: "RMC"},
		{name: "gnss talker", line: rmcSydney, wantTalker: "GN", wantType: "RMC"},
		{name: "proprietary", line: pmtkAck, wantTalker: "P", wantType: "MTK001"},
		{name: "trailing whitespace", line: ggaMunich + "\r\n", wantTalker: "GP", wantType: "GGA"},
		{name: "no checksum", line: "$GPGSA,A,3,04,05,,09,12,,,24,,,,,2.5,1.3,2.1", wantTalker: "GP", wantType: "GSA"},
		{name: "bad checksum", line: "$PMTK220,1000*1E", wantErr: ErrChecksum},
		{name: "garbage checksum", line: "$PMTK220,1000*ZZ", wantErr: ErrChecksum},
		{name: "not nmea", line: "hello world", wantErr: ErrNotNMEA},
		{name: "empty", line: "", wantErr: ErrNotNMEA},
		{name: "short address", line: "$GPR,1,2", wantErr: ErrNotNMEA},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Parse(tt.line)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantTalker, s.Talker)
			assert.Equal(t, tt.wantType, s.Type)
		})
	}
}

func TestParseRMC(t *testing.T) {
	s, err := Parse(rmcMunich)
	require.NoError(t, err)
	r, err := ParseRMC(s)
	require.NoError(t, err)

	assert.True(t, r.Valid)
	assert.InDelta(t, 48.1173, r.Latitude, 1e-9)
	assert.InDelta(t, 11.516666666, r.Longitude, 1e-6)
	require.NotNil(t, r.SpeedKnot)
	assert.Equal(t, 22.4, *r.SpeedKnot)
	require.NotNil(t, r.CourseDeg)
	assert.Equal(t, 84.4, *r.CourseDeg)
	assert.Equal(t, time.Date(1994, 3, 23, 12, 35, 19, 0, time.UTC), r.Time)

	s, _ = Parse(rmcSydney)
	r, err = ParseRMC(s)
	require.NoError(t, err)
	assert.InDelta(t, -33.85, r.Latitude, 1e-9)
	assert.InDelta(t, 151.2, r.Longitude, 1e-9)
	assert.Nil(t, r.SpeedKnot)
	assert.Nil(t, r.CourseDeg)
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 1, 500_000_000, time.UTC), r.Time)

	s, _ = Parse(rmcVoid)
	_, err = ParseRMC(s)
	assert.ErrorIs(t, err, ErrNoFix)

	s, _ = Parse(ggaMunich)
	_, err = ParseRMC(s)
	assert.Error(t, err)
}

func TestParseRMC_NonFiniteFields(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"NaN speed", "GPRMC,123519.00,A,4807.038,N,01131.000,E,NaN,084.4,230394,003.1,W"},
		{"Inf speed", "GPRMC,123519.00,A,4807.038,N,01131.000,E,+Inf,084.4,230394,003.1,W"},
		{"NaN course", "GPRMC,123519.00,A,4807.038,N,01131.000,E,022.4,nan,230394,003.1,W"},
		{"Inf course", "GPRMC,123519.00,A,4807.038,N,01131.000,E,022.4,-Infinity,230394,003.1,W"},
		{"NaN minutes", "GPRMC,123519.00,A,48NaN,N,01131.000,E,022.4,084.4,230394,003.1,W"},
		{"Inf seconds", "GPRMC,1235Inf,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Parse(Command(tt.body))
			require.NoError(t, err)
			_, err = ParseRMC(s)
			assert.Error(t, err)
		})
	}
}

func TestParseGGA_NonFiniteHDOPIgnored(t *testing.T) {
	s, err := Parse(Command("GPGGA,123519.00,4807.038,N,01131.000,E,1,08,NaN,Inf,M,46.9,M,,"))
	require.NoError(t, err)
	g, err := ParseGGA(s)
	require.NoError(t, err)
	assert.Equal(t, 0.0, g.HDOP)
	assert.Equal(t, 0.0, g.AltitudeM)
}

func TestParseGGA(t *testing.T) {
	s, err := Parse(ggaMunich)
	require.NoError(t, err)
	g, err := ParseGGA(s)
	require.NoError(t, err)
	assert.Equal(t, 1, g.Quality)
	assert.Equal(t, 8, g.Satellites)
	assert.Equal(t, 0.9, g.HDOP)
	assert.Equal(t, 545.4, g.AltitudeM)
	assert.Equal(t, 12*time.Hour+35*time.Minute+19*time.Second, g.TimeOfDay)

	s, _ = Parse(ggaNoFix)
	_, err = ParseGGA(s)
	assert.ErrorIs(t, err, ErrNoFix)
}

func TestAssembler(t *testing.T) {
	a := NewAssembler()

	_, ok, err := a.Feed(ggaMunich)
	require.NoError(t, err)
	assert.False(t, ok)

	fix, ok, err := a.Feed(rmcMunich)
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 4.5, fix.AccuracyMeters, 1e-9)
	assert.Equal(t, time.Date(1994, 3, 23, 12, 35, 19, 0, time.UTC).UnixMilli(), fix.TimestampMs)
	require.NotNil(t, fix.ReportedSpeedKmh)
	assert.InDelta(t, 41.4848, *fix.ReportedSpeedKmh, 1e-9)
	require.NotNil(t, fix.ReportedHeadingDeg)
	assert.Equal(t, 84.4, *fix.ReportedHeadingDeg)

	for _, line := range []string{pmtkAck, gsvSentence, "garbage"} {
		_, ok, err = a.Feed(line)
		assert.NoError(t, err, line)
		assert.False(t, ok, line)
	}

	_, ok, err = a.Feed(rmcVoid)
	assert.ErrorIs(t, err, ErrNoFix)
	assert.False(t, ok)

	_, _, err = a.Feed("$PMTK220,1000*00")
	assert.ErrorIs(t, err, ErrChecksum)
}

func TestAssembler_IgnoreDeviceSpeed(t *testing.T) {
	a := NewAssembler()
	a.IgnoreDeviceSpeed = true
	fix, ok, err := a.Feed(rmcMunich)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Nil(t, fix.ReportedSpeedKmh)
	assert.Nil(t, fix.ReportedHeadingDeg)
	assert.Equal(t, DefaultAccuracyM, fix.AccuracyMeters)
}

func TestSampleDrive(t *testing.T) {
	lines := SampleDrive()
	require.Len(t, lines, 180)

	a := NewAssembler()
	var fixes []vehicle.PositionFix
	for _, l := range lines {
		fix, ok, err := a.Feed(l)
		require.NoError(t, err, l)
		if ok {
			fixes = append(fixes, fix)
		}
	}
	require.Len(t, fixes, 90)
	for i := 1; i < len(fixes); i++ {
		assert.Equal(t, int64(1000), fixes[i].TimestampMs-fixes[i-1].TimestampMs)
	}
}

func TestSentenceString(t *testing.T) {
	for _, line := range []string{rmcMunich, ggaMunich, pmtkAck, gsvSentence} {
		s, err := Parse(line)
		require.NoError(t, err)
		assert.Equal(t, line, s.String())
	}
}

func TestRestamp(t *testing.T) {
	at := time.Date(2026, 10, 18, 9, 30, 5, 250_000_000, time.UTC)

	out, err := Restamp(rmcMunich, at)
	require.NoError(t, err)
	s, err := Parse(out)
	require.NoError(t, err)
	r, err := ParseRMC(s)
	require.NoError(t, err)
	assert.Equal(t, at, r.Time)
	assert.InDelta(t, 48.1173, r.Latitude, 1e-9)

	out, err = Restamp(ggaMunich, at)
	require.NoError(t, err)
	s, err = Parse(out)
	require.NoError(t, err)
	g, err := ParseGGA(s)
	require.NoError(t, err)
	assert.Equal(t, 9*time.Hour+30*time.Minute+5250*time.Millisecond, g.TimeOfDay)

	out, err = Restamp(pmtkAck, at)
	require.NoError(t, err)
	assert.Equal(t, pmtkAck, out)

	_, err = Restamp("$PMTK220,1000*00", at)
	assert.ErrorIs(t, err, ErrChecksum)
}
