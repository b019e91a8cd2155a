// Package gnss decodes the NMEA 0183 sentences emitted by serial GPS
// receivers and assembles them into position fixes.
package gnss

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrChecksum marks a sentence whose *hh checksum does not match.
	ErrChecksum = errors.New("nmea checksum mismatch")
	// ErrNotNMEA marks a line that is not an NMEA sentence at all.
	ErrNotNMEA = errors.New("not an nmea sentence")
	// ErrNoFix marks a sentence reporting that the receiver has no fix.
	ErrNoFix = errors.New("receiver has no fix")
)

// Sentence is a checksum-verified NMEA sentence split into fields.
type Sentence struct {
	Talker string   // "GP", "GN", ... ("P" for proprietary)
	Type   string   // "RMC", "GGA", "MTK001", ...
	Fields []string // data fields after the address
}

func checksum(body string) byte {
	var c byte
	for i := 0; i < len(body); i++ {
		c ^= body[i]
	}
	return c
}

// Command frames body as a sentence with a checksum, e.g.
// Command("PMTK220,1000") returns "$PMTK220,1000*1F".
func Command(body string) string {
	return fmt.Sprintf("$%s*%02X", body, checksum(body))
}

// Parse verifies and splits a single sentence. Sentences without a checksum
// are accepted as some receivers omit it.
func Parse(line string) (Sentence, error) {
	line = strings.TrimSpace(line)
	if len(line) < 6 || (line[0] != '$' && line[0] != '!') {
		return Sentence{}, ErrNotNMEA
	}
	body := line[1:]
	if star := strings.LastIndexByte(body, '*'); star >= 0 {
		want, err := strconv.ParseUint(body[star+1:], 16, 8)
		if err != nil {
			return Sentence{}, fmt.Errorf("%w: bad checksum field %q", ErrChecksum, body[star+1:])
		}
		body = body[:star]
		if got := checksum(body); byte(want) != got {
			return Sentence{}, fmt.Errorf("%w: got %02X want %02X", ErrChecksum, got, want)
		}
	}

	parts := strings.Split(body, ",")
	addr := parts[0]
	s := Sentence{Fields: parts[1:]}
	if strings.HasPrefix(addr, "P") {
		s.Talker, s.Type = "P", addr[1:]
	} else if len(addr) >= 5 {
		s.Talker, s.Type = addr[:2], addr[2:]
	} else {
		return Sentence{}, fmt.Errorf("%w: short address %q", ErrNotNMEA, addr)
	}
	return s, nil
}

func (s Sentence) field(i int) string {
	if i < len(s.Fields) {
		return strings.TrimSpace(s.Fields[i])
	}
	return ""
}

// RMC is the recommended minimum navigation sentence.
type RMC struct {
	Time      time.Time // UTC, date and time of day combined
	Valid     bool
	Latitude  float64
	Longitude float64
	SpeedKnot *float64 // nil when the receiver leaves it blank
	CourseDeg *float64
}

// GGA carries fix quality and dilution of precision.
type GGA struct {
	TimeOfDay  time.Duration // since UTC midnight
	Latitude   float64
	Longitude  float64
	Quality    int
	Satellites int
	HDOP       float64
	AltitudeM  float64
}

// ParseRMC decodes an RMC sentence.
func ParseRMC(s Sentence) (RMC, error) {
	var r RMC
	if s.Type != "RMC" {
		return r, fmt.Errorf("expected RMC, got %s", s.Type)
	}
	tod, err := parseTimeOfDay(s.field(0))
	if err != nil {
		return r, err
	}
	r.Valid = s.field(1) == "A"
	if !r.Valid {
		return r, ErrNoFix
	}
	if r.Latitude, err = parseCoord(s.field(2), s.field(3), 2); err != nil {
		return r, err
	}
	if r.Longitude, err = parseCoord(s.field(4), s.field(5), 3); err != nil {
		return r, err
	}
	if r.SpeedKnot, err = optionalFloat(s.field(6)); err != nil {
		return r, fmt.Errorf("speed: %w", err)
	}
	if r.CourseDeg, err = optionalFloat(s.field(7)); err != nil {
		return r, fmt.Errorf("course: %w", err)
	}
	date, err := time.Parse("020106", s.field(8))
	if err != nil {
		return r, fmt.Errorf("date %q: %w", s.field(8), err)
	}
	r.Time = date.Add(tod)
	return r, nil
}

// ParseGGA decodes a GGA sentence.
func ParseGGA(s Sentence) (GGA, error) {
	var g GGA
	if s.Type != "GGA" {
		return g, fmt.Errorf("expected GGA, got %s", s.Type)
	}
	var err error
	if g.TimeOfDay, err = parseTimeOfDay(s.field(0)); err != nil {
		return g, err
	}
	if g.Quality, err = strconv.Atoi(s.field(5)); err != nil {
		return g, fmt.Errorf("fix quality %q: %w", s.field(5), err)
	}
	if g.Quality == 0 {
		return g, ErrNoFix
	}
	if g.Latitude, err = parseCoord(s.field(1), s.field(2), 2); err != nil {
		return g, err
	}
	if g.Longitude, err = parseCoord(s.field(3), s.field(4), 3); err != nil {
		return g, err
	}
	g.Satellites, _ = strconv.Atoi(s.field(6))
	if h, err := parseFinite(s.field(7)); err == nil {
		g.HDOP = h
	}
	if a, err := parseFinite(s.field(8)); err == nil {
		g.AltitudeM = a
	}
	return g, nil
}

// parseTimeOfDay reads hhmmss[.sss].
func parseTimeOfDay(v string) (time.Duration, error) {
	if len(v) < 6 {
		return 0, fmt.Errorf("time %q too short", v)
	}
	h, err1 := strconv.Atoi(v[0:2])
	m, err2 := strconv.Atoi(v[2:4])
	sec, err3 := parseFinite(v[4:])
	if err := errors.Join(err1, err2, err3); err != nil {
		return 0, fmt.Errorf("time %q: %w", v, err)
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute +
		time.Duration(math.Round(sec*1000))*time.Millisecond, nil
}

// parseCoord reads (d)ddmm.mmmm plus a hemisphere letter.
func parseCoord(v, hemi string, degDigits int) (float64, error) {
	if len(v) < degDigits+2 {
		return 0, fmt.Errorf("coordinate %q too short", v)
	}
	deg, err := strconv.Atoi(v[:degDigits])
	if err != nil {
		return 0, fmt.Errorf("coordinate %q: %w", v, err)
	}
	minutes, err := parseFinite(v[degDigits:])
	if err != nil {
		return 0, fmt.Errorf("coordinate %q: %w", v, err)
	}
	out := float64(deg) + minutes/60
	switch hemi {
	case "N", "E":
	case "S", "W":
		out = -out
	default:
		return 0, fmt.Errorf("bad hemisphere %q", hemi)
	}
	return out, nil
}

func optionalFloat(v string) (*float64, error) {
	if v == "" {
		return nil, nil
	}
	f, err := parseFinite(v)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// parseFinite is strconv.ParseFloat without the NaN and Inf spellings,
// which no receiver emits and which would poison downstream filters.
func parseFinite(v string) (float64, error) {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%q is not a finite number", v)
	}
	return f, nil
}

// String re-frames the sentence with a fresh checksum.
func (s Sentence) String() string {
	addr := s.Talker + s.Type
	if s.Talker == "P" {
		addr = "P" + s.Type
	}
	body := addr
	if len(s.Fields) > 0 {
		body += "," + strings.Join(s.Fields, ",")
	}
	return Command(body)
}

// Restamp rewrites the UTC time (and date, for RMC) of a position sentence.
// Other sentences are returned unchanged.
func Restamp(line string, t time.Time) (string, error) {
	s, err := Parse(line)
	if err != nil {
		return "", err
	}
	if s.Type != "RMC" && s.Type != "GGA" {
		return line, nil
	}
	t = t.UTC()
	fields := append([]string(nil), s.Fields...)
	if len(fields) > 0 {
		fields[0] = t.Format("150405.00")
	}
	if s.Type == "RMC" && len(fields) > 8 {
		fields[8] = t.Format("020106")
	}
	s.Fields = fields
	return s.String(), nil
}
