package gnss

import (
	"bufio"
	"bytes"
	_ "embed"
)

// sampleDrive is a 90 s recording at 1 Hz: pull-away to 45 km/h, a hairpin
// at 45 s, then a straight.
//
//go:embed fixtures/drive.nmea
var sampleDrive []byte

// SampleDrive returns the embedded recording line by line. It backs the
// daemon's -dev mode.
func SampleDrive() []string {
	var lines []string
	sc := bufio.NewScanner(bytes.NewReader(sampleDrive))
	for sc.Scan() {
		if l := sc.Text(); l != "" {
			lines = append(lines, l)
		}
	}
	return lines
}
