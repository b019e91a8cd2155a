// Command pcap-replay runs a captured UDP peer session through the hazard
// engine offline and prints the alerts it would have raised.
//
//	pcap-replay -pcap convoy.pcap -self 3f2a... -config tuning.json
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/banshee-data/roadsense/internal/config"
	"github.com/banshee-data/roadsense/internal/engine"
	"github.com/banshee-data/roadsense/internal/monitoring"
	"github.com/banshee-data/roadsense/internal/peerlink"
	"github.com/banshee-data/roadsense/internal/timeutil"
	"github.com/banshee-data/roadsense/internal/vehicle"
)

func run(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("pcap-replay", flag.ContinueOnError)
	fs.SetOutput(out)
	pcapFile := fs.String("pcap", "", "Capture written by roadsense -udp-record (required)")
	port := fs.Int("port", peerlink.DefaultPort, "UDP destination port to replay (0 for any)")
	self := fs.String("self", "", "Vehicle id whose datagrams are treated as our own fixes (required)")
	vehicleType := fs.String("vehicle-type", "car", "Our vehicle type")
	configFile := fs.String("config", "", "Tuning JSON file (built-in defaults when empty)")
	verbose := fs.Bool("v", false, "Log engine diagnostics")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *pcapFile == "" || *self == "" {
		fs.Usage()
		return errors.New("-pcap and -self are required")
	}
	if !*verbose {
		monitoring.SetLogger(nil)
	}

	tuning := config.DefaultTuningConfig()
	if *configFile != "" {
		var err error
		if tuning, err = config.LoadTuningConfig(*configFile); err != nil {
			return err
		}
	}
	vt, err := vehicle.ParseVehicleType(*vehicleType)
	if err != nil {
		return err
	}

	f, err := os.Open(*pcapFile)
	if err != nil {
		return err
	}
	defer f.Close()

	clock := timeutil.NewMockClock(time.Unix(0, 0))
	e := engine.New(engine.ConfigFromTuning(tuning, *self, vt), clock)

	sink := engine.SinkFunc(func(a vehicle.Alert) {
		fmt.Fprintf(out, "%s  %-14s %-12s %s\n",
			time.UnixMilli(a.TimestampMs).UTC().Format("15:04:05.000"), a.Class, a.SubjectID, a.Message)
	})
	stats, err := peerlink.Replay(context.Background(), f, *port, e, clock, tuning.GetTickInterval(), sink)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		Replay peerlink.ReplayStats `json:"replay"`
		Engine engine.Stats         `json:"engine"`
	}{stats, e.Stats()})
}

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		log.Fatal(err)
	}
}
