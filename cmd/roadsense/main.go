package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/roadsense/internal/api"
	"github.com/banshee-data/roadsense/internal/db"
	"github.com/banshee-data/roadsense/internal/engine"
	"github.com/banshee-data/roadsense/internal/gnss"
	"github.com/banshee-data/roadsense/internal/serialmux"
	"github.com/banshee-data/roadsense/internal/timeutil"
)

var (
	configFile       = flag.String("config", "", "Path to a tuning JSON file (built-in defaults when empty)")
	gpsPort          = flag.String("gps-port", "/dev/ttyACM0", "Serial port of the GNSS receiver (ignored in dev mode)")
	gpsBaud          = flag.Int("baud", serialmux.DefaultBaudRate, "GNSS serial baud rate")
	gpsFraming       = flag.String("framing", "8N1", "GNSS serial framing, e.g. 8N1")
	disableGNSS      = flag.Bool("disable-gnss", false, "Run without a GNSS receiver; fixes arrive via /api/fix")
	devMode          = flag.Bool("dev", false, "Replay the bundled NMEA drive instead of opening a serial port")
	relayAddr        = flag.String("relay", "", "Relay server address (host:port or URL)")
	udpListen        = flag.String("udp-listen", "", "UDP address for peer broadcasts, e.g. :47800")
	udpBroadcast     = flag.String("udp-broadcast", "", "UDP broadcast destination, e.g. 255.255.255.255:47800")
	udpRecord        = flag.String("udp-record", "", "Append received peer datagrams to this pcap file")
	dbPath           = flag.String("db", "roadsense.db", "Journal database path (empty disables the journal)")
	listen           = flag.String("listen", ":8080", "HTTP listen address")
	vehicleID        = flag.String("vehicle-id", "", "Vehicle id sent to peers (random when empty)")
	vehicleType      = flag.String("vehicle-type", "car", "Vehicle type: car, bike, truck or bus")
	sightingInterval = flag.Duration("sighting-interval", 5*time.Second, "How often peer sightings are journaled")
	showVersion      = flag.Bool("version", false, "Print the version and exit")
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		fs := flag.NewFlagSet("migrate", flag.ExitOnError)
		path := fs.String("db", "roadsense.db", "Journal database path")
		_ = fs.Parse(os.Args[2:])
		if err := db.RunMigrateCommand(fs.Args(), *path, os.Stdout); err != nil {
			log.Fatalf("migrate: %v", err)
		}
		return
	}

	flag.Parse()
	if *showVersion {
		fmt.Println(versionString())
		return
	}
	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	tuning, err := loadTuning(*configFile)
	if err != nil {
		log.Fatalf("failed to load tuning: %v", err)
	}
	id, vt, err := resolveIdentity(*vehicleID, *vehicleType)
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("%s starting as %s (%s)", versionString(), id, vt)

	clock := timeutil.RealClock{}
	e := engine.New(engine.ConfigFromTuning(tuning, id, vt), clock)

	gps, err := openGNSS(*disableGNSS, *devMode, *gpsPort, *gpsBaud, *gpsFraming, clock)
	if err != nil {
		log.Fatalf("failed to open GNSS receiver: %v", err)
	}
	defer gps.Close()
	if err := gps.Initialize(); err != nil {
		log.Fatalf("failed to initialize GNSS receiver: %v", err)
	}
	fixes := serialmux.NewFixHandler(gnss.NewAssembler(), e)

	var journalDB *db.DB
	var journal *db.Journal
	if *dbPath != "" {
		journalDB, err = db.NewDB(*dbPath)
		if err != nil {
			log.Fatalf("failed to open journal: %v", err)
		}
		defer journalDB.Close()
		journal = db.NewJournal(journalDB, sightingInterval.Milliseconds())
	}

	links, err := openPeerLinks(*relayAddr, *udpListen, *udpBroadcast, *udpRecord, clock)
	if err != nil {
		log.Fatalf("failed to open peer link: %v", err)
	}
	defer links.Close()

	hub := api.NewHub()
	runner := newRunner(e, clock, tuning.GetTickInterval(), hub, journal)

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// run the monitor routine to manage IO on the serial port
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := gps.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("failed to monitor GNSS receiver: %v", err)
		}
		log.Print("monitor routine terminated")
	}()

	// decode NMEA into fixes for the engine
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := fixes.Consume(ctx, gps); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("fix handler stopped: %v", err)
		}
		log.Print("fix routine terminated")
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("tick runner stopped: %v", err)
		}
		log.Print("tick routine terminated")
	}()

	links.start(ctx, &wg, e, clock, tuning.GetTelemetryInterval(), tuning.GetReceiveInterval())

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := api.NewServer(e, journalDB, fixes, hub).ServeMux()

		// mount the admin debugging routes (accessible only in dev mode or over Tailscale)
		gps.AttachAdminRoutes(mux)
		if journalDB != nil {
			if err := journalDB.AttachAdminRoutes(mux); err != nil {
				log.Printf("failed to attach journal admin routes: %v", err)
			}
		}
		links.attachAdminRoutes(mux)

		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}

		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
