package peerlink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

const snapLen = 65536

var recorderMAC = net.HardwareAddr{0x02, 0x00, 0x5e, 0x10, 0x00, 0x01}

// Recorder appends datagrams to a pcap stream as synthetic
// Ethernet/IPv4/UDP frames, so captures open in standard tools and replay
// through ReadPCAP.
type Recorder struct {
	mu   sync.Mutex
	w    *pcapgo.Writer
	port int
	n    int64
}

// NewRecorder writes the pcap file header to w. port is the destination
// port stamped on every frame.
func NewRecorder(w io.Writer, port int) (*Recorder, error) {
	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(snapLen, layers.LinkTypeEthernet); err != nil {
		return nil, fmt.Errorf("write pcap header: %w", err)
	}
	if port <= 0 {
		port = DefaultPort
	}
	return &Recorder{w: pw, port: port}, nil
}

// Record writes one datagram received at ts from src.
func (r *Recorder) Record(ts time.Time, src *net.UDPAddr, payload []byte) error {
	srcIP := net.IPv4zero.To4()
	srcPort := r.port
	if src != nil {
		if ip4 := src.IP.To4(); ip4 != nil {
			srcIP = ip4
		}
		srcPort = src.Port
	}

	eth := &layers.Ethernet{
		SrcMAC:       recorderMAC,
		DstMAC:       layers.EthernetBroadcast,
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    srcIP,
		DstIP:    net.IPv4bcast.To4(),
	}
	udp := &layers.UDP{
		SrcPort: layers.UDPPort(srcPort),
		DstPort: layers.UDPPort(r.port),
	}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		return err
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(payload)); err != nil {
		return fmt.Errorf("serialize frame: %w", err)
	}
	frame := buf.Bytes()

	r.mu.Lock()
	defer r.mu.Unlock()
	ci := gopacket.CaptureInfo{Timestamp: ts, CaptureLength: len(frame), Length: len(frame)}
	if err := r.w.WritePacket(ci, frame); err != nil {
		return fmt.Errorf("write packet: %w", err)
	}
	r.n++
	return nil
}

// Count returns the number of frames written.
func (r *Recorder) Count() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n
}

// Datagram is one UDP payload read back from a capture.
type Datagram struct {
	Timestamp time.Time
	Src       string
	Payload   []byte
}

// PCAPStats summarises a capture read.
type PCAPStats struct {
	Packets   int `json:"packets"`
	Datagrams int `json:"datagrams"`
	Skipped   int `json:"skipped"`
}

// ReadPCAP walks a pcap stream and calls fn for every UDP payload sent to
// port (any port when port is 0). Non-UDP frames are skipped. An error from
// fn stops the walk and is returned.
func ReadPCAP(ctx context.Context, r io.Reader, port int, fn func(Datagram) error) (PCAPStats, error) {
	var stats PCAPStats
	pr, err := pcapgo.NewReader(r)
	if err != nil {
		return stats, fmt.Errorf("open pcap: %w", err)
	}

	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		data, ci, err := pr.ReadPacketData()
		if errors.Is(err, io.EOF) {
			return stats, nil
		}
		if err != nil {
			return stats, fmt.Errorf("read packet %d: %w", stats.Packets+1, err)
		}
		stats.Packets++

		packet := gopacket.NewPacket(data, pr.LinkType(), gopacket.DecodeOptions{Lazy: true, NoCopy: true})
		udp, ok := packet.Layer(layers.LayerTypeUDP).(*layers.UDP)
		if !ok || len(udp.Payload) == 0 {
			stats.Skipped++
			continue
		}
		if port > 0 && int(udp.DstPort) != port {
			stats.Skipped++
			continue
		}

		src := ""
		if nl := packet.NetworkLayer(); nl != nil {
			src = net.JoinHostPort(nl.NetworkFlow().Src().String(), fmt.Sprint(int(udp.SrcPort)))
		}
		stats.Datagrams++
		d := Datagram{Timestamp: ci.Timestamp, Src: src, Payload: append([]byte(nil), udp.Payload...)}
		if err := fn(d); err != nil {
			return stats, err
		}
	}
}
