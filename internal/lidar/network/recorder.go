package network

import (
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// PCAPRecorder writes received payloads to a pcap file, wrapping each in
// synthetic Ethernet, IPv4 and UDP headers so standard tools and PCAPSource
// can read it back.
type PCAPRecorder struct {
	mu      sync.Mutex
	file    *os.File
	w       *pcapgo.Writer
	eth     layers.Ethernet
	ip      layers.IPv4
	udp     layers.UDP
	buf     gopacket.SerializeBuffer
	written int
	err     error
}

// NewPCAPRecorder creates path and writes the file header. Payloads are
// recorded as datagrams to dstPort.
func NewPCAPRecorder(path string, dstPort int) (*PCAPRecorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	w := pcapgo.NewWriter(f)
	if err := w.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
		f.Close()
		return nil, fmt.Errorf("write pcap header: %w", err)
	}
	r := &PCAPRecorder{
		file: f,
		w:    w,
		eth: layers.Ethernet{
			SrcMAC:       net.HardwareAddr{0x00, 0x0e, 0xc6, 0x00, 0x00, 0x01},
			DstMAC:       net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
			EthernetType: layers.EthernetTypeIPv4,
		},
		ip: layers.IPv4{
			Version:  4,
			IHL:      5,
			TTL:      64,
			Protocol: layers.IPProtocolUDP,
			SrcIP:    net.IPv4(192, 168, 1, 201),
			DstIP:    net.IPv4(255, 255, 255, 255),
		},
		udp: layers.UDP{
			SrcPort: 10000,
			DstPort: layers.UDPPort(dstPort),
		},
		buf: gopacket.NewSerializeBuffer(),
	}
	r.udp.SetNetworkLayerForChecksum(&r.ip)
	return r, nil
}

// Record appends one payload. After the first write error every call
// returns that error.
func (r *PCAPRecorder) Record(payload []byte, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(r.buf, opts, &r.eth, &r.ip, &r.udp, gopacket.Payload(payload)); err != nil {
		r.err = fmt.Errorf("serialize packet: %w", err)
		return r.err
	}
	data := r.buf.Bytes()
	ci := gopacket.CaptureInfo{Timestamp: at, CaptureLength: len(data), Length: len(data)}
	if err := r.w.WritePacket(ci, data); err != nil {
		r.err = fmt.Errorf("write packet: %w", err)
		return r.err
	}
	r.written++
	return nil
}

// Tap records the payload, dropping errors; Close reports them.
func (r *PCAPRecorder) Tap(payload []byte, at time.Time) {
	_ = r.Record(payload, at)
}

// Written is the number of packets recorded.
func (r *PCAPRecorder) Written() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.written
}

// Close closes the file, returning the first write error if any.
func (r *PCAPRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cerr := r.file.Close()
	if r.err != nil {
		return r.err
	}
	return cerr
}
