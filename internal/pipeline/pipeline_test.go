package pipeline

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/mafuba8/iex-parser/internal/core"
	"github.com/mafuba8/iex-parser/internal/iextp"
	"github.com/mafuba8/iex-parser/internal/pcapfile"
	"github.com/mafuba8/iex-parser/internal/sink"
)

// Fixture builders

// captureBase is an arbitrary whole-second capture instant so the
// nanosecond offsets in the tests stay exact.
var captureBase = time.Unix(1651502940, 0).UTC()

// systemEventBlock builds a System Event message block.
func systemEventBlock(event byte, ts int64) []byte {
	b := make([]byte, 10)
	b[0] = 'S'
	b[1] = event
	binary.LittleEndian.PutUint64(b[2:10], uint64(ts))
	return b
}

// segment builds an IEX-TP datagram declaring count messages over the
// given blocks. count normally equals len(blocks); tests force them
// apart to desync the framing.
func segment(count uint16, sendTime int64, blocks ...[]byte) []byte {
	var payload []byte
	for _, b := range blocks {
		payload = binary.LittleEndian.AppendUint16(payload, uint16(len(b)))
		payload = append(payload, b...)
	}

	seg := make([]byte, iextp.HeaderLen)
	seg[0] = iextp.Version
	binary.LittleEndian.PutUint16(seg[2:4], iextp.ProtocolDEEP10)
	binary.LittleEndian.PutUint32(seg[4:8], 1)
	binary.LittleEndian.PutUint32(seg[8:12], 1150681088)
	binary.LittleEndian.PutUint16(seg[12:14], uint16(len(payload)))
	binary.LittleEndian.PutUint16(seg[14:16], count)
	binary.LittleEndian.PutUint64(seg[24:32], 1)
	binary.LittleEndian.PutUint64(seg[32:40], uint64(sendTime))
	return append(seg, payload...)
}

// udpFrame wraps an IEX-TP datagram in Ethernet/IPv4/UDP headers the
// way the exchange multicasts it.
func udpFrame(t *testing.T, payload []byte) []byte {
	t.Helper()

	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x00, 0x16, 0x3e, 0x5e, 0x10, 0x01},
		DstMAC:       net.HardwareAddr{0x01, 0x00, 0x5e, 0x57, 0x15, 0x04},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.IPv4(23, 226, 155, 131),
		DstIP:    net.IPv4(233, 215, 21, 4),
	}
	udp := &layers.UDP{SrcPort: 10378, DstPort: 10378}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		t.Fatalf("SetNetworkLayerForChecksum failed: %v", err)
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(payload)); err != nil {
		t.Fatalf("SerializeLayers failed: %v", err)
	}
	return buf.Bytes()
}

// tcpFrame builds a frame the decoder must reject as a foreign
// transport.
func tcpFrame(t *testing.T) []byte {
	t.Helper()

	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x00, 0x16, 0x3e, 0x5e, 0x10, 0x01},
		DstMAC:       net.HardwareAddr{0x00, 0x16, 0x3e, 0x5e, 0x10, 0x02},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    net.IPv4(10, 0, 0, 1),
		DstIP:    net.IPv4(10, 0, 0, 2),
	}
	tcp := &layers.TCP{SrcPort: 443, DstPort: 51234}
	if err := tcp.SetNetworkLayerForChecksum(ip); err != nil {
		t.Fatalf("SetNetworkLayerForChecksum failed: %v", err)
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, tcp, gopacket.Payload([]byte("not a segment"))); err != nil {
		t.Fatalf("SerializeLayers failed: %v", err)
	}
	return buf.Bytes()
}

type frame struct {
	ts   time.Time
	data []byte
}

// captureStream writes a nanosecond-resolution capture stream holding
// the given frames.
func captureStream(t *testing.T, frames ...frame) []byte {
	t.Helper()

	var buf bytes.Buffer
	w := pcapgo.NewWriterNanos(&buf)
	if err := w.WriteFileHeader(262144, layers.LinkTypeEthernet); err != nil {
		t.Fatalf("WriteFileHeader failed: %v", err)
	}
	for _, f := range frames {
		ci := gopacket.CaptureInfo{
			Timestamp:     f.ts,
			CaptureLength: len(f.data),
			Length:        len(f.data),
		}
		if err := w.WritePacket(ci, f.data); err != nil {
			t.Fatalf("WritePacket failed: %v", err)
		}
	}
	return buf.Bytes()
}

// decodeStream runs a full pipeline pass over the stream into a fresh
// output directory.
func decodeStream(t *testing.T, stream io.Reader) (*Pipeline, string, error) {
	t.Helper()

	dir := t.TempDir()
	rd, err := pcapfile.NewReader(stream)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	reg := sink.NewRegistry(dir)

	p := New(Config{Source: rd, Registry: reg})
	runErr := p.Run(context.Background())

	if err := reg.Close(); err != nil {
		t.Fatalf("registry close failed: %v", err)
	}
	return p, dir, runErr
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	return strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
}

// Test cases

func TestPipeline_SystemEventRow(t *testing.T) {
	capture := captureBase
	block := systemEventBlock('S', capture.UnixNano()+500)
	seg := segment(1, capture.UnixNano()+100, block)
	stream := captureStream(t, frame{ts: capture, data: udpFrame(t, seg)})

	p, dir, err := decodeStream(t, bytes.NewReader(stream))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "output-S.csv"))
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	want := "Packet Capture Time,Send Time Offset,Raw Time Offset,Tick Type,System Event\n" +
		"1651502940000000000,100,500,S,SYSTEM_HOURS_START\n"
	if string(data) != want {
		t.Errorf("output-S.csv mismatch:\ngot  %q\nwant %q", string(data), want)
	}

	stats := p.Stats()
	if stats.Packets != 1 || stats.Segments != 1 || stats.Messages != 1 || stats.Rows != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestPipeline_SegmentCountMismatch(t *testing.T) {
	capture := captureBase
	good := segment(1, capture.UnixNano()+100, systemEventBlock('R', capture.UnixNano()+500))
	// Declares two messages but carries only one block.
	bad := segment(2, capture.UnixNano()+100, systemEventBlock('M', capture.UnixNano()+700))

	stream := captureStream(t,
		frame{ts: capture, data: udpFrame(t, good)},
		frame{ts: capture.Add(time.Second), data: udpFrame(t, bad)},
	)

	p, dir, err := decodeStream(t, bytes.NewReader(stream))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	lines := readLines(t, filepath.Join(dir, "output-S.csv"))
	if len(lines) != 2 {
		t.Fatalf("expected header plus one row, got %d lines", len(lines))
	}
	if !strings.Contains(lines[1], "REGULAR_MARKET_START") {
		t.Errorf("first packet's row missing, got %q", lines[1])
	}

	stats := p.Stats()
	if stats.Packets != 2 {
		t.Errorf("expected 2 packets, got %d", stats.Packets)
	}
	if stats.SegmentErrors != 1 {
		t.Errorf("expected 1 segment error, got %d", stats.SegmentErrors)
	}
	if stats.Rows != 1 {
		t.Errorf("expected 1 row, got %d", stats.Rows)
	}
}

func TestPipeline_UnknownTagSkipped(t *testing.T) {
	capture := captureBase

	unknown := make([]byte, 12)
	unknown[0] = 'Q'
	seg := segment(2, capture.UnixNano()+100,
		unknown,
		systemEventBlock('C', capture.UnixNano()+500),
	)
	stream := captureStream(t, frame{ts: capture, data: udpFrame(t, seg)})

	p, dir, err := decodeStream(t, bytes.NewReader(stream))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "output-Q.csv")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected no file for unknown tag, stat err = %v", err)
	}

	lines := readLines(t, filepath.Join(dir, "output-S.csv"))
	if len(lines) != 2 || !strings.Contains(lines[1], "MESSAGES_END") {
		t.Errorf("block after the unknown one did not decode, lines = %q", lines)
	}

	stats := p.Stats()
	if stats.Messages != 2 || stats.Unknown != 1 || stats.Rows != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestPipeline_EmptyCapture(t *testing.T) {
	stream := captureStream(t)

	p, dir, err := decodeStream(t, bytes.NewReader(stream))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected no output files, got %d", len(entries))
	}
	if got := p.Stats().Packets; got != 0 {
		t.Errorf("expected 0 packets, got %d", got)
	}
}

func TestPipeline_Heartbeat(t *testing.T) {
	capture := captureBase
	seg := segment(0, capture.UnixNano()+100)
	stream := captureStream(t, frame{ts: capture, data: udpFrame(t, seg)})

	p, dir, err := decodeStream(t, bytes.NewReader(stream))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("heartbeat must not create output files, got %d", len(entries))
	}

	stats := p.Stats()
	if stats.Segments != 1 || stats.Heartbeats != 1 || stats.Rows != 0 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestPipeline_ForeignProtocolFatal(t *testing.T) {
	capture := captureBase
	seg := segment(1, capture.UnixNano()+100, systemEventBlock('S', capture.UnixNano()+500))
	binary.LittleEndian.PutUint16(seg[2:4], 0x8003)
	stream := captureStream(t, frame{ts: capture, data: udpFrame(t, seg)})

	_, _, err := decodeStream(t, bytes.NewReader(stream))
	if !errors.Is(err, core.ErrProtocolMismatch) {
		t.Fatalf("expected ErrProtocolMismatch, got %v", err)
	}
}

func TestPipeline_ForeignTransportSkipped(t *testing.T) {
	capture := captureBase
	seg := segment(1, capture.UnixNano()+100, systemEventBlock('E', capture.UnixNano()+500))

	stream := captureStream(t,
		frame{ts: capture, data: tcpFrame(t)},
		frame{ts: capture.Add(time.Second), data: udpFrame(t, seg)},
	)

	p, dir, err := decodeStream(t, bytes.NewReader(stream))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	lines := readLines(t, filepath.Join(dir, "output-S.csv"))
	if len(lines) != 2 || !strings.Contains(lines[1], "SYSTEM_HOURS_END") {
		t.Errorf("UDP packet after the TCP one did not decode, lines = %q", lines)
	}

	stats := p.Stats()
	if stats.HeaderErrors != 1 {
		t.Errorf("expected 1 header error, got %d", stats.HeaderErrors)
	}
	if stats.Rows != 1 {
		t.Errorf("expected 1 row, got %d", stats.Rows)
	}
}

func TestPipeline_CounterInvariant(t *testing.T) {
	capture := captureBase

	unknown := make([]byte, 8)
	unknown[0] = 'Q'
	truncated := systemEventBlock('S', capture.UnixNano()+500)[:9]

	mixed := segment(3, capture.UnixNano()+100,
		systemEventBlock('O', capture.UnixNano()+400),
		unknown,
		truncated,
	)
	heartbeat := segment(0, capture.UnixNano()+200)
	pair := segment(2, capture.UnixNano()+300,
		systemEventBlock('R', capture.UnixNano()+600),
		systemEventBlock('M', capture.UnixNano()+700),
	)

	stream := captureStream(t,
		frame{ts: capture, data: udpFrame(t, mixed)},
		frame{ts: capture.Add(time.Second), data: udpFrame(t, heartbeat)},
		frame{ts: capture.Add(2 * time.Second), data: udpFrame(t, pair)},
	)

	p, _, err := decodeStream(t, bytes.NewReader(stream))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	stats := p.Stats()
	if stats.Messages != 5 {
		t.Errorf("expected 5 message blocks, got %d", stats.Messages)
	}
	if got := stats.Rows + stats.Unknown + stats.Malformed; got != stats.Messages {
		t.Errorf("rows %d + unknown %d + malformed %d = %d, want %d",
			stats.Rows, stats.Unknown, stats.Malformed, got, stats.Messages)
	}
	if stats.Rows != 3 || stats.Unknown != 1 || stats.Malformed != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestPipeline_RowOrderFollowsStream(t *testing.T) {
	capture := captureBase

	first := segment(1, capture.UnixNano()+100, systemEventBlock('O', capture.UnixNano()+400))
	second := segment(2, capture.UnixNano()+100,
		systemEventBlock('S', capture.UnixNano()+500),
		systemEventBlock('R', capture.UnixNano()+600),
	)

	stream := captureStream(t,
		frame{ts: capture, data: udpFrame(t, first)},
		frame{ts: capture.Add(time.Second), data: udpFrame(t, second)},
	)

	_, dir, err := decodeStream(t, bytes.NewReader(stream))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	lines := readLines(t, filepath.Join(dir, "output-S.csv"))
	wantOrder := []string{"MESSAGES_START", "SYSTEM_HOURS_START", "REGULAR_MARKET_START"}
	if len(lines) != len(wantOrder)+1 {
		t.Fatalf("expected %d lines, got %d", len(wantOrder)+1, len(lines))
	}
	for i, want := range wantOrder {
		if !strings.Contains(lines[i+1], want) {
			t.Errorf("row %d = %q, want it to carry %s", i, lines[i+1], want)
		}
	}
}

func TestPipeline_Idempotence(t *testing.T) {
	capture := captureBase
	stream := captureStream(t,
		frame{ts: capture, data: udpFrame(t, segment(1, capture.UnixNano()+100,
			systemEventBlock('O', capture.UnixNano()+400)))},
		frame{ts: capture.Add(time.Second), data: udpFrame(t, segment(1, capture.UnixNano()+100,
			systemEventBlock('C', capture.UnixNano()+500)))},
	)

	p1, dir1, err := decodeStream(t, bytes.NewReader(stream))
	if err != nil {
		t.Fatalf("first Run failed: %v", err)
	}
	p2, dir2, err := decodeStream(t, bytes.NewReader(stream))
	if err != nil {
		t.Fatalf("second Run failed: %v", err)
	}

	if p1.Stats() != p2.Stats() {
		t.Errorf("stats differ between runs: %+v vs %+v", p1.Stats(), p2.Stats())
	}

	entries, err := os.ReadDir(dir1)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) == 0 {
		t.Fatal("expected output files")
	}
	for _, e := range entries {
		b1, err := os.ReadFile(filepath.Join(dir1, e.Name()))
		if err != nil {
			t.Fatalf("ReadFile failed: %v", err)
		}
		b2, err := os.ReadFile(filepath.Join(dir2, e.Name()))
		if err != nil {
			t.Fatalf("second run missing %s: %v", e.Name(), err)
		}
		if !bytes.Equal(b1, b2) {
			t.Errorf("%s differs between runs", e.Name())
		}
	}
}

func TestPipeline_ContextCancelled(t *testing.T) {
	capture := captureBase
	seg := segment(1, capture.UnixNano()+100, systemEventBlock('S', capture.UnixNano()+500))
	stream := captureStream(t, frame{ts: capture, data: udpFrame(t, seg)})

	rd, err := pcapfile.NewReader(bytes.NewReader(stream))
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	reg := sink.NewRegistry(t.TempDir())
	defer reg.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := New(Config{Source: rd, Registry: reg})
	if err := p.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestBuilder_FluentAPI(t *testing.T) {
	capture := captureBase
	seg := segment(1, capture.UnixNano()+100, systemEventBlock('S', capture.UnixNano()+500))
	stream := captureStream(t, frame{ts: capture, data: udpFrame(t, seg)})

	rd, err := pcapfile.NewReader(bytes.NewReader(stream))
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	dir := t.TempDir()
	reg := sink.NewRegistry(dir)

	p := NewBuilder().
		WithSource(rd).
		WithRegistry(reg).
		WithBufferSize(16).
		WithProgressEvery(1000).
		Build()

	if p == nil {
		t.Fatal("expected non-nil pipeline")
	}
	if cap(p.packets) != 16 {
		t.Errorf("expected channel capacity 16, got %d", cap(p.packets))
	}

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if err := reg.Close(); err != nil {
		t.Fatalf("registry close failed: %v", err)
	}

	if got := p.Stats().Rows; got != 1 {
		t.Errorf("expected 1 row, got %d", got)
	}
}
