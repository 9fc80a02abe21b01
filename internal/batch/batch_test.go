package batch

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/binary"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mafuba8/iex-parser/internal/iextp"
)

// writeArchive writes a gzipped one-packet capture carrying one System
// Event message per event byte.
func writeArchive(t *testing.T, path string, events ...byte) {
	t.Helper()

	capture := time.Unix(1651502940, 0).UTC()

	var payload []byte
	for _, ev := range events {
		block := make([]byte, 10)
		block[0] = 'S'
		block[1] = ev
		binary.LittleEndian.PutUint64(block[2:10], uint64(capture.UnixNano()+500))
		payload = binary.LittleEndian.AppendUint16(payload, uint16(len(block)))
		payload = append(payload, block...)
	}

	seg := make([]byte, iextp.HeaderLen)
	seg[0] = iextp.Version
	binary.LittleEndian.PutUint16(seg[2:4], iextp.ProtocolDEEP10)
	binary.LittleEndian.PutUint16(seg[12:14], uint16(len(payload)))
	binary.LittleEndian.PutUint16(seg[14:16], uint16(len(events)))
	binary.LittleEndian.PutUint64(seg[32:40], uint64(capture.UnixNano()+100))
	datagram := append(seg, payload...)

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
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(datagram)))

	var pcapBuf bytes.Buffer
	w := pcapgo.NewWriterNanos(&pcapBuf)
	require.NoError(t, w.WriteFileHeader(262144, layers.LinkTypeEthernet))
	ci := gopacket.CaptureInfo{
		Timestamp:     capture,
		CaptureLength: len(buf.Bytes()),
		Length:        len(buf.Bytes()),
	}
	require.NoError(t, w.WritePacket(ci, buf.Bytes()))

	f, err := os.Create(path)
	require.NoError(t, err)
	gz := gzip.NewWriter(f)
	_, err = gz.Write(pcapBuf.Bytes())
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
}

func TestScanMatchesArchiveNames(t *testing.T) {
	in := t.TempDir()
	out := t.TempDir()

	for _, name := range []string{
		"data_feeds_20220502_20220502_IEXTP1_DEEP1.0.pcap.gz",
		"data_feeds_20220503_20220503_IEXTP1_DEEP1.0.pcap.gz",
		"data_feeds_20220502_20220502_IEXTP1_TOPS1.6.pcap.gz",
		"data_feeds_202205_202205_IEXTP1_DEEP1.0.pcap.gz",
		"notes.txt",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(in, name), []byte("x"), 0o644))
	}
	// A directory carrying a matching name must be skipped.
	require.NoError(t, os.Mkdir(filepath.Join(in, "data_feeds_20220504_20220504_IEXTP1_DEEP1.0.pcap.gz"), 0o755))

	jobs, err := scan(in, out)
	require.NoError(t, err)
	require.Len(t, jobs, 2)

	assert.Equal(t, filepath.Join(in, "data_feeds_20220502_20220502_IEXTP1_DEEP1.0.pcap.gz"), jobs[0].path)
	assert.Equal(t, filepath.Join(out, "DEEP1.0", "20220502"), jobs[0].outDir)
	assert.Equal(t, filepath.Join(out, "DEEP1.0", "20220503"), jobs[1].outDir)
}

func TestScanMissingDirectory(t *testing.T) {
	_, err := scan(filepath.Join(t.TempDir(), "nope"), t.TempDir())
	assert.Error(t, err)
}

func TestRunDecodesArchives(t *testing.T) {
	in := t.TempDir()
	out := t.TempDir()

	writeArchive(t, filepath.Join(in, "data_feeds_20220502_20220502_IEXTP1_DEEP1.0.pcap.gz"), 'O', 'S')
	writeArchive(t, filepath.Join(in, "data_feeds_20220503_20220503_IEXTP1_DEEP1.0.pcap.gz"), 'C')

	err := Run(context.Background(), Config{InputDir: in, OutputDir: out, Workers: 2})
	require.NoError(t, err)

	first := readLines(t, filepath.Join(out, "DEEP1.0", "20220502", "output-S.csv"))
	require.Len(t, first, 3)
	assert.Contains(t, first[1], "MESSAGES_START")
	assert.Contains(t, first[2], "SYSTEM_HOURS_START")

	second := readLines(t, filepath.Join(out, "DEEP1.0", "20220503", "output-S.csv"))
	require.Len(t, second, 2)
	assert.Contains(t, second[1], "MESSAGES_END")
}

func TestRunCountsFailures(t *testing.T) {
	in := t.TempDir()
	out := t.TempDir()

	writeArchive(t, filepath.Join(in, "data_feeds_20220502_20220502_IEXTP1_DEEP1.0.pcap.gz"), 'O')
	// Matching name, but not a gzip stream.
	require.NoError(t, os.WriteFile(
		filepath.Join(in, "data_feeds_20220503_20220503_IEXTP1_DEEP1.0.pcap.gz"),
		[]byte("not a gzip stream"), 0o644))

	err := Run(context.Background(), Config{InputDir: in, OutputDir: out})
	require.Error(t, err)
	assert.ErrorContains(t, err, "1 of 2 captures failed")

	// The healthy archive still decoded.
	lines := readLines(t, filepath.Join(out, "DEEP1.0", "20220502", "output-S.csv"))
	require.Len(t, lines, 2)
	assert.Contains(t, lines[1], "MESSAGES_START")
}

func TestRunEmptyDirectory(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out")

	err := Run(context.Background(), Config{InputDir: t.TempDir(), OutputDir: out})
	require.NoError(t, err)

	_, statErr := os.Stat(out)
	assert.True(t, os.IsNotExist(statErr), "no output directory should be created")
}
