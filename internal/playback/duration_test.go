package playback

import (
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// buildWAV 生成带 RIFF 头的 WAV 数据。
func buildWAV(format uint16, channels, sampleRate, bits int, data []byte) []byte {
	blockAlign := channels * bits / 8
	b := make([]byte, 0, 44+len(data))
	b = append(b, "RIFF"...)
	b = binary.LittleEndian.AppendUint32(b, uint32(36+len(data)))
	b = append(b, "WAVE"...)
	b = append(b, "fmt "...)
	b = binary.LittleEndian.AppendUint32(b, 16)
	b = binary.LittleEndian.AppendUint16(b, format)
	b = binary.LittleEndian.AppendUint16(b, uint16(channels))
	b = binary.LittleEndian.AppendUint32(b, uint32(sampleRate))
	b = binary.LittleEndian.AppendUint32(b, uint32(sampleRate*blockAlign))
	b = binary.LittleEndian.AppendUint16(b, uint16(blockAlign))
	b = binary.LittleEndian.AppendUint16(b, uint16(bits))
	b = append(b, "data"...)
	b = binary.LittleEndian.AppendUint32(b, uint32(len(data)))
	return append(b, data...)
}

// oggPage 生成一个 Ogg 页，packets 中每个包都小于 255 字节。
func oggPage(headerType byte, granule uint64, seq uint32, packets ...[]byte) []byte {
	b := append([]byte("OggS"), 0, headerType)
	b = binary.LittleEndian.AppendUint64(b, granule)
	b = binary.LittleEndian.AppendUint32(b, 1)
	b = binary.LittleEndian.AppendUint32(b, seq)
	b = append(b, 0, 0, 0, 0)
	b = append(b, byte(len(packets)))
	for _, pk := range packets {
		b = append(b, byte(len(pk)))
	}
	for _, pk := range packets {
		b = append(b, pk...)
	}
	return b
}

func opusHead(preSkip uint16) []byte {
	b := append([]byte("OpusHead"), 1, 1)
	b = binary.LittleEndian.AppendUint16(b, preSkip)
	b = binary.LittleEndian.AppendUint32(b, 48000)
	return append(b, 0, 0, 0)
}

// buildOggOpus 生成头页、注释页和一个音频页组成的最小 Ogg Opus 数据。
func buildOggOpus(preSkip uint16, granule uint64, audio ...[]byte) []byte {
	if len(audio) == 0 {
		audio = [][]byte{make([]byte, 40)}
	}
	b := oggPage(2, 0, 0, opusHead(preSkip))
	b = append(b, oggPage(0, 0, 1, []byte("OpusTags\x00\x00\x00\x00\x00\x00\x00\x00"))...)
	return append(b, oggPage(4, granule, 2, audio...)...)
}

func writeTemp(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestFileProberWAV(t *testing.T) {
	path := writeTemp(t, "a.wav", buildWAV(wavFormatPCM, 1, 8000, 16, make([]byte, 16000)))
	d, err := FileProber{}.Duration(context.Background(), path, "")
	if err != nil {
		t.Fatalf("Duration: %v", err)
	}
	if d != time.Second {
		t.Fatalf("duration = %v, want 1s", d)
	}
}

func TestFileProberOgg(t *testing.T) {
	path := writeTemp(t, "a.ogg", buildOggOpus(312, 96000+312))
	d, err := FileProber{}.Duration(context.Background(), path, "ogg")
	if err != nil {
		t.Fatalf("Duration: %v", err)
	}
	if d != 2*time.Second {
		t.Fatalf("duration = %v, want 2s", d)
	}
}

func TestOggDurationIgnoresMagicInPayload(t *testing.T) {
	// 音频包和文件尾部都含有 "OggS" 字样
	packet := append([]byte("OggS"), 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x0f, 0, 0)
	b := buildOggOpus(312, 48000+312, packet)
	b = append(b, "OggS"...)
	b = append(b, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x0f, 0, 0)

	got, err := oggOpusDuration(b)
	if err != nil {
		t.Fatalf("oggOpusDuration: %v", err)
	}
	if got != 1 {
		t.Fatalf("duration = %v, want 1", got)
	}
}

func TestOggDurationStopsAtTruncatedPage(t *testing.T) {
	b := buildOggOpus(0, 48000)
	next := oggPage(4, 48000*600, 3, make([]byte, 100))
	b = append(b, next[:len(next)-50]...)

	got, err := oggOpusDuration(b)
	if err != nil {
		t.Fatalf("oggOpusDuration: %v", err)
	}
	if got != 1 {
		t.Fatalf("duration = %v, want 1 (truncated page ignored)", got)
	}
}

func TestOggDurationRequiresOpusHead(t *testing.T) {
	b := oggPage(2, 48000, 0, []byte("VorbisHeadxx"))
	if _, err := oggOpusDuration(b); err == nil {
		t.Fatal("expected error without OpusHead")
	}
}

func TestFileProberErrors(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.mp3")
	if err := os.WriteFile(bad, []byte("not audio"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		path   string
		format string
	}{
		{"corrupt mp3", bad, "mp3"},
		{"missing file", filepath.Join(dir, "missing.wav"), "wav"},
		{"unknown format", bad, "flac"},
		{"not ogg", bad, "ogg"},
		{"empty wav", writeTemp(t, "empty.wav", buildWAV(wavFormatPCM, 1, 8000, 16, nil)), "wav"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FileProber{}.Duration(context.Background(), tt.path, tt.format)
			var pe *ProbeError
			if !errors.As(err, &pe) {
				t.Fatalf("expected *ProbeError, got %v", err)
			}
		})
	}
}

func TestParseWAVSkipsUnknownChunks(t *testing.T) {
	wav := buildWAV(wavFormatPCM, 2, 16000, 16, make([]byte, 64000))
	// 在 fmt 与 data 之间插入一个奇数长度的 LIST 块
	extra := append([]byte("LIST"), 3, 0, 0, 0, 'a', 'b', 'c', 0)
	withList := append(append(append([]byte{}, wav[:36]...), extra...), wav[36:]...)

	info, err := parseWAV(withList)
	if err != nil {
		t.Fatalf("parseWAV: %v", err)
	}
	if info.Channels != 2 || info.SampleRate != 16000 || len(info.Data) != 64000 {
		t.Fatalf("unexpected info: channels=%d rate=%d data=%d", info.Channels, info.SampleRate, len(info.Data))
	}
	if info.Duration() != 1 {
		t.Fatalf("duration = %v, want 1", info.Duration())
	}
}

func TestDecodeFileWAVMuLaw(t *testing.T) {
	path := writeTemp(t, "mu.wav", buildWAV(wavFormatMuLaw, 1, 8000, 8, []byte{0xFF, 0x80, 0x00, 0x7F}))
	clip, err := decodeFile(path, "wav")
	if err != nil {
		t.Fatalf("decodeFile: %v", err)
	}
	want := []int16{0, 32124, -32124, 0}
	for i, s := range want {
		if clip.samples[i] != s {
			t.Fatalf("sample %d = %d, want %d", i, clip.samples[i], s)
		}
	}

	short := clip.truncate(0.0003)
	if len(short.samples) != 2 {
		t.Fatalf("truncate kept %d samples, want 2", len(short.samples))
	}
}

func TestDecodeFileRejectsOgg(t *testing.T) {
	path := writeTemp(t, "a.ogg", buildOggOpus(0, 48000))
	if _, err := decodeFile(path, ""); err == nil {
		t.Fatal("expected ogg to be rejected by the local speaker")
	}
}
