package playback

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hajimehoshi/go-mp3"
)

// Prober 测量音频文件的播放时长。
type Prober interface {
	Duration(ctx context.Context, path, format string) (time.Duration, error)
}

// ProbeError 表示无法测得时长，调用方应退回到默认时长。
type ProbeError struct {
	Path  string
	Cause error
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("[playback] 无法测量 %s 的时长: %v", filepath.Base(e.Path), e.Cause)
}

func (e *ProbeError) Unwrap() error { return e.Cause }

// Opus 的 granule position 固定以 48kHz 计数
const opusGranuleRate = 48000

// FileProber 直接解析本地文件头测量时长，支持 mp3、wav 和 ogg(opus)。
type FileProber struct{}

// Duration 实现 Prober。format 为空时按扩展名判断。
func (FileProber) Duration(ctx context.Context, path, format string) (time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if format == "" {
		format = strings.TrimPrefix(filepath.Ext(path), ".")
	}

	var secs float64
	var err error
	switch strings.ToLower(format) {
	case "mp3":
		secs, err = mp3Duration(path)
	case "wav":
		secs, err = wavDuration(path)
	case "ogg", "opus":
		secs, err = oggDuration(path)
	default:
		err = fmt.Errorf("未知格式 %q", format)
	}
	if err != nil {
		return 0, &ProbeError{Path: path, Cause: err}
	}
	if secs <= 0 {
		return 0, &ProbeError{Path: path, Cause: errors.New("时长为 0")}
	}
	return time.Duration(secs * float64(time.Second)), nil
}

func mp3Duration(path string) (float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	d, err := mp3.NewDecoder(f)
	if err != nil {
		return 0, err
	}
	n := d.Length()
	if n <= 0 || d.SampleRate() <= 0 {
		return 0, errors.New("无法确定 MP3 长度")
	}
	// 解码输出固定为 16 位立体声，每帧 4 字节
	return float64(n) / 4 / float64(d.SampleRate()), nil
}

func wavDuration(path string) (float64, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	info, err := parseWAV(b)
	if err != nil {
		return 0, err
	}
	return info.Duration(), nil
}

func oggDuration(path string) (float64, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return oggOpusDuration(b)
}

// Ogg 页头固定部分长度，之后是段表。
const oggHeaderLen = 27

var oggMagic = []byte("OggS")

// oggOpusDuration 从头逐页解析，取最后一个完整页的 granule position 减去 OpusHead 中的 pre-skip。
// 遇到无法解析的页即停止，页内数据里偶然出现的 "OggS" 不会被当作页头。
func oggOpusDuration(b []byte) (float64, error) {
	var (
		granule int64 = -1
		preSkip int64
		pages   int
	)
	for off := 0; off+oggHeaderLen <= len(b); {
		h := b[off:]
		if !bytes.HasPrefix(h, oggMagic) || h[4] != 0 {
			break
		}
		segs := int(h[26])
		if oggHeaderLen+segs > len(h) {
			break
		}
		bodyLen := 0
		for _, l := range h[oggHeaderLen : oggHeaderLen+segs] {
			bodyLen += int(l)
		}
		bodyStart := oggHeaderLen + segs
		if bodyStart+bodyLen > len(h) {
			break
		}
		body := h[bodyStart : bodyStart+bodyLen]

		if pages == 0 {
			if !bytes.HasPrefix(body, []byte("OpusHead")) || len(body) < 12 {
				return 0, errors.New("第一页不是 OpusHead")
			}
			preSkip = int64(binary.LittleEndian.Uint16(body[10:12]))
		}
		// -1 表示该页没有结束的包
		if g := int64(binary.LittleEndian.Uint64(h[6:14])); g >= 0 {
			granule = g
		}
		pages++
		off += bodyStart + bodyLen
	}

	if pages == 0 {
		return 0, errors.New("不是有效的 Ogg 文件")
	}
	if granule <= preSkip {
		return 0, errors.New("Ogg 音频长度为 0")
	}
	return float64(granule-preSkip) / opusGranuleRate, nil
}
