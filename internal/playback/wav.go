package playback

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// WAV 格式码
const (
	wavFormatPCM   = 1
	wavFormatALaw  = 6
	wavFormatMuLaw = 7
)

var errNotWAV = errors.New("不是有效的 WAV 文件")

// wavInfo 是 RIFF/WAVE 头中播放需要的字段。
type wavInfo struct {
	Format        uint16
	Channels      int
	SampleRate    int
	ByteRate      int
	BitsPerSample int
	Data          []byte
}

// Duration 按数据块长度和字节率计算时长。
func (w wavInfo) Duration() float64 {
	if w.ByteRate <= 0 {
		return 0
	}
	return float64(len(w.Data)) / float64(w.ByteRate)
}

// parseWAV 解析 RIFF 块，找到 fmt 与 data。
func parseWAV(b []byte) (wavInfo, error) {
	var info wavInfo
	if len(b) < 12 || string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" {
		return info, errNotWAV
	}

	haveFmt := false
	pos := 12
	for pos+8 <= len(b) {
		id := string(b[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(b[pos+4 : pos+8]))
		body := pos + 8
		end := body + size
		// 流式写出的 WAV 可能把 data 长度写成 0 或 0xFFFFFFFF
		if end > len(b) || end < body {
			end = len(b)
		}

		switch id {
		case "fmt ":
			if end-body < 16 {
				return info, fmt.Errorf("fmt 块过短: %d 字节", end-body)
			}
			f := b[body:end]
			info.Format = binary.LittleEndian.Uint16(f[0:2])
			info.Channels = int(binary.LittleEndian.Uint16(f[2:4]))
			info.SampleRate = int(binary.LittleEndian.Uint32(f[4:8]))
			info.ByteRate = int(binary.LittleEndian.Uint32(f[8:12]))
			info.BitsPerSample = int(binary.LittleEndian.Uint16(f[14:16]))
			haveFmt = true
		case "data":
			if !haveFmt {
				return info, errors.New("data 块出现在 fmt 块之前")
			}
			if size == 0 {
				end = len(b)
			}
			info.Data = b[body:end]
			return info, nil
		}

		// 块按偶数字节对齐
		pos = end + (size & 1)
	}
	if !haveFmt {
		return info, errors.New("缺少 fmt 块")
	}
	return info, errors.New("缺少 data 块")
}

// PCM16 把数据块转换为 16 位有符号样本。
func (w wavInfo) PCM16() ([]int16, error) {
	switch {
	case w.Format == wavFormatPCM && w.BitsPerSample == 16:
		return BytesToInt16(w.Data), nil
	case w.Format == wavFormatMuLaw && w.BitsPerSample == 8:
		out := make([]int16, len(w.Data))
		for i, v := range w.Data {
			out[i] = MuLawToLinear(v)
		}
		return out, nil
	case w.Format == wavFormatALaw && w.BitsPerSample == 8:
		out := make([]int16, len(w.Data))
		for i, v := range w.Data {
			out[i] = ALawToLinear(v)
		}
		return out, nil
	}
	return nil, fmt.Errorf("不支持的 WAV 编码: format=%d bits=%d", w.Format, w.BitsPerSample)
}
