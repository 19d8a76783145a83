package playback

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gen2brain/malgo"
	"github.com/hajimehoshi/go-mp3"

	"github.com/iabetor/gcptts/internal/logger"
)

// pcmClip 是解码后的交错 16 位样本。
type pcmClip struct {
	samples    []int16
	channels   int
	sampleRate int
}

// decodeFile 把 mp3 或 wav 文件解码为 PCM。
func decodeFile(path, format string) (pcmClip, error) {
	if format == "" {
		format = strings.TrimPrefix(filepath.Ext(path), ".")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return pcmClip{}, err
	}

	switch strings.ToLower(format) {
	case "mp3":
		d, err := mp3.NewDecoder(bytes.NewReader(b))
		if err != nil {
			return pcmClip{}, fmt.Errorf("MP3 解码失败: %w", err)
		}
		raw, err := io.ReadAll(d)
		if err != nil {
			return pcmClip{}, fmt.Errorf("读取 PCM 数据失败: %w", err)
		}
		raw = raw[:len(raw)/4*4]
		return pcmClip{samples: BytesToInt16(raw), channels: 2, sampleRate: d.SampleRate()}, nil
	case "wav":
		info, err := parseWAV(b)
		if err != nil {
			return pcmClip{}, err
		}
		samples, err := info.PCM16()
		if err != nil {
			return pcmClip{}, err
		}
		return pcmClip{samples: samples, channels: info.Channels, sampleRate: info.SampleRate}, nil
	}
	return pcmClip{}, fmt.Errorf("本地扬声器不支持 %q 格式，请改用 overlay 或宿主播放", format)
}

// truncate 把片段截到 maxSeconds 以内，maxSeconds ≤ 0 时不截断。
func (c pcmClip) truncate(maxSeconds float64) pcmClip {
	if maxSeconds <= 0 || c.channels <= 0 || c.sampleRate <= 0 {
		return c
	}
	limit := int(maxSeconds*float64(c.sampleRate)) * c.channels
	if limit < len(c.samples) {
		c.samples = c.samples[:limit]
	}
	return c
}

// Speaker 使用 malgo (miniaudio) 在本机默认输出设备上播放。
// Dispatch 在解码完成、设备启动后立即返回，播放在后台进行。
type Speaker struct {
	ctx    *malgo.AllocatedContext
	mu     sync.Mutex
	closed bool
	cancel map[*context.CancelFunc]struct{}
	wg     sync.WaitGroup
}

// NewSpeaker 初始化播放上下文。
func NewSpeaker() (*Speaker, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("初始化播放上下文失败: %w", err)
	}
	return &Speaker{ctx: ctx, cancel: make(map[*context.CancelFunc]struct{})}, nil
}

// Dispatch 实现 Surface。
func (s *Speaker) Dispatch(ctx context.Context, p SoundPayload) error {
	clip, err := decodeFile(p.Filepath, p.Format)
	if err != nil {
		return fmt.Errorf("[playback] %w", err)
	}
	clip = clip.truncate(p.MaxSoundLength)
	ScaleInt16(clip.samples, VolumeGain(p.Volume))

	if p.AudioOutputDevice.Label != "" && !p.AudioOutputDevice.IsAppDefault() {
		logger.Debugf("[playback] 本地扬声器忽略设备 %q，使用系统默认输出", p.AudioOutputDevice.Label)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("[playback] 播放器已关闭")
	}
	playCtx, cancel := context.WithCancel(context.Background())
	key := &cancel
	s.cancel[key] = struct{}{}
	s.wg.Add(1)
	s.mu.Unlock()

	started := make(chan error, 1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.cancel, key)
			s.mu.Unlock()
			cancel()
		}()
		if err := s.play(playCtx, clip, started); err != nil && playCtx.Err() == nil {
			logger.Warnf("[playback] 本地播放失败: %v", err)
		}
	}()

	select {
	case err := <-started:
		return err
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	}
}

// play 阻塞直到播放完成或 ctx 被取消。设备启动结果写入 started。
func (s *Speaker) play(ctx context.Context, clip pcmClip, started chan<- error) error {
	pcmBytes := Int16ToBytes(clip.samples)
	frameBytes := clip.channels * 2
	pos := 0
	done := make(chan struct{})

	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgo.FormatS16
	cfg.Playback.Channels = uint32(clip.channels)
	cfg.SampleRate = uint32(clip.sampleRate)
	cfg.PeriodSizeInFrames = 512
	cfg.Periods = 2

	callbacks := malgo.DeviceCallbacks{
		Data: func(out, _ []byte, frameCount uint32) {
			need := int(frameCount) * frameBytes
			if need > len(out) {
				need = len(out)
			}
			n := copy(out[:need], pcmBytes[pos:])
			for i := n; i < need; i++ {
				out[i] = 0
			}
			pos += n
			if pos >= len(pcmBytes) {
				select {
				case done <- struct{}{}:
				default:
				}
			}
		},
	}

	device, err := malgo.InitDevice(s.ctx.Context, cfg, callbacks)
	if err != nil {
		err = fmt.Errorf("初始化播放设备失败: %w", err)
		started <- err
		return err
	}
	defer device.Uninit()

	if err := device.Start(); err != nil {
		err = fmt.Errorf("启动播放设备失败: %w", err)
		started <- err
		return err
	}
	defer device.Stop()
	started <- nil

	seconds := float64(len(clip.samples)/max(clip.channels, 1)) / float64(clip.sampleRate)
	logger.Debugf("[playback] 本地播放开始，%.2f 秒", seconds)

	select {
	case <-ctx.Done():
		logger.Infof("[playback] 本地播放被取消")
		return ctx.Err()
	case <-done:
		// 等最后一个周期输出完
		time.Sleep(50 * time.Millisecond)
		return nil
	}
}

// Close 停止所有播放并释放资源。
func (s *Speaker) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for c := range s.cancel {
		(*c)()
	}
	s.mu.Unlock()

	s.wg.Wait()
	if s.ctx != nil {
		_ = s.ctx.Uninit()
		s.ctx.Free()
		s.ctx = nil
	}
}
