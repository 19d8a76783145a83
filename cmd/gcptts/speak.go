package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/iabetor/gcptts/internal/app"
	"github.com/iabetor/gcptts/internal/config"
	"github.com/iabetor/gcptts/internal/synth"
)

func newSpeakCommand(load func() (*config.Config, error)) *cobra.Command {
	var (
		voice, format, version string
		ssml                   bool
		pitch, rate, volume    float64
	)
	cmd := &cobra.Command{
		Use:   "speak [文本]",
		Short: "合成一段文本并在本机扬声器播放",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			cfg.Playback.Local = "speaker"
			cfg.Playback.DefaultDevice = config.DeviceConfig{Label: "System Default"}
			if voice == "" {
				voice = cfg.Synthesis.DefaultVoice
			}

			a, err := app.New(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			wait := true
			settings := synth.EffectSettings{
				Text:            strings.Join(args, " "),
				SSML:            ssml,
				VoiceName:       voice,
				APIVersion:      version,
				AudioFormat:     format,
				PitchAdjust:     &pitch,
				SpeakingRate:    &rate,
				OutputVolume:    &volume,
				WaitForPlayback: &wait,
			}
			req, err := settings.ToRequest()
			if err != nil {
				return err
			}
			out, err := a.Pipeline.Run(cmd.Context(), req)
			if err != nil {
				return err
			}
			if !out.Success {
				return fmt.Errorf("合成失败: %v", out.Err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "已播放 %.1f 秒，计费 %d 个单位 (%s)\n",
				out.Duration.Seconds(), out.Usage.BilledUnits, deref(out.Usage.PricingBucket))
			return nil
		},
	}
	cmd.Flags().StringVar(&voice, "voice", "", "语音名称，默认取配置中的 default_voice")
	cmd.Flags().StringVar(&format, "format", "MP3", "音频格式，本机播放支持 MP3、LINEAR16、MULAW、ALAW")
	cmd.Flags().StringVar(&version, "api-version", "v1", "接口版本 (v1 或 v1beta1)")
	cmd.Flags().BoolVar(&ssml, "ssml", false, "文本为 SSML")
	cmd.Flags().Float64Var(&pitch, "pitch", 0, "音调 [-20, 20]")
	cmd.Flags().Float64Var(&rate, "rate", 1, "语速 [0.25, 4]")
	cmd.Flags().Float64Var(&volume, "volume", synth.DefaultVolume, "音量 [1, 10]")
	return cmd
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}
