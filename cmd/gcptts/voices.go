package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/iabetor/gcptts/internal/app"
	"github.com/iabetor/gcptts/internal/catalog"
	"github.com/iabetor/gcptts/internal/config"
	"github.com/iabetor/gcptts/internal/gcp"
)

func newVoicesCommand(load func() (*config.Config, error)) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "voices",
		Short: "查看或刷新语音目录",
	}
	cmd.AddCommand(newVoicesListCommand(load), newVoicesRefreshCommand(load))
	return cmd
}

func newVoicesListCommand(load func() (*config.Config, error)) *cobra.Command {
	var filter catalog.VoiceFilter
	var gender, pricing, kind string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "列出目录中的语音",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if gender != "" {
				filter.Gender = catalog.ParseGender(gender)
			}
			if pricing != "" {
				tier, ok := catalog.ParsePricingTier(pricing)
				if !ok {
					return fmt.Errorf("未知的计费档位 %q", pricing)
				}
				filter.PricingTier = tier
			}
			if kind != "" {
				vt, ok := catalog.ParseVoiceType(kind)
				if !ok {
					return fmt.Errorf("未知的语音类型 %q", kind)
				}
				filter.VoiceType = vt
			}

			cfg, err := load()
			if err != nil {
				return err
			}
			cfg.Usage.Enabled = false
			a, err := app.New(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tLANGUAGE\tGENDER\tPRICING\tTYPE")
			for _, v := range a.Store.ExtendedVoices(&filter) {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", v.Name, v.LanguageName, v.Gender, v.PricingTier, v.VoiceType)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&filter.LanguageCode, "lang", "", "语言代码前缀")
	cmd.Flags().StringVar(&filter.Name, "name", "", "语音名称")
	cmd.Flags().StringVar(&gender, "gender", "", "FEMALE、MALE 或 SSML_VOICE_GENDER_UNSPECIFIED")
	cmd.Flags().StringVar(&pricing, "pricing", "", "计费档位")
	cmd.Flags().StringVar(&kind, "type", "", "语音技术类型")
	return cmd
}

func newVoicesRefreshCommand(load func() (*config.Config, error)) *cobra.Command {
	var version, lang string
	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "从 Google Cloud 拉取最新语音列表",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			apiVersion, err := gcp.ParseAPIVersion(version)
			if err != nil {
				return err
			}
			a, err := app.New(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			res := a.Refresher.Refresh(cmd.Context(), apiVersion, lang)
			if !res.Success {
				return fmt.Errorf("%s", res.ErrorMessage)
			}
			out := cmd.OutOrStdout()
			if res.ErrorMessage != "" {
				fmt.Fprintln(out, res.ErrorMessage)
			}
			fmt.Fprintf(out, "新增 %d 个语音，移除 %d 个语音\n", len(res.Added), len(res.Removed))
			for _, n := range res.Added {
				fmt.Fprintf(out, "  + %s\n", n)
			}
			for _, n := range res.Removed {
				fmt.Fprintf(out, "  - %s\n", n)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&version, "api-version", "v1", "接口版本 (v1 或 v1beta1)")
	cmd.Flags().StringVar(&lang, "lang", "all", "语言代码，all 表示全部")
	return cmd
}
