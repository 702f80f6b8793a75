package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/zhouzirui/echosketch/backend/internal/config"
	"github.com/zhouzirui/echosketch/backend/internal/model/sketch"
	speechmodel "github.com/zhouzirui/echosketch/backend/internal/model/speech"
	"github.com/zhouzirui/echosketch/backend/internal/service/ai"
	"github.com/zhouzirui/echosketch/backend/internal/service/image"
	"github.com/zhouzirui/echosketch/backend/internal/service/speech"
	"github.com/zhouzirui/echosketch/backend/internal/service/status"
)

type configLoader func() (*config.Config, error)

func newRootCmd(load configLoader) *cobra.Command {
	var timeout time.Duration

	rootCmd := &cobra.Command{
		Use:          "sketchtester",
		Short:        "Manually exercise prompt enhancement, image generation and ASR",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 60*time.Second, "请求超时时间")

	withTimeout := func(cmd *cobra.Command) (context.Context, context.CancelFunc) {
		return context.WithTimeout(cmd.Context(), timeout)
	}

	rootCmd.AddCommand(
		newEnhanceCmd(load, withTimeout),
		newGenerateCmd(load, withTimeout),
		newASRCmd(load, withTimeout),
		newStatusCmd(),
	)
	return rootCmd
}

type timeoutFunc func(cmd *cobra.Command) (context.Context, context.CancelFunc)

func newEnhanceCmd(load configLoader, withTimeout timeoutFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "enhance <transcript>",
		Short: "Rewrite a transcript into an image prompt",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return fmt.Errorf("配置加载失败: %w", err)
			}

			ctx, cancel := withTimeout(cmd)
			defer cancel()

			svc, err := ai.NewService(ctx, cfg.AI)
			if err != nil {
				return err
			}
			defer svc.Close()

			prompt, err := svc.Enhance(ctx, strings.Join(args, " "))
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), prompt)
			return err
		},
	}
}

func newGenerateCmd(load configLoader, withTimeout timeoutFunc) *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "generate <prompt>",
		Short: "Generate an image for a prompt",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return fmt.Errorf("配置加载失败: %w", err)
			}

			ctx, cancel := withTimeout(cmd)
			defer cancel()

			ref, err := image.NewService(cfg.Image).Generate(ctx, strings.Join(args, " "))
			if err != nil {
				return err
			}

			if out == "" {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), ref)
				return err
			}

			mime, data, err := image.DecodeDataURI(ref)
			if err != nil {
				return fmt.Errorf("image is a remote URL (%s): %w", ref, err)
			}
			if filepath.Ext(out) == "" {
				out = out + "." + image.Extension(mime)
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return fmt.Errorf("写入图片失败: %w", err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%s, %d bytes)\n", out, mime, len(data))
			return err
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "图片输出路径，留空则打印图片引用")
	return cmd
}

func newASRCmd(load configLoader, withTimeout timeoutFunc) *cobra.Command {
	var (
		audioPath string
		format    string
		language  string
		asYAML    bool
	)

	cmd := &cobra.Command{
		Use:   "asr",
		Short: "Transcribe an audio file with the streaming recognizer",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return fmt.Errorf("配置加载失败: %w", err)
			}
			if !cfg.Speech.Enabled {
				return fmt.Errorf("语音服务未启用，请先在环境变量中配置 SPEECH_* 凭证")
			}

			file, err := os.Open(audioPath)
			if err != nil {
				return fmt.Errorf("打开音频文件失败: %w", err)
			}
			defer file.Close()

			if format == "" {
				format = strings.TrimPrefix(strings.ToLower(filepath.Ext(audioPath)), ".")
				if format == "" {
					format = "wav"
				}
			}

			svc := speech.NewService(cfg.Speech)

			ctx, cancel := withTimeout(cmd)
			defer cancel()

			started := time.Now()
			resp, err := svc.TranscribeFile(ctx, &speechmodel.ASRRequest{
				SessionID: fmt.Sprintf("manual-%d", started.UnixNano()),
				AudioData: file,
				Format:    format,
				Language:  language,
			})
			if err != nil {
				return fmt.Errorf("ASR 调用失败: %w", err)
			}

			report := asrReport{
				Text:       resp.Text,
				Confidence: resp.Confidence,
				Elapsed:    time.Since(started).Round(time.Millisecond).String(),
			}
			if asYAML {
				return writeYAML(cmd, report)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "text: %s\nconfidence: %.2f\nelapsed: %s\n", report.Text, report.Confidence, report.Elapsed)
			return err
		},
	}
	cmd.Flags().BoolVar(&asYAML, "yaml", false, "以 YAML 输出结果")
	cmd.Flags().StringVar(&audioPath, "audio", "", "ASR 输入音频文件路径")
	cmd.Flags().StringVar(&format, "format", "", "音频格式，默认按扩展名推断")
	cmd.Flags().StringVar(&language, "lang", "", "语言代码，默认使用配置中的语言")
	_ = cmd.MarkFlagRequired("audio")
	return cmd
}

func newStatusCmd() *cobra.Command {
	var (
		active bool
		errMsg string
		asYAML bool
	)

	cmd := &cobra.Command{
		Use:   "status <state>",
		Short: "Print the status banner for a loading state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := status.Describe(sketch.LoadingState(args[0]), active, errMsg)
			if err != nil {
				return err
			}
			if asYAML {
				return writeYAML(cmd, statusReport{
					State:    args[0],
					Title:    payload.Title,
					Message:  payload.Message,
					Emphasis: string(payload.Emphasis),
				})
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s\n%s\n", payload.Emphasis, payload.Title, payload.Message)
			return err
		},
	}
	cmd.Flags().BoolVar(&asYAML, "yaml", false, "以 YAML 输出结果")
	cmd.Flags().BoolVar(&active, "active", false, "是否有正在查看的会话")
	cmd.Flags().StringVar(&errMsg, "error", "", "错误信息")
	return cmd
}

type asrReport struct {
	Text       string  `yaml:"text"`
	Confidence float64 `yaml:"confidence"`
	Elapsed    string  `yaml:"elapsed"`
}

type statusReport struct {
	State    string `yaml:"state"`
	Title    string `yaml:"title"`
	Message  string `yaml:"message"`
	Emphasis string `yaml:"emphasis"`
}

func writeYAML(cmd *cobra.Command, v any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal yaml: %w", err)
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}
