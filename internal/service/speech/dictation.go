package speech

import (
	"context"
	"errors"
	"fmt"
	"log"

	speechmodel "github.com/zhouzirui/echosketch/backend/internal/model/speech"
	"github.com/zhouzirui/echosketch/backend/internal/service/creation"
)

// Workspace is the part of the creation orchestrator dictation drives.
type Workspace interface {
	SetListening(listening bool) error
	SetLive(text string)
	Submit(ctx context.Context, source creation.Source, transcript string) (creation.State, error)
	Fail(msg string) bool
}

// Dictation 将采集事件绑定到工作区：
// 中间结果只更新预览，最终结果清空预览并提交；无语音属于软错误，只记录日志。
type Dictation struct {
	workspace Workspace
}

// NewDictation binds capture events to a workspace.
func NewDictation(workspace Workspace) *Dictation {
	return &Dictation{workspace: workspace}
}

// Run consumes events until the channel closes or ctx is done. Every event is
// passed to observe (when non-nil) after it has been applied.
func (d *Dictation) Run(ctx context.Context, events <-chan speechmodel.Event, observe func(speechmodel.Event)) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			d.Apply(ctx, event)
			if observe != nil {
				observe(event)
			}
		}
	}
}

// Apply handles a single capture event.
func (d *Dictation) Apply(ctx context.Context, event speechmodel.Event) {
	switch event.Kind {
	case speechmodel.EventListeningStarted:
		if err := d.workspace.SetListening(true); err != nil {
			log.Printf("[dictation] 无法进入聆听状态: %v", err)
		}

	case speechmodel.EventTranscript:
		if !event.IsFinal {
			d.workspace.SetLive(event.Text)
			return
		}
		d.workspace.SetLive("")
		if _, err := d.workspace.Submit(ctx, creation.SourceVoice, event.Text); err != nil {
			if errors.Is(err, creation.ErrBusy) {
				log.Printf("[dictation] 正在生成中，忽略语音输入")
				return
			}
			log.Printf("[dictation] 提交语音输入失败: %v", err)
		}

	case speechmodel.EventError:
		if event.Soft() {
			log.Printf("[dictation] 语音识别结束: %s", event.Reason)
			_ = d.workspace.SetListening(false)
			return
		}
		d.workspace.Fail(ErrorMessage(event.Reason))

	case speechmodel.EventListeningEnded:
		_ = d.workspace.SetListening(false)
	}
}

// ErrorMessage 返回识别失败时展示给用户的文本。
func ErrorMessage(reason string) string {
	if reason == speechmodel.ReasonUnsupported {
		return "Speech recognition is not supported. Please type your idea instead."
	}
	return fmt.Sprintf("Speech recognition error: %s", reason)
}
