// Package status 将生成流程状态映射为面向用户的标题与说明。
package status

import (
	"errors"
	"fmt"

	"github.com/zhouzirui/echosketch/backend/internal/model/sketch"
)

// ErrUnknownState is returned for values outside the known loading states.
var ErrUnknownState = errors.New("unknown loading state")

// Emphasis 是状态展示的视觉强调等级。
type Emphasis string

const (
	EmphasisNeutral  Emphasis = "neutral"
	EmphasisInfo     Emphasis = "info"
	EmphasisProgress Emphasis = "progress"
	EmphasisSuccess  Emphasis = "success"
	EmphasisDanger   Emphasis = "danger"
)

// Payload is what the status display renders.
type Payload struct {
	Title    string   `json:"title"`
	Message  string   `json:"message"`
	Emphasis Emphasis `json:"emphasis"`
}

const defaultErrorMessage = "Something went wrong. Please try again."

// Describe 是纯函数：相同输入总是得到相同输出。
func Describe(state sketch.LoadingState, hasActive bool, errMsg string) (Payload, error) {
	switch state {
	case sketch.StateListening:
		return Payload{Title: "Listening...", Message: "Speak your idea clearly. We're all ears!", Emphasis: EmphasisInfo}, nil
	case sketch.StateProcessing:
		return Payload{Title: "Processing...", Message: "Understanding your words and expanding the creative vision.", Emphasis: EmphasisProgress}, nil
	case sketch.StateGenerating:
		return Payload{Title: "Generating Image...", Message: "The AI is now sketching your masterpiece. This can take a moment.", Emphasis: EmphasisProgress}, nil
	case sketch.StateError:
		msg := errMsg
		if msg == "" {
			msg = defaultErrorMessage
		}
		return Payload{Title: "An Error Occurred", Message: msg, Emphasis: EmphasisDanger}, nil
	case sketch.StateSuccess:
		return Payload{Title: "Success!", Message: "Your vision has been brought to life. Start a new sketch when you're ready.", Emphasis: EmphasisSuccess}, nil
	case sketch.StateIdle:
		if hasActive {
			return Payload{Title: "Viewing Sketch", Message: "This is a previously generated creation. Start a new one anytime.", Emphasis: EmphasisNeutral}, nil
		}
		return Payload{Title: "Ready to Create", Message: "Use the microphone or text box to describe the image you want to create.", Emphasis: EmphasisNeutral}, nil
	default:
		return Payload{}, fmt.Errorf("%w: %q", ErrUnknownState, string(state))
	}
}
