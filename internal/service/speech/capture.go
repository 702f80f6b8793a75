package speech

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	speechmodel "github.com/zhouzirui/echosketch/backend/internal/model/speech"
)

var (
	// ErrUnsupported 表示没有可用的识别能力。
	ErrUnsupported = errors.New("speech recognition is not supported")
	// ErrAlreadyListening is returned by Start while a stream is active.
	ErrAlreadyListening = errors.New("already listening")
	// ErrNotListening is returned by Feed when no stream is active.
	ErrNotListening = errors.New("not listening")
	// ErrCaptureClosed is returned after Close.
	ErrCaptureClosed = errors.New("capture closed")
)

const captureEventBuffer = 32

// Capture 将识别流包装为事件源，一次只允许一个聆听会话。
type Capture struct {
	recognizer Recognizer
	cfg        speechmodel.StreamConfig
	events     chan speechmodel.Event

	mu      sync.Mutex
	stream  RecognitionStream
	aborted bool
	closed  bool
	wg      sync.WaitGroup
}

// NewCapture creates a capture adapter. A nil recognizer makes Start report ErrUnsupported.
func NewCapture(recognizer Recognizer, cfg speechmodel.StreamConfig) *Capture {
	return &Capture{
		recognizer: recognizer,
		cfg:        cfg,
		events:     make(chan speechmodel.Event, captureEventBuffer),
	}
}

// Events returns the event channel; it is closed by Close.
func (c *Capture) Events() <-chan speechmodel.Event {
	return c.events
}

// Supported reports whether Start can succeed at all.
func (c *Capture) Supported() bool {
	return c.recognizer != nil
}

// Listening reports whether a stream is active.
func (c *Capture) Listening() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stream != nil
}

// Start 打开识别流并发出 ListeningStarted 事件。
func (c *Capture) Start(ctx context.Context) error {
	if c.recognizer == nil {
		return ErrUnsupported
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrCaptureClosed
	}
	if c.stream != nil {
		return ErrAlreadyListening
	}

	stream, err := c.recognizer.Open(ctx, c.cfg)
	if err != nil {
		return fmt.Errorf("open recognition stream: %w", err)
	}

	c.stream = stream
	c.aborted = false
	c.events <- speechmodel.ListeningStarted()

	c.wg.Add(1)
	go c.pump(stream)
	return nil
}

// Feed forwards one audio chunk to the active stream.
func (c *Capture) Feed(chunk []byte) error {
	c.mu.Lock()
	stream := c.stream
	c.mu.Unlock()

	if stream == nil {
		return ErrNotListening
	}
	return stream.Send(chunk, false)
}

// Stop 发送结束包，等待识别端返回最终结果；未在聆听时为空操作。
func (c *Capture) Stop() error {
	c.mu.Lock()
	stream := c.stream
	c.mu.Unlock()

	if stream == nil {
		return nil
	}
	if err := stream.Send(nil, true); err != nil && !errors.Is(err, ErrStreamClosed) {
		return err
	}
	return nil
}

// Abort ends the active stream without waiting for a final result.
func (c *Capture) Abort() {
	c.mu.Lock()
	stream := c.stream
	if stream != nil {
		c.aborted = true
	}
	c.mu.Unlock()

	if stream != nil {
		stream.Close()
	}
}

// Close aborts any active stream and closes the event channel.
func (c *Capture) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.Abort()
	c.wg.Wait()
	close(c.events)
}

// pump 把识别结果转换为事件，并保证每个会话只发出一次 ListeningEnded。
func (c *Capture) pump(stream RecognitionStream) {
	defer c.wg.Done()

	var (
		lastText string
		gotFinal bool
	)
	for result := range stream.Results() {
		text := strings.TrimSpace(result.Text)
		if result.Final {
			if text == "" {
				continue
			}
			gotFinal = true
			c.events <- speechmodel.Transcript(text, true)
			continue
		}
		if text != "" && text != lastText {
			lastText = text
			c.events <- speechmodel.Transcript(text, false)
		}
	}

	c.mu.Lock()
	aborted := c.aborted
	c.stream = nil
	c.mu.Unlock()

	streamErr := stream.Err()
	switch {
	case aborted:
		c.events <- speechmodel.Failure(speechmodel.ReasonAborted)
	case streamErr != nil:
		log.Printf("[speech] 识别流异常结束: %v", streamErr)
		c.events <- speechmodel.Failure(speechmodel.ReasonNetwork)
	case !gotFinal && lastText != "":
		c.events <- speechmodel.Transcript(lastText, true)
	case !gotFinal:
		c.events <- speechmodel.Failure(speechmodel.ReasonNoSpeech)
	}
	stream.Close()
	c.events <- speechmodel.ListeningEnded()
}
