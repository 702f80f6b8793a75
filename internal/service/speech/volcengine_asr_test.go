package speech

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/echosketch/backend/internal/config"
	speechmodel "github.com/zhouzirui/echosketch/backend/internal/model/speech"
)

// fakeASRServer 模拟火山引擎识别端：收到首帧后，每个音频包返回一次中间结果，结束包返回最终结果。
func fakeASRServer(t *testing.T, texts []string, headers chan<- http.Header) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if headers != nil {
			headers <- r.Header.Clone()
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		first, err := ParseFrame(data)
		if err != nil || first.Type != FullClientRequest {
			t.Errorf("expected full client request, got %+v (%v)", first, err)
			return
		}
		body, _ := first.Body()
		var req asrRequest
		if err := sonic.ConfigStd.Unmarshal(body, &req); err != nil {
			t.Errorf("decode request: %v", err)
			return
		}
		if req.Request.ModelName != "bigmodel" || !req.Request.ShowUtterances {
			t.Errorf("unexpected request params: %+v", req.Request)
		}

		reply := func(seq int32, last bool, text string) {
			var msg asrServerMessage
			msg.Code = successCode
			msg.Result.Text = text
			payload, _ := sonic.ConfigStd.Marshal(msg)
			zipped, _ := gzipBytes(payload)
			flags := PositiveSequence
			if last {
				flags = LastSequence
				seq = -seq
			}
			frame := Frame{Type: FullServerResponse, Flags: flags, Serialization: JSONSerialization, Compression: GzipCompression, Sequence: seq, Payload: zipped}
			encoded, _ := frame.MarshalBinary()
			_ = conn.WriteMessage(websocket.BinaryMessage, encoded)
		}

		idx := 0
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			frame, err := ParseFrame(data)
			if err != nil {
				t.Errorf("parse audio frame: %v", err)
				return
			}
			if frame.Last() {
				final := ""
				if len(texts) > 0 {
					final = texts[len(texts)-1]
				}
				reply(int32(idx+2), true, final)
				return
			}
			if idx < len(texts) {
				reply(frame.Sequence, false, texts[idx])
			}
			idx++
		}
	}))
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func testSpeechConfig(url string) config.SpeechConfig {
	return config.SpeechConfig{
		AppID:       "test-app-id",
		AccessToken: "test-access-token",
		ASRURL:      url,
		ASRModel:    "bigmodel",
		ASRLanguage: "en-US",
		Timeout:     5,
	}
}

// TestVolcengineStreamInterimAndFinal 测试中间结果与最终结果
func TestVolcengineStreamInterimAndFinal(t *testing.T) {
	headers := make(chan http.Header, 1)
	server := fakeASRServer(t, []string{"a red", "a red bicycle"}, headers)
	defer server.Close()

	recognizer := NewVolcengineRecognizer(testSpeechConfig(wsURL(server)))
	stream, err := recognizer.Open(context.Background(), speechmodel.StreamConfig{ConnectID: "conn-1", Interim: true})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer stream.Close()

	got := <-headers
	if got.Get("X-Api-App-Key") != "test-app-id" || got.Get("X-Api-Access-Key") != "test-access-token" {
		t.Fatalf("missing auth headers: %v", got)
	}
	if got.Get("X-Api-Resource-Id") != resourceDuration || got.Get("X-Api-Connect-Id") != "conn-1" {
		t.Fatalf("unexpected resource headers: %v", got)
	}

	for i := 0; i < 2; i++ {
		if err := stream.Send([]byte("pcm"), false); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	if err := stream.Send(nil, true); err != nil {
		t.Fatalf("Send last: %v", err)
	}
	if err := stream.Send([]byte("late"), false); err != ErrStreamClosed {
		t.Fatalf("Send after last = %v, want ErrStreamClosed", err)
	}

	var results []speechmodel.Result
	timeout := time.After(5 * time.Second)
	for done := false; !done; {
		select {
		case r, ok := <-stream.Results():
			if !ok {
				done = true
				break
			}
			results = append(results, r)
		case <-timeout:
			t.Fatalf("timed out waiting for results, got %+v", results)
		}
	}

	want := []speechmodel.Result{{Text: "a red"}, {Text: "a red bicycle"}, {Text: "a red bicycle", Final: true}}
	if len(results) != len(want) {
		t.Fatalf("results = %+v, want %+v", results, want)
	}
	for i := range want {
		if results[i] != want[i] {
			t.Errorf("result[%d] = %+v, want %+v", i, results[i], want[i])
		}
	}
	if err := stream.Err(); err != nil {
		t.Fatalf("Err = %v, want nil", err)
	}
}

// TestOpenRequiresCredentials 缺少凭证时不建连
func TestOpenRequiresCredentials(t *testing.T) {
	recognizer := NewVolcengineRecognizer(config.SpeechConfig{})
	if _, err := recognizer.Open(context.Background(), speechmodel.StreamConfig{}); err != ErrMissingCredentials {
		t.Fatalf("Open err = %v, want ErrMissingCredentials", err)
	}
}

// TestBuildRequestDefaults 测试识别请求默认参数
func TestBuildRequestDefaults(t *testing.T) {
	recognizer := NewVolcengineRecognizer(config.SpeechConfig{ASRLanguage: "en-US"})
	req := recognizer.buildRequest(speechmodel.StreamConfig{ConnectID: "session-1"})

	if req.User.UID != "session-1" {
		t.Errorf("UID should be connect ID: got %s", req.User.UID)
	}
	if req.Audio.Format != "pcm" || req.Audio.Rate != 16000 || req.Audio.Channel != 1 {
		t.Errorf("unexpected audio defaults: %+v", req.Audio)
	}
	if req.Audio.Language != "en-US" {
		t.Errorf("Language should use config default: got %s", req.Audio.Language)
	}
	if req.Request.ModelName != "bigmodel" || !req.Request.EnableITN || !req.Request.EnablePunc || req.Request.ResultType != "full" {
		t.Errorf("unexpected request defaults: %+v", req.Request)
	}
}

// TestTranscribeFile 测试整段音频识别
func TestTranscribeFile(t *testing.T) {
	server := fakeASRServer(t, []string{"hello", "hello world"}, nil)
	defer server.Close()

	svc := NewServiceWithRecognizer(testSpeechConfig(wsURL(server)), NewVolcengineRecognizer(testSpeechConfig(wsURL(server))))
	svc.chunkInterval = 0

	audio := make([]byte, fileChunkSize*2+100)
	resp, err := svc.TranscribeFile(context.Background(), &speechmodel.ASRRequest{
		SessionID: "file-1",
		AudioData: strings.NewReader(string(audio)),
		Format:    "pcm",
	})
	if err != nil {
		t.Fatalf("TranscribeFile: %v", err)
	}
	if resp.Text != "hello world" || resp.SessionID != "file-1" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

// TestTranscribeFileNoSpeech 没有识别出文本时返回 ErrNoSpeech
func TestTranscribeFileNoSpeech(t *testing.T) {
	server := fakeASRServer(t, nil, nil)
	defer server.Close()

	svc := NewServiceWithRecognizer(testSpeechConfig(wsURL(server)), NewVolcengineRecognizer(testSpeechConfig(wsURL(server))))
	svc.chunkInterval = 0

	_, err := svc.TranscribeFile(context.Background(), &speechmodel.ASRRequest{AudioData: strings.NewReader("pcm")})
	if err != ErrNoSpeech {
		t.Fatalf("err = %v, want ErrNoSpeech", err)
	}
}

// TestTranscribeFileUnsupported 未配置识别端
func TestTranscribeFileUnsupported(t *testing.T) {
	svc := NewService(config.SpeechConfig{})
	if svc.Enabled() {
		t.Fatalf("service without credentials should be disabled")
	}
	if _, err := svc.TranscribeFile(context.Background(), &speechmodel.ASRRequest{AudioData: strings.NewReader("x")}); err != ErrUnsupported {
		t.Fatalf("err = %v, want ErrUnsupported", err)
	}
}
