package stream

import (
	"bufio"
	"io"
	"strings"

	"github.com/gin-contrib/sse"
	"github.com/tidwall/gjson"
)

// Frame 后端推送的单个数据帧
type Frame struct {
	Success      bool
	IsComplete   bool
	Content      string
	Error        string
	IsNewContent bool
}

// ParseFrame 解析帧数据
// 非 JSON 对象返回 false，调用方按保活帧跳过；缺失 success 视为成功
func ParseFrame(data string) (Frame, bool) {
	data = strings.TrimSpace(data)
	if data == "" || !gjson.Valid(data) {
		return Frame{}, false
	}
	doc := gjson.Parse(data)
	if !doc.IsObject() {
		return Frame{}, false
	}

	f := Frame{Success: true}
	if v := doc.Get("success"); v.Exists() {
		f.Success = v.Bool()
	}
	f.IsComplete = doc.Get("isComplete").Bool()
	f.IsNewContent = doc.Get("isNewContent").Bool()
	if v := doc.Get("content"); v.Type == gjson.String {
		f.Content = v.String()
	}
	if v := doc.Get("error"); v.Exists() && v.Type != gjson.Null {
		f.Error = v.String()
	}
	return f, true
}

// frameReader 按空行切分事件流
type frameReader struct {
	r   *bufio.Reader
	eof bool
}

func newFrameReader(r io.Reader) *frameReader {
	return &frameReader{r: bufio.NewReader(r)}
}

// Next 返回下一个事件块中的全部事件数据
func (fr *frameReader) Next() ([]string, error) {
	for {
		block, err := fr.nextBlock()
		if block != "" {
			events, decodeErr := sse.Decode(strings.NewReader(block))
			if decodeErr == nil && len(events) > 0 {
				out := make([]string, 0, len(events))
				for _, ev := range events {
					if s, ok := ev.Data.(string); ok {
						out = append(out, s)
					}
				}
				return out, nil
			}
		}
		if err != nil {
			return nil, err
		}
		if block != "" {
			// 仅含注释或空事件，视为保活
			return nil, nil
		}
	}
}

func (fr *frameReader) nextBlock() (string, error) {
	if fr.eof {
		return "", io.EOF
	}
	var b strings.Builder
	for {
		line, err := fr.r.ReadString('\n')
		line = strings.TrimRight(line, "\r\n")
		if line != "" {
			b.WriteString(line)
			b.WriteByte('\n')
		} else if err == nil && b.Len() > 0 {
			b.WriteByte('\n')
			return b.String(), nil
		}
		if err != nil {
			fr.eof = true
			if b.Len() > 0 {
				b.WriteByte('\n')
				return b.String(), err
			}
			return "", err
		}
	}
}
