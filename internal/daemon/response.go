package daemon

import (
	"encoding/json"
	"fmt"
	"log/slog"
)

type Response struct {
	Messages []ResponseMessage `json:"messages"`
	Data     any               `json:"data,omitempty"`
}

type ResponseMessage struct {
	Message string `json:"message"`
	Status  string `json:"status"`
}

func (r *Response) AddMessage(message string, status string) {
	r.Messages = append(r.Messages, ResponseMessage{
		Message: message,
		Status:  status,
	})
}

func (r *Response) AddData(data any) {
	r.Data = data
}

// HasError reports whether any message has ERROR status
func (r *Response) HasError() bool {
	for _, m := range r.Messages {
		if m.Status == "ERROR" {
			return true
		}
	}
	return false
}

// DecodeData unmarshals the response data into v
func (r *Response) DecodeData(v any) error {
	raw, err := json.Marshal(r.Data)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

func (r *Response) ToJSON() string {
	bytes, err := json.Marshal(r)
	if err != nil {
		fallback := Response{}
		fallback.AddMessage(fmt.Sprintf("Failed to encode response: %v", err), "ERROR")
		bytes, _ = json.Marshal(fallback)
	}
	return string(bytes)
}

func (r *Response) LogMessages() {
	for _, message := range r.Messages {
		switch message.Status {
		case "INFO":
			slog.Info(message.Message)
		case "WARN":
			slog.Warn(message.Message)
		case "ERROR":
			slog.Error(message.Message)
		default:
			slog.Info(message.Message)
		}
	}
}
