package whisperx

import (
	"encoding/json"
	"errors"
	"fmt"

	"whisperd/internal/services"
)

// Operation names understood by the worker.
const (
	opVersion        = "version"
	opLoadModel      = "load_model"
	opLoadAlignModel = "load_align_model"
	opLoadAudio      = "load_audio"
	opTranscribe     = "transcribe"
	opAlign          = "align"
	opRelease        = "release"
)

const readyID = "ready"

type request struct {
	ID   string `json:"id"`
	Op   string `json:"op"`
	Args any    `json:"args"`
}

type response struct {
	ID     string          `json:"id"`
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
	Kind   string          `json:"kind,omitempty"`
}

func encodeRequest(req request) ([]byte, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

func decodeResponse(line []byte) (response, error) {
	var resp response
	if err := json.Unmarshal(line, &resp); err != nil {
		return response{}, fmt.Errorf("decode worker response: %w", err)
	}
	return resp, nil
}

// remoteError converts a failed worker response into a classified error.
func remoteError(op string, resp response) error {
	marker := services.ErrExternalTool
	switch resp.Kind {
	case "invalid_argument":
		marker = services.ErrInvalidArgument
	case "not_found":
		marker = services.ErrNotFound
	}
	message := resp.Error
	if message == "" {
		message = "worker reported failure"
	}
	return services.Wrap(marker, "whisperx", op, message, nil)
}

var errWorkerExited = errors.New("worker exited")
