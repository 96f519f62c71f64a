package deepgram

import (
	"encoding/json"
	"fmt"

	interfacesv1 "github.com/deepgram/deepgram-go-sdk/pkg/api/agent/v1/websocket/interfaces"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// The agent API accepts user text through InjectUserMessage, which the SDK
// does not declare yet.
const (
	typeInjectUserMessage = "InjectUserMessage"
	typeWarning           = "Warning"
)

type injectUserMessage struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// functionCallRequest is a FunctionCallRequest with its input decoded
// as JSON. The SDK types input as string values only, so numbers and
// nested objects are read separately.
type functionCallRequest struct {
	interfacesv1.FunctionCallRequestResponse
	Args     map[string]any
	RawInput string
}

func decodeFunctionCallRequest(data []byte) (functionCallRequest, error) {
	input := gjson.GetBytes(data, "input")
	stripped, err := sjson.DeleteBytes(data, "input")
	if err != nil {
		return functionCallRequest{}, fmt.Errorf("failed to strip function input: %w", err)
	}

	var request functionCallRequest
	if err := json.Unmarshal(stripped, &request.FunctionCallRequestResponse); err != nil {
		return functionCallRequest{}, fmt.Errorf("failed to unmarshal function call request: %w", err)
	}

	request.Args = map[string]any{}
	request.RawInput = "{}"
	if input.IsObject() {
		request.RawInput = input.Raw
		if args, ok := input.Value().(map[string]any); ok {
			request.Args = args
		}
	}
	return request, nil
}

func decodeError(data []byte) (*interfacesv1.ErrorResponse, error) {
	var response interfacesv1.ErrorResponse
	if err := json.Unmarshal(data, &response); err != nil {
		return nil, fmt.Errorf("failed to unmarshal deepgram error: %w", err)
	}
	if response.ErrCode == "" {
		response.ErrCode = gjson.GetBytes(data, "code").String()
	}
	return &response, nil
}

func errorMessage(response *interfacesv1.ErrorResponse) string {
	if response.Description != "" {
		return response.Description
	}
	return response.ErrMsg
}
