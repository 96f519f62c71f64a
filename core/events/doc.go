// Package events defines the typed event contract spoken between a client
// transport, the bridge and a real-time model session.
//
// Every event kind is also its wire `type` string.
//
// client -> bridge
//
//   - AudioInput (bidi_audio_input): raw input audio chunk.
//   - TextInput (bidi_text_input): typed user (or injected) text.
//
// bridge -> client
//
//   - ConnectionStart (bidi_connection_start): model handshake completed,
//     emitted once per session.
//   - ResponseStart (bidi_response_start): a model turn began.
//   - AudioOutput (bidi_audio_stream): synthesized speech chunk.
//   - TranscriptOutput (bidi_transcript_stream): partial or final transcript
//     of either side of the conversation.
//   - ToolUseStream (tool_use_stream): informational, the model is calling a
//     tool.
//   - ResponseComplete (bidi_response_complete): a model turn ended; carries
//     the stop reason.
//   - Usage (bidi_usage): advisory token accounting.
//   - Error (bidi_error): human readable failure report.
//
// model <-> bridge
//
//   - ToolCall (tool_call): the model requests a tool invocation.
//   - ToolResult (tool_result): answer to exactly one ToolCall.
//
// Anything else decodes to Unknown so newer clients keep working.
package events
