package gradio

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Turn is one exchange of a chatbot history. On the wire it is the
// two-element array [user, bot]; an empty Bot means the turn is unanswered.
type Turn struct {
	User string
	Bot  string
}

func (t Turn) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{t.User, t.Bot})
}

// PartialResponseError is returned when the echo is not a history but still
// carries text worth showing. It unwraps to ErrMalformedResponse.
type PartialResponseError struct {
	Text   string
	Reason string
}

func (e *PartialResponseError) Error() string { return e.Reason }

func (e *PartialResponseError) Unwrap() error { return ErrMalformedResponse }

// DecodeHistory parses a chat echo whose first element is the full updated
// history. Every turn must be an array of at least two elements and the last
// one must carry a string bot message.
func DecodeHistory(data json.RawMessage) ([]Turn, error) {
	if text, ok := textOf(data); ok {
		return nil, &PartialResponseError{Text: text, Reason: "Received string data instead of expected array structure."}
	}
	if !isArray(data) {
		return nil, fmt.Errorf("%w from the chatbot", ErrMalformedResponse)
	}
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil || len(items) == 0 {
		return nil, fmt.Errorf("%w from the chatbot", ErrMalformedResponse)
	}
	if text, ok := textOf(items[0]); ok {
		return nil, &PartialResponseError{Text: text, Reason: "Received an invalid response structure, but attempting to display potential response text."}
	}
	if !isArray(items[0]) {
		return nil, fmt.Errorf("%w from the chatbot", ErrMalformedResponse)
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(items[0], &raw); err != nil {
		return nil, fmt.Errorf("%w from the chatbot: %v", ErrMalformedResponse, err)
	}
	turns := make([]Turn, 0, len(raw))
	for i, r := range raw {
		t, botIsString, ok := decodeTurn(r)
		if !ok {
			return nil, fmt.Errorf("%w: turn %d has unexpected format", ErrMalformedResponse, i)
		}
		if i == len(raw)-1 && !botIsString {
			return nil, fmt.Errorf("%w: unexpected format for the latest chat turn", ErrMalformedResponse)
		}
		turns = append(turns, t)
	}
	return turns, nil
}

// LastBotMessage returns the bot text of the newest echoed turn.
func LastBotMessage(data json.RawMessage) (string, bool) {
	turns, err := DecodeHistory(data)
	if err != nil || len(turns) == 0 {
		return "", false
	}
	return turns[len(turns)-1].Bot, true
}

func decodeTurn(raw json.RawMessage) (Turn, bool, bool) {
	if !isArray(raw) {
		return Turn{}, false, false
	}
	var parts []json.RawMessage
	if err := json.Unmarshal(raw, &parts); err != nil || len(parts) < 2 {
		return Turn{}, false, false
	}
	user, _ := textOf(parts[0])
	bot, botIsString := textOf(parts[1])
	return Turn{User: user, Bot: bot}, botIsString, true
}

// textOf reads a string element; null and non-string values read as "".
func textOf(raw json.RawMessage) (string, bool) {
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}
