package gradio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
)

// Prediction holds the three HTML fragments returned by the prediction
// endpoint: ranked conditions, the primary condition and the drug list.
type Prediction struct {
	ConditionsHTML string
	PrimaryHTML    string
	DrugsHTML      string
}

func (c *Client) Predict(ctx context.Context, symptoms string) (Prediction, error) {
	if err := c.ensureAvailable(ctx); err != nil {
		return Prediction{}, err
	}
	log.Printf("🩺 Making prediction via API endpoint: %s", EndpointPredict)
	data, err := c.call(ctx, EndpointPredict, symptoms)
	if err != nil {
		log.Printf("❌ Prediction API call failed: %v", err)
		c.noteFailure(err)
		return Prediction{}, err
	}
	p, err := decodePrediction(data)
	if err != nil {
		return Prediction{}, err
	}
	log.Printf("✅ Prediction successful")
	return p, nil
}

func decodePrediction(data json.RawMessage) (Prediction, error) {
	if !isArray(data) {
		return Prediction{}, fmt.Errorf("%w received from prediction API", ErrMalformedResponse)
	}
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return Prediction{}, fmt.Errorf("%w received from prediction API: %v", ErrMalformedResponse, err)
	}
	if len(items) != 3 {
		log.Printf("⚠️ Prediction API returned data array with unexpected length: %d", len(items))
	}
	return Prediction{
		ConditionsHTML: fragment(items, 0),
		PrimaryHTML:    fragment(items, 1),
		DrugsHTML:      fragment(items, 2),
	}, nil
}

func fragment(items []json.RawMessage, i int) string {
	if i >= len(items) {
		return ""
	}
	var s string
	if err := json.Unmarshal(items[i], &s); err != nil {
		log.Printf("⚠️ Prediction fragment %d is not a string: %s", i, truncate(items[i], 120))
		return ""
	}
	return s
}

// Chat sends message together with the full prior history. The returned
// payload carries the complete updated history as decided by the service;
// use DecodeHistory or LastBotMessage on it.
func (c *Client) Chat(ctx context.Context, message string, history []Turn) (json.RawMessage, error) {
	if err := c.ensureAvailable(ctx); err != nil {
		return nil, err
	}
	if history == nil {
		history = []Turn{}
	}
	log.Printf("💬 Sending chat message via API endpoint: %s (history=%d turns)", EndpointChat, len(history))
	data, err := c.call(ctx, EndpointChat, message, history)
	if err != nil {
		log.Printf("❌ Chat API call failed: %v", err)
		c.noteFailure(err)
		return nil, err
	}
	if len(bytes.TrimSpace(data)) == 0 || bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil, fmt.Errorf("%w received from chat API", ErrMalformedResponse)
	}
	return data, nil
}

// ClearChat asks the service to drop its conversation state. Callers treat a
// failure as a warning only.
func (c *Client) ClearChat(ctx context.Context) error {
	if err := c.ensureAvailable(ctx); err != nil {
		log.Printf("⚠️ Gradio API is not available. Cannot clear chat history on server.")
		return err
	}
	log.Printf("🧹 Clearing chat history via API endpoint: %s", EndpointClearChat)
	if _, err := c.call(ctx, EndpointClearChat, []Turn{}); err != nil {
		log.Printf("⚠️ Clear chat API call failed: %v", err)
		c.noteFailure(err)
		return err
	}
	return nil
}

func isArray(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) > 0 && t[0] == '['
}

func truncate(raw []byte, n int) string {
	if len(raw) <= n {
		return string(raw)
	}
	return string(raw[:n]) + "..."
}
