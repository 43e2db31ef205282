// Package twiml renders the provider's XML voice envelopes. Every webhook
// answer, including the panic fallback, goes through [Write] so the provider
// always receives parseable XML and the call stays up.
package twiml

import (
	"encoding/xml"
	"fmt"
	"net/http"
)

// Gather attribute values for speech capture over a phone call. The provider
// ends capture on silence (speechTimeout=auto) and posts the transcript to
// the Gather action.
const (
	GatherInput         = "speech"
	GatherMethod        = "POST"
	GatherSpeechTimeout = "auto"
	GatherSpeechModel   = "phone_call"
	GatherLanguage      = "en-US"
)

// Response is the root envelope. Verbs render in order.
type Response struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any
}

// Say speaks text to the caller.
type Say struct {
	XMLName xml.Name `xml:"Say"`
	Voice   string   `xml:"voice,attr,omitempty"`
	Text    string   `xml:",chardata"`
}

// Play streams an audio resource to the caller.
type Play struct {
	XMLName xml.Name `xml:"Play"`
	URL     string   `xml:",chardata"`
}

// Gather captures caller speech and posts the transcript to Action. Nested
// verbs play while the provider listens.
type Gather struct {
	XMLName       xml.Name `xml:"Gather"`
	Input         string   `xml:"input,attr"`
	Action        string   `xml:"action,attr"`
	Method        string   `xml:"method,attr"`
	SpeechTimeout string   `xml:"speechTimeout,attr"`
	SpeechModel   string   `xml:"speechModel,attr"`
	Enhanced      bool     `xml:"enhanced,attr"`
	Language      string   `xml:"language,attr"`
	Verbs         []any
}

// Redirect transfers control of the call to another webhook.
type Redirect struct {
	XMLName xml.Name `xml:"Redirect"`
	Method  string   `xml:"method,attr,omitempty"`
	URL     string   `xml:",chardata"`
}

// Pause waits the given number of seconds in silence.
type Pause struct {
	XMLName xml.Name `xml:"Pause"`
	Length  int      `xml:"length,attr"`
}

// Message replies to an inbound SMS.
type Message struct {
	XMLName xml.Name `xml:"Message"`
	Body    string   `xml:",chardata"`
}

// Hangup ends the call.
type Hangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

// NewResponse builds an envelope around the given verbs.
func NewResponse(verbs ...any) *Response {
	return &Response{Verbs: verbs}
}

// GatherSpeech builds a speech Gather posting to action, with the nested
// verbs spoken while listening.
func GatherSpeech(action string, verbs ...any) Gather {
	return Gather{
		Input:         GatherInput,
		Action:        action,
		Method:        GatherMethod,
		SpeechTimeout: GatherSpeechTimeout,
		SpeechModel:   GatherSpeechModel,
		Enhanced:      true,
		Language:      GatherLanguage,
		Verbs:         verbs,
	}
}

// Render serializes the envelope with the XML declaration prepended.
func (r *Response) Render() ([]byte, error) {
	b, err := xml.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("twiml: marshal response: %w", err)
	}
	return append([]byte(xml.Header), b...), nil
}

// Write renders r to w as text/xml. A marshal failure degrades to the empty
// envelope rather than an HTTP error, which would drop the call.
func Write(w http.ResponseWriter, r *Response) {
	body, err := r.Render()
	if err != nil {
		body = append([]byte(xml.Header), "<Response></Response>"...)
	}
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	_, _ = w.Write(body)
}
