package telephony

import (
	"encoding/xml"
	"fmt"
)

type twimlStream struct {
	XMLName xml.Name `xml:"Stream"`
	URL     string   `xml:"url,attr"`
}

type twimlConnect struct {
	XMLName xml.Name `xml:"Connect"`
	Stream  twimlStream
}

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Connect twimlConnect
}

// ConnectStreamTwiML renders the call-answer document that points the
// carrier's media stream at the given websocket URL.
func ConnectStreamTwiML(wsURL string) ([]byte, error) {
	doc := twimlResponse{Connect: twimlConnect{Stream: twimlStream{URL: wsURL}}}
	body, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("telephony: render twiml: %w", err)
	}
	return append([]byte(xml.Header), body...), nil
}
