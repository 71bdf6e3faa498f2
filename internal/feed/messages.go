package feed

import (
	"bytes"
	"strconv"
	"strings"
)

type authMessage struct {
	Action string `json:"action"`
	Key    string `json:"key"`
}

type subscribeMessage struct {
	Action  string `json:"action"`
	Symbols string `json:"symbols"`
}

func newSubscribeMessage(symbols []string) subscribeMessage {
	return subscribeMessage{Action: "subscribe", Symbols: strings.Join(symbols, ",")}
}

// flexFloat accepts both 263.44 and "263.44"
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	if len(data) == 0 || string(data) == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return err
	}
	*f = flexFloat(v)
	return nil
}

type inboundMessage struct {
	Symbol     string    `json:"s"`
	Price      flexFloat `json:"p"`
	Size       flexFloat `json:"v"`
	Timestamp  flexFloat `json:"t"`
	StatusCode int       `json:"status_code"`
	Message    string    `json:"message"`
}

func (m inboundMessage) isTick() bool {
	return m.Symbol != "" && m.Timestamp > 0
}
