package cdp

import (
	"fmt"

	"github.com/chromedp/cdproto"
	"github.com/mailru/easyjson"
)

// inbound is a decoded message received from the browser: a response, a
// failure or an event.
type inbound interface {
	inbound()
}

type response struct {
	id     int64
	result easyjson.RawMessage
}

type failure struct {
	id  int64
	err *cdproto.Error
}

type event struct {
	method cdproto.MethodType
	params easyjson.RawMessage
}

func (response) inbound() {}
func (failure) inbound()  {}
func (event) inbound()    {}

// decode classifies a raw websocket frame. Anything carrying a method is an
// event, even if it also carries an id.
func decode(buf []byte) (inbound, error) {
	var msg cdproto.Message
	if err := easyjson.Unmarshal(buf, &msg); err != nil {
		return nil, fmt.Errorf("decoding message: %w", err)
	}

	switch {
	case msg.Method != "":
		return event{method: msg.Method, params: msg.Params}, nil
	case msg.ID > 0 && msg.Error != nil:
		return failure{id: msg.ID, err: msg.Error}, nil
	case msg.ID > 0:
		return response{id: msg.ID, result: msg.Result}, nil
	default:
		return nil, fmt.Errorf("malformed message without id or method: %.128s", buf)
	}
}

func replyID(in inbound) int64 {
	switch m := in.(type) {
	case response:
		return m.id
	case failure:
		return m.id
	default:
		return 0
	}
}
