package service

import (
	"encoding/json"
	"math"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/spf13/cast"

	"signal_bridge/internal/models"
)

var (
	// outbound artifacts: stable, human-readable
	commandAPI = sonic.Config{EscapeHTML: false, SortMapKeys: true}.Froze()
	// inbound artifacts: keep numbers as written
	statusAPI = sonic.Config{UseNumber: true}.Froze()
)

// EncodeCommand renders the outbound artifact body, indented by two spaces.
func EncodeCommand(cmd *models.Command) ([]byte, error) {
	data, err := commandAPI.MarshalIndent(cmd, "", "  ")
	if err != nil {
		return nil, newError(ErrSerialization, err, "encode command %s", cmd.ID)
	}
	return append(data, '\n'), nil
}

// DecodeCommand reads an outbound artifact back.
func DecodeCommand(data []byte) (*models.Command, error) {
	var cmd models.Command
	if err := commandAPI.Unmarshal(data, &cmd); err != nil {
		return nil, newError(ErrParse, err, "decode command")
	}
	return &cmd, nil
}

// DecodeStatus parses an inbound artifact. Anything that is not a JSON object
// is a ParseError. Unknown keys stay in Fields, and Raw keeps the bytes as read.
func DecodeStatus(data []byte) (*models.StatusEvent, error) {
	var fields map[string]interface{}
	if err := statusAPI.Unmarshal(data, &fields); err != nil {
		return nil, newError(ErrParse, err, "invalid status artifact")
	}
	if fields == nil {
		return nil, newError(ErrParse, nil, "status artifact is not an object")
	}

	evt := &models.StatusEvent{
		Evt:         models.ParseEventType(str(fields, "evt", "event", "type")),
		Signal:      str(fields, "signal", "signalId", "signal_id"),
		OrderID:     str(fields, "orderId", "order_id"),
		ExecutionID: str(fields, "executionId", "execution_id", "execId"),
		Instrument:  str(fields, "instrument", "symbol"),
		Status:      str(fields, "status"),
		AvgFill:     num(fields, "avgFill", "avg_fill", "fillPrice"),
		Commission:  num(fields, "commission"),
		Fields:      fields,
		Raw:         append([]byte(nil), data...),
	}
	if evt.Evt == "" {
		evt.Evt = "UNKNOWN"
	}
	if side, ok := models.ParseSide(str(fields, "side", "action")); ok {
		evt.Side = side
	}
	if q := num(fields, "qtyFilled", "qty_filled", "filledQty"); q != nil {
		if *q < 0 || *q != math.Trunc(*q) || *q > math.MaxInt32 {
			return nil, newError(ErrParse, nil, "invalid filled quantity %v", *q)
		}
		evt.QtyFilled = int(*q)
	}
	return evt, nil
}

// EncodeStatusLine renders an event as one compact JSON line.
func EncodeStatusLine(evt *models.StatusEvent) ([]byte, error) {
	var v interface{} = evt.Fields
	if evt.Fields == nil {
		v = map[string]interface{}{"evt": evt.Evt, "signal": evt.Signal}
	}
	data, err := statusAPI.Marshal(v)
	if err != nil {
		return nil, newError(ErrSerialization, err, "encode status line")
	}
	return append(data, '\n'), nil
}

func str(fields map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		v, ok := fields[k]
		if !ok || v == nil {
			continue
		}
		switch t := v.(type) {
		case string:
			return strings.TrimSpace(t)
		case json.Number:
			return t.String()
		default:
			if s, err := cast.ToStringE(t); err == nil {
				return s
			}
		}
	}
	return ""
}

// num reads a number that may also be a numeric string.
func num(fields map[string]interface{}, keys ...string) *float64 {
	for _, k := range keys {
		v, ok := fields[k]
		if !ok || v == nil {
			continue
		}
		if s, isStr := v.(string); isStr {
			if v = strings.TrimSpace(s); v == "" {
				continue
			}
		}
		if _, isBool := v.(bool); isBool {
			continue
		}
		f, err := cast.ToFloat64E(v)
		if err != nil {
			continue
		}
		return &f
	}
	return nil
}
