package service

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signal_bridge/internal/models"
)

func TestDecodeStatus_Aliases(t *testing.T) {
	evt, err := DecodeStatus([]byte(`{"event":"partial_fill","signal_id":" s-9 ","order_id":"o-2",
		"execId":"x-4","symbol":"ES","action":"short","fillPrice":"4250.25","filledQty":"3","commission":1.2}`))
	require.NoError(t, err)

	assert.Equal(t, models.EventPartiallyFilled, evt.Evt)
	assert.Equal(t, "s-9", evt.Signal)
	assert.Equal(t, "o-2", evt.OrderID)
	assert.Equal(t, "x-4", evt.ExecutionID)
	assert.Equal(t, "ES", evt.Instrument)
	assert.Equal(t, models.SideSell, evt.Side)
	require.NotNil(t, evt.AvgFill)
	assert.Equal(t, 4250.25, *evt.AvgFill)
	assert.Equal(t, 3, evt.QtyFilled)
	require.NotNil(t, evt.Commission)
	assert.Equal(t, 1.2, *evt.Commission)
}

func TestDecodeStatus_MissingFields(t *testing.T) {
	evt, err := DecodeStatus([]byte(`{"signal":"s1","avgFill":"","side":"flat","qtyFilled":true}`))
	require.NoError(t, err)

	assert.Equal(t, models.EventType("UNKNOWN"), evt.Evt)
	assert.Nil(t, evt.AvgFill)
	assert.Equal(t, models.SideNone, evt.Side)
	assert.Zero(t, evt.QtyFilled)
}

func TestDecodeStatus_KeepsNumbersAsWritten(t *testing.T) {
	evt, err := DecodeStatus([]byte(`{"evt":"FILLED","avgFill":2350.10}`))
	require.NoError(t, err)

	assert.Equal(t, json.Number("2350.10"), evt.Fields["avgFill"])
	assert.Equal(t, 2350.1, *evt.AvgFill)
}

func TestDecodeStatus_RejectsNonObjects(t *testing.T) {
	for _, body := range []string{``, `null`, `[]`, `42`, `{"evt":`} {
		_, err := DecodeStatus([]byte(body))
		assert.ErrorIs(t, err, ErrParse, "body %q", body)
	}
}

func TestDecodeStatus_RejectsBadQuantity(t *testing.T) {
	for _, qty := range []string{`-2`, `1.5`, `"-1"`, `"0.25"`, `1e12`} {
		_, err := DecodeStatus([]byte(`{"evt":"FILLED","signal":"s1","avgFill":2350,"qtyFilled":` + qty + `}`))
		assert.ErrorIs(t, err, ErrParse, "qtyFilled %s", qty)
	}

	evt, err := DecodeStatus([]byte(`{"evt":"FILLED","qtyFilled":2.0}`))
	require.NoError(t, err)
	assert.Equal(t, 2, evt.QtyFilled)
}

func TestEncodeStatusLine(t *testing.T) {
	evt, err := DecodeStatus([]byte("{\n  \"evt\": \"FILLED\",\n  \"qtyFilled\": 2\n}"))
	require.NoError(t, err)

	line, err := EncodeStatusLine(evt)
	require.NoError(t, err)
	assert.JSONEq(t, `{"evt":"FILLED","qtyFilled":2}`, string(line))
	assert.Equal(t, 1, strings.Count(string(line), "\n"))

	line, err = EncodeStatusLine(&models.StatusEvent{Evt: models.EventRejected, Signal: "s1"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"evt":"REJECTED","signal":"s1"}`, string(line))
}

func TestEncodeCommand_OmitsUnsetFields(t *testing.T) {
	data, err := EncodeCommand(&models.Command{ID: "c1", Cmd: models.CommandClose, Signal: "s1"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"c1","cmd":"CLOSE","signal":"s1"}`, string(data))

	cmd, err := DecodeCommand(data)
	require.NoError(t, err)
	assert.Equal(t, &models.Command{ID: "c1", Cmd: models.CommandClose, Signal: "s1"}, cmd)
}
