package service

import (
	"context"
	"math"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cast"
	"go.uber.org/zap"

	"signal_bridge/internal/metrics"
	"signal_bridge/internal/models"
	"signal_bridge/pkg/logger"
	"signal_bridge/pkg/tracing"
)

// Params is a loosely typed command as callers build it: wire field names,
// values may be strings, ints or floats.
type Params map[string]interface{}

// Result reports one Emit call.
type Result struct {
	Success  bool            `json:"success" yaml:"success"`
	Error    string          `json:"error,omitempty" yaml:"error,omitempty"`
	Artifact string          `json:"artifact,omitempty" yaml:"artifact,omitempty"`
	Command  *models.Command `json:"command,omitempty" yaml:"command,omitempty"`
	// Dropped lists optional fields that were present but invalid and were
	// left out of the artifact.
	Dropped []string `json:"dropped,omitempty" yaml:"dropped,omitempty"`
}

type EmitterConfig struct {
	DefaultSymbol string
	Account       string
}

// Emitter validates commands and drops them into the outbox. Calls are
// independent and safe for concurrent use.
type Emitter struct {
	out     Outbox
	cfg     EmitterConfig
	metrics *metrics.Metrics
}

func NewEmitter(out Outbox, cfg EmitterConfig, m *metrics.Metrics) *Emitter {
	if cfg.DefaultSymbol == "" {
		cfg.DefaultSymbol = "GC"
	}
	return &Emitter{out: out, cfg: cfg, metrics: m}
}

var safeID = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

// Emit writes one command artifact. channel, when set, tags the command.
func (e *Emitter) Emit(ctx context.Context, p Params, channel string) (Result, error) {
	cmd, dropped, err := e.Prepare(p, channel)
	if err != nil {
		return Result{Error: Reason(err), Dropped: dropped}, err
	}
	res, err := e.Send(ctx, cmd)
	res.Dropped = dropped
	return res, err
}

// Prepare validates p and fixes the command id without writing anything, so
// callers can record the command before the venue can see it. The second
// return value names invalid optional fields that were left out.
func (e *Emitter) Prepare(p Params, channel string) (*models.Command, []string, error) {
	cmd, dropped, err := e.normalize(p, channel)
	if err != nil {
		e.fail(err, nil)
		return nil, dropped, err
	}
	for _, f := range dropped {
		logger.L().Warn("invalid optional field dropped",
			zap.String("command", cmd.ID), zap.String("field", f))
	}
	return cmd, dropped, nil
}

// Send writes a command returned by Prepare.
func (e *Emitter) Send(ctx context.Context, cmd *models.Command) (res Result, err error) {
	span, ctx := tracing.StartSpan(ctx, "emitter.Send")
	span.SetTag("command.id", cmd.ID)
	span.SetTag("command.kind", string(cmd.Cmd))
	defer func() { tracing.Finish(span, err) }()

	data, err := EncodeCommand(cmd)
	if err != nil {
		return e.fail(err, cmd), err
	}

	path, err := e.out.Enqueue(ctx, ArtifactName(cmd.ID), data)
	if err != nil {
		logger.L().Error("command artifact not written",
			zap.String("command", cmd.ID), zap.String("kind", string(cmd.Cmd)), zap.Error(err))
		return e.fail(err, cmd), err
	}

	if e.metrics != nil {
		e.metrics.CommandsEmitted.WithLabelValues(string(cmd.Cmd)).Inc()
	}
	logger.Info("[CMD] wrote %s (%s) for signal %s from %s", ArtifactName(cmd.ID), cmd.Cmd, cmd.Signal, cmd.Channel)
	return Result{Success: true, Artifact: path, Command: cmd}, nil
}

// Open emits an OPEN command.
func (e *Emitter) Open(ctx context.Context, p Params, channel string) (Result, error) {
	return e.Emit(ctx, WithKind(p, models.CommandOpen), channel)
}

// Close emits a CLOSE command. p must carry the signal.
func (e *Emitter) Close(ctx context.Context, p Params, channel string) (Result, error) {
	return e.Emit(ctx, WithKind(p, models.CommandClose), channel)
}

// Modify emits a MODIFY command with a new stop-loss and/or take-profit.
func (e *Emitter) Modify(ctx context.Context, p Params, channel string) (Result, error) {
	return e.Emit(ctx, WithKind(p, models.CommandModify), channel)
}

func (e *Emitter) fail(err error, cmd *models.Command) Result {
	if e.metrics != nil {
		e.metrics.EmitFailures.WithLabelValues(KindName(err)).Inc()
	}
	return Result{Success: false, Error: Reason(err), Command: cmd}
}

// WithKind returns a copy of p with the command kind set.
func WithKind(p Params, kind models.CommandKind) Params {
	out := make(Params, len(p)+1)
	for k, v := range p {
		out[k] = v
	}
	out["cmd"] = string(kind)
	return out
}

// normalize applies defaults and validation. Invalid optional prices are
// dropped and named in the second return value.
func (e *Emitter) normalize(p Params, channel string) (*models.Command, []string, error) {
	cmd := &models.Command{
		ID:      text(p, "id"),
		Signal:  text(p, "signal"),
		Symbol:  text(p, "symbol"),
		Account: text(p, "account"),
		Channel: text(p, "channel"),
	}
	if channel != "" {
		cmd.Channel = channel
	}
	if cmd.Account == "" {
		cmd.Account = e.cfg.Account
	}
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	} else if !safeID.MatchString(cmd.ID) {
		return nil, nil, validationf("id %q is not filename-safe", cmd.ID)
	}

	rawKind := text(p, "cmd")
	if rawKind == "" {
		return nil, nil, validationf("command missing 'cmd' field")
	}
	cmd.Cmd = models.CommandKind(strings.ToUpper(rawKind))
	if !cmd.Cmd.Valid() {
		return nil, nil, validationf("unknown cmd %q", rawKind)
	}

	var dropped []string
	switch cmd.Cmd {
	case models.CommandOpen:
		if cmd.Signal == "" {
			cmd.Signal = uuid.NewString()
		}
		if cmd.Symbol == "" {
			cmd.Symbol = e.cfg.DefaultSymbol
		}
		side, err := parseSide(p, models.SideBuy)
		if err != nil {
			return nil, nil, err
		}
		cmd.Side = side

		orderType := models.OrderType(strings.ToUpper(textOr(p, "orderType", string(models.OrderMarket))))
		if !orderType.Valid() {
			return nil, nil, validationf("invalid orderType: %s", orderType)
		}
		cmd.OrderType = orderType

		qty, err := parseQty(p, 1)
		if err != nil {
			return nil, nil, err
		}
		cmd.Qty = qty

		cmd.Price, dropped = optionalPrice(p, "price", dropped)
		cmd.StopLoss, dropped = optionalPrice(p, "stopLoss", dropped)
		cmd.TakeProfit, dropped = optionalPrice(p, "takeProfit", dropped)

	case models.CommandClose:
		if cmd.Signal == "" {
			return nil, nil, validationf("missing required 'signal' for CLOSE")
		}
		if _, ok := p["qty"]; ok {
			qty, err := parseQty(p, 0)
			if err != nil {
				return nil, nil, err
			}
			cmd.Qty = qty
		}

	case models.CommandModify:
		if cmd.Signal == "" {
			return nil, nil, validationf("missing required 'signal' for MODIFY")
		}
		cmd.StopLoss, dropped = optionalPrice(p, "stopLoss", dropped)
		cmd.TakeProfit, dropped = optionalPrice(p, "takeProfit", dropped)
		if cmd.StopLoss == nil && cmd.TakeProfit == nil {
			return nil, dropped, validationf("no valid stopLoss or takeProfit for MODIFY")
		}
	}
	return cmd, dropped, nil
}

func parseSide(p Params, def models.Side) (models.Side, error) {
	raw := textOr(p, "side", string(def))
	up := models.Side(strings.ToUpper(raw))
	if !up.Valid() {
		return models.SideNone, validationf("invalid side: %s, must be BUY or SELL", raw)
	}
	return up, nil
}

// parseQty accepts ints, integral floats and numeric strings.
func parseQty(p Params, def int) (int, error) {
	v, ok := p["qty"]
	if !ok || v == nil {
		return def, nil
	}
	if _, isBool := v.(bool); isBool {
		return 0, validationf("invalid quantity: %v", v)
	}
	if s, isStr := v.(string); isStr {
		v = strings.TrimSpace(s)
	}
	f, err := cast.ToFloat64E(v)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, validationf("invalid quantity: %v, must be a positive integer", v)
	}
	if f <= 0 || f > math.MaxInt32 {
		return 0, validationf("invalid quantity: %v, must be positive", v)
	}
	return int(f), nil
}

// optionalPrice returns the positive value of key or nil. A present but
// invalid value is appended to dropped.
func optionalPrice(p Params, key string, dropped []string) (*float64, []string) {
	v, ok := p[key]
	if !ok || v == nil {
		return nil, dropped
	}
	if _, isBool := v.(bool); isBool {
		return nil, append(dropped, key)
	}
	if s, isStr := v.(string); isStr {
		v = strings.TrimSpace(s)
	}
	f, err := cast.ToFloat64E(v)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 {
		return nil, append(dropped, key)
	}
	return &f, dropped
}

func text(p Params, key string) string {
	v, ok := p[key]
	if !ok || v == nil {
		return ""
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

func textOr(p Params, key, def string) string {
	if s := text(p, key); s != "" {
		return s
	}
	return def
}
