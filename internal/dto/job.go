package dto

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"gorm.io/datatypes"
)

// Payload is the input captured at dispatch time: positional values plus
// named values.
type Payload struct {
	Args   []any          `json:"args,omitempty"`
	Kwargs map[string]any `json:"kwargs,omitempty"`
}

// Encode serializes the payload into the two JSON columns stored on queue
// messages and job records. Empty halves encode to nil (SQL NULL).
func (p Payload) Encode() (args datatypes.JSON, kwargs datatypes.JSON, err error) {
	if len(p.Args) > 0 {
		b, err := json.Marshal(p.Args)
		if err != nil {
			return nil, nil, fmt.Errorf("encode args: %w", err)
		}
		args = datatypes.JSON(b)
	}

	if len(p.Kwargs) > 0 {
		b, err := json.Marshal(p.Kwargs)
		if err != nil {
			return nil, nil, fmt.Errorf("encode kwargs: %w", err)
		}
		kwargs = datatypes.JSON(b)
	}

	return args, kwargs, nil
}

// DecodePayload is the inverse of Encode. Numbers decode as json.Number.
func DecodePayload(args, kwargs datatypes.JSON) (Payload, error) {
	var p Payload

	if len(args) > 0 {
		dec := json.NewDecoder(bytes.NewReader(args))
		dec.UseNumber()
		if err := dec.Decode(&p.Args); err != nil {
			return Payload{}, fmt.Errorf("decode args: %w", err)
		}
	}

	if len(kwargs) > 0 {
		dec := json.NewDecoder(bytes.NewReader(kwargs))
		dec.UseNumber()
		if err := dec.Decode(&p.Kwargs); err != nil {
			return Payload{}, fmt.Errorf("decode kwargs: %w", err)
		}
	}

	return p, nil
}

// UintKwarg reads a positive integer keyword argument, accepting the
// shapes it can take after a JSON round trip.
func (p Payload) UintKwarg(name string) (uint, error) {
	raw, ok := p.Kwargs[name]
	if !ok {
		return 0, fmt.Errorf("missing kwarg %q", name)
	}

	var n int64
	switch v := raw.(type) {
	case json.Number:
		i, err := v.Int64()
		if err != nil {
			return 0, fmt.Errorf("kwarg %q: %w", name, err)
		}
		n = i
	case float64:
		n = int64(v)
	case int:
		n = int64(v)
	case int64:
		n = v
	case uint:
		return v, nil
	case string:
		i, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("kwarg %q: %w", name, err)
		}
		n = i
	default:
		return 0, fmt.Errorf("kwarg %q has unsupported type %T", name, raw)
	}

	if n < 1 {
		return 0, fmt.Errorf("kwarg %q must be positive", name)
	}
	return uint(n), nil
}

type DispatchDTO struct {
	Kind   string         `json:"kind" validate:"required"`
	Args   []any          `json:"args"`
	Kwargs map[string]any `json:"kwargs"`
}

type DispatchResponseDTO struct {
	JobID string `json:"job_id"`
}

type JobRecordResponseDTO struct {
	JobID       string          `json:"job_id"`
	JobKind     string          `json:"job_kind"`
	Status      string          `json:"status"`
	Args        json.RawMessage `json:"args,omitempty"`
	Kwargs      json.RawMessage `json:"kwargs,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	ErrorDetail string          `json:"error_detail,omitempty"`
	Traceback   string          `json:"traceback,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

type JobListQuery struct {
	Status string `form:"status" validate:"omitempty,oneof=PENDING STARTED SUCCESS FAILURE"`
	Kind   string `form:"kind"`
	Limit  int    `form:"limit" validate:"gte=0,lte=500"`
}

// ThumbnailKwargs are the named arguments of a thumbnail-generate job.
type ThumbnailKwargs struct {
	ProfileID uint `json:"profile_id" validate:"required,gt=0"`
}
