package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
)

type Operations = []Operation

// Operation is one input event from the UI. Exactly one field is set.
type Operation struct {
	DragStart *PointerOperation
	DragMove  *PointerOperation
	DragEnd   *DragEndOperation
	Zoom      *ZoomOperation
}

const (
	opDragStart = "drag_start"
	opDragMove  = "drag_move"
	opDragEnd   = "drag_end"
	opZoom      = "zoom"
)

// unmarshal
func (o *Operation) UnmarshalJSON(data []byte) error {
	var op struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &op); err != nil {
		return fmt.Errorf("failed to unmarshal operation: %w", err)
	}

	switch op.Type {
	case opDragStart, opDragMove:
		var p PointerOperation
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("failed to unmarshal %s operation: %w", op.Type, err)
		}
		if op.Type == opDragStart {
			o.DragStart = &p
		} else {
			o.DragMove = &p
		}
	case opDragEnd:
		o.DragEnd = &DragEndOperation{}
	case opZoom:
		var zoom ZoomOperation
		if err := json.Unmarshal(data, &zoom); err != nil {
			return fmt.Errorf("failed to unmarshal zoom operation: %w", err)
		}
		if zoom.Scale == nil {
			return errors.New("zoom operation requires a scale")
		}
		o.Zoom = &zoom
	default:
		return fmt.Errorf("unknown operation %q", op.Type)
	}
	return nil
}

func (o Operation) MarshalJSON() ([]byte, error) {
	switch {
	case o.DragStart != nil:
		return json.Marshal(typedPointer{Type: opDragStart, PointerOperation: *o.DragStart})
	case o.DragMove != nil:
		return json.Marshal(typedPointer{Type: opDragMove, PointerOperation: *o.DragMove})
	case o.DragEnd != nil:
		return json.Marshal(struct {
			Type string `json:"type"`
		}{opDragEnd})
	case o.Zoom != nil:
		return json.Marshal(struct {
			Type string `json:"type"`
			ZoomOperation
		}{opZoom, *o.Zoom})
	}
	return nil, errors.New("empty operation")
}

type typedPointer struct {
	Type string `json:"type"`
	PointerOperation
}

// PointerOperation carries a pointer position in frame display pixels.
type PointerOperation struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (p PointerOperation) Point() Point {
	return Point{X: p.X, Y: p.Y}
}

type DragEndOperation struct{}

type ZoomOperation struct {
	Scale *float64 `json:"scale"`
}

// OperationExecutor feeds input events to a single widget, in order.
type OperationExecutor struct {
	Cropper *Cropper
}

func (r OperationExecutor) Exec(ctx context.Context, ops []Operation) error {
	if len(ops) == 0 {
		log.Ctx(ctx).Warn().Msg("no operations to execute")
		return nil
	}

	for i, op := range ops {
		if err := r.executeOperation(ctx, op); err != nil {
			log.Ctx(ctx).Error().Err(err).
				Int("index", i).
				Interface("op", op).
				Msg("failed to execute operation")
			return err
		}
	}
	return nil
}

func (r OperationExecutor) executeOperation(ctx context.Context, op Operation) error {
	switch {
	case op.DragStart != nil:
		r.Cropper.BeginDrag(ctx, op.DragStart.Point())
	case op.DragMove != nil:
		view := r.Cropper.DragTo(ctx, op.DragMove.Point())
		log.Ctx(ctx).Trace().Interface("view", view).Msg("drag")
	case op.DragEnd != nil:
		r.Cropper.EndDrag(ctx)
	case op.Zoom != nil:
		view := r.Cropper.SetZoom(ctx, *op.Zoom.Scale)
		log.Ctx(ctx).Debug().Float64("requested", *op.Zoom.Scale).Float64("scale", view.Scale).Msg("zoom")
	default:
		return errors.New("empty operation")
	}
	return nil
}
