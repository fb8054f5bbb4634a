package server

import (
	"encoding/json"
	"net/http"

	apierrors "github.com/copyleftdev/godirect/internal/errors"
	"github.com/copyleftdev/godirect/internal/optimization"
	"github.com/copyleftdev/godirect/internal/optimization/direct"
)

// OptimizeRequest is the body of POST /api/v1/optimize and the params of
// optimization.start.
type OptimizeRequest struct {
	// Objective is an expression over x0..x{n-1}, e.g. "x0*x0 + x1*x1".
	Objective string      `json:"objective"`
	Bounds    [][]float64 `json:"bounds"`
	Options   Options     `json:"options"`
}

// Options overrides the configured solver defaults. Unset fields keep them.
type Options struct {
	Epsilon         *float64 `json:"eps,omitempty"`
	MaxEvaluations  *int     `json:"maxf,omitempty"`
	MaxIterations   *int     `json:"maxT,omitempty"`
	Algorithm       string   `json:"algorithm,omitempty"`
	GlobalMin       *float64 `json:"fglobal,omitempty"`
	GlobalTolerance *float64 `json:"fglper,omitempty"`
	VolumeTolerance *float64 `json:"volper,omitempty"`
	SigmaTolerance  *float64 `json:"sigmaper,omitempty"`
	Polish          bool     `json:"polish,omitempty"`
	History         bool     `json:"history,omitempty"`
}

// idParams is the params object of optimization.status and
// optimization.cancel.
type idParams struct {
	ID string `json:"optimization_id"`
}

// decodeParams accepts JSON-RPC params either as an object or as a one
// element array holding the object.
func decodeParams(raw json.RawMessage, dst interface{}) error {
	if len(raw) == 0 {
		return apierrors.BadRequest("missing required parameters")
	}
	if raw[0] == '[' {
		var list []json.RawMessage
		if err := json.Unmarshal(raw, &list); err != nil {
			return apierrors.Wrap(err, "invalid parameters").WithCode(http.StatusBadRequest)
		}
		if len(list) == 0 {
			return apierrors.BadRequest("missing required parameters")
		}
		raw = list[0]
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return apierrors.Wrap(err, "invalid parameter format, expected object").WithCode(http.StatusBadRequest)
	}
	return nil
}

// bounds converts the request bounds into the optimizer form.
func (r *OptimizeRequest) bounds() ([][2]float64, error) {
	if len(r.Bounds) == 0 {
		return nil, apierrors.BadRequest("bounds are required")
	}
	out := make([][2]float64, len(r.Bounds))
	for i, b := range r.Bounds {
		if len(b) != 2 {
			return nil, apierrors.BadRequest("invalid bounds format at %d, expected [[min1, max1], [min2, max2], ...]", i)
		}
		out[i] = [2]float64{b[0], b[1]}
	}
	if err := optimization.ValidateBounds(out); err != nil {
		return nil, apierrors.Wrap(err, "invalid bounds").WithCode(http.StatusBadRequest)
	}
	return out, nil
}

// solverSettings merges the request options over base and returns the
// parameters and budgets to run with.
func (o Options) solverSettings(base direct.Params, maxf, maxT int) (direct.Params, int, int, error) {
	p := base
	if o.Epsilon != nil {
		p.Epsilon = *o.Epsilon
	}
	if o.Algorithm != "" {
		alg, err := direct.ParseAlgorithm(o.Algorithm)
		if err != nil {
			return p, 0, 0, apierrors.Wrap(err, "invalid options").WithCode(http.StatusBadRequest)
		}
		p.Algorithm = alg
	}
	if o.GlobalMin != nil {
		p.GlobalMin = *o.GlobalMin
	}
	if o.GlobalTolerance != nil {
		p.GlobalTolerance = *o.GlobalTolerance
	}
	if o.VolumeTolerance != nil {
		p.VolumeTolerance = *o.VolumeTolerance
	}
	if o.SigmaTolerance != nil {
		p.SigmaTolerance = *o.SigmaTolerance
	}
	p.Polish = o.Polish

	if o.MaxEvaluations != nil {
		maxf = *o.MaxEvaluations
	}
	if o.MaxIterations != nil {
		maxT = *o.MaxIterations
	}
	if maxf < 0 || maxT < 0 {
		return p, 0, 0, apierrors.BadRequest("budgets must not be negative")
	}
	if maxf > direct.MaxEvaluationsLimit {
		return p, 0, 0, apierrors.BadRequest("maxf %d exceeds limit %d", maxf, direct.MaxEvaluationsLimit)
	}
	return p, maxf, maxT, nil
}
