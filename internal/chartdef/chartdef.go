// Package chartdef reads chart definitions. Two on-disk shapes are accepted
// and normalized into one Definition:
//
//	structured: {"name": "...", "options": [{"seriesType": "view", ...}, ...]}
//	legacy:     {"name": "...", "mapping": {"<label>": "<variable>"},
//	             "aggregation": "avg", "missing": "locf", "thresholds": [..]}
//
// Nothing downstream of this package sees the legacy shape.
package chartdef

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sort"

	"github.com/samber/lo"

	"github.com/derickschaefer/kwchart/internal/expr"
	"github.com/derickschaefer/kwchart/internal/model"
	"github.com/derickschaefer/kwchart/internal/period"
	"github.com/derickschaefer/kwchart/internal/util"
)

// Definition is a named list of chart options plus an optional default
// period and interval.
type Definition struct {
	ID       string              `json:"id,omitempty"`
	Name     string              `json:"name"`
	Period   string              `json:"period,omitempty"`
	Interval string              `json:"interval,omitempty"`
	Options  []model.ChartOption `json:"options"`
}

type rawDefinition struct {
	ID       string              `json:"id"`
	Name     string              `json:"name"`
	Period   string              `json:"period"`
	Interval string              `json:"interval"`
	Options  []model.ChartOption `json:"options"`

	// legacy
	Mapping     map[string]string `json:"mapping"`
	Aggregation string            `json:"aggregation"`
	Missing     string            `json:"missing"`
	Thresholds  []float64         `json:"thresholds"`
}

// Parse decodes and normalizes a definition. It does not validate.
func Parse(data []byte) (*Definition, error) {
	var raw rawDefinition
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing chart definition: %w", err)
	}
	if len(raw.Options) > 0 && len(raw.Mapping) > 0 {
		return nil, fmt.Errorf("chart definition %q: has both options and mapping", raw.Name)
	}

	d := &Definition{
		ID:       raw.ID,
		Name:     raw.Name,
		Period:   raw.Period,
		Interval: raw.Interval,
		Options:  raw.Options,
	}
	if len(raw.Mapping) > 0 {
		d.Options = fromMapping(raw)
	}
	d.Normalize()
	return d, nil
}

// LoadFile reads and parses a definition file.
func LoadFile(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading chart definition: %w", err)
	}
	return Parse(data)
}

// fromMapping converts the legacy flat form. Labels are sorted so the option
// order does not depend on map iteration.
func fromMapping(raw rawDefinition) []model.ChartOption {
	labels := lo.Keys(raw.Mapping)
	sort.Strings(labels)
	opts := lo.Map(labels, func(label string, _ int) model.ChartOption {
		return model.ChartOption{
			SeriesType:  model.SeriesView,
			Label:       label,
			Variable:    raw.Mapping[label],
			Aggregation: raw.Aggregation,
			Missing:     raw.Missing,
		}
	})
	for _, v := range raw.Thresholds {
		opts = append(opts, model.ChartOption{SeriesType: model.SeriesThreshold, Value: v})
	}
	return opts
}

// Normalize fills defaults: views get avg/locf, an option without a series
// type is a view, and a calculation without aggregations gets avg for every
// referenced variable.
func (d *Definition) Normalize() {
	for i := range d.Options {
		o := &d.Options[i]
		if o.SeriesType == "" {
			o.SeriesType = model.SeriesView
		}
		switch o.SeriesType {
		case model.SeriesView:
			if o.Aggregation == "" {
				o.Aggregation = model.DefaultAggregation
			}
			if o.Missing == "" {
				o.Missing = model.DefaultMissing
			}
		case model.SeriesCalculation:
			if len(o.Aggregations) > 0 {
				continue
			}
			if names, err := expr.ExtractVariableNames(o.Expression); err == nil {
				o.Aggregations = lo.Map(names, func(string, int) string { return model.DefaultAggregation })
			}
		}
	}
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Validate reports every problem with d at once.
func (d *Definition) Validate() error {
	var errs util.MultiError
	if d.Name == "" {
		errs.Add(fmt.Errorf("name is required"))
	}
	if len(d.Options) == 0 {
		errs.Add(fmt.Errorf("at least one option is required"))
	}

	var mode period.Mode
	haveMode := false
	if d.Period != "" {
		m, err := period.ParseMode(d.Period)
		if err != nil {
			errs.Add(err)
		} else {
			mode, haveMode = m, true
		}
	}
	if d.Interval != "" && haveMode && !period.Allowed(mode, period.Interval(d.Interval)) {
		errs.Add(fmt.Errorf("interval %q is not offered for period %s (choose from %v)",
			d.Interval, mode, period.Intervals(mode)))
	}

	for i, o := range d.Options {
		where := fmt.Sprintf("option %d (%s)", i, o.DisplayLabel())
		switch o.SeriesType {
		case model.SeriesView:
			if !identRe.MatchString(o.Variable) {
				errs.Add(fmt.Errorf("%s: invalid variable name %q", where, o.Variable))
			}
			if !lo.Contains(model.Aggregations, o.Aggregation) {
				errs.Add(fmt.Errorf("%s: unknown aggregation %q", where, o.Aggregation))
			}
			if !lo.Contains(model.MissingPolicies, o.Missing) {
				errs.Add(fmt.Errorf("%s: unknown missing-value policy %q", where, o.Missing))
			}
		case model.SeriesCalculation:
			names, err := expr.ExtractVariableNames(o.Expression)
			if err != nil {
				errs.Add(fmt.Errorf("%s: %w", where, err))
				continue
			}
			if len(o.Aggregations) != len(names) {
				errs.Add(fmt.Errorf("%s: expression references %d variable(s) %v but %d aggregation(s) given",
					where, len(names), names, len(o.Aggregations)))
			}
			for _, agg := range o.Aggregations {
				if !lo.Contains(model.Aggregations, agg) {
					errs.Add(fmt.Errorf("%s: unknown aggregation %q", where, agg))
				}
			}
		case model.SeriesThreshold:
		default:
			errs.Add(fmt.Errorf("%s: unknown series type %q", where, o.SeriesType))
		}
	}
	return errs.Err()
}

// Variables returns every variable the definition reads, distinct, in
// option order.
func (d *Definition) Variables() []string {
	var vars []string
	for _, o := range d.Options {
		switch o.SeriesType {
		case model.SeriesView:
			vars = append(vars, o.Variable)
		case model.SeriesCalculation:
			names, _ := expr.ExtractVariableNames(o.Expression)
			vars = append(vars, names...)
		}
	}
	return lo.Uniq(vars)
}

// Clone returns a deep copy.
func (d *Definition) Clone() *Definition {
	c := *d
	c.Options = lo.Map(d.Options, func(o model.ChartOption, _ int) model.ChartOption {
		o.Aggregations = append([]string(nil), o.Aggregations...)
		return o
	})
	return &c
}

// JSON returns the indented structured form.
func (d *Definition) JSON() ([]byte, error) {
	return json.MarshalIndent(d, "", "  ")
}
