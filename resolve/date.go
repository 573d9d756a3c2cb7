package resolve

import (
	"context"
	"fmt"

	"github.com/gofhir/retrieve"
	"github.com/gofhir/retrieve/pkg/fhirtime"
	"github.com/gofhir/retrieve/service"
)

// DatePredicate is the in-memory form of the date constraint and follows
// the FHIR ge/le semantics of DateQuery:
//   - datePath: the value overlaps the range;
//   - lowPath: the value reaches the range start (ge start);
//   - highPath: the value starts by the range end (le end).
//
// Values may be date, dateTime, instant or Period. A missing or unparsable
// value does not match. No path or a nil range yields Always.
func DatePredicate(eval service.ElementEvaluator, datePath, lowPath, highPath string, rng *retrieve.DateRange) retrieve.Predicate {
	if rng == nil || (datePath == "" && lowPath == "" && highPath == "") {
		return retrieve.Always
	}
	start, end := rng.Start, rng.End

	return func(_ context.Context, r retrieve.Resource) (bool, error) {
		if datePath != "" {
			iv, ok, err := interval(eval, r, datePath)
			if err != nil || !ok {
				return false, err
			}
			return iv.Overlaps(start, end), nil
		}
		if lowPath != "" && !start.IsZero() {
			iv, ok, err := interval(eval, r, lowPath)
			if err != nil || !ok || !iv.EndsAtOrAfter(start) {
				return false, err
			}
		}
		if highPath != "" && !end.IsZero() {
			iv, ok, err := interval(eval, r, highPath)
			if err != nil || !ok || !iv.StartsAtOrBefore(end) {
				return false, err
			}
		}
		return true, nil
	}
}

// interval reads the time interval at path.
func interval(eval service.ElementEvaluator, r retrieve.Resource, path string) (fhirtime.Interval, bool, error) {
	v, err := eval.EvaluateFirst(r, path)
	if err != nil {
		return fhirtime.Interval{}, false, fmt.Errorf("evaluate date path %q: %w", path, err)
	}
	var (
		iv   fhirtime.Interval
		perr error
	)
	switch v := v.(type) {
	case service.Primitive:
		iv, perr = fhirtime.Parse(v.Value)
	case service.Composite:
		s, _ := v.Fields["start"].(string)
		e, _ := v.Fields["end"].(string)
		if s == "" && e == "" {
			return fhirtime.Interval{}, false, nil
		}
		iv, perr = fhirtime.ParsePeriod(s, e)
	default:
		return fhirtime.Interval{}, false, nil
	}
	if perr != nil {
		return fhirtime.Interval{}, false, nil
	}
	return iv, true, nil
}
