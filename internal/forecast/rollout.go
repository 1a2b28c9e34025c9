package forecast

import (
	"slices"
	"time"
)

// Point is one forecast day in original price units.
type Point struct {
	Date  time.Time
	Price float64
}

// Rollout predicts days steps ahead, feeding each scaled prediction back as
// the next row's price while holding the other features at their last
// observed values.
func Rollout(model *Model, p *Prepared, windowLength, days int) ([]Point, error) {
	if len(p.Scaled) < windowLength {
		return nil, &InsufficientDataError{Have: len(p.Scaled), Need: windowLength, Reason: "history shorter than the rollout window"}
	}

	last := p.Scaled[len(p.Scaled)-1]
	window := slices.Clone(p.Scaled[len(p.Scaled)-windowLength:])
	lastDate := p.LastDate()

	points := make([]Point, 0, days)
	for k := 1; k <= days; k++ {
		pred := model.Predict(window)
		if !isFinite(pred) {
			return nil, &NumericError{Stage: StageForecasting, What: "prediction", Value: pred}
		}

		next := slices.Clone(last)
		next[ColPrice] = pred
		window = append(window[1:], next)

		price := p.Scaler.Inverse(next)[ColPrice]
		points = append(points, Point{Date: lastDate.AddDate(0, 0, k), Price: price})
	}
	return points, nil
}
