package main

import (
	"fmt"
	"io"
	"slices"

	"github.com/dustin/go-humanize"
	"gonum.org/v1/gonum/stat"

	"github.com/talgya/commutersim/internal/engine"
)

// runStats summarizes a history.
type runStats struct {
	Days               int     `json:"days"`
	MeanCars           float64 `json:"mean_cars"`
	StdDevCars         float64 `json:"stddev_cars"`
	MinCars            int     `json:"min_cars"`
	MaxCars            int     `json:"max_cars"`
	MeanBikes          float64 `json:"mean_bikes"`
	TotalCarTrips      int     `json:"total_car_trips"`
	TotalBikeTrips     int     `json:"total_bike_trips"`
	RainDays           int     `json:"rain_days"`
	RoadworksDays      int     `json:"roadworks_days"`
	FinalMovingAverage float64 `json:"final_moving_average"`
}

func summarize(records []engine.DayRecord) runStats {
	s := runStats{Days: len(records)}
	if len(records) == 0 {
		return s
	}

	cars := make([]float64, len(records))
	bikes := make([]float64, len(records))
	ints := make([]int, len(records))
	for i, r := range records {
		cars[i] = float64(r.Cars)
		bikes[i] = float64(r.Bikes)
		ints[i] = r.Cars
		s.TotalCarTrips += r.Cars
		s.TotalBikeTrips += r.Bikes
		if r.Rain {
			s.RainDays++
		}
		if r.Roadworks {
			s.RoadworksDays++
		}
	}

	if len(records) > 1 {
		s.MeanCars, s.StdDevCars = stat.MeanStdDev(cars, nil)
	} else {
		s.MeanCars = cars[0]
	}
	s.MeanBikes = stat.Mean(bikes, nil)
	s.MinCars = slices.Min(ints)
	s.MaxCars = slices.Max(ints)
	s.FinalMovingAverage = records[len(records)-1].MovingAverage
	return s
}

func printStats(w io.Writer, s runStats) {
	if s.Days == 0 {
		fmt.Fprintln(w, "No days simulated.")
		return
	}
	fmt.Fprintf(w, "Days simulated:   %d\n", s.Days)
	fmt.Fprintf(w, "Cars per day:     mean %.1f (sd %.1f), min %d, max %d\n", s.MeanCars, s.StdDevCars, s.MinCars, s.MaxCars)
	fmt.Fprintf(w, "Bikes per day:    mean %.1f\n", s.MeanBikes)
	fmt.Fprintf(w, "Trips:            %s by car, %s by bike\n", humanize.Comma(int64(s.TotalCarTrips)), humanize.Comma(int64(s.TotalBikeTrips)))
	fmt.Fprintf(w, "Rain days:        %d\n", s.RainDays)
	fmt.Fprintf(w, "Roadworks days:   %d\n", s.RoadworksDays)
	fmt.Fprintf(w, "Congestion (avg): %.1f cars\n", s.FinalMovingAverage)
}
