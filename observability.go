/*
Copyright 2026 Soloflight Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

     http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package soloflight

import (
	"time"

	clocks "github.com/vimeo/go-clocks"
	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/tag"
)

const (
	unitDimensionless = "1"
	unitMillisecond   = "ms"
)

var (
	// Copied from https://github.com/census-instrumentation/opencensus-go/blob/ff7de98412e5c010eb978f11056f90c00561637f/plugin/ocgrpc/stats_common.go#L55
	defaultMillisecondsDistribution = view.Distribution(0, 0.01, 0.05, 0.1, 0.3, 0.6, 0.8, 1, 2, 3, 4, 5, 6, 8, 10, 13, 16, 20, 25, 30, 40, 50, 65, 80, 100, 130, 160, 200, 250, 300, 400, 500, 650, 800, 1000, 2000, 5000, 10000, 20000, 50000, 100000)
)

// Opencensus stats
var (
	MGets           = stats.Int64("gets", "The number of Get and GetAsync requests", unitDimensionless)
	MSettledHits    = stats.Int64("settled_hits", "The number of requests answered straight from the settled result", unitDimensionless)
	MStarts         = stats.Int64("starts", "The number of factory launches (at most one per flight)", unitDimensionless)
	MWaits          = stats.Int64("waits", "The number of synchronous callers that waited on a pending result", unitDimensionless)
	MWaitCancels    = stats.Int64("wait_cancels", "The number of waits abandoned by caller cancellation", unitDimensionless)
	MReentrantCalls = stats.Int64("reentrant_calls", "The number of calls rejected for factory reentrancy", unitDimensionless)

	MFactorySuccesses = stats.Int64("factory_successes", "The number of factories that settled with a value", unitDimensionless)
	MFactoryFailures  = stats.Int64("factory_failures", "The number of factories that settled with an error", unitDimensionless)

	MGetLatencyMilliseconds     = stats.Float64("get_latency", "Get latency in milliseconds", unitMillisecond)
	MFactoryLatencyMilliseconds = stats.Float64("factory_latency", "Factory execution time in milliseconds", unitMillisecond)
)

// FlightKey tags the name of the flight
var FlightKey = tag.MustNewKey("flight")

// AllViews is a slice of default views for people to use
var AllViews = []*view.View{
	{Name: "soloflight/gets", Description: "The number of Get and GetAsync requests", TagKeys: []tag.Key{FlightKey}, Measure: MGets, Aggregation: view.Count()},
	{Name: "soloflight/settled_hits", Description: "The number of requests answered straight from the settled result", TagKeys: []tag.Key{FlightKey}, Measure: MSettledHits, Aggregation: view.Count()},
	{Name: "soloflight/starts", Description: "The number of factory launches", TagKeys: []tag.Key{FlightKey}, Measure: MStarts, Aggregation: view.Count()},
	{Name: "soloflight/waits", Description: "The number of synchronous callers that waited on a pending result", TagKeys: []tag.Key{FlightKey}, Measure: MWaits, Aggregation: view.Count()},
	{Name: "soloflight/wait_cancels", Description: "The number of waits abandoned by caller cancellation", TagKeys: []tag.Key{FlightKey}, Measure: MWaitCancels, Aggregation: view.Count()},
	{Name: "soloflight/reentrant_calls", Description: "The number of calls rejected for factory reentrancy", TagKeys: []tag.Key{FlightKey}, Measure: MReentrantCalls, Aggregation: view.Count()},
	{Name: "soloflight/factory_successes", Description: "The number of factories that settled with a value", TagKeys: []tag.Key{FlightKey}, Measure: MFactorySuccesses, Aggregation: view.Count()},
	{Name: "soloflight/factory_failures", Description: "The number of factories that settled with an error", TagKeys: []tag.Key{FlightKey}, Measure: MFactoryFailures, Aggregation: view.Count()},
	{Name: "soloflight/get_latency", Description: "The Get latency", TagKeys: []tag.Key{FlightKey}, Measure: MGetLatencyMilliseconds, Aggregation: defaultMillisecondsDistribution},
	{Name: "soloflight/factory_latency", Description: "The factory execution time", TagKeys: []tag.Key{FlightKey}, Measure: MFactoryLatencyMilliseconds, Aggregation: defaultMillisecondsDistribution},
}

func sinceInMilliseconds(clk clocks.Clock, start time.Time) float64 {
	d := clk.Now().Sub(start)
	return float64(d.Nanoseconds()) / 1e6
}
