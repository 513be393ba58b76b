package metrics

import (
	"sync"

	"go.opencensus.io/stats/view"
	"go.opencensus.io/tag"
)

var (
	connView = &view.View{
		Measure:     connMeasure,
		Aggregation: view.Sum(),
		TagKeys:     append(append([]tag.Key{}, publicTags...), instanceIDTagKey),
	}
	newConnView = &view.View{
		Measure:     newConnMeasure,
		Aggregation: view.Sum(),
		TagKeys:     append(append([]tag.Key{}, publicTags...), instanceIDTagKey),
	}
	requestView = &view.View{
		Measure:     requestMeasure,
		Aggregation: view.Count(),
		TagKeys:     append(append([]tag.Key{}, publicTags...), routeTagKey, methodTagKey),
	}
	deltaView = &view.View{
		Measure:     deltaMeasure,
		Aggregation: view.Count(),
		TagKeys:     []tag.Key{environmentTagKey, deltaKindTagKey},
	}

	registerViewsOnce sync.Once
)

func getViews() []*view.View {
	return []*view.View{connView, newConnView, requestView, deltaView}
}
