package scraper

import (
	"fmt"
	"sort"

	"github.com/jgoulah/energybot/pkg/models"
)

// LocateSeries searches n depth-first for the first sequence whose first
// element is a mapping with both "x" and "y" keys, and returns its points
// sorted by timestamp ascending.
//
// The usage API nests the series at account-specific paths, so the shape
// itself is the only thing matched on. A series with any element that is not
// a mapping, or whose x or y is not numeric, is malformed as a whole; no
// point of it is returned, even when the latest one is usable.
func LocateSeries(n Node) ([]models.UsagePoint, error) {
	points, _, err := locateSeries(n)
	return points, err
}

// LatestPoint returns the most recent point of a sorted series
func LatestPoint(points []models.UsagePoint) (models.UsagePoint, error) {
	if len(points) == 0 {
		return models.UsagePoint{}, ErrSeriesNotFound
	}
	return points[len(points)-1], nil
}

func locateSeries(n Node) ([]models.UsagePoint, string, error) {
	series, path, ok := findUsageSeries(n, "$")
	if !ok {
		return nil, "", ErrSeriesNotFound
	}

	points := make([]models.UsagePoint, 0, series.Len())
	for i, item := range series.Items() {
		if item.Kind() != KindMapping {
			return nil, path, fmt.Errorf("%w: element %d at %s is a %s", ErrSeriesNotFound, i, path, item.Kind())
		}

		xNode, _ := item.Get("x")
		x, ok := xNode.AsInt64()
		if !ok {
			return nil, path, fmt.Errorf("%w: element %d at %s has non-numeric x", ErrSeriesNotFound, i, path)
		}

		yNode, _ := item.Get("y")
		y, ok := yNode.AsFloat()
		if !ok {
			return nil, path, fmt.Errorf("%w: element %d at %s has non-numeric y", ErrSeriesNotFound, i, path)
		}

		points = append(points, models.UsagePoint{Timestamp: x, KWh: y})
	}

	sort.SliceStable(points, func(i, j int) bool {
		return points[i].Timestamp < points[j].Timestamp
	})

	return points, path, nil
}

func isUsageSeries(n Node) bool {
	first, ok := n.Index(0)
	if !ok {
		return false
	}
	return first.Kind() == KindMapping && first.Has("x") && first.Has("y")
}

func findUsageSeries(n Node, path string) (Node, string, bool) {
	if isUsageSeries(n) {
		return n, path, true
	}

	switch n.Kind() {
	case KindMapping:
		for _, f := range n.Fields() {
			if found, p, ok := findUsageSeries(f.Value, path+"."+f.Key); ok {
				return found, p, true
			}
		}
	case KindSequence:
		for i, item := range n.Items() {
			if found, p, ok := findUsageSeries(item, fmt.Sprintf("%s[%d]", path, i)); ok {
				return found, p, true
			}
		}
	}

	return Node{}, "", false
}
