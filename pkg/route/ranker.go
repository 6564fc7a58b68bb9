package route

import "sort"

// Ranking is a RouteSet in execution-quality order.
type Ranking struct {
	Routes []Route `json:"routes"`
	Best   Route   `json:"best"`
	Worst  Route   `json:"worst"`
}

// Rank orders routes by sellable quantity, then ratio, both descending. Bridge name
// breaks remaining ties so the order is total. The set is not modified.
func Rank(set RouteSet) (Ranking, error) {
	if set.Empty() {
		return Ranking{}, ErrNoRoute
	}
	routes := make([]Route, len(set.Routes))
	copy(routes, set.Routes)
	sort.SliceStable(routes, func(i, j int) bool {
		return Better(routes[i], routes[j])
	})
	return Ranking{
		Routes: routes,
		Best:   routes[0],
		Worst:  routes[len(routes)-1],
	}, nil
}

// Better reports whether a ranks strictly above b.
func Better(a, b Route) bool {
	if c := a.SellLeg.Fill.Quantity.Cmp(b.SellLeg.Fill.Quantity); c != 0 {
		return c > 0
	}
	if c := a.Ratio.Cmp(b.Ratio); c != 0 {
		return c > 0
	}
	return a.Bridge < b.Bridge
}
