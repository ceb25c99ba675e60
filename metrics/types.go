package metrics

// Value is a metric sample. Counters add it, gauges set it, histograms
// observe it.
type Value float64

// Dimension attaches contextual labels to a metric, such as role, channel
// or rejection reason. Label names are sorted before registration so the
// same dimension set always maps to the same collector.
type Dimension map[string]string
