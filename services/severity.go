package services

import (
	"github.com/malwarebo/paygate/config"
	"github.com/malwarebo/paygate/models"
)

// SeverityClassifier walks a metric's breakpoint list in order and returns the
// first severity whose bound the value crosses.
type SeverityClassifier struct {
	scales   map[string]config.SeverityScale
	fallback models.AlertSeverity
}

func NewSeverityClassifier(cfg config.AlertsConfig) *SeverityClassifier {
	scales := cfg.Scales
	if len(scales) == 0 {
		scales = config.DefaultSeverityScales()
	}
	fallback := models.AlertSeverity(cfg.DefaultSeverity)
	if fallback == "" {
		fallback = models.AlertWarning
	}
	return &SeverityClassifier{scales: scales, fallback: fallback}
}

func (c *SeverityClassifier) Classify(metric models.AlertMetric, value float64) models.AlertSeverity {
	scale, ok := c.scales[string(metric)]
	if !ok {
		return c.fallback
	}
	for _, bp := range scale.Breakpoints {
		if crosses(scale.Direction, value, bp.Bound) {
			return models.AlertSeverity(bp.Severity)
		}
	}
	if scale.Fallback == "" {
		return c.fallback
	}
	return models.AlertSeverity(scale.Fallback)
}

func crosses(direction string, value, bound float64) bool {
	if direction == "above" {
		return value > bound
	}
	return value < bound
}
