package metrics

// DefaultMetrics returns the metrics registered at start-up
func DefaultMetrics() []Metric {
	return []Metric{
		{
			ID:        "cpu_usage",
			Name:      "CPU Usage",
			Unit:      "percent",
			Category:  CategorySystem,
			Kind:      KindGauge,
			Threshold: &Threshold{Warning: 70, Critical: 90, Direction: DirectionAbove},
		},
		{
			ID:        "memory_usage",
			Name:      "Memory Usage",
			Unit:      "percent",
			Category:  CategorySystem,
			Kind:      KindGauge,
			Threshold: &Threshold{Warning: 80, Critical: 95, Direction: DirectionAbove},
		},
		{
			ID:        "disk_usage",
			Name:      "Disk Usage",
			Unit:      "percent",
			Category:  CategorySystem,
			Kind:      KindGauge,
			Threshold: &Threshold{Warning: 80, Critical: 95, Direction: DirectionAbove},
		},
		{
			ID:          "issue_velocity",
			Name:        "Issue Velocity",
			Description: "New issues opened per day",
			Category:    CategoryBusiness,
			Kind:        KindRate,
			Threshold:   &Threshold{Warning: 5, Critical: 8, Direction: DirectionAbove},
		},
		{
			ID:        "open_issues",
			Name:      "Open Issues",
			Category:  CategoryBusiness,
			Kind:      KindGauge,
			Threshold: &Threshold{Warning: 50, Critical: 100, Direction: DirectionAbove},
		},
		{
			ID:        "initiative_completion_rate",
			Name:      "Initiative Completion Rate",
			Unit:      "percent",
			Category:  CategoryBusiness,
			Kind:      KindRate,
			Threshold: &Threshold{Warning: 60, Critical: 40, Direction: DirectionBelow},
		},
		{
			ID:       "active_users",
			Name:     "Active Users",
			Category: CategoryUser,
			Kind:     KindGauge,
		},
		{
			ID:        "response_time_ms",
			Name:      "Response Time",
			Unit:      "ms",
			Category:  CategoryPerformance,
			Kind:      KindHistogram,
			Threshold: &Threshold{Warning: 500, Critical: 2000, Direction: DirectionAbove},
		},
		{
			ID:        "error_rate",
			Name:      "Error Rate",
			Unit:      "percent",
			Category:  CategoryPerformance,
			Kind:      KindRate,
			Threshold: &Threshold{Warning: 1, Critical: 5, Direction: DirectionAbove},
		},
	}
}
