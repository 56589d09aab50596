package tracking

import "time"

// EngagementStats is one analytics window rolled up into counts, rates
// and the deliverability score.
type EngagementStats struct {
	Window              string    `json:"window"`
	Since               time.Time `json:"since"`
	Sent                int64     `json:"sent"`
	Delivered           int64     `json:"delivered"`
	Opened              int64     `json:"opened"`
	Clicked             int64     `json:"clicked"`
	Bounced             int64     `json:"bounced"`
	Complaints          int64     `json:"complaints"`
	DeliveryRate        float64   `json:"deliveryRate"`
	OpenRate            float64   `json:"openRate"`
	ClickRate           float64   `json:"clickRate"`
	BounceRate          float64   `json:"bounceRate"`
	ComplaintRate       float64   `json:"complaintRate"`
	DeliverabilityScore float64   `json:"deliverabilityScore"`
}

// Analytics aggregates delivery logs over the named window
// (hour|day|week|month; anything else means day).
func (s *Service) Analytics(dealerID, window string) (*EngagementStats, error) {
	since := s.now().Add(-windowDuration(window))
	counters, err := s.store.CountDeliveries(dealerID, since)
	if err != nil {
		return nil, err
	}

	stats := &EngagementStats{
		Window:     window,
		Since:      since,
		Sent:       counters.Sent,
		Delivered:  counters.Delivered,
		Opened:     counters.Opened,
		Clicked:    counters.Clicked,
		Bounced:    counters.Bounced,
		Complaints: counters.Complaints,
	}
	if counters.Sent > 0 {
		stats.DeliveryRate = percentage(counters.Delivered, counters.Sent)
		stats.OpenRate = percentage(counters.Opened, counters.Sent)
		stats.ClickRate = percentage(counters.Clicked, counters.Sent)
		stats.BounceRate = percentage(counters.Bounced, counters.Sent)
		stats.ComplaintRate = percentage(counters.Complaints, counters.Sent)
	}
	stats.DeliverabilityScore = DeliverabilityScore(stats.BounceRate, stats.ComplaintRate)
	return stats, nil
}

// DeliverabilityScore weights complaints five times heavier than
// bounces. The weighting is part of the product contract.
func DeliverabilityScore(bounceRate, complaintRate float64) float64 {
	score := 100 - 10*bounceRate - 50*complaintRate
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

func percentage(part, whole int64) float64 {
	return float64(part) / float64(whole) * 100
}
