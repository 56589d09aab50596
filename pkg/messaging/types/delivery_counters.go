package types

// DeliveryCounters are the raw delivery-log tallies for one analytics
// window.
type DeliveryCounters struct {
	Sent       int64
	Delivered  int64
	Opened     int64
	Clicked    int64
	Bounced    int64
	Complaints int64
}
